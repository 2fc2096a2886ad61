package resource

import (
	"context"
	"io"
)

// RateLimitedReader throttles an io.Reader with the controller's read limit.
// Capture uploads wrap their payload with it so snapshotting does not starve
// concurrent scans.
type RateLimitedReader struct {
	ctx context.Context
	r   io.Reader
	c   *Controller
}

// NewRateLimitedReader wraps r.
func NewRateLimitedReader(ctx context.Context, r io.Reader, c *Controller) *RateLimitedReader {
	return &RateLimitedReader{ctx: ctx, r: r, c: c}
}

// Read implements io.Reader.
func (r *RateLimitedReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := r.r.Read(p)
	if n > 0 {
		if werr := r.c.AcquireRead(r.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
