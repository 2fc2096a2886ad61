package capture

import "github.com/hupe1980/memgo/internal/resource"

// Options configures writing and reading snapshot sets.
type Options struct {
	Compression Compression
	// Controller throttles uploads and reads. Nil means unlimited.
	Controller *resource.Controller
}

// Option configures Options.
type Option func(*Options)

// WithCompression sets the blob encoding for new sets.
func WithCompression(c Compression) Option {
	return func(o *Options) { o.Compression = c }
}

// WithController sets the resource controller.
func WithController(c *resource.Controller) Option {
	return func(o *Options) { o.Controller = c }
}

func applyOptions(optFns []Option) Options {
	var o Options
	for _, fn := range optFns {
		fn(&o)
	}
	return o
}
