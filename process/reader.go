package process

import "io"

// DefaultReadChunk is the read size used by Reader.
const DefaultReadChunk = 1 << 20

// Reader streams a region of a foreign process in chunks.
type Reader struct {
	p     Process
	addr  uint64
	end   uint64
	chunk int
}

// NewReader returns a reader over [r.Start, r.End) of p.
func NewReader(p Process, r Region) *Reader {
	return &Reader{p: p, addr: r.Start, end: r.End, chunk: DefaultReadChunk}
}

// Read implements io.Reader. Read errors from the process are returned as is,
// so an unreadable page surfaces ErrUnreadableRegion.
func (r *Reader) Read(b []byte) (int, error) {
	if r.addr >= r.end {
		return 0, io.EOF
	}
	n := min(uint64(len(b)), uint64(r.chunk), r.end-r.addr)
	got, err := r.p.ReadAt(b[:n], r.addr)
	r.addr += uint64(got)
	return got, err
}
