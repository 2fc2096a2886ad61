package searcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/memgo/buffer"
	"github.com/hupe1980/memgo/operation"
	"github.com/hupe1980/memgo/process"
)

// scanFunc runs one search over a chunk buffer.
type scanFunc func(sb buffer.SearchBuffer, e *buffer.Emitter) error

// errSkip marks a range that could not be read and was skipped.
var errSkip = errors.New("range skipped")

// scanner reads address ranges in bounded chunks and runs a scanFunc over
// each chunk. It is owned by one goroutine.
type scanner struct {
	s     *Searcher
	p     process.Process
	shape operation.Shape
	scan  scanFunc
	e     *buffer.Emitter

	buf     []byte
	scanned int64
	skipped int

	// progress receives scanned byte deltas. Used by parallel workers.
	progress func(scanned int64, skipped int)
}

func (s *Searcher) newScanner(p process.Process, shape operation.Shape, scan scanFunc, e *buffer.Emitter) *scanner {
	return &scanner{s: s, p: p, shape: shape, scan: scan, e: e}
}

func (sc *scanner) chunkSize() uint64 {
	chunk := uint64(sc.s.opts.MaxChunkSize)
	if chunk == 0 {
		chunk = DefaultMaxChunkSize
	}
	w := uint64(sc.shape.Size)
	if w > 1 && chunk >= w {
		chunk -= chunk % w
	}
	return chunk
}

// scanRange scans the owned range [start, end). Reads may extend up to
// hardEnd by size-1 bytes so matches straddling a chunk boundary are found
// once; hits at or beyond each chunk's owned end are dropped.
func (sc *scanner) scanRange(ctx context.Context, start, end, hardEnd uint64) error {
	chunk := sc.chunkSize()
	overlap := uint64(max(sc.shape.Size-1, 0))
	ctrl := sc.s.opts.Controller

	for off := start; off < end; {
		stop := min(off+chunk, end)
		readEnd := min(stop+overlap, hardEnd)
		n := int(readEnd - off)

		if err := ctrl.AcquireMemory(ctx, int64(n)); err != nil {
			return err
		}
		err := sc.chunk(ctx, off, stop, n)
		ctrl.ReleaseMemory(int64(n))

		if errors.Is(err, errSkip) {
			rest := int64(end - off)
			sc.scanned += rest
			sc.skipped++
			sc.s.log.Debug("region skipped", "start", fmt.Sprintf("%#x", off), "bytes", rest, "error", err)
			if sc.progress != nil {
				sc.progress(rest, 1)
			}
			return nil
		}
		if err != nil {
			return err
		}

		sc.scanned += int64(stop - off)
		if sc.progress != nil {
			sc.progress(int64(stop-off), 0)
		}
		off = stop
	}
	return nil
}

func (sc *scanner) chunk(ctx context.Context, off, stop uint64, n int) error {
	if err := sc.s.opts.Controller.AcquireRead(ctx, n); err != nil {
		return err
	}
	if cap(sc.buf) < n {
		sc.buf = make([]byte, n)
	}
	data := sc.buf[:n]

	if err := readOrLost(sc.p, data, off); err != nil {
		return err
	}

	sb, err := buffer.New(off, data, sc.shape)
	if err != nil {
		return err
	}
	sc.e.SetOffset(sc.scanned)
	sc.e.SetLimit(stop)
	if err := sc.scan(sb, sc.e); err != nil {
		return err
	}
	return sc.e.Check(int(stop - off))
}

// readOrLost reads len(p) bytes at addr. A failed read is errSkip while the
// process is alive and ErrProcessLost once it is not.
func readOrLost(p process.Process, data []byte, addr uint64) error {
	if _, err := p.ReadAt(data, addr); err != nil {
		if cerr := p.Check(); cerr != nil {
			return fmt.Errorf("%w: read %#x: %v", process.ErrProcessLost, addr, err)
		}
		return fmt.Errorf("%w: %w", errSkip, err)
	}
	return nil
}

// sweep scans regions on the calling goroutine.
func (s *Searcher) sweep(ctx context.Context, p process.Process, regions []process.Region, shape operation.Shape, scan scanFunc, sink buffer.Sink) (stats, error) {
	st := stats{regions: len(regions), total: int64(process.Total(regions)), workers: 1}
	e := buffer.NewEmitter(ctx, shape.Size, sink, s.emitterOptions(st.total))
	sc := s.newScanner(p, shape, scan, e)

	var err error
	for _, r := range regions {
		if err = sc.scanRange(ctx, r.Start, r.End, r.End); err != nil {
			break
		}
	}
	st.scanned, st.skipped = sc.scanned, sc.skipped

	// Hits found before a cancellation are still persisted.
	if ferr := e.Flush(); ferr != nil && err == nil {
		err = ferr
	}
	return st, err
}
