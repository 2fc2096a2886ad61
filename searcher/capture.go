package searcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/memgo/blobstore"
	"github.com/hupe1980/memgo/buffer"
	"github.com/hupe1980/memgo/capture"
	"github.com/hupe1980/memgo/operation"
	"github.com/hupe1980/memgo/process"
	"github.com/hupe1980/memgo/results"
)

// Capture snapshots every region passing the filter into the set name.
func (s *Searcher) Capture(ctx context.Context, store blobstore.BlobStore, name string) (Report, error) {
	return s.capture(ctx, store, name, nil)
}

// CaptureRange snapshots the window [addr-radius, addr+radius) clipped to the
// mapped regions. Blob offsets stay relative to the lowest mapped address, so
// two range captures around the same address pair by name.
func (s *Searcher) CaptureRange(ctx context.Context, store blobstore.BlobStore, name string, addr, radius uint64) (Report, error) {
	lo := addr - min(addr, radius)
	hi := addr + radius
	if hi < addr {
		hi = ^uint64(0)
	}
	return s.capture(ctx, store, name, func(regions []process.Region) []process.Region {
		var out []process.Region
		for _, r := range regions {
			if r.End <= lo || r.Start >= hi {
				continue
			}
			r.Start, r.End = max(r.Start, lo), min(r.End, hi)
			out = append(out, r)
		}
		return out
	})
}

func (s *Searcher) capture(ctx context.Context, store blobstore.BlobStore, name string, clip func([]process.Region) []process.Region) (Report, error) {
	if err := s.begin(); err != nil {
		return Report{}, err
	}
	start := time.Now()
	rep := Report{Kind: KindCapture, Capture: name}

	p, err := s.opener.Open(ctx)
	if err != nil {
		s.finish(s.settled())
		return rep, err
	}
	defer p.Close()

	mapped, err := p.Regions(ctx, process.Filter{})
	if err != nil {
		s.finish(s.settled())
		return rep, err
	}
	regions := s.opts.Filter.Apply(mapped)
	if clip != nil {
		regions = clip(regions)
	}

	w, err := capture.Create(ctx, store, name, p.Name(), process.Lowest(mapped),
		capture.WithCompression(s.opts.Compression), capture.WithController(s.opts.Controller))
	if err != nil {
		s.finish(s.settled())
		return rep, err
	}

	rep.Regions = len(regions)
	rep.Total = int64(process.Total(regions))
	var last time.Time
	for _, r := range regions {
		err = w.Add(ctx, r, process.NewReader(p, r))
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if cerr := p.Check(); cerr != nil {
				err = fmt.Errorf("%w: capture %s: %v", process.ErrProcessLost, r, err)
				break
			}
			w.Skip(r, err)
			rep.Skipped++
			s.log.Debug("region skipped", "region", r.String(), "error", err)
			err = nil
		}
		rep.Scanned += int64(r.Size())
		if fn := s.opts.Progress; fn != nil && time.Since(last) >= s.opts.ProgressInterval {
			last = time.Now()
			fn(Progress{Done: rep.Scanned, Total: rep.Total})
		}
	}

	if err != nil && !(ctx.Err() != nil && !errors.Is(err, process.ErrProcessLost)) {
		if derr := capture.Delete(context.WithoutCancel(ctx), store, name); derr != nil {
			s.log.Warn("delete partial capture failed", "capture", name, "error", derr)
		}
		s.finish(s.settled())
		rep.Duration = time.Since(start)
		return rep, err
	}
	rep.Cancelled = err != nil

	// A cancelled capture keeps the regions written so far.
	if _, cerr := w.Commit(context.WithoutCancel(ctx)); cerr != nil {
		s.finish(s.settled())
		return rep, cerr
	}
	rep.State = StateCaptured
	rep.Duration = time.Since(start)
	s.finish(StateCaptured)
	return rep, nil
}

// CompareCapture diffs live memory against a capture set with a memory
// operation (the unknown-initial-value workflow). Each captured region is the
// previous read; the live region at the same address is the current read.
// The hits replace the top generation.
func (s *Searcher) CompareCapture(ctx context.Context, set *capture.Set, op operation.Operation, shape operation.Shape) (Report, error) {
	if !op.IsMemory() {
		return Report{}, fmt.Errorf("%w: %s does not compare two reads", operation.ErrInvalidOperation, op)
	}
	if shape.Size <= 0 {
		shape.Size = shape.Kind.Size()
	}
	if shape.Size <= 0 {
		return Report{}, fmt.Errorf("%w: compare needs a fixed width", operation.ErrInvalidOperation)
	}
	pred, err := op.Compile(shape)
	if err != nil {
		return Report{}, err
	}

	if err := s.begin(); err != nil {
		return Report{}, err
	}
	start := time.Now()
	rep := Report{Kind: KindCompare, Capture: set.Name()}

	p, err := s.opener.Open(ctx)
	if err != nil {
		s.finish(s.settled())
		return rep, err
	}
	defer p.Close()

	round, err := s.store.Begin(results.ModeReplace, metaOf(shape))
	if err != nil {
		s.finish(s.settled())
		return rep, err
	}

	st := stats{regions: len(set.Entries()), total: int64(set.Size()), workers: 1}
	e := buffer.NewEmitter(ctx, shape.Size, appendSink(round), s.emitterOptions(st.total))

	for _, entry := range set.Entries() {
		var prev []byte
		prev, err = set.Read(ctx, entry)
		if err != nil {
			break
		}
		addr := entry.Address(set.Base())

		sc := s.newScanner(p, shape, func(cur buffer.SearchBuffer, e *buffer.Emitter) error {
			off := cur.Base() - addr
			old, err := buffer.New(cur.Base(), prev[off:off+uint64(cur.Len())], shape)
			if err != nil {
				return err
			}
			return cur.CompareByPredicate(e, old, pred)
		}, e)
		sc.scanned = st.scanned

		err = sc.scanRange(ctx, addr, addr+entry.Length, addr+entry.Length)
		st.scanned = sc.scanned
		st.skipped += sc.skipped
		if err != nil {
			break
		}
	}
	if ferr := e.Flush(); ferr != nil && err == nil {
		err = ferr
	}

	st.apply(&rep)
	return s.complete(ctx, round, rep, start, err)
}
