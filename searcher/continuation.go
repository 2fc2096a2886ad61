package searcher

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hupe1980/memgo/buffer"
	"github.com/hupe1980/memgo/operation"
	"github.com/hupe1980/memgo/process"
	"github.com/hupe1980/memgo/results"
	"github.com/hupe1980/memgo/value"
)

// continuationShape derives the read shape of a continuation round from the
// top generation. Value operations re-infer signedness from their operands.
func continuationShape(meta results.Meta, op operation.Operation) (operation.Shape, operation.Predicate, error) {
	kind, err := value.ParseKind(meta.Kind)
	if err != nil {
		return operation.Shape{}, nil, err
	}
	shape := operation.Shape{Kind: kind, Size: meta.Width, Signed: meta.Signed}

	if !op.IsMemory() {
		shape.Signed = op.Signed()
		if kind.IsPattern() {
			a, _ := op.Operands()
			if p := a.Pattern(); p != nil {
				if p.Len() != meta.Width {
					return shape, nil, fmt.Errorf("%w: pattern of %d bytes against %d byte results",
						operation.ErrInvalidOperation, p.Len(), meta.Width)
				}
				shape.Pattern = p
			}
		}
	}

	pred, err := op.Compile(shape)
	if err != nil {
		return shape, nil, err
	}
	return shape, pred, nil
}

func (s *Searcher) continueWith(ctx context.Context, op operation.Operation) (Report, error) {
	top, err := s.store.Top()
	if err != nil {
		return Report{}, err
	}
	shape, pred, err := continuationShape(top.Meta, op)
	if err != nil {
		return Report{}, err
	}

	if err := s.begin(); err != nil {
		return Report{}, err
	}
	start := time.Now()
	rep := Report{Kind: KindContinue}

	p, err := s.opener.Open(ctx)
	if err != nil {
		s.finish(s.settled())
		return rep, err
	}
	defer p.Close()

	round, err := s.store.Begin(results.ModePush, metaOf(shape))
	if err != nil {
		s.finish(s.settled())
		return rep, err
	}

	sink := appendSink(round)
	var st stats
	if s.parallel && top.Count > s.opts.ContinueParallelThreshold && s.opts.Workers > 1 {
		st, err = s.continueParallel(ctx, shape.Size, top.Count, pred, sink)
	} else {
		st, err = s.continueScan(ctx, p, shape.Size, top.Count, pred, sink)
	}
	st.apply(&rep)
	return s.complete(ctx, round, rep, start, err)
}

func (s *Searcher) continueScan(ctx context.Context, p process.Process, width int, total int64, pred operation.Predicate, sink buffer.Sink) (stats, error) {
	st := stats{total: total, workers: 1}

	cache := int64(max(s.opts.PageCacheSize, 1)) * PageSize
	if err := s.opts.Controller.AcquireMemory(ctx, cache); err != nil {
		return st, err
	}
	defer s.opts.Controller.ReleaseMemory(cache)

	e := buffer.NewEmitter(ctx, width, sink, s.emitterOptions(total))
	pr := newPageReader(p, s.opts.PageCacheSize)

	err := s.store.Iterate(ctx, func(entries []results.Entry) error {
		e.SetOffset(st.scanned)
		if err := evalEntries(pr, entries, width, pred, e); err != nil {
			return err
		}
		st.scanned += int64(len(entries))
		return nil
	})
	st.skipped = pr.unreadable

	if ferr := e.Flush(); ferr != nil && err == nil {
		err = ferr
	}
	return st, err
}

// evalEntries re-reads each entry and emits it when pred holds for the
// current read against the stored value. Unreadable entries are dropped.
func evalEntries(pr *pageReader, entries []results.Entry, width int, pred operation.Predicate, e *buffer.Emitter) error {
	cur := make([]byte, width)
	for i, en := range entries {
		ok, err := pr.read(cur, en.Address)
		if err != nil {
			return err
		}
		if ok && len(en.Value) >= width && pred(cur, en.Value) {
			if err := e.Emit(en.Address, cur); err != nil {
				return err
			}
		}
		if err := e.Advance(i, 1); err != nil {
			return err
		}
	}
	return nil
}

// pageReader serves small reads from an LRU of whole target pages. A cache
// lives for one round only; the target changes between rounds.
type pageReader struct {
	p     process.Process
	cache *lru.Cache[uint64, []byte]

	unreadable int
}

func newPageReader(p process.Process, pages int) *pageReader {
	c, _ := lru.New[uint64, []byte](max(pages, 1))
	return &pageReader{p: p, cache: c}
}

// read fills dst from addr. It reports false when the bytes could not be
// read and fails only when the process is gone.
func (r *pageReader) read(dst []byte, addr uint64) (bool, error) {
	for n := 0; n < len(dst); {
		a := addr + uint64(n)
		base := a &^ (PageSize - 1)

		page, ok := r.cache.Get(base)
		if !ok {
			page = make([]byte, PageSize)
			if _, err := r.p.ReadAt(page, base); err != nil {
				if cerr := r.p.Check(); cerr != nil {
					return false, cerr
				}
				page = nil
			}
			r.cache.Add(base, page)
		}

		if page == nil {
			// The page is not fully mapped; read the exact bytes instead.
			if _, err := r.p.ReadAt(dst[n:], a); err != nil {
				if cerr := r.p.Check(); cerr != nil {
					return false, cerr
				}
				r.unreadable++
				return false, nil
			}
			return true, nil
		}
		n += copy(dst[n:], page[a-base:])
	}
	return true, nil
}
