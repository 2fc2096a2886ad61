package searcher

import (
	"context"
	"time"

	"github.com/hupe1980/memgo/buffer"
	"github.com/hupe1980/memgo/operation"
	"github.com/hupe1980/memgo/process"
	"github.com/hupe1980/memgo/results"
	"golang.org/x/sync/errgroup"
)

// Multi is a Searcher that fans large sweeps and continuations out to a
// worker pool. Small targets are handled by the embedded single-worker path.
type Multi struct {
	*Searcher
}

// NewMulti creates a parallel searcher. Each worker opens its own handle
// through opener.
func NewMulti(opener process.Opener, store *results.Store, optFns ...Option) *Multi {
	s := New(opener, store, optFns...)
	s.parallel = true
	return &Multi{Searcher: s}
}

// part is a contiguous slice of one region owned by a single worker.
type part struct {
	start, end, hardEnd uint64
}

// partition splits regions into parts of roughly total/workers bytes. Parts
// never cross a region and start at a multiple of width from their region's
// start, so aligned slot walks see the same slots as a single sweep.
func partition(regions []process.Region, width, workers int) []part {
	total := process.Total(regions)
	if total == 0 {
		return nil
	}
	w := uint64(max(width, 1))
	target := (total + uint64(workers) - 1) / uint64(max(workers, 1))
	target = max((target+w-1)/w*w, w)

	var parts []part
	for _, r := range regions {
		for off := r.Start; off < r.End; off += target {
			parts = append(parts, part{start: off, end: min(off+target, r.End), hardEnd: r.End})
			if off+target < off {
				break
			}
		}
	}
	return parts
}

// message is sent from workers to the orchestrator. Hits are persisted by the
// orchestrator only.
type message struct {
	hits    []buffer.Hit
	scanned int64
	skipped int
}

// workerCount bounds the configured workers by the controller.
func (s *Searcher) workerCount() int {
	n := s.opts.Workers
	if limit := s.opts.Controller.MaxWorkers(); limit > 0 {
		n = min(n, limit)
	}
	return max(n, 1)
}

// collect drains msgs into sink and reports progress until msgs is closed.
// After a sink failure it keeps draining so workers never block, and cancels
// the workers through stop.
func (s *Searcher) collect(msgs <-chan message, sink buffer.Sink, st *stats, stop context.CancelFunc) error {
	var (
		sinkErr error
		last    = time.Now()
	)
	for m := range msgs {
		if len(m.hits) > 0 && sinkErr == nil {
			if sinkErr = sink(m.hits); sinkErr != nil {
				stop()
			}
		}
		st.scanned += m.scanned
		st.skipped += m.skipped
		if fn := s.opts.Progress; fn != nil && time.Since(last) >= s.opts.ProgressInterval {
			last = time.Now()
			fn(Progress{Done: st.scanned, Total: st.total})
		}
	}
	return sinkErr
}

// flushCancelled hands a worker's pending hits to the collector when err
// ends the worker because the round was cancelled, then returns err.
func flushCancelled(ctx context.Context, e *buffer.Emitter, err error) error {
	if ctx.Err() == nil {
		return err
	}
	if ferr := e.Flush(); ferr != nil {
		return ferr
	}
	return err
}

func (s *Searcher) sweepParallel(ctx context.Context, regions []process.Region, shape operation.Shape, scan scanFunc, sink buffer.Sink) (stats, error) {
	workers := s.workerCount()
	parts := partition(regions, shape.Size, workers)
	st := stats{regions: len(regions), total: int64(process.Total(regions)), parallel: true, workers: workers}

	wctx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(wctx)

	jobs := make(chan part)
	msgs := make(chan message, workers*2)

	g.Go(func() error {
		defer close(jobs)
		for _, pt := range parts {
			select {
			case jobs <- pt:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for range workers {
		g.Go(func() error {
			if err := s.opts.Controller.AcquireWorker(gctx); err != nil {
				return err
			}
			defer s.opts.Controller.ReleaseWorker()

			p, err := s.opener.Open(gctx)
			if err != nil {
				return err
			}
			defer p.Close()

			// Batches are always delivered; the orchestrator drains until
			// every worker has exited.
			e := buffer.NewEmitter(gctx, shape.Size, func(hits []buffer.Hit) error {
				msgs <- message{hits: hits}
				return nil
			}, buffer.Options{BatchSize: s.opts.BatchSize, CheckEvery: s.opts.CheckEvery})

			sc := s.newScanner(p, shape, scan, e)
			sc.progress = func(scanned int64, skipped int) {
				msgs <- message{scanned: scanned, skipped: skipped}
			}
			for pt := range jobs {
				if err := sc.scanRange(gctx, pt.start, pt.end, pt.hardEnd); err != nil {
					return flushCancelled(gctx, e, err)
				}
			}
			return e.Flush()
		})
	}

	errc := make(chan error, 1)
	go func() {
		errc <- g.Wait()
		close(msgs)
	}()

	sinkErr := s.collect(msgs, sink, &st, stop)
	err := <-errc
	if sinkErr != nil {
		return st, sinkErr
	}
	return st, err
}

func (s *Searcher) continueParallel(ctx context.Context, width int, total int64, pred operation.Predicate, sink buffer.Sink) (stats, error) {
	workers := s.workerCount()
	st := stats{total: total, parallel: true, workers: workers}

	wctx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(wctx)

	pages := make(chan []results.Entry, workers)
	msgs := make(chan message, workers*2)

	g.Go(func() error {
		defer close(pages)
		return s.store.Iterate(gctx, func(entries []results.Entry) error {
			select {
			case pages <- entries:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	})

	for range workers {
		g.Go(func() error {
			if err := s.opts.Controller.AcquireWorker(gctx); err != nil {
				return err
			}
			defer s.opts.Controller.ReleaseWorker()

			cache := int64(max(s.opts.PageCacheSize, 1)) * PageSize
			if err := s.opts.Controller.AcquireMemory(gctx, cache); err != nil {
				return err
			}
			defer s.opts.Controller.ReleaseMemory(cache)

			p, err := s.opener.Open(gctx)
			if err != nil {
				return err
			}
			defer p.Close()

			e := buffer.NewEmitter(gctx, width, func(hits []buffer.Hit) error {
				msgs <- message{hits: hits}
				return nil
			}, buffer.Options{BatchSize: s.opts.BatchSize, CheckEvery: s.opts.CheckEvery})
			pr := newPageReader(p, s.opts.PageCacheSize)

			for entries := range pages {
				before := pr.unreadable
				if err := evalEntries(pr, entries, width, pred, e); err != nil {
					return flushCancelled(gctx, e, err)
				}
				msgs <- message{scanned: int64(len(entries)), skipped: pr.unreadable - before}
			}
			return e.Flush()
		})
	}

	errc := make(chan error, 1)
	go func() {
		errc <- g.Wait()
		close(msgs)
	}()

	sinkErr := s.collect(msgs, sink, &st, stop)
	err := <-errc
	if sinkErr != nil {
		return st, sinkErr
	}
	return st, err
}
