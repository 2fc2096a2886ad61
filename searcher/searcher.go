package searcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hupe1980/memgo/buffer"
	"github.com/hupe1980/memgo/operation"
	"github.com/hupe1980/memgo/process"
	"github.com/hupe1980/memgo/results"
	"github.com/hupe1980/memgo/value"
)

// ErrBusy is returned when a round is started while another is running.
var ErrBusy = errors.New("searcher: round in progress")

// Searcher runs search rounds against one process and one results store.
// Rounds are serialized; the methods are safe to call from any goroutine.
type Searcher struct {
	opener process.Opener
	store  *results.Store
	opts   Options
	log    *slog.Logger

	parallel bool

	mu    sync.Mutex
	state State
	busy  bool
}

// New creates a single-worker Searcher.
func New(opener process.Opener, store *results.Store, optFns ...Option) *Searcher {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	s := &Searcher{
		opener: opener,
		store:  store,
		opts:   opts,
		log:    opts.Logger,
	}
	s.state = s.settled()
	return s
}

// State returns the current state.
func (s *Searcher) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Options returns the effective options.
func (s *Searcher) Options() Options { return s.opts }

// Store returns the results store.
func (s *Searcher) Store() *results.Store { return s.store }

// settled derives the resting state from the store.
func (s *Searcher) settled() State {
	g, err := s.store.Top()
	switch {
	case err != nil:
		return StateIdle
	case g.Count > 0:
		return StateResults
	default:
		return StateNoResults
	}
}

func (s *Searcher) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return ErrBusy
	}
	s.busy = true
	s.state = StateScanning
	return nil
}

func (s *Searcher) finish(next State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	s.state = next
}

// pending returns the hit count of the top generation.
func (s *Searcher) pending() (int64, error) {
	return s.store.Count()
}

// SearchValue finds v. With no pending hits it sweeps all regions with an
// unaligned literal search; otherwise it keeps the pending hits whose current
// value equals v.
func (s *Searcher) SearchValue(ctx context.Context, v value.Value) (Report, error) {
	if !v.IsValid() {
		return Report{}, fmt.Errorf("%w: empty search value", value.ErrInvalidValue)
	}
	n, err := s.pending()
	if err != nil {
		return Report{}, err
	}
	if n > 0 {
		return s.continueWith(ctx, operation.Equal(v))
	}

	shape := operation.ShapeOf(v)
	return s.sweepWith(ctx, shape, func(sb buffer.SearchBuffer, e *buffer.Emitter) error {
		return sb.FindValue(e, v)
	})
}

// SearchOperation applies op. With no pending hits it sweeps all regions
// slot by slot; memory operations then fail because there is nothing to
// compare against (use CompareCapture). Otherwise it continues.
func (s *Searcher) SearchOperation(ctx context.Context, op operation.Operation) (Report, error) {
	n, err := s.pending()
	if err != nil {
		return Report{}, err
	}
	if n > 0 {
		return s.continueWith(ctx, op)
	}
	if op.IsMemory() {
		return Report{}, fmt.Errorf("%w: %s needs previous results or a capture", operation.ErrInvalidOperation, op)
	}

	a, _ := op.Operands()
	shape := operation.ShapeOf(a)
	shape.Signed = op.Signed()
	pred, err := op.Compile(shape)
	if err != nil {
		return Report{}, err
	}
	return s.sweepWith(ctx, shape, func(sb buffer.SearchBuffer, e *buffer.Emitter) error {
		return sb.FindByPredicate(e, pred)
	})
}

func metaOf(shape operation.Shape) results.Meta {
	return results.Meta{Kind: shape.Kind.String(), Width: shape.Size, Signed: shape.Signed}
}

func (s *Searcher) sweepWith(ctx context.Context, shape operation.Shape, scan scanFunc) (Report, error) {
	if shape.Size <= 0 {
		return Report{}, fmt.Errorf("%w: zero-width %s search", value.ErrInvalidValue, shape.Kind)
	}
	if err := s.begin(); err != nil {
		return Report{}, err
	}
	start := time.Now()
	rep := Report{Kind: KindSweep}

	p, err := s.opener.Open(ctx)
	if err != nil {
		s.finish(s.settled())
		return rep, err
	}
	defer p.Close()

	regions, err := p.Regions(ctx, s.opts.Filter)
	if err != nil {
		s.finish(s.settled())
		return rep, err
	}

	round, err := s.store.Begin(results.ModeReplace, metaOf(shape))
	if err != nil {
		s.finish(s.settled())
		return rep, err
	}

	sink := appendSink(round)
	var st stats
	total := process.Total(regions)
	if s.parallel && total >= s.opts.MinParallelBytes && s.opts.Workers > 1 {
		st, err = s.sweepParallel(ctx, regions, shape, scan, sink)
	} else {
		st, err = s.sweep(ctx, p, regions, shape, scan, sink)
	}
	st.apply(&rep)
	return s.complete(ctx, round, rep, start, err)
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// complete commits or aborts the round and settles the state.
func (s *Searcher) complete(ctx context.Context, round *results.Round, rep Report, start time.Time, err error) (Report, error) {
	rep.Duration = time.Since(start)

	cancelled := err != nil && ctx.Err() != nil && isCancellation(err) && !errors.Is(err, process.ErrProcessLost)
	if err != nil && !cancelled {
		if aerr := round.Abort(); aerr != nil {
			s.log.Warn("abort round failed", "error", aerr)
		}
		s.finish(s.settled())
		return rep, err
	}

	g, cerr := round.Commit()
	if cerr != nil {
		_ = round.Abort()
		s.finish(s.settled())
		return rep, cerr
	}

	rep.Cancelled = cancelled
	rep.Generation = g
	rep.Found = g.Count
	rep.State = StateNoResults
	if g.Count > 0 {
		rep.State = StateResults
	}
	s.finish(rep.State)
	return rep, nil
}

func appendSink(round *results.Round) buffer.Sink {
	return func(hits []buffer.Hit) error {
		entries := make([]results.Entry, len(hits))
		for i, h := range hits {
			entries[i] = results.Entry{Address: h.Address, Value: h.Value}
		}
		return round.Append(entries)
	}
}

func (s *Searcher) emitterOptions(total int64) buffer.Options {
	o := buffer.Options{
		BatchSize:        s.opts.BatchSize,
		CheckEvery:       s.opts.CheckEvery,
		ProgressInterval: s.opts.ProgressInterval,
	}
	if fn := s.opts.Progress; fn != nil {
		o.Progress = func(done int64) { fn(Progress{Done: done, Total: total}) }
	}
	return o
}
