package memgo

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/memgo/capture"
	"github.com/hupe1980/memgo/operation"
	"github.com/hupe1980/memgo/searcher"
	"github.com/hupe1980/memgo/value"
)

// Request describes one round. Build it with SearchValue, SearchOperation,
// Capture, CaptureRange or Compare.
type Request struct {
	kind searcher.Kind
	desc string
	run  func(ctx context.Context, s *Session) (searcher.Report, error)
}

// Kind returns the round kind the request starts with. A value search
// against pending results runs as a continuation.
func (r Request) Kind() searcher.Kind { return r.kind }

func (r Request) String() string { return r.desc }

// SearchValue finds v. Without pending results every readable region is
// swept, otherwise the pending addresses are re-checked for equality.
func SearchValue(v value.Value) Request {
	return Request{
		kind: searcher.KindSweep,
		desc: "value " + v.String(),
		run: func(ctx context.Context, s *Session) (searcher.Report, error) {
			return s.searcher.SearchValue(ctx, v)
		},
	}
}

// SearchOperation applies op. Memory operations need pending results.
func SearchOperation(op operation.Operation) Request {
	return Request{
		kind: searcher.KindSweep,
		desc: op.String(),
		run: func(ctx context.Context, s *Session) (searcher.Report, error) {
			return s.searcher.SearchOperation(ctx, op)
		},
	}
}

// Capture snapshots every readable region into the capture set name.
func Capture(name string) Request {
	return Request{
		kind: searcher.KindCapture,
		desc: "capture " + name,
		run: func(ctx context.Context, s *Session) (searcher.Report, error) {
			return s.searcher.Capture(ctx, s.engine.blobs, name)
		},
	}
}

// CaptureRange snapshots the window of radius bytes around addr.
func CaptureRange(name string, addr, radius uint64) Request {
	return Request{
		kind: searcher.KindCapture,
		desc: "capture " + name,
		run: func(ctx context.Context, s *Session) (searcher.Report, error) {
			return s.searcher.CaptureRange(ctx, s.engine.blobs, name, addr, radius)
		},
	}
}

// Compare diffs live memory against the capture set name with a memory
// operation, reading values of the given kind.
func Compare(name string, op operation.Operation, kind value.Kind) Request {
	return Request{
		kind: searcher.KindCompare,
		desc: "compare " + name + " " + op.String(),
		run: func(ctx context.Context, s *Session) (searcher.Report, error) {
			set, err := capture.Load(ctx, s.engine.blobs, name, capture.WithController(s.engine.ctrl))
			if err != nil {
				return searcher.Report{Kind: searcher.KindCompare, Capture: name}, err
			}
			return s.searcher.CompareCapture(ctx, set, op, operation.Shape{
				Kind:   kind,
				Size:   kind.Size(),
				Signed: op.Signed() || kind == value.KindOffset,
			})
		},
	}
}

// Task is a round running in the background.
type Task struct {
	req    Request
	cancel context.CancelFunc
	done   chan struct{}

	progress atomic.Pointer[searcher.Progress]

	mu     sync.Mutex
	report searcher.Report
	err    error
}

func newTask(req Request, cancel context.CancelFunc) *Task {
	return &Task{req: req, cancel: cancel, done: make(chan struct{})}
}

// Request returns the request the task runs.
func (t *Task) Request() Request { return t.req }

// Done is closed when the round has finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Cancel asks the round to stop. Hits found so far are kept and the report
// is marked Cancelled.
func (t *Task) Cancel() { t.cancel() }

// Progress returns the latest progress published by the round.
func (t *Task) Progress() searcher.Progress {
	if p := t.progress.Load(); p != nil {
		return *p
	}
	return searcher.Progress{}
}

// Wait blocks until the round finishes or ctx is done. A done ctx does not
// cancel the round.
func (t *Task) Wait(ctx context.Context) (searcher.Report, error) {
	select {
	case <-t.done:
	case <-ctx.Done():
		return searcher.Report{}, ctx.Err()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.report, t.err
}

func (t *Task) finish(rep searcher.Report, err error) {
	t.mu.Lock()
	t.report, t.err = rep, err
	t.mu.Unlock()
	t.cancel()
	close(t.done)
}
