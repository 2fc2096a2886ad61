package memgo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/memgo/process"
	"github.com/hupe1980/memgo/results"
	"github.com/hupe1980/memgo/searcher"
	"github.com/hupe1980/memgo/value"
)

// Result is one pending address with the value it held when the round that
// produced it read it.
type Result struct {
	Address uint64
	Value   value.Value
}

// Session is attached to one process and owns one results catalog. Only one
// round runs at a time.
type Session struct {
	engine   *Engine
	name     string
	catalog  string
	opener   process.Opener
	store    *results.Store
	searcher *searcher.Multi
	log      *Logger
	metrics  MetricsCollector

	mu      sync.Mutex
	task    *Task
	walking map[string]bool
	closed  bool
}

func newSession(e *Engine, name, catalog string, opener process.Opener, store *results.Store) *Session {
	s := &Session{
		engine:  e,
		name:    name,
		catalog: catalog,
		opener:  opener,
		store:   store,
		log:     e.log.WithProcess(name).WithCatalog(catalog),
		metrics: e.opts.metricsCollector,
		walking: make(map[string]bool),
	}
	opts := append(e.searcherOptions(e.opts.filter),
		searcher.WithProgress(e.opts.progressInterval, s.publish))
	s.searcher = searcher.NewMulti(opener, store, opts...)
	return s
}

// Process returns the process name.
func (s *Session) Process() string { return s.name }

// Catalog returns the results catalog name.
func (s *Session) Catalog() string { return s.catalog }

// State returns the searcher state.
func (s *Session) State() searcher.State { return s.searcher.State() }

func (s *Session) publish(p searcher.Progress) {
	s.mu.Lock()
	t := s.task
	s.mu.Unlock()
	if t != nil {
		t.progress.Store(&p)
	}
}

// Start runs req on a background goroutine. It returns ErrBusy while another
// round of this session is running. Cancelling ctx cancels the round.
func (s *Session) Start(ctx context.Context, req Request) (*Task, error) {
	if req.run == nil {
		return nil, fmt.Errorf("%w: empty request", ErrInvalidOperation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.task != nil {
		select {
		case <-s.task.done:
		default:
			return nil, fmt.Errorf("%w: %s is running", ErrBusy, s.task.req)
		}
	}

	tctx, cancel := context.WithCancel(ctx)
	t := newTask(req, cancel)
	s.task = t

	go func() {
		rep, err := req.run(tctx, s)
		if rep.Kind == "" {
			rep.Kind = req.kind
		}
		err = translateError(err)
		s.record(ctx, rep, err)
		t.finish(rep, err)
	}()
	return t, nil
}

// Search runs req and waits for it.
func (s *Session) Search(ctx context.Context, req Request) (searcher.Report, error) {
	t, err := s.Start(ctx, req)
	if err != nil {
		return searcher.Report{}, err
	}
	return t.Wait(context.WithoutCancel(ctx))
}

// Task returns the current or last task, or nil.
func (s *Session) Task() *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.task
}

func (s *Session) record(ctx context.Context, rep searcher.Report, err error) {
	switch rep.Kind {
	case searcher.KindCapture:
		s.log.LogCapture(ctx, rep, err)
		s.metrics.RecordCapture(rep.Scanned, rep.Duration, err)
	case searcher.KindContinue:
		s.log.LogContinue(ctx, rep, err)
		s.metrics.RecordSearch(string(rep.Kind), rep.Found, rep.Duration, err)
	default:
		s.log.LogScan(ctx, rep, err)
		s.metrics.RecordSearch(string(rep.Kind), rep.Found, rep.Duration, err)
	}
}

// Regions lists the readable regions passing the engine filter.
func (s *Session) Regions(ctx context.Context) ([]process.Region, error) {
	p, err := s.opener.Open(ctx)
	if err != nil {
		return nil, translateError(err)
	}
	defer p.Close()
	regions, err := p.Regions(ctx, s.engine.opts.filter)
	return regions, translateError(err)
}

// Read reads a value of the given kind at addr. size is used for patterns.
func (s *Session) Read(ctx context.Context, addr uint64, kind value.Kind, size int) (value.Value, error) {
	if n := kind.Size(); n > 0 {
		size = n
	}
	if size <= 0 {
		return value.Value{}, fmt.Errorf("%w: read size %d", ErrInvalidValue, size)
	}
	p, err := s.opener.Open(ctx)
	if err != nil {
		return value.Value{}, translateError(err)
	}
	defer p.Close()

	buf := make([]byte, size)
	if _, err := p.ReadAt(buf, addr); err != nil {
		if cerr := p.Check(); cerr != nil {
			err = cerr
		}
		return value.Value{}, translateError(err)
	}
	v, err := value.FromBytes(kind, buf)
	return v, translateError(err)
}

// Write patches v at addr. Wildcards of a pattern value leave the target
// bytes untouched.
func (s *Session) Write(ctx context.Context, addr uint64, v value.Value) error {
	start := time.Now()
	err := s.write(ctx, []uint64{addr}, v, false)
	s.metrics.RecordWrite(1, time.Since(start), err)
	return err
}

// WriteAll patches v at every pending address. Unreadable addresses are
// skipped; the number of addresses written is returned.
func (s *Session) WriteAll(ctx context.Context, v value.Value) (int, error) {
	start := time.Now()
	var addrs []uint64
	err := s.store.Iterate(ctx, func(entries []results.Entry) error {
		for _, e := range entries {
			addrs = append(addrs, e.Address)
		}
		return nil
	})
	if err != nil {
		err = translateError(err)
		s.metrics.RecordWrite(0, time.Since(start), err)
		return 0, err
	}
	err = s.write(ctx, addrs, v, true)
	s.metrics.RecordWrite(len(addrs), time.Since(start), err)
	return len(addrs), err
}

func (s *Session) write(ctx context.Context, addrs []uint64, v value.Value, skipUnreadable bool) error {
	if !v.IsValid() {
		return fmt.Errorf("%w: nothing to write", ErrInvalidValue)
	}
	p, err := s.opener.Open(ctx)
	if err != nil {
		return translateError(err)
	}
	defer p.Close()

	var regions []process.Region
	for _, addr := range addrs {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := writeValue(p, addr, v)
		if err == nil {
			continue
		}
		if cerr := p.Check(); cerr != nil {
			return translateError(cerr)
		}
		if !skipUnreadable || !errors.Is(err, process.ErrUnreadableRegion) {
			return translateError(err)
		}
		if regions == nil {
			regions, _ = p.Regions(ctx, process.Filter{})
		}
		if r, ok := process.Find(regions, addr); ok {
			s.log.LogRegionSkipped(ctx, r, err)
		}
	}
	return nil
}

func writeValue(p process.Process, addr uint64, v value.Value) error {
	pat := v.Pattern()
	if pat == nil || pat.Literals() == pat.Len() {
		_, err := p.WriteAt(v.Bytes(), addr)
		return err
	}
	buf := make([]byte, pat.Len())
	if _, err := p.ReadAt(buf, addr); err != nil {
		return err
	}
	for i := range buf {
		if t := pat.Token(i); !t.Wild {
			buf[i] = t.Byte
		}
	}
	_, err := p.WriteAt(buf, addr)
	return err
}

// Results returns up to limit pending results ordered by address.
func (s *Session) Results(ctx context.Context, offset, limit int) ([]Result, error) {
	top, err := s.store.Top()
	if err != nil {
		return nil, translateError(err)
	}
	kind, err := value.ParseKind(top.Meta.Kind)
	if err != nil {
		return nil, translateError(err)
	}
	entries, err := s.store.Page(offset, limit)
	if err != nil {
		return nil, translateError(err)
	}
	out := make([]Result, 0, len(entries))
	for _, e := range entries {
		v, err := value.FromBytes(kind, e.Value)
		if err != nil {
			return nil, translateError(err)
		}
		out = append(out, Result{Address: e.Address, Value: v.WithSigned(top.Meta.Signed)})
	}
	return out, nil
}

// Count returns the number of pending results.
func (s *Session) Count() (int64, error) {
	n, err := s.store.Count()
	return n, translateError(err)
}

// Generations returns the committed rounds, oldest first.
func (s *Session) Generations() ([]results.Generation, error) {
	gens, err := s.store.Generations()
	return gens, translateError(err)
}

// Undo discards the latest round and restores the one before it.
func (s *Session) Undo() error {
	if err := s.idle(); err != nil {
		return err
	}
	return translateError(s.store.Pop())
}

// Reset discards every round. The next search sweeps all regions again.
func (s *Session) Reset() error {
	if err := s.idle(); err != nil {
		return err
	}
	return translateError(s.store.Reset())
}

// Delete drops the catalog and closes the session.
func (s *Session) Delete() error {
	if err := s.idle(); err != nil {
		return err
	}
	if err := s.store.Drop(); err != nil {
		return translateError(err)
	}
	return s.Close()
}

func (s *Session) idle() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.task != nil {
		select {
		case <-s.task.done:
		default:
			return fmt.Errorf("%w: %s is running", ErrBusy, s.task.req)
		}
	}
	return nil
}

// Close cancels a running round, waits for it and closes the results store.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	t := s.task
	s.mu.Unlock()

	if t != nil {
		t.Cancel()
		<-t.done
	}
	s.engine.release(s.catalog)
	return translateError(s.store.Close())
}
