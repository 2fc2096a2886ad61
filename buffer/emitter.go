package buffer

import (
	"context"
	"time"
)

const (
	// DefaultBatchSize is the number of hits buffered before the sink is called.
	DefaultBatchSize = 10000
	// DefaultCheckEvery is the number of elements between cancellation and
	// progress checks.
	DefaultCheckEvery = 4096
	// DefaultProgressInterval is the minimum wall-clock time between progress
	// callbacks.
	DefaultProgressInterval = 250 * time.Millisecond
)

// Hit is one matching address and the bytes read there.
type Hit struct {
	Address uint64
	Value   []byte
}

// Sink receives flushed hit batches. The slice is owned by the sink after
// the call; hit values stay valid.
type Sink func(hits []Hit) error

// Options configures an Emitter.
type Options struct {
	// BatchSize bounds the number of buffered hits. Defaults to DefaultBatchSize.
	BatchSize int
	// CheckEvery is the element cadence for cancellation and progress checks.
	CheckEvery int
	// ProgressInterval is the minimum time between Progress calls.
	ProgressInterval time.Duration
	// Progress receives the number of bytes scanned so far in the round.
	Progress func(scanned int64)
}

// Emitter batches hits and performs the bounded-cadence cancellation and
// progress checks for a scan round. It is owned by one goroutine.
type Emitter struct {
	ctx  context.Context
	sink Sink
	opts Options

	width int
	batch []Hit
	arena []byte

	limit   uint64
	offset  int64
	pending int
	last    time.Time
	found   int64
}

// NewEmitter creates an emitter for hits of the given value width.
func NewEmitter(ctx context.Context, width int, sink Sink, opts Options) *Emitter {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.CheckEvery <= 0 {
		opts.CheckEvery = DefaultCheckEvery
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}
	e := &Emitter{
		ctx:   ctx,
		sink:  sink,
		opts:  opts,
		width: width,
		last:  time.Now(),
	}
	e.reset()
	return e
}

func (e *Emitter) reset() {
	e.batch = make([]Hit, 0, e.opts.BatchSize)
	e.arena = make([]byte, 0, e.opts.BatchSize*e.width)
}

// SetLimit drops hits at or beyond addr. Zero disables the limit.
func (e *Emitter) SetLimit(addr uint64) { e.limit = addr }

// SetOffset sets the number of bytes scanned before the current buffer, so
// progress reports stay cumulative across buffers.
func (e *Emitter) SetOffset(scanned int64) { e.offset = scanned }

// Found returns the number of hits emitted so far.
func (e *Emitter) Found() int64 { return e.found }

// Emit records one hit. val is copied.
func (e *Emitter) Emit(addr uint64, val []byte) error {
	if e.limit != 0 && addr >= e.limit {
		return nil
	}
	start := len(e.arena)
	e.arena = append(e.arena, val[:e.width]...)
	e.batch = append(e.batch, Hit{Address: addr, Value: e.arena[start:len(e.arena):len(e.arena)]})
	e.found++
	if len(e.batch) >= e.opts.BatchSize {
		return e.Flush()
	}
	return nil
}

// Advance accounts for n processed elements ending at pos (a byte offset in
// the current buffer). Every CheckEvery elements it checks the context and
// reports progress. On cancellation the pending batch is flushed before the
// context error is returned.
func (e *Emitter) Advance(pos, n int) error {
	e.pending += n
	if e.pending < e.opts.CheckEvery {
		return nil
	}
	e.pending = 0
	return e.Check(pos)
}

// Check unconditionally performs the cancellation and progress checks.
func (e *Emitter) Check(pos int) error {
	if err := e.ctx.Err(); err != nil {
		if ferr := e.Flush(); ferr != nil {
			return ferr
		}
		return err
	}
	if e.opts.Progress != nil {
		if now := time.Now(); now.Sub(e.last) >= e.opts.ProgressInterval {
			e.last = now
			e.opts.Progress(e.offset + int64(pos))
		}
	}
	return nil
}

// Flush hands the buffered hits to the sink.
func (e *Emitter) Flush() error {
	if len(e.batch) == 0 {
		return nil
	}
	batch := e.batch
	e.reset()
	return e.sink(batch)
}
