package searcher

import (
	"log/slog"
	"runtime"
	"time"

	"github.com/hupe1980/memgo/capture"
	"github.com/hupe1980/memgo/internal/resource"
	"github.com/hupe1980/memgo/process"
)

const (
	// DefaultMaxChunkSize caps the bytes read from the target at once.
	DefaultMaxChunkSize = 16 << 20
	// DefaultMinParallelBytes is the sweep size below which Multi scans on a
	// single worker.
	DefaultMinParallelBytes = 64 << 20
	// DefaultContinueParallelThreshold is the number of pending hits above
	// which Multi continues in parallel.
	DefaultContinueParallelThreshold = 100_000
	// DefaultPageCacheSize is the number of target pages cached per
	// continuation worker.
	DefaultPageCacheSize = 1024
	// PageSize is the granularity of continuation reads.
	PageSize = 4096
)

// Progress is reported during a round. Done and Total are bytes for sweeps
// and captures, and hits for continuations.
type Progress struct {
	Done  int64
	Total int64
}

// Options configures a Searcher.
type Options struct {
	Filter       process.Filter
	MaxChunkSize int

	// BatchSize, CheckEvery and ProgressInterval configure hit batching and
	// the bounded-cadence cancellation and progress checks.
	BatchSize        int
	CheckEvery       int
	ProgressInterval time.Duration
	Progress         func(Progress)

	Controller    *resource.Controller
	Logger        *slog.Logger
	PageCacheSize int
	Compression   capture.Compression

	// Multi only.
	Workers                   int
	MinParallelBytes          uint64
	ContinueParallelThreshold int64
}

// DefaultOptions returns the default options.
func DefaultOptions() Options {
	return Options{
		MaxChunkSize:              DefaultMaxChunkSize,
		PageCacheSize:             DefaultPageCacheSize,
		Workers:                   max(runtime.NumCPU()-1, 1),
		MinParallelBytes:          DefaultMinParallelBytes,
		ContinueParallelThreshold: DefaultContinueParallelThreshold,
		Logger:                    slog.New(slog.DiscardHandler),
	}
}

// Option configures Options.
type Option func(*Options)

// WithFilter sets the region filter.
func WithFilter(f process.Filter) Option {
	return func(o *Options) { o.Filter = f }
}

// WithWritableOnly restricts sweeps to writable regions.
func WithWritableOnly() Option {
	return func(o *Options) { o.Filter.WritableOnly = true }
}

// WithPathFilter restricts sweeps to regions whose path contains substr.
func WithPathFilter(substr string) Option {
	return func(o *Options) { o.Filter.Path = substr }
}

// WithMaxChunkSize caps the bytes read at once.
func WithMaxChunkSize(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxChunkSize = n
		}
	}
}

// WithBatchSize sets the number of hits buffered before they are persisted.
func WithBatchSize(n int) Option {
	return func(o *Options) { o.BatchSize = n }
}

// WithCheckEvery sets the element cadence of cancellation checks.
func WithCheckEvery(n int) Option {
	return func(o *Options) { o.CheckEvery = n }
}

// WithProgress sets the progress callback and its minimum interval.
func WithProgress(interval time.Duration, fn func(Progress)) Option {
	return func(o *Options) {
		o.ProgressInterval = interval
		o.Progress = fn
	}
}

// WithController sets the resource controller bounding memory, workers and
// read throughput.
func WithController(c *resource.Controller) Option {
	return func(o *Options) { o.Controller = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

// WithPageCacheSize sets the continuation page cache size in pages.
func WithPageCacheSize(pages int) Option {
	return func(o *Options) { o.PageCacheSize = pages }
}

// WithCompression sets the blob encoding of captures.
func WithCompression(c capture.Compression) Option {
	return func(o *Options) { o.Compression = c }
}

// WithWorkers sets the number of Multi workers.
func WithWorkers(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.Workers = n
		}
	}
}

// WithMinParallelBytes sets the sweep size below which Multi delegates to a
// single worker.
func WithMinParallelBytes(n uint64) Option {
	return func(o *Options) { o.MinParallelBytes = n }
}

// WithContinueParallelThreshold sets the pending hit count above which Multi
// continues in parallel.
func WithContinueParallelThreshold(n int64) Option {
	return func(o *Options) { o.ContinueParallelThreshold = n }
}
