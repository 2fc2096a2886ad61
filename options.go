package memgo

import (
	"log/slog"
	"time"

	"github.com/hupe1980/memgo/aob"
	"github.com/hupe1980/memgo/blobstore"
	"github.com/hupe1980/memgo/capture"
	"github.com/hupe1980/memgo/internal/fs"
	"github.com/hupe1980/memgo/internal/resource"
	"github.com/hupe1980/memgo/process"
	"github.com/hupe1980/memgo/searcher"
)

// DefaultDataDir is used when no data directory is configured.
const DefaultDataDir = ".memgo"

type options struct {
	dataDir          string
	fsys             fs.FileSystem
	blobStore        blobstore.BlobStore
	cacheEntries     int
	metricsCollector MetricsCollector
	logger           *Logger
	resources        resource.Config
	compression      capture.Compression
	filter           process.Filter
	workers          int
	maxChunkSize     int
	progressInterval time.Duration
	aobParams        aob.Params
	searcherOptions  []searcher.Option
}

// Option configures Engine behavior.
type Option func(*options)

// WithDataDir sets the directory holding the results database, local
// captures and signature catalogs.
func WithDataDir(dir string) Option {
	return func(o *options) {
		o.dataDir = dir
	}
}

// WithBlobStore stores captures in store instead of <data dir>/captures.
//
// Example with S3:
//
//	store, _ := s3.New(ctx, "my-bucket", s3.WithPrefix("captures/"))
//	eng, _ := memgo.New(registry, memgo.WithBlobStore(store))
func WithBlobStore(store blobstore.BlobStore) Option {
	return func(o *options) {
		o.blobStore = store
	}
}

// WithCaptureCache keeps up to entries decoded capture blobs in memory.
// Zero disables the cache.
func WithCaptureCache(entries int) Option {
	return func(o *options) {
		o.cacheEntries = entries
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &memgo.BasicMetricsCollector{}
//	eng, _ := memgo.New(registry, memgo.WithMetricsCollector(metrics))
//	// ... use eng ...
//	stats := metrics.GetStats()
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// ResourceLimits bounds what scans may use. Zero fields are unlimited.
type ResourceLimits struct {
	// MemoryBytes caps the bytes held in scan buffers at once.
	MemoryBytes int64
	// Workers caps the parallel scan workers across all sessions.
	Workers int
	// ReadBytesPerSec throttles reads of foreign memory.
	ReadBytesPerSec int64
}

// WithResourceLimits bounds scan memory, parallel workers and read bandwidth.
func WithResourceLimits(l ResourceLimits) Option {
	return func(o *options) {
		o.resources = resource.Config{
			MemoryLimitBytes:     l.MemoryBytes,
			MaxWorkers:           int64(l.Workers),
			ReadLimitBytesPerSec: l.ReadBytesPerSec,
		}
	}
}

// WithCompression sets the codec for new captures.
func WithCompression(c capture.Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithWritableOnly restricts sweeps and captures to writable regions.
func WithWritableOnly() Option {
	return func(o *options) {
		o.filter.WritableOnly = true
	}
}

// WithPathFilter restricts sweeps and captures to regions whose path
// contains substr.
func WithPathFilter(substr string) Option {
	return func(o *options) {
		o.filter.Path = substr
	}
}

// WithWorkers sets the number of parallel scan workers. One disables
// parallel scans.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithMaxChunkSize caps the bytes read from the target at once.
func WithMaxChunkSize(n int) Option {
	return func(o *options) {
		o.maxChunkSize = n
	}
}

// WithProgressInterval sets how often running tasks publish progress.
func WithProgressInterval(d time.Duration) Option {
	return func(o *options) {
		o.progressInterval = d
	}
}

// WithSignatureParams tunes signature generation.
func WithSignatureParams(p aob.Params) Option {
	return func(o *options) {
		o.aobParams = p
	}
}

// WithSearcherOptions passes extra options to every session searcher.
func WithSearcherOptions(opts ...searcher.Option) Option {
	return func(o *options) {
		o.searcherOptions = append(o.searcherOptions, opts...)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		dataDir:          DefaultDataDir,
		fsys:             fs.Default,
		cacheEntries:     blobstore.DefaultCacheEntries,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		progressInterval: 250 * time.Millisecond,
		aobParams:        aob.DefaultParams(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
