package memgo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	gormlogger "gorm.io/gorm/logger"

	"github.com/hupe1980/memgo/blobstore"
	"github.com/hupe1980/memgo/capture"
	"github.com/hupe1980/memgo/internal/resource"
	"github.com/hupe1980/memgo/process"
	"github.com/hupe1980/memgo/results"
	"github.com/hupe1980/memgo/searcher"
)

const (
	resultsFile    = "results.db"
	capturesDir    = "captures"
	signaturesDir  = "signatures"
	defaultCatalog = "default"
)

// Engine opens sessions against processes of a registry. It owns the data
// directory, the capture store and the resource limits shared by all
// sessions.
type Engine struct {
	registry *process.Registry
	opts     options
	log      *Logger
	blobs    blobstore.BlobStore
	ctrl     *resource.Controller

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// New creates an engine. Captures go to <data dir>/captures unless a blob
// store is configured.
func New(registry *process.Registry, optFns ...Option) (*Engine, error) {
	if registry == nil {
		return nil, fmt.Errorf("memgo: 'registry' is required")
	}
	opts := applyOptions(optFns)

	if err := os.MkdirAll(opts.dataDir, 0o755); err != nil {
		return nil, err
	}

	blobs := opts.blobStore
	if blobs == nil {
		blobs = blobstore.NewLocalStore(filepath.Join(opts.dataDir, capturesDir))
	}
	if opts.cacheEntries > 0 {
		cached, err := blobstore.NewCachingStore(blobs, opts.cacheEntries)
		if err != nil {
			return nil, err
		}
		blobs = cached
	}

	var ctrl *resource.Controller
	if cfg := opts.resources; cfg != (resource.Config{}) {
		if cfg.MaxWorkers <= 0 {
			cfg.MaxWorkers = int64(max(opts.workers, searcher.DefaultOptions().Workers))
		}
		ctrl = resource.NewController(cfg)
	}

	return &Engine{
		registry: registry,
		opts:     opts,
		log:      opts.logger,
		blobs:    blobs,
		ctrl:     ctrl,
		sessions: make(map[string]*Session),
	}, nil
}

// BlobStore returns the capture store.
func (e *Engine) BlobStore() blobstore.BlobStore { return e.blobs }

// DataDir returns the data directory.
func (e *Engine) DataDir() string { return e.opts.dataDir }

// Processes returns the registered process names.
func (e *Engine) Processes() []string { return e.registry.Names() }

// Open attaches a session to the named process. Results are kept under
// catalog, which defaults to "default"; one session per catalog may be open
// at a time.
func (e *Engine) Open(ctx context.Context, name, catalog string) (*Session, error) {
	if catalog == "" {
		catalog = defaultCatalog
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	if _, ok := e.sessions[catalog]; ok {
		return nil, fmt.Errorf("%w: catalog %q is open", ErrBusy, catalog)
	}

	opener, err := e.registry.Lookup(name)
	if err != nil {
		return nil, translateError(err)
	}
	// Fail fast on a dead or inaccessible process.
	p, err := opener.Open(ctx)
	if err != nil {
		return nil, translateError(err)
	}
	_ = p.Close()

	store, err := results.Open(filepath.Join(e.opts.dataDir, resultsFile), catalog,
		results.WithLogger(gormlogger.NewSlogLogger(e.log.Logger, gormlogger.Config{
			SlowThreshold: time.Second,
			LogLevel:      gormlogger.Warn,
		})))
	if err != nil {
		return nil, translateError(err)
	}

	s := newSession(e, name, catalog, opener, store)
	e.sessions[catalog] = s
	e.log.InfoContext(ctx, "session opened", "process", name, "catalog", catalog)
	return s, nil
}

func (e *Engine) release(catalog string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, catalog)
}

func (e *Engine) searcherOptions(filter process.Filter) []searcher.Option {
	opts := []searcher.Option{
		searcher.WithFilter(filter),
		searcher.WithLogger(e.log.Logger),
		searcher.WithCompression(e.opts.compression),
		searcher.WithController(e.ctrl),
	}
	if e.opts.workers > 0 {
		opts = append(opts, searcher.WithWorkers(e.opts.workers))
	}
	if e.opts.maxChunkSize > 0 {
		opts = append(opts, searcher.WithMaxChunkSize(e.opts.maxChunkSize))
	}
	return append(opts, e.opts.searcherOptions...)
}

// Captures lists the capture sets in the blob store.
func (e *Engine) Captures(ctx context.Context) ([]string, error) {
	names, err := capture.List(ctx, e.blobs)
	return names, translateError(err)
}

// LoadCapture opens a capture set.
func (e *Engine) LoadCapture(ctx context.Context, name string) (*capture.Set, error) {
	set, err := capture.Load(ctx, e.blobs, name, capture.WithController(e.ctrl))
	return set, translateError(err)
}

// DeleteCapture removes a capture set.
func (e *Engine) DeleteCapture(ctx context.Context, name string) error {
	return translateError(capture.Delete(ctx, e.blobs, name))
}

// Close closes every open session. Running tasks are cancelled.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	sessions := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.Unlock()

	var firstErr error
	for _, s := range sessions {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
