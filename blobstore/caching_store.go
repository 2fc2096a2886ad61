package blobstore

import (
	"context"
	"io"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
)

// DefaultCacheEntries is the number of blobs a CachingStore keeps by default.
const DefaultCacheEntries = 64

// CachingStore wraps a BlobStore and caches whole blobs in an LRU.
//
// Capture blobs are read once per comparison and are immutable, so caching
// the full content avoids repeated round trips to remote stores.
type CachingStore struct {
	inner BlobStore
	cache *lru.Cache[string, []byte]
}

// NewCachingStore creates a new CachingStore holding up to entries blobs.
// entries defaults to DefaultCacheEntries if <= 0.
func NewCachingStore(inner BlobStore, entries int) (*CachingStore, error) {
	if entries <= 0 {
		entries = DefaultCacheEntries
	}
	c, err := lru.New[string, []byte](entries)
	if err != nil {
		return nil, err
	}
	return &CachingStore{inner: inner, cache: c}, nil
}

func (s *CachingStore) Open(ctx context.Context, name string) (Blob, error) {
	if data, ok := s.cache.Get(name); ok {
		return memoryBlob(data), nil
	}
	data, err := Get(ctx, s.inner, name)
	if err != nil {
		return nil, err
	}
	s.cache.Add(name, data)
	return memoryBlob(data), nil
}

func (s *CachingStore) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	s.cache.Remove(name)
	return s.inner.Put(ctx, name, r, size)
}

func (s *CachingStore) Delete(ctx context.Context, name string) error {
	s.cache.Remove(name)
	return s.inner.Delete(ctx, name)
}

func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

// Cached reports whether name is currently cached.
func (s *CachingStore) Cached(name string) bool {
	return s.cache.Contains(name)
}

// Prefetch loads the named blobs into the cache concurrently.
func (s *CachingStore) Prefetch(ctx context.Context, names []string, parallelism int) error {
	g, ctx := errgroup.WithContext(ctx)
	if parallelism > 0 {
		g.SetLimit(parallelism)
	}
	for _, name := range names {
		if s.cache.Contains(name) {
			continue
		}
		g.Go(func() error {
			data, err := Get(ctx, s.inner, name)
			if err != nil {
				return err
			}
			s.cache.Add(name, data)
			return nil
		})
	}
	return g.Wait()
}
