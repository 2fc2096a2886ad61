package blobstore

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
)

// MemoryStore keeps capture blobs in process memory. Tests use it in place
// of a bucket; Opens and Puts expose how often the store was hit.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
	opens int
	puts  int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (m *MemoryStore) Open(_ context.Context, name string) (Blob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.blobs[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	m.opens++
	return memoryBlob(data), nil
}

// Put stores the content of r. A known size that disagrees with what r
// delivers fails with io.ErrUnexpectedEOF and leaves the previous blob.
func (m *MemoryStore) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if size >= 0 && int64(len(data)) != size {
		return fmt.Errorf("%s: got %d of %d bytes: %w", name, len(data), size, io.ErrUnexpectedEOF)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[name] = data
	m.puts++
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, name)
	return nil
}

func (m *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var names []string
	for name := range m.blobs {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

// Opens returns the number of successful Open calls.
func (m *MemoryStore) Opens() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.opens
}

// Puts returns the number of stored blobs, overwrites included.
func (m *MemoryStore) Puts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts
}

// memoryBlob shares the stored slice; blobs are never mutated after Put.
type memoryBlob []byte

func (b memoryBlob) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	return readAtBytes(b, p, off)
}

func (b memoryBlob) Bytes() ([]byte, error) { return b, nil }

func (memoryBlob) Close() error { return nil }

func (b memoryBlob) Size() int64 { return int64(len(b)) }
