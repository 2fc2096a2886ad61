package mmap

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/hupe1980/memgo/internal/conv"
)

// Mapping is a read-only view of one capture blob.
type Mapping struct {
	mu    sync.RWMutex
	data  []byte
	size  int
	unmap func([]byte) error
}

// Open maps the blob at path. Empty files yield an empty mapping without a
// system mapping behind it.
func Open(path string) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if fi.Size() < 0 {
		return nil, fmt.Errorf("%w: %s has size %d", ErrInvalidSize, path, fi.Size())
	}
	size, err := conv.Uint64ToInt(uint64(fi.Size()))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidSize, path, err)
	}
	if size == 0 {
		return &Mapping{}, nil
	}

	data, unmap, err := osMap(f, size)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return &Mapping{data: data, size: size, unmap: unmap}, nil
}

// Len returns the blob length. It stays valid after Close.
func (m *Mapping) Len() int { return m.size }

// Bytes returns the mapped blob, or nil after Close.
func (m *Mapping) Bytes() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data
}

// Window returns up to n bytes starting at off. A window cut short by the end
// of the blob is returned together with io.EOF.
func (m *Mapping) Window(off int64, n int) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.data == nil && m.size > 0 {
		return nil, ErrClosed
	}
	if off < 0 || n < 0 {
		return nil, fmt.Errorf("%w: %d+%d", ErrInvalidOffset, off, n)
	}
	if off >= int64(m.size) {
		return nil, io.EOF
	}
	end := off + int64(n)
	if end > int64(m.size) {
		return m.data[off:], io.EOF
	}
	return m.data[off:end], nil
}

// Advise hints the kernel about the upcoming access pattern.
func (m *Mapping) Advise(pattern AccessPattern) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.data == nil && m.size > 0 {
		return ErrClosed
	}
	return osAdvise(m.data, pattern)
}

// Close unmaps the blob. Later calls are no-ops.
func (m *Mapping) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil
	}
	data := m.data
	m.data = nil
	return m.unmap(data)
}
