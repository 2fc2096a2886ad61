package process

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// Memory is an in-memory address space. It backs tests and replays capture
// sets. All handles returned by Open share the same backing bytes.
type Memory struct {
	name string

	mu      sync.RWMutex
	regions []memRegion
	lost    atomic.Bool
	reads   atomic.Int64
}

type memRegion struct {
	Region
	data       []byte
	unreadable bool
}

// NewMemory creates an empty address space named name.
func NewMemory(name string) *Memory {
	return &Memory{name: name}
}

// Map adds a readable and writable region at start holding data. Data is
// not copied.
func (m *Memory) Map(start uint64, data []byte, path string) *Memory {
	return m.MapPerms(start, data, "rw-p", path)
}

// MapPerms adds a region with explicit permissions.
func (m *Memory) MapPerms(start uint64, data []byte, perms, path string) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regions = append(m.regions, memRegion{
		Region: Region{Start: start, End: start + uint64(len(data)), Perms: perms, Path: path},
		data:   data,
	})
	sort.Slice(m.regions, func(i, j int) bool { return m.regions[i].Start < m.regions[j].Start })
	return m
}

// Unmap makes the region starting at start fail every read, as if it had
// been unmapped after enumeration.
func (m *Memory) Unmap(start uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.regions {
		if m.regions[i].Start == start {
			m.regions[i].unreadable = true
		}
	}
}

// Kill marks the process as exited.
func (m *Memory) Kill() { m.lost.Store(true) }

// Reads returns the number of ReadAt calls served.
func (m *Memory) Reads() int64 { return m.reads.Load() }

// Bytes returns the backing slice of the region starting at start.
func (m *Memory) Bytes(start uint64) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.regions {
		if r.Start == start {
			return r.data
		}
	}
	return nil
}

// Open implements Opener.
func (m *Memory) Open(context.Context) (Process, error) {
	if m.lost.Load() {
		return nil, ErrProcessLost
	}
	return &memHandle{m: m}, nil
}

func (m *Memory) locate(addr uint64) (*memRegion, error) {
	for i := range m.regions {
		r := &m.regions[i]
		if !r.Contains(addr) {
			continue
		}
		if r.unreadable {
			return nil, fmt.Errorf("%w: %#x", ErrUnreadableRegion, addr)
		}
		return r, nil
	}
	return nil, fmt.Errorf("%w: %#x not mapped", ErrUnreadableRegion, addr)
}

type memHandle struct {
	m      *Memory
	closed bool
}

func (h *memHandle) Name() string { return h.m.name }

func (h *memHandle) Regions(ctx context.Context, f Filter) ([]Region, error) {
	if err := h.Check(); err != nil {
		return nil, err
	}
	h.m.mu.RLock()
	defer h.m.mu.RUnlock()
	all := make([]Region, len(h.m.regions))
	for i, r := range h.m.regions {
		all[i] = r.Region
	}
	return f.Apply(all), nil
}

func (h *memHandle) ReadAt(p []byte, addr uint64) (int, error) {
	if h.m.lost.Load() {
		return 0, fmt.Errorf("%w: %#x", ErrUnreadableRegion, addr)
	}
	h.m.reads.Add(1)
	h.m.mu.RLock()
	defer h.m.mu.RUnlock()
	r, err := h.m.locate(addr)
	if err != nil {
		return 0, err
	}
	n := copy(p, r.data[addr-r.Start:])
	if n < len(p) {
		return n, fmt.Errorf("%w: short read at %#x", ErrUnreadableRegion, addr+uint64(n))
	}
	return n, nil
}

func (h *memHandle) WriteAt(p []byte, addr uint64) (int, error) {
	if h.m.lost.Load() {
		return 0, ErrProcessLost
	}
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	r, err := h.m.locate(addr)
	if err != nil {
		return 0, err
	}
	if !r.Writable() {
		return 0, fmt.Errorf("%w: %#x is read-only", ErrUnreadableRegion, addr)
	}
	n := copy(r.data[addr-r.Start:], p)
	if n < len(p) {
		return n, fmt.Errorf("%w: short write at %#x", ErrUnreadableRegion, addr+uint64(n))
	}
	return n, nil
}

func (h *memHandle) Check() error {
	if h.m.lost.Load() {
		return ErrProcessLost
	}
	return nil
}

func (h *memHandle) Close() error {
	h.closed = true
	return nil
}
