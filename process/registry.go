package process

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Registry maps process names to openers. It is passed explicitly to the
// engine; there is no package-level registry.
type Registry struct {
	mu      sync.RWMutex
	openers map[string]Opener
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{openers: make(map[string]Opener)}
}

// Register binds name to o, replacing any earlier binding.
func (r *Registry) Register(name string, o Opener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.openers[name] = o
}

// Remove drops name from the registry.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.openers, name)
}

// Lookup returns the opener bound to name.
func (r *Registry) Lookup(name string) (Opener, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.openers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return o, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.openers))
	for n := range r.openers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Open opens a handle to the named process.
func (r *Registry) Open(ctx context.Context, name string) (Process, error) {
	o, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	return o.Open(ctx)
}
