package graph

import (
	"fmt"
	"sort"
	"sync"
)

// Registry owns graph identity. Graphs are registered once under a unique
// string ID; registration validates the graph and rejects duplicates. The
// registry is safe for concurrent readers and writers.
type Registry struct {
	mu     sync.RWMutex
	graphs map[string]*Graph
}

// NewRegistry creates an empty graph registry.
func NewRegistry() *Registry {
	return &Registry{graphs: make(map[string]*Graph)}
}

// Register stores a graph under the given ID. It fails if the ID is empty,
// the graph is nil, or the ID is already registered. The previously
// registered graph is left untouched on failure.
func (r *Registry) Register(id string, g *Graph) error {
	if id == "" {
		return fmt.Errorf("graph ID cannot be empty")
	}
	if g == nil {
		return fmt.Errorf("graph cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.graphs[id]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateGraph, id)
	}
	r.graphs[id] = g
	return nil
}

// Get returns the graph registered under the given ID.
func (r *Registry) Get(id string) (*Graph, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.graphs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrGraphNotFound, id)
	}
	return g, nil
}

// Contains reports whether a graph is registered under the given ID.
func (r *Registry) Contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.graphs[id]
	return ok
}

// Unregister removes the graph registered under the given ID and reports
// whether anything was removed.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.graphs[id]; !ok {
		return false
	}
	delete(r.graphs, id)
	return true
}

// IDs returns the registered graph IDs in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.graphs))
	for id := range r.graphs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of registered graphs.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.graphs)
}
