// Package aggregator provides keyed accumulators that concurrently executing
// nodes fold partial results into during a run. The registry owns lifecycle
// (lazy creation, reset between runs), not semantics: aggregator state is
// opaque to the engine.
package aggregator

import (
	"sync"
)

// Aggregator is a shared accumulator. Fold is called from concurrently
// executing nodes; implementations returned by this package serialize folds
// internally. Reset returns the aggregator to its initial state and is
// invoked by the registry between runs.
type Aggregator interface {
	Fold(value interface{})
	Value() interface{}
	Reset()
}

// Factory produces a fresh aggregator for a key on first use.
type Factory func() Aggregator

// Registry is a thread-safe collection of keyed aggregators scoped to a
// single run. It is reset between runs and never shared across them.
type Registry struct {
	mu          sync.Mutex
	aggregators map[string]Aggregator
}

// NewRegistry creates an empty aggregator registry.
func NewRegistry() *Registry {
	return &Registry{aggregators: make(map[string]Aggregator)}
}

// GetOrCreate returns the aggregator registered under key, creating it with
// factory on first use. Concurrent callers for the same key observe the same
// instance.
func (r *Registry) GetOrCreate(key string, factory Factory) Aggregator {
	r.mu.Lock()
	defer r.mu.Unlock()

	if agg, ok := r.aggregators[key]; ok {
		return agg
	}
	agg := factory()
	r.aggregators[key] = agg
	return agg
}

// Get returns the aggregator registered under key, if any.
func (r *Registry) Get(key string) (Aggregator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	agg, ok := r.aggregators[key]
	return agg, ok
}

// Keys returns the keys of all registered aggregators.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.aggregators))
	for k := range r.aggregators {
		keys = append(keys, k)
	}
	return keys
}

// ResetAll returns every aggregator to its initial state. Called by the
// orchestrator at the start of each run.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, agg := range r.aggregators {
		agg.Reset()
	}
}
