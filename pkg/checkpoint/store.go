// Package checkpoint persists execution context snapshots so runs can be
// resumed without re-executing completed nodes. The engine only dictates the
// snapshot shape (execution.ContextMetadata) and the resume semantics;
// stores here cover in-memory, NATS key-value, and Azure blob media.
package checkpoint

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/wehubfusion/Daedalus/pkg/execution"
)

// ErrNotFound is returned when no checkpoint exists for an execution ID.
var ErrNotFound = errors.New("checkpoint not found")

// Store persists the most recent checkpoint per execution ID.
type Store interface {
	Save(ctx context.Context, meta execution.ContextMetadata) error
	Load(ctx context.Context, executionID string) (execution.ContextMetadata, error)
	Delete(ctx context.Context, executionID string) error
	List(ctx context.Context) ([]string, error)
}

// MemoryStore keeps checkpoints in process memory. Suitable for tests and
// single-process hosts that only resume within the same lifetime.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]execution.ContextMetadata
}

// NewMemoryStore creates an empty in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]execution.ContextMetadata)}
}

// Save implements Store. Later checkpoints for the same execution replace
// earlier ones.
func (s *MemoryStore) Save(_ context.Context, meta execution.ContextMetadata) error {
	if meta.ExecutionID == "" {
		return errors.New("checkpoint has no execution ID")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[meta.ExecutionID] = meta
	return nil
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context, executionID string) (execution.ContextMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.items[executionID]
	if !ok {
		return execution.ContextMetadata{}, ErrNotFound
	}
	return meta, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, executionID)
	return nil
}

// List implements Store, returning execution IDs in sorted order.
func (s *MemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
