package execution

import (
	"sort"
	"time"
)

// ContextMetadata is the serializable snapshot of a run's progress, emitted
// at layer boundaries and sufficient to resume without re-executing
// completed nodes. The engine does not dictate a storage medium; stores in
// pkg/checkpoint persist this shape as JSON.
type ContextMetadata struct {
	// ExecutionID identifies the run being snapshotted
	ExecutionID string `json:"executionId"`
	// GraphID is the registry ID of the graph under execution
	GraphID string `json:"graphId"`
	// CompletedNodes lists node IDs that must not be re-executed on resume
	CompletedNodes []string `json:"completedNodes"`
	// LayerIndex is the index of the next layer to run
	LayerIndex int `json:"layerIndex"`
	// Iteration is the current iteration number (cyclic graphs only)
	Iteration int `json:"iteration"`
	// DirtyNodes lists node IDs pending re-execution in the next iteration
	DirtyNodes []string `json:"dirtyNodes,omitempty"`
	// TakenAt records when the snapshot was produced
	TakenAt time.Time `json:"takenAt"`
}

// Snapshot produces a checkpoint of the context's current progress.
func (c *Context) Snapshot() ContextMetadata {
	c.mu.RLock()
	defer c.mu.RUnlock()

	completed := make([]string, 0, len(c.completed))
	for id := range c.completed {
		completed = append(completed, id)
	}
	sort.Strings(completed)

	dirty := make([]string, 0, len(c.dirty))
	for id := range c.dirty {
		dirty = append(dirty, id)
	}
	sort.Strings(dirty)

	return ContextMetadata{
		ExecutionID:    c.ExecutionID,
		GraphID:        c.GraphID,
		CompletedNodes: completed,
		LayerIndex:     c.layerIndex,
		Iteration:      c.iteration,
		DirtyNodes:     dirty,
		TakenAt:        time.Now().UTC(),
	}
}

// Restore rebuilds a run context from checkpoint metadata. Restored nodes
// are marked completed; their artifacts can be rehydrated separately with
// SetArtifact when an external store holds them.
func Restore(meta ContextMetadata) *Context {
	c := NewContext(meta.GraphID)
	if meta.ExecutionID != "" {
		c.ExecutionID = meta.ExecutionID
	}
	for _, id := range meta.CompletedNodes {
		c.completed[id] = true
		c.outcomes[id] = Outcome{State: StateCompleted}
	}
	for _, id := range meta.DirtyNodes {
		c.dirty[id] = true
	}
	c.layerIndex = meta.LayerIndex
	c.iteration = meta.Iteration
	return c
}
