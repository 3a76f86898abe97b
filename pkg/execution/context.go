// Package execution holds per-run state: the execution context mutated by
// the orchestrator as a run progresses, per-node outcomes, cancellation
// reasons, and the checkpoint snapshot shape used for resume.
package execution

import (
	"sync"

	"github.com/google/uuid"
	"github.com/wehubfusion/Daedalus/pkg/aggregator"
	"github.com/wehubfusion/Daedalus/pkg/artifact"
)

// NodeState is the terminal (or in-flight) state of one node in a run.
type NodeState string

const (
	// StatePending means the node has not been dispatched yet
	StatePending NodeState = "Pending"
	// StateRunning means the node is currently executing
	StateRunning NodeState = "Running"
	// StateCompleted means the node produced an artifact
	StateCompleted NodeState = "Completed"
	// StateSkipped means a conditional edge routed around the node; skipping
	// is not a failure and does not cascade
	StateSkipped NodeState = "Skipped"
	// StateFailed means the node exhausted its retries
	StateFailed NodeState = "Failed"
	// StateCancelled means the node was cancelled before or during execution
	StateCancelled NodeState = "Cancelled"
)

// Terminal reports whether the state is one a node cannot leave within the
// current iteration.
func (s NodeState) Terminal() bool {
	switch s {
	case StateCompleted, StateSkipped, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// Outcome is the per-node result visible in the final context. Callers
// inspect outcomes to distinguish full success from partial failure.
type Outcome struct {
	// State is the node's terminal state
	State NodeState `json:"state"`
	// Reason is set for cancelled nodes
	Reason CancellationReason `json:"reason,omitempty"`
	// Err holds the failure for failed nodes
	Err error `json:"-"`
	// Attempts is the number of execution attempts made
	Attempts int `json:"attempts,omitempty"`
}

// Context is the mutable state of one run. It is owned exclusively by the
// orchestrator driving that run and is never shared across concurrent runs;
// each run gets an independent instance. Accessors are mutex-guarded because
// nodes within a layer complete concurrently.
type Context struct {
	mu sync.RWMutex

	// ExecutionID uniquely identifies this run, for lock and log correlation
	ExecutionID string
	// GraphID is the registry ID of the graph being executed
	GraphID string

	completed   map[string]bool
	outcomes    map[string]Outcome
	artifacts   map[string]*artifact.Artifact
	dirty       map[string]bool
	aggregators *aggregator.Registry
	layerIndex  int
	iteration   int
	cancel      CancellationReason
	cancelled   bool
}

// NewContext creates a fresh run context with a generated execution ID.
func NewContext(graphID string) *Context {
	return &Context{
		ExecutionID: uuid.NewString(),
		GraphID:     graphID,
		completed:   make(map[string]bool),
		outcomes:    make(map[string]Outcome),
		artifacts:   make(map[string]*artifact.Artifact),
		dirty:       make(map[string]bool),
		aggregators: aggregator.NewRegistry(),
	}
}

// Aggregators returns the accumulator registry scoped to this run. Each
// context owns its own registry; concurrent runs never share accumulators.
func (c *Context) Aggregators() *aggregator.Registry {
	return c.aggregators
}

// MarkCompleted records a node as completed and stores its artifact.
func (c *Context) MarkCompleted(nodeID string, a *artifact.Artifact, attempts int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed[nodeID] = true
	delete(c.dirty, nodeID)
	c.outcomes[nodeID] = Outcome{State: StateCompleted, Attempts: attempts}
	if a != nil {
		c.artifacts[nodeID] = a
	}
}

// MarkSkipped records a node as skipped by conditional routing.
func (c *Context) MarkSkipped(nodeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes[nodeID] = Outcome{State: StateSkipped}
}

// MarkFailed records a permanent node failure.
func (c *Context) MarkFailed(nodeID string, err error, attempts int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes[nodeID] = Outcome{State: StateFailed, Err: err, Attempts: attempts}
}

// MarkCancelled records a node as cancelled with the given reason. An
// existing terminal outcome is not overwritten; the return value reports
// whether the transition was applied.
func (c *Context) MarkCancelled(nodeID string, reason CancellationReason) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.outcomes[nodeID]; ok && existing.State.Terminal() {
		return false
	}
	c.outcomes[nodeID] = Outcome{State: StateCancelled, Reason: reason}
	return true
}

// MarkDirty flags a node for re-execution in the next iteration. Its
// completed status is cleared when BeginIteration folds the dirty set.
func (c *Context) MarkDirty(nodeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirty[nodeID] = true
}

// Completed reports whether a node has completed.
func (c *Context) Completed(nodeID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.completed[nodeID]
}

// CompletedNodes returns the IDs of all completed nodes.
func (c *Context) CompletedNodes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.completed))
	for id := range c.completed {
		out = append(out, id)
	}
	return out
}

// Outcome returns the recorded outcome for a node.
func (c *Context) Outcome(nodeID string) (Outcome, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.outcomes[nodeID]
	return o, ok
}

// Outcomes returns a copy of all recorded outcomes keyed by node ID.
func (c *Context) Outcomes() map[string]Outcome {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Outcome, len(c.outcomes))
	for k, v := range c.outcomes {
		out[k] = v
	}
	return out
}

// Artifact returns the stored artifact for a completed node.
func (c *Context) Artifact(nodeID string) (*artifact.Artifact, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.artifacts[nodeID]
	return a, ok
}

// SetArtifact stores an artifact without changing node state. Used on resume
// when artifacts are rehydrated from an external store.
func (c *Context) SetArtifact(nodeID string, a *artifact.Artifact) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.artifacts[nodeID] = a
}

// DirtyNodes returns the IDs of nodes pending re-execution.
func (c *Context) DirtyNodes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.dirty))
	for id := range c.dirty {
		out = append(out, id)
	}
	return out
}

// HasDirty reports whether any node awaits re-execution.
func (c *Context) HasDirty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.dirty) > 0
}

// BeginIteration folds the dirty set into a new iteration: dirty nodes lose
// their completed status and outcomes, the iteration counter increments, and
// the layer index resets. It returns the node IDs to re-execute.
func (c *Context) BeginIteration() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.dirty))
	for id := range c.dirty {
		out = append(out, id)
		delete(c.completed, id)
		delete(c.outcomes, id)
	}
	c.dirty = make(map[string]bool)
	c.iteration++
	c.layerIndex = 0
	return out
}

// LayerIndex returns the current topological layer index.
func (c *Context) LayerIndex() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.layerIndex
}

// AdvanceLayer increments the layer index.
func (c *Context) AdvanceLayer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.layerIndex++
}

// Iteration returns the current iteration number (0 for acyclic graphs).
func (c *Context) Iteration() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.iteration
}

// Cancel records the run's terminal cancellation reason. The first
// run-stopping reason sticks; a run-stopping reason replaces a previously
// recorded cascading one, since a branch failure must not mask a later
// caller cancellation or deadline.
func (c *Context) Cancel(reason CancellationReason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled && (!c.cancel.Cascades() || reason.Cascades()) {
		return
	}
	c.cancelled = true
	c.cancel = reason
}

// CancelReason returns the recorded cancellation reason, if any.
func (c *Context) CancelReason() (CancellationReason, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cancel, c.cancelled
}

// Failed reports whether any node ended in failure.
func (c *Context) Failed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, o := range c.outcomes {
		if o.State == StateFailed {
			return true
		}
	}
	return false
}
