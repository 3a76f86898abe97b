// Package events defines the push-only lifecycle event contract consumed by
// external logging and telemetry collaborators, and the dispatcher that
// isolates observer failures from the run.
package events

import (
	"time"
)

// Kind classifies a lifecycle event.
type Kind string

const (
	// ExecutionStarted fires once when a run begins
	ExecutionStarted Kind = "ExecutionStarted"
	// LayerStarted fires before a topological layer is dispatched
	LayerStarted Kind = "LayerStarted"
	// LayerCompleted fires after every node in a layer reaches a terminal state
	LayerCompleted Kind = "LayerCompleted"
	// NodeCompleted fires when a node produces its artifact
	NodeCompleted Kind = "NodeCompleted"
	// NodeSkipped fires when conditional routing bypasses a node
	NodeSkipped Kind = "NodeSkipped"
	// NodeFailed fires when a node exhausts its retries
	NodeFailed Kind = "NodeFailed"
	// NodeCancelled fires when a node is cancelled before or during execution
	NodeCancelled Kind = "NodeCancelled"
	// ExecutionCompleted fires once when the run reaches a terminal state
	ExecutionCompleted Kind = "ExecutionCompleted"
)

// Event is one lifecycle occurrence within a run.
type Event struct {
	// Kind classifies the event
	Kind Kind `json:"kind"`
	// ExecutionID identifies the run
	ExecutionID string `json:"executionId"`
	// GraphID is the registry ID of the graph under execution
	GraphID string `json:"graphId"`
	// NodeID is set for node-scoped events
	NodeID string `json:"nodeId,omitempty"`
	// Layer is the topological layer index for layer- and node-scoped events
	Layer int `json:"layer,omitempty"`
	// Iteration is the iteration number for cyclic graphs
	Iteration int `json:"iteration,omitempty"`
	// Reason carries the cancellation reason for NodeCancelled events
	Reason string `json:"reason,omitempty"`
	// Err holds the failure for NodeFailed and failed ExecutionCompleted events
	Err error `json:"-"`
	// Failed marks an ExecutionCompleted event for a failed run
	Failed bool `json:"failed,omitempty"`
	// Timestamp records when the event was emitted
	Timestamp time.Time `json:"timestamp"`
}

// Observer receives lifecycle events. ShouldProcess declares which event
// kinds the observer wants; OnEvent is invoked only for matching events.
// Observer failures never abort the run.
type Observer interface {
	ShouldProcess(e Event) bool
	OnEvent(e Event) error
}
