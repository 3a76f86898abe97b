// Package graph defines the immutable graph model: nodes, their dependency
// edges, cloning policies and the registry that owns graph identity.
package graph

import (
	"context"
	"time"

	"github.com/wehubfusion/Daedalus/pkg/aggregator"
	"github.com/wehubfusion/Daedalus/pkg/artifact"
)

// PartitionKey identifies one partition of a partitionable node's work.
type PartitionKey string

// PartitionItem is one unit of a partitioned execution: the item's position
// and key within the partition set computed for the current run.
type PartitionItem struct {
	// Index is the item's position in the partition set
	Index int `json:"index"`
	// Key is the partition key this item covers
	Key PartitionKey `json:"key"`
	// Total is the size of the partition set
	Total int `json:"total"`
}

// Input carries everything a node's unit needs to execute.
type Input struct {
	// NodeID is the ID of the node being executed
	NodeID string
	// ExecutionID identifies the run, for lock and log correlation
	ExecutionID string
	// Iteration is the current iteration number (0 for acyclic graphs)
	Iteration int
	// Inputs holds upstream artifacts keyed by producer node ID. Whether an
	// entry is shared or an isolated copy is governed by the cloning policy.
	Inputs map[string]*artifact.Artifact
	// Partition is non-nil when the unit runs as one item of a partitioned
	// node; it sees only its partition's slice of the work.
	Partition *PartitionItem
	// Aggregators gives the unit access to the run's shared accumulators
	Aggregators *aggregator.Registry
}

// Unit is the opaque executable of a node. Implementations are supplied by
// graph-construction code; the engine only calls through this interface.
type Unit interface {
	Execute(ctx context.Context, in Input) (*artifact.Artifact, error)
}

// UnitFunc adapts a plain function to the Unit interface.
type UnitFunc func(ctx context.Context, in Input) (*artifact.Artifact, error)

// Execute implements Unit.
func (f UnitFunc) Execute(ctx context.Context, in Input) (*artifact.Artifact, error) {
	return f(ctx, in)
}

// Predicate guards a single edge. It is evaluated against the producer's
// artifact; a false result skips the downstream node on that edge.
type Predicate interface {
	Evaluate(ctx context.Context, a *artifact.Artifact) (bool, error)
}

// PredicateFunc adapts a plain function to the Predicate interface.
type PredicateFunc func(ctx context.Context, a *artifact.Artifact) (bool, error)

// Evaluate implements Predicate.
func (f PredicateFunc) Evaluate(ctx context.Context, a *artifact.Artifact) (bool, error) {
	return f(ctx, a)
}

// Partitioner is declared by a node whose work subdivides into independently
// executable items. Keys is invoked once per run; Reduce folds the per-item
// artifacts into the node's overall artifact once every item has completed.
type Partitioner interface {
	Keys(ctx context.Context, inputs map[string]*artifact.Artifact) ([]PartitionKey, error)
	Reduce(ctx context.Context, items []*artifact.Artifact) (*artifact.Artifact, error)
}

// RetryPolicy controls how a node execution is retried on retryable failure.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts including the first.
	// Zero or one means no retry.
	MaxAttempts int `json:"maxAttempts"`
	// InitialInterval is the first backoff delay. Defaults to 100ms.
	InitialInterval time.Duration `json:"initialInterval"`
	// MaxInterval caps the backoff delay. Defaults to 5s.
	MaxInterval time.Duration `json:"maxInterval"`
}

// Normalize fills in defaults for unset fields.
func (p RetryPolicy) Normalize() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = 100 * time.Millisecond
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = 5 * time.Second
	}
	return p
}

// Node is a unit of work in the graph: identity, declared upstream
// dependencies, the opaque executable, and optional per-node overrides.
// Edges are implicit: each entry in DependsOn is a producer -> this node edge.
type Node struct {
	// ID uniquely identifies the node within its graph
	ID string `json:"id"`
	// DependsOn lists the producer node IDs this node consumes.
	// Every entry must reference a node in the same graph.
	DependsOn []string `json:"dependsOn"`
	// Unit is the node's executable
	Unit Unit `json:"-"`
	// Cloning optionally overrides the graph's default cloning policy for
	// artifacts this node produces
	Cloning *CloningPolicy `json:"cloning,omitempty"`
	// Retry configures retries for retryable execution failures
	Retry RetryPolicy `json:"retry"`
	// Timeout is the per-node deadline; zero means no node-scoped deadline
	Timeout time.Duration `json:"timeout"`
	// Partitioner is non-nil for partitionable nodes
	Partitioner Partitioner `json:"-"`
	// Conditions holds edge predicates keyed by producer node ID. An edge
	// without an entry is unconditional.
	Conditions map[string]Predicate `json:"-"`
}
