// Package partition expands a partitionable node into one map item per
// partition key and feeds the per-item results back through the node's
// declared reduction.
package partition

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wehubfusion/Daedalus/pkg/artifact"
	"github.com/wehubfusion/Daedalus/pkg/concurrency"
	"github.com/wehubfusion/Daedalus/pkg/graph"
	"go.uber.org/zap"
)

// ItemError reports the failure of a single partition item.
type ItemError struct {
	// NodeID is the partitioned node
	NodeID string
	// Index is the failing item's position in the partition set
	Index int
	// Key is the failing item's partition key
	Key graph.PartitionKey
	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *ItemError) Error() string {
	return fmt.Sprintf("partition item %d (key %q) of node %q failed: %v", e.Index, e.Key, e.NodeID, e.Cause)
}

// Unwrap returns the underlying error.
func (e *ItemError) Unwrap() error {
	return e.Cause
}

// Engine runs partitioned nodes: it computes the partition set once per run,
// executes one item per key concurrently, and reduces the item artifacts
// into the parent's overall artifact once every item has completed.
type Engine struct {
	limiter *concurrency.Limiter
	logger  *zap.Logger
}

// NewEngine creates a partition engine. The limiter bounds concurrent item
// executions; nil limiter means unbounded within the partition set.
func NewEngine(limiter *concurrency.Limiter, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	return &Engine{limiter: limiter, logger: logger}, nil
}

// Expand computes the partition set for a node. Keys are derived exactly
// once per run so every item sees a consistent set; callers must not
// re-derive per item.
func (e *Engine) Expand(ctx context.Context, node *graph.Node, inputs map[string]*artifact.Artifact) ([]graph.PartitionItem, error) {
	if node == nil || node.Partitioner == nil {
		return nil, errors.New("node is not partitionable")
	}

	keys, err := node.Partitioner.Keys(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("failed to compute partition keys for node %q: %w", node.ID, err)
	}

	items := make([]graph.PartitionItem, len(keys))
	for i, key := range keys {
		items[i] = graph.PartitionItem{Index: i, Key: key, Total: len(keys)}
	}
	return items, nil
}

// Run executes a partitioned node end to end: expansion, concurrent
// per-item execution, and reduction. The parent artifact exists only once
// every item has completed; any item failure fails the node and abandons
// the remaining items.
func (e *Engine) Run(ctx context.Context, node *graph.Node, in graph.Input) (*artifact.Artifact, error) {
	items, err := e.Expand(ctx, node, in.Inputs)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	e.logger.Debug("expanding partitioned node",
		zap.String("nodeID", node.ID),
		zap.String("executionID", in.ExecutionID),
		zap.Int("partitions", len(items)))

	if len(items) == 0 {
		// An empty partition set still reduces, so the node can produce an
		// empty aggregate rather than failing.
		return node.Partitioner.Reduce(ctx, nil)
	}

	results := make([]*artifact.Artifact, len(items))
	itemCtx, cancelItems := context.WithCancel(ctx)
	defer cancelItems()

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)

	for i := range items {
		wg.Add(1)
		go func(item graph.PartitionItem) {
			defer wg.Done()

			if e.limiter != nil {
				if err := e.limiter.Acquire(itemCtx); err != nil {
					e.recordError(&errMu, &firstErr, &ItemError{NodeID: node.ID, Index: item.Index, Key: item.Key, Cause: err}, cancelItems)
					return
				}
				defer e.limiter.Release()
			}

			itemIn := in
			itemIn.Partition = &item
			if item.Index > 0 {
				// Later items work on isolated copies so concurrent slicing
				// of the same upstream payloads cannot interfere.
				itemIn.Inputs = cloneInputs(in.Inputs)
			}

			a, err := node.Unit.Execute(itemCtx, itemIn)
			if err != nil {
				e.recordError(&errMu, &firstErr, &ItemError{NodeID: node.ID, Index: item.Index, Key: item.Key, Cause: err}, cancelItems)
				return
			}
			results[item.Index] = a
		}(items[i])
	}

	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}

	reduced, err := node.Partitioner.Reduce(ctx, results)
	if err != nil {
		return nil, fmt.Errorf("failed to reduce partitions for node %q: %w", node.ID, err)
	}

	e.logger.Debug("partitioned node completed",
		zap.String("nodeID", node.ID),
		zap.String("executionID", in.ExecutionID),
		zap.Int("partitions", len(items)),
		zap.Duration("elapsed", time.Since(start)))
	return reduced, nil
}

func (e *Engine) recordError(mu *sync.Mutex, first *error, err error, cancel context.CancelFunc) {
	mu.Lock()
	if *first == nil {
		*first = err
		cancel()
	}
	mu.Unlock()
}

func cloneInputs(inputs map[string]*artifact.Artifact) map[string]*artifact.Artifact {
	out := make(map[string]*artifact.Artifact, len(inputs))
	for k, a := range inputs {
		out[k] = a.Clone()
	}
	return out
}
