package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/cenkalti/backoff/v5"
	"github.com/wehubfusion/Daedalus/pkg/artifact"
	"github.com/wehubfusion/Daedalus/pkg/events"
	"github.com/wehubfusion/Daedalus/pkg/execution"
	"github.com/wehubfusion/Daedalus/pkg/graph"
	"github.com/wehubfusion/Daedalus/pkg/materializer"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// routing is the verdict of input gathering for a node.
type routing int

const (
	routeRun routing = iota
	routeSkip
	routeCancel
)

// runNode takes one node from dispatch through a terminal outcome. It is
// called from a layer goroutine with a limiter slot already held.
func (o *Orchestrator) runNode(runCtx context.Context, rs *runState, node *graph.Node) {
	ec := rs.ec

	nodeCtx, span := o.tracer.Start(runCtx, "orchestrator.runNode",
		trace.WithAttributes(
			attribute.String("execution.id", ec.ExecutionID),
			attribute.String("node.id", node.ID),
			attribute.Int("iteration", ec.Iteration()),
			attribute.Bool("partitioned", node.Partitioner != nil),
		))
	defer span.End()

	inputs, verdict, err := o.gatherInputs(nodeCtx, rs, node)
	if err != nil {
		o.failNode(rs, node.ID, err, 0)
		span.RecordError(err)
		span.SetStatus(codes.Error, "routing failed")
		return
	}
	switch verdict {
	case routeSkip:
		ec.MarkSkipped(node.ID)
		span.SetStatus(codes.Ok, "skipped")
		o.logger.Debug("node skipped",
			zap.String("executionID", ec.ExecutionID),
			zap.String("nodeID", node.ID))
		o.emit(events.Event{Kind: events.NodeSkipped, ExecutionID: ec.ExecutionID, GraphID: ec.GraphID, NodeID: node.ID, Layer: ec.LayerIndex(), Iteration: ec.Iteration()})
		return
	case routeCancel:
		if ec.MarkCancelled(node.ID, execution.DependencyCancelled) {
			o.emit(events.Event{Kind: events.NodeCancelled, ExecutionID: ec.ExecutionID, GraphID: ec.GraphID, NodeID: node.ID, Layer: ec.LayerIndex(), Iteration: ec.Iteration(), Reason: string(execution.DependencyCancelled)})
		}
		span.SetStatus(codes.Ok, "cancelled")
		return
	}

	var cancelNode context.CancelFunc
	if node.Timeout > 0 {
		nodeCtx, cancelNode = context.WithTimeout(nodeCtx, node.Timeout)
		defer cancelNode()
	}

	policy := node.Retry
	if policy.MaxAttempts < 1 {
		policy = o.config.DefaultRetry
	}
	policy = policy.Normalize()

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = policy.InitialInterval
	expo.MaxInterval = policy.MaxInterval

	attempts := 0
	a, err := backoff.Retry(nodeCtx, func() (*artifact.Artifact, error) {
		attempts++
		a, err := o.materialize(nodeCtx, rs, node, inputs)
		if err != nil {
			if runCtx.Err() != nil || nodeCtx.Err() != nil {
				return nil, backoff.Permanent(err)
			}
			o.logger.Warn("node attempt failed",
				zap.String("executionID", ec.ExecutionID),
				zap.String("nodeID", node.ID),
				zap.Int("attempt", attempts),
				zap.Error(err))
			return nil, err
		}
		return a, nil
	}, backoff.WithBackOff(expo), backoff.WithMaxTries(uint(policy.MaxAttempts)))

	if err != nil {
		// A run-level cancellation arriving mid-execution settles the node
		// as cancelled, not failed.
		if runCtx.Err() != nil {
			reason := o.cancelReason(runCtx)
			ec.Cancel(reason)
			if ec.MarkCancelled(node.ID, reason) {
				o.emit(events.Event{Kind: events.NodeCancelled, ExecutionID: ec.ExecutionID, GraphID: ec.GraphID, NodeID: node.ID, Layer: ec.LayerIndex(), Iteration: ec.Iteration(), Reason: string(reason)})
			}
			span.SetStatus(codes.Ok, "cancelled")
			return
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("node deadline of %s exceeded: %w", node.Timeout, err)
		}
		o.failNode(rs, node.ID, err, attempts)
		span.RecordError(err)
		span.SetStatus(codes.Error, "node failed")
		return
	}

	if rs.abandoned.Load() {
		// The run moved on without this result; a cached copy would leak
		// into later runs, so drop it.
		o.mat.Invalidate(o.artifactKey(ec.GraphID, node.ID))
		reason, _ := ec.CancelReason()
		ec.MarkCancelled(node.ID, reason)
		span.SetStatus(codes.Ok, "abandoned")
		return
	}

	o.completeNode(nodeCtx, rs, node, a, attempts)
	span.SetAttributes(attribute.Int("attempts", attempts))
	span.SetStatus(codes.Ok, "completed")
}

// gatherInputs resolves the node's upstream artifacts and routing verdict.
// A skipped dependency skips the node; a dependency without a completed
// artifact (failed or cancelled upstream) cancels it; and an edge whose
// predicate evaluates false skips it. Predicate evaluation errors fail the
// node.
func (o *Orchestrator) gatherInputs(ctx context.Context, rs *runState, node *graph.Node) (map[string]*artifact.Artifact, routing, error) {
	ec := rs.ec
	inputs := make(map[string]*artifact.Artifact, len(node.DependsOn))
	verdict := routeRun

	for _, dep := range node.DependsOn {
		if rs.g.IsBackEdge(dep, node.ID) {
			// Back-edge input: absent on the first pass, carries the
			// previous iteration's artifact afterwards.
			if a, ok := ec.Artifact(dep); ok {
				inputs[dep] = rs.propagator.Deliver(a, rs.g.ResolveCloning(dep))
			}
			continue
		}

		out, ok := ec.Outcome(dep)
		switch {
		case !ok, out.State == execution.StateSkipped:
			verdict = routeSkip
		case out.State != execution.StateCompleted:
			return nil, routeCancel, nil
		default:
			if pred, guarded := node.Conditions[dep]; guarded {
				prodArt, _ := ec.Artifact(dep)
				active, err := pred.Evaluate(ctx, prodArt)
				if err != nil {
					return nil, routeRun, fmt.Errorf("predicate on edge %s -> %s: %w", dep, node.ID, err)
				}
				if !active {
					verdict = routeSkip
				}
			}
			if a := rs.delivered(dep, node.ID); a != nil {
				inputs[dep] = a
			}
		}
	}
	return inputs, verdict, nil
}

// materialize computes the node's artifact through the demand-driven cache.
// Partitioned nodes fan out inside the compute callback so the whole
// partition set materializes as one cache entry.
func (o *Orchestrator) materialize(ctx context.Context, rs *runState, node *graph.Node, inputs map[string]*artifact.Artifact) (*artifact.Artifact, error) {
	ec := rs.ec
	in := graph.Input{
		NodeID:      node.ID,
		ExecutionID: ec.ExecutionID,
		Iteration:   ec.Iteration(),
		Inputs:      inputs,
		Aggregators: ec.Aggregators(),
	}

	opts := materializer.Options{
		WaitForLock: true,
		LockTimeout: o.config.LockTimeout,
		Freshness:   o.freshness(node, inputs, ec.Iteration()),
	}

	return o.mat.Materialize(ctx, o.artifactKey(ec.GraphID, node.ID), opts, func(ctx context.Context) (*artifact.Artifact, error) {
		var a *artifact.Artifact
		var err error
		if node.Partitioner != nil {
			a, err = o.partitions.Run(ctx, node, in)
		} else {
			a, err = node.Unit.Execute(ctx, in)
		}
		if err != nil {
			return nil, err
		}
		if a != nil {
			// The cached copy carries the input-derived marker, so a later
			// request with unchanged inputs hits and anything else misses.
			a.Fingerprint = opts.Freshness
		}
		return a, nil
	})
}

// completeNode records a successful execution: outcome, artifact, cloned
// deliveries for forward consumers and dirty marking for active back edges.
func (o *Orchestrator) completeNode(ctx context.Context, rs *runState, node *graph.Node, a *artifact.Artifact, attempts int) {
	ec := rs.ec
	ec.SetArtifact(node.ID, a)
	ec.MarkCompleted(node.ID, a, attempts)

	consumers := rs.g.Consumers(node.ID)
	forward := make([]string, 0, len(consumers))
	for _, c := range consumers {
		if !rs.g.IsBackEdge(node.ID, c) {
			forward = append(forward, c)
		}
	}
	if len(forward) > 0 {
		rs.setDeliveries(node.ID, rs.propagator.Propagate(a, rs.g.ResolveCloning(node.ID), forward))
	}

	for _, c := range consumers {
		if !rs.g.IsBackEdge(node.ID, c) {
			continue
		}
		o.markBackEdge(ctx, rs, node, c, a)
	}

	o.logger.Debug("node completed",
		zap.String("executionID", ec.ExecutionID),
		zap.String("nodeID", node.ID),
		zap.Int("attempts", attempts))
	o.emit(events.Event{Kind: events.NodeCompleted, ExecutionID: ec.ExecutionID, GraphID: ec.GraphID, NodeID: node.ID, Layer: ec.LayerIndex(), Iteration: ec.Iteration()})
}

// markBackEdge decides whether a completed producer re-activates the cycle
// target. An unconditional back edge always marks it dirty; a guarded one
// only while the predicate holds, which is what lets cyclic graphs converge.
func (o *Orchestrator) markBackEdge(ctx context.Context, rs *runState, producer *graph.Node, targetID string, a *artifact.Artifact) {
	ec := rs.ec
	target := rs.g.Node(targetID)

	if pred, guarded := target.Conditions[producer.ID]; guarded {
		active, err := pred.Evaluate(ctx, a)
		if err != nil {
			// The producer already completed; a broken loop guard ends the
			// loop rather than failing the run.
			o.logger.Warn("back-edge predicate failed, treating edge as inactive",
				zap.String("executionID", ec.ExecutionID),
				zap.String("producer", producer.ID),
				zap.String("target", targetID),
				zap.Error(err))
			return
		}
		if !active {
			return
		}
	}

	ec.MarkDirty(targetID)
	for _, d := range rs.g.Descendants(targetID) {
		ec.MarkDirty(d)
	}
}

// failNode settles a node as failed and cascades cancellation to every
// transitive descendant. Unrelated branches keep running.
func (o *Orchestrator) failNode(rs *runState, nodeID string, cause error, attempts int) {
	ec := rs.ec
	nodeErr := &NodeExecutionError{NodeID: nodeID, Attempts: attempts, Cause: cause}
	ec.MarkFailed(nodeID, nodeErr, attempts)
	ec.Cancel(execution.ParentFailed)

	o.logger.Error("node failed",
		zap.String("executionID", ec.ExecutionID),
		zap.String("nodeID", nodeID),
		zap.Int("attempts", attempts),
		zap.Error(cause))
	o.emit(events.Event{Kind: events.NodeFailed, ExecutionID: ec.ExecutionID, GraphID: ec.GraphID, NodeID: nodeID, Layer: ec.LayerIndex(), Iteration: ec.Iteration(), Err: nodeErr})

	for _, d := range rs.g.Descendants(nodeID) {
		if ec.MarkCancelled(d, execution.DependencyCancelled) {
			o.emit(events.Event{Kind: events.NodeCancelled, ExecutionID: ec.ExecutionID, GraphID: ec.GraphID, NodeID: d, Layer: ec.LayerIndex(), Iteration: ec.Iteration(), Reason: string(execution.DependencyCancelled)})
		}
	}
}

// freshness derives the cache marker for a node's next materialization from
// its identity, the iteration and its upstream fingerprints. Any upstream
// change or a new iteration yields a different marker, making stale cache
// entries miss.
func (o *Orchestrator) freshness(node *graph.Node, inputs map[string]*artifact.Artifact, iteration int) artifact.Fingerprint {
	deps := make([]string, 0, len(inputs))
	for dep := range inputs {
		deps = append(deps, dep)
	}
	sort.Strings(deps)

	fps := make([]artifact.Fingerprint, 0, len(deps)+2)
	fps = append(fps, artifact.Compute(node.ID), artifact.Compute(iteration))
	for _, dep := range deps {
		fps = append(fps, inputs[dep].Fingerprint)
	}
	return artifact.Combine(fps...)
}

func (o *Orchestrator) artifactKey(graphID, nodeID string) string {
	return graphID + "/" + nodeID
}
