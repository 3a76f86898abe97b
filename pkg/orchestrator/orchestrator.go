// Package orchestrator drives graph execution: topological layering,
// concurrent dispatch within a layer, conditional routing, retry,
// cancellation cascade, checkpoint emission and resume.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wehubfusion/Daedalus/pkg/artifact"
	"github.com/wehubfusion/Daedalus/pkg/checkpoint"
	"github.com/wehubfusion/Daedalus/pkg/cloning"
	"github.com/wehubfusion/Daedalus/pkg/concurrency"
	"github.com/wehubfusion/Daedalus/pkg/events"
	"github.com/wehubfusion/Daedalus/pkg/execution"
	"github.com/wehubfusion/Daedalus/pkg/graph"
	"github.com/wehubfusion/Daedalus/pkg/materializer"
	"github.com/wehubfusion/Daedalus/pkg/partition"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Orchestrator executes registered graphs. One orchestrator serves many
// concurrent runs; all per-run state lives in each run's execution context.
type Orchestrator struct {
	graphs      *graph.Registry
	mat         *materializer.Materializer
	config      Config
	logger      *zap.Logger
	tracer      trace.Tracer
	dispatcher *events.Dispatcher
	limiter    *concurrency.Limiter
	partitions *partition.Engine
	store      checkpoint.Store
}

// New creates an orchestrator over a graph registry and an artifact
// materializer.
func New(graphs *graph.Registry, mat *materializer.Materializer, config Config, logger *zap.Logger) (*Orchestrator, error) {
	if graphs == nil {
		return nil, errors.New("graph registry cannot be nil")
	}
	if mat == nil {
		return nil, errors.New("materializer cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	config.Validate()

	limiter := concurrency.NewLimiter(config.MaxConcurrent)
	partitions, err := partition.NewEngine(limiter, logger)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		graphs:     graphs,
		mat:        mat,
		config:     config,
		logger:     logger,
		tracer:     otel.Tracer("daedalus/orchestrator"),
		dispatcher: events.NewDispatcher(logger),
		limiter:    limiter,
		partitions: partitions,
	}, nil
}

// Observe registers a lifecycle event observer.
func (o *Orchestrator) Observe(obs events.Observer) {
	o.dispatcher.Register(obs)
}

// WithCheckpointStore sets the store that receives layer-boundary
// checkpoints. Without a store, checkpoints are still computed into the
// context but not persisted.
func (o *Orchestrator) WithCheckpointStore(store checkpoint.Store) *Orchestrator {
	o.store = store
	return o
}

// runState is the per-run working set shared between the layer loop and the
// node goroutines.
type runState struct {
	g          *graph.Graph
	ec         *execution.Context
	propagator *cloning.Propagator

	mu         sync.Mutex
	deliveries map[string]map[string]*artifact.Artifact

	abandoned atomic.Bool
}

func (rs *runState) setDeliveries(producerID string, vals map[string]*artifact.Artifact) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.deliveries[producerID] = vals
}

// delivered returns the artifact instance a consumer should receive on the
// producer -> consumer edge. When no pre-computed delivery exists (a caller
// populated the context with completed nodes outside a resume), it resolves
// one through the propagator so cloning semantics still hold.
func (rs *runState) delivered(producerID, consumerID string) *artifact.Artifact {
	rs.mu.Lock()
	if vals, ok := rs.deliveries[producerID]; ok {
		if a, ok := vals[consumerID]; ok {
			rs.mu.Unlock()
			return a
		}
	}
	rs.mu.Unlock()

	a, ok := rs.ec.Artifact(producerID)
	if !ok {
		return nil
	}
	return rs.propagator.Deliver(a, rs.g.ResolveCloning(producerID))
}

// Execute runs a graph from a fresh or partially-populated context to
// completion or cancellation. The context is returned in all cases so
// callers can inspect per-node outcomes; the error reports the overall run
// outcome.
func (o *Orchestrator) Execute(ctx context.Context, ec *execution.Context) (*execution.Context, error) {
	return o.run(ctx, ec, false)
}

// Resume re-enters a previously checkpointed context. Any node already in
// the completed set is skipped, never re-executed.
func (o *Orchestrator) Resume(ctx context.Context, ec *execution.Context) (*execution.Context, error) {
	return o.run(ctx, ec, true)
}

// ResumeFrom rebuilds a context from checkpoint metadata and resumes it.
func (o *Orchestrator) ResumeFrom(ctx context.Context, meta execution.ContextMetadata) (*execution.Context, error) {
	return o.Resume(ctx, execution.Restore(meta))
}

func (o *Orchestrator) run(ctx context.Context, ec *execution.Context, resumed bool) (*execution.Context, error) {
	if ec == nil {
		return nil, errors.New("execution context cannot be nil")
	}
	g, err := o.graphs.Get(ec.GraphID)
	if err != nil {
		return ec, err
	}

	runCtx := ctx
	var cancelRun context.CancelFunc
	if o.config.RunTimeout > 0 {
		runCtx, cancelRun = context.WithTimeout(ctx, o.config.RunTimeout)
		defer cancelRun()
	}

	runCtx, span := o.tracer.Start(runCtx, "orchestrator.Execute",
		trace.WithAttributes(
			attribute.String("execution.id", ec.ExecutionID),
			attribute.String("graph.id", ec.GraphID),
			attribute.Int("graph.nodes", g.Len()),
			attribute.Bool("resumed", resumed),
		))
	defer span.End()

	rs := &runState{
		g:          g,
		ec:         ec,
		propagator: cloning.NewPropagator(),
		deliveries: make(map[string]map[string]*artifact.Artifact),
	}

	if resumed {
		o.rehydrate(rs)
	} else {
		// A reused context starts its accumulators over; a resumed one keeps
		// the folds its completed nodes already contributed.
		ec.Aggregators().ResetAll()
	}

	start := time.Now()
	o.logger.Info("execution started",
		zap.String("executionID", ec.ExecutionID),
		zap.String("graphID", ec.GraphID),
		zap.Bool("resumed", resumed),
		zap.Int("completedNodes", len(ec.CompletedNodes())))
	o.emit(events.Event{Kind: events.ExecutionStarted, ExecutionID: ec.ExecutionID, GraphID: ec.GraphID, Iteration: ec.Iteration()})

	runErr := o.iterate(runCtx, rs)

	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
	} else {
		span.SetStatus(codes.Ok, "execution completed")
	}

	o.logger.Info("execution finished",
		zap.String("executionID", ec.ExecutionID),
		zap.String("graphID", ec.GraphID),
		zap.Duration("elapsed", time.Since(start)),
		zap.Bool("failed", runErr != nil))
	o.emit(events.Event{
		Kind:        events.ExecutionCompleted,
		ExecutionID: ec.ExecutionID,
		GraphID:     ec.GraphID,
		Iteration:   ec.Iteration(),
		Failed:      runErr != nil,
		Err:         runErr,
	})

	return ec, runErr
}

// iterate drives the layer loop, folding dirty nodes into new iterations
// for cyclic graphs until the dirty set empties or the limit is hit.
func (o *Orchestrator) iterate(runCtx context.Context, rs *runState) error {
	ec := rs.ec

	pending := o.pendingNodes(rs)
	for {
		if err := o.runLayers(runCtx, rs, pending); err != nil {
			return err
		}

		if reason, cancelled := ec.CancelReason(); cancelled && !reason.Cascades() {
			return &CancellationError{Reason: reason}
		}
		if ec.Failed() {
			return newRunError(ec.Outcomes())
		}
		if !ec.HasDirty() {
			return nil
		}

		if ec.Iteration()+1 > o.config.MaxIterations {
			return &IterationLimitError{
				MaxIterations: o.config.MaxIterations,
				DirtyNodes:    ec.DirtyNodes(),
			}
		}

		dirty := ec.BeginIteration()
		pending = make(map[string]bool, len(dirty))
		for _, id := range dirty {
			pending[id] = true
		}
		o.logger.Debug("starting iteration",
			zap.String("executionID", ec.ExecutionID),
			zap.Int("iteration", ec.Iteration()),
			zap.Int("dirtyNodes", len(dirty)))
	}
}

// rehydrate restores completed nodes' artifacts from the materializer cache
// after a checkpoint restore and pre-computes their forward deliveries, so
// lazy cloning still follows declared edge order rather than whichever
// consumer happens to ask first. A completed node whose artifact is in
// neither the context nor the cache stays completed; its consumers simply
// see no input entry for it.
func (o *Orchestrator) rehydrate(rs *runState) {
	ec := rs.ec
	for _, id := range ec.CompletedNodes() {
		a, ok := ec.Artifact(id)
		if !ok {
			if a, ok = o.mat.Lookup(o.artifactKey(ec.GraphID, id)); ok {
				ec.SetArtifact(id, a)
			} else {
				if rs.g.Contains(id) {
					o.logger.Warn("no cached artifact for completed node",
						zap.String("executionID", ec.ExecutionID),
						zap.String("nodeID", id))
				}
				continue
			}
		}

		forward := make([]string, 0)
		for _, c := range rs.g.Consumers(id) {
			if !rs.g.IsBackEdge(id, c) {
				forward = append(forward, c)
			}
		}
		if len(forward) > 0 {
			rs.setDeliveries(id, rs.propagator.Propagate(a, rs.g.ResolveCloning(id), forward))
		}
	}
}

// pendingNodes computes the initial work set: every node without a terminal
// outcome. On resume this is exactly the set outside CompletedNodes.
func (o *Orchestrator) pendingNodes(rs *runState) map[string]bool {
	pending := make(map[string]bool)
	for _, id := range rs.g.NodeIDs() {
		if out, ok := rs.ec.Outcome(id); ok && out.State.Terminal() {
			continue
		}
		pending[id] = true
	}
	return pending
}

// runLayers executes one iteration's worth of topological layers. Layer
// advancement is a barrier: no node in layer N+1 starts before every node in
// layer N has reached a terminal state.
func (o *Orchestrator) runLayers(runCtx context.Context, rs *runState, pending map[string]bool) error {
	ec := rs.ec
	layers, err := rs.g.Layers(pending)
	if err != nil {
		return fmt.Errorf("failed to layer graph %q: %w", ec.GraphID, err)
	}

	for _, layer := range layers {
		cancelled := o.checkCancellation(runCtx, rs)

		o.emit(events.Event{Kind: events.LayerStarted, ExecutionID: ec.ExecutionID, GraphID: ec.GraphID, Layer: ec.LayerIndex(), Iteration: ec.Iteration()})

		var wg sync.WaitGroup
		for _, nodeID := range layer {
			if out, ok := ec.Outcome(nodeID); ok && out.State.Terminal() {
				// Cascaded cancellation may have settled the node already.
				continue
			}

			// Cancellation is checked before each dispatch: once observed,
			// no new node starts.
			if !cancelled {
				cancelled = o.checkCancellation(runCtx, rs)
			}
			if cancelled {
				reason, _ := ec.CancelReason()
				if ec.MarkCancelled(nodeID, reason) {
					o.emit(events.Event{Kind: events.NodeCancelled, ExecutionID: ec.ExecutionID, GraphID: ec.GraphID, NodeID: nodeID, Layer: ec.LayerIndex(), Iteration: ec.Iteration(), Reason: string(reason)})
				}
				continue
			}

			wg.Add(1)
			go func(node *graph.Node) {
				defer wg.Done()
				// Partitioned nodes skip the node-level slot: their items
				// acquire slots individually, and holding one here would
				// deadlock at low concurrency limits.
				if node.Partitioner == nil {
					if err := o.limiter.Acquire(runCtx); err != nil {
						reason := o.cancelReason(runCtx)
						ec.Cancel(reason)
						if ec.MarkCancelled(node.ID, reason) {
							o.emit(events.Event{Kind: events.NodeCancelled, ExecutionID: ec.ExecutionID, GraphID: ec.GraphID, NodeID: node.ID, Layer: ec.LayerIndex(), Iteration: ec.Iteration(), Reason: string(reason)})
						}
						return
					}
					defer o.limiter.Release()
				}
				o.runNode(runCtx, rs, node)
			}(rs.g.Node(nodeID))
		}

		o.waitLayer(&wg, rs)

		o.emit(events.Event{Kind: events.LayerCompleted, ExecutionID: ec.ExecutionID, GraphID: ec.GraphID, Layer: ec.LayerIndex(), Iteration: ec.Iteration()})
		ec.AdvanceLayer()
		o.saveCheckpoint(runCtx, ec)
	}
	return nil
}

// waitLayer blocks until the layer's nodes finish. Once the run is
// cancelled, the wait is bounded by the grace period; nodes still running
// after that are abandoned and their artifacts discarded.
func (o *Orchestrator) waitLayer(wg *sync.WaitGroup, rs *runState) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			// Only a run-stopping cancellation bounds the wait; a cascade
			// from a failed branch leaves unrelated branches to finish.
			if reason, cancelled := rs.ec.CancelReason(); !cancelled || reason.Cascades() {
				continue
			}
			select {
			case <-done:
			case <-time.After(o.config.GracePeriod):
				rs.abandoned.Store(true)
				o.logger.Warn("abandoning in-flight nodes after grace period",
					zap.String("executionID", rs.ec.ExecutionID),
					zap.Duration("gracePeriod", o.config.GracePeriod))
			}
			return
		}
	}
}

// checkCancellation folds an external cancellation signal into the context,
// recording the reason on first observation.
func (o *Orchestrator) checkCancellation(runCtx context.Context, rs *runState) bool {
	if reason, cancelled := rs.ec.CancelReason(); cancelled && !reason.Cascades() {
		return true
	}
	if runCtx.Err() != nil {
		rs.ec.Cancel(o.cancelReason(runCtx))
		return true
	}
	return false
}

func (o *Orchestrator) cancelReason(runCtx context.Context) execution.CancellationReason {
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return execution.Timeout
	}
	return execution.UserRequested
}

func (o *Orchestrator) saveCheckpoint(ctx context.Context, ec *execution.Context) {
	if o.store == nil {
		return
	}
	meta := ec.Snapshot()
	if err := o.store.Save(ctx, meta); err != nil {
		// Checkpoint persistence is best-effort; the run keeps going.
		o.logger.Warn("failed to persist checkpoint",
			zap.String("executionID", ec.ExecutionID),
			zap.Int("layerIndex", meta.LayerIndex),
			zap.Error(err))
	}
}

func (o *Orchestrator) emit(e events.Event) {
	o.dispatcher.Emit(e)
}
