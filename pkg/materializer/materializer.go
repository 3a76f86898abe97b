// Package materializer provides the demand-driven artifact cache: an
// artifact is computed only if absent or stale, and a per-key lock
// guarantees at most one concurrent computation system-wide.
package materializer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wehubfusion/Daedalus/pkg/artifact"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultLockTimeout applies when Options.LockTimeout is unset.
const DefaultLockTimeout = 30 * time.Second

// ComputeFunc produces an artifact when the cache cannot satisfy a request.
type ComputeFunc func(ctx context.Context) (*artifact.Artifact, error)

// Options controls a single materialization request.
type Options struct {
	// ForceRecompute bypasses the cache entirely
	ForceRecompute bool
	// WaitForLock blocks while another execution materializes the same key;
	// when false, contention fails fast with a lock-timeout error
	WaitForLock bool
	// LockTimeout bounds lock acquisition; zero uses DefaultLockTimeout
	LockTimeout time.Duration
	// Freshness is the marker the cache would compute for current inputs.
	// A cached artifact is reused only when its fingerprint matches; an
	// empty marker accepts any cached artifact.
	Freshness artifact.Fingerprint
}

// Materializer is the demand-driven artifact cache. The cache is the only
// resource mutated by multiple concurrent runs; all mutation is mediated by
// the configured Locker.
type Materializer struct {
	mu     sync.RWMutex
	cache  map[string]*artifact.Artifact
	locker Locker
	logger *zap.Logger
	tracer trace.Tracer
}

// New creates a materializer. A nil locker defaults to the in-process
// MutexLocker; pass a KVLocker for multi-process deployments.
func New(locker Locker, logger *zap.Logger) (*Materializer, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if locker == nil {
		locker = NewMutexLocker()
	}
	return &Materializer{
		cache:  make(map[string]*artifact.Artifact),
		locker: locker,
		logger: logger,
		tracer: otel.Tracer("daedalus/materializer"),
	}, nil
}

// Materialize returns the artifact for the given key, computing it when the
// cache has no fresh copy. For a given key, at most one computation runs at
// a time: other requesters wait for its result or fail fast with a
// *LockTimeoutError, which is retryable by the caller.
func (m *Materializer) Materialize(ctx context.Context, key string, opts Options, compute ComputeFunc) (*artifact.Artifact, error) {
	if key == "" {
		return nil, errors.New("artifact key cannot be empty")
	}
	if compute == nil {
		return nil, errors.New("compute function cannot be nil")
	}

	ctx, span := m.tracer.Start(ctx, "materializer.Materialize",
		trace.WithAttributes(
			attribute.String("artifact.key", key),
			attribute.Bool("force_recompute", opts.ForceRecompute),
		))
	defer span.End()

	if !opts.ForceRecompute {
		if a, ok := m.lookup(key, opts.Freshness); ok {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			span.SetStatus(codes.Ok, "cache hit")
			return a, nil
		}
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	release, err := m.locker.Acquire(ctx, key, opts.WaitForLock, opts.LockTimeout)
	if err != nil {
		span.RecordError(err)
		if IsLockTimeout(err) {
			span.SetStatus(codes.Error, "lock timeout")
			m.logger.Debug("artifact lock contended",
				zap.String("key", key),
				zap.Bool("waited", opts.WaitForLock))
		} else {
			span.SetStatus(codes.Error, err.Error())
		}
		return nil, err
	}
	defer release()

	// Another holder may have finished the computation while we waited.
	if !opts.ForceRecompute {
		if a, ok := m.lookup(key, opts.Freshness); ok {
			span.SetStatus(codes.Ok, "computed by concurrent holder")
			return a, nil
		}
	}

	start := time.Now()
	a, err := compute(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to compute artifact %q: %w", key, err)
	}
	if a == nil {
		err := fmt.Errorf("compute for artifact %q returned nil", key)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	m.admit(key, a)
	m.logger.Debug("materialized artifact",
		zap.String("key", key),
		zap.Duration("computeTime", time.Since(start)))
	span.SetStatus(codes.Ok, "computed")
	return a, nil
}

// Invalidate drops a cached artifact. Used when an in-flight node is
// abandoned so its partial output is never served.
func (m *Materializer) Invalidate(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, key)
}

// Lookup returns the cached artifact for a key without triggering a
// computation. Used to rehydrate resumed executions.
func (m *Materializer) Lookup(key string) (*artifact.Artifact, bool) {
	return m.lookup(key, "")
}

// Cached reports whether the key currently has a cached artifact.
func (m *Materializer) Cached(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.cache[key]
	return ok
}

// Len returns the number of cached artifacts.
func (m *Materializer) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cache)
}

func (m *Materializer) lookup(key string, freshness artifact.Fingerprint) (*artifact.Artifact, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.cache[key]
	if !ok {
		return nil, false
	}
	if freshness != "" && !a.Fresh(freshness) {
		// Stale: treat as absent so it gets recomputed.
		return nil, false
	}
	return a, true
}

func (m *Materializer) admit(key string, a *artifact.Artifact) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[key] = a
}
