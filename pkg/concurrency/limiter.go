// Package concurrency provides semaphore-based concurrency control for node
// dispatch, with acquisition metrics for observability.
package concurrency

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"
)

// Limiter bounds the number of node executions in flight at once. It is
// shared between the orchestrator's layer dispatch and the partition
// engine's item workers so a partitioned node cannot oversubscribe the run.
type Limiter struct {
	sem    chan struct{}
	active int64

	totalAcquired   int64
	peakConcurrent  int64
	totalWaitTimeNs int64
}

// NewLimiter creates a limiter allowing at most maxConcurrent simultaneous
// holders. Non-positive values fall back to the number of CPUs.
func NewLimiter(maxConcurrent int) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = runtime.NumCPU()
	}
	return &Limiter{sem: make(chan struct{}, maxConcurrent)}
}

// Acquire blocks until a slot is available or the context is cancelled.
func (l *Limiter) Acquire(ctx context.Context) error {
	start := time.Now()
	select {
	case l.sem <- struct{}{}:
		atomic.AddInt64(&l.totalWaitTimeNs, time.Since(start).Nanoseconds())
		atomic.AddInt64(&l.totalAcquired, 1)
		current := atomic.AddInt64(&l.active, 1)
		l.updatePeak(current)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire acquires a slot without blocking, reporting success.
func (l *Limiter) TryAcquire() bool {
	select {
	case l.sem <- struct{}{}:
		atomic.AddInt64(&l.totalAcquired, 1)
		current := atomic.AddInt64(&l.active, 1)
		l.updatePeak(current)
		return true
	default:
		return false
	}
}

// Release frees a previously acquired slot.
func (l *Limiter) Release() {
	select {
	case <-l.sem:
		atomic.AddInt64(&l.active, -1)
	default:
		// Release without a matching Acquire; ignore rather than block.
	}
}

// CurrentActive returns the number of slots currently held.
func (l *Limiter) CurrentActive() int64 {
	return atomic.LoadInt64(&l.active)
}

// Capacity returns the maximum number of concurrent holders.
func (l *Limiter) Capacity() int {
	return cap(l.sem)
}

// Stats returns acquisition metrics: total acquisitions, peak concurrency
// and cumulative wait time.
func (l *Limiter) Stats() (acquired int64, peak int64, waited time.Duration) {
	return atomic.LoadInt64(&l.totalAcquired),
		atomic.LoadInt64(&l.peakConcurrent),
		time.Duration(atomic.LoadInt64(&l.totalWaitTimeNs))
}

func (l *Limiter) updatePeak(current int64) {
	for {
		peak := atomic.LoadInt64(&l.peakConcurrent)
		if current <= peak {
			return
		}
		if atomic.CompareAndSwapInt64(&l.peakConcurrent, peak, current) {
			return
		}
	}
}
