package events

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Dispatcher fans lifecycle events out to registered observers. Observer
// errors and panics are isolated and logged; they never propagate to the
// orchestrator.
type Dispatcher struct {
	mu        sync.RWMutex
	observers []Observer
	logger    *zap.Logger
}

// NewDispatcher creates a dispatcher. A nil logger falls back to a no-op.
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{logger: logger}
}

// Register adds an observer. Safe for concurrent use.
func (d *Dispatcher) Register(o Observer) {
	if o == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, o)
}

// Emit delivers the event to every observer whose ShouldProcess matches.
// Delivery is synchronous and in registration order.
func (d *Dispatcher) Emit(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	d.mu.RLock()
	observers := d.observers
	d.mu.RUnlock()

	for _, o := range observers {
		d.deliver(o, e)
	}
}

func (d *Dispatcher) deliver(o Observer, e Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("observer panicked",
				zap.String("kind", string(e.Kind)),
				zap.String("executionID", e.ExecutionID),
				zap.Any("panic", r))
		}
	}()

	if !o.ShouldProcess(e) {
		return
	}
	if err := o.OnEvent(e); err != nil {
		d.logger.Warn("observer failed to process event",
			zap.String("kind", string(e.Kind)),
			zap.String("executionID", e.ExecutionID),
			zap.String("nodeID", e.NodeID),
			zap.Error(err))
	}
}

// KindFilter is a helper observer wrapper that restricts another observer to
// a fixed set of event kinds.
type KindFilter struct {
	Kinds    map[Kind]bool
	Delegate Observer
}

// NewKindFilter wraps delegate so it only sees the listed kinds.
func NewKindFilter(delegate Observer, kinds ...Kind) *KindFilter {
	set := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	return &KindFilter{Kinds: set, Delegate: delegate}
}

// ShouldProcess implements Observer.
func (f *KindFilter) ShouldProcess(e Event) bool {
	return f.Kinds[e.Kind] && f.Delegate.ShouldProcess(e)
}

// OnEvent implements Observer.
func (f *KindFilter) OnEvent(e Event) error {
	return f.Delegate.OnEvent(e)
}

// FuncObserver adapts a function to the Observer interface, processing
// every event kind. Useful in tests and examples.
type FuncObserver func(e Event) error

// ShouldProcess implements Observer.
func (f FuncObserver) ShouldProcess(Event) bool { return true }

// OnEvent implements Observer.
func (f FuncObserver) OnEvent(e Event) error { return f(e) }

// String returns a compact human-readable form of the event, used by the
// logging observer in examples.
func (e Event) String() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s node=%s exec=%s layer=%d", e.Kind, e.NodeID, e.ExecutionID, e.Layer)
	}
	return fmt.Sprintf("%s exec=%s layer=%d iteration=%d", e.Kind, e.ExecutionID, e.Layer, e.Iteration)
}
