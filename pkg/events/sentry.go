package events

import (
	"fmt"

	"github.com/getsentry/sentry-go"
)

// SentryObserver reports node failures and failed runs to Sentry, tagged
// with execution and node identity. sentry.Init must have been called by the
// hosting process before events start flowing.
type SentryObserver struct {
	hub *sentry.Hub
}

// NewSentryObserver creates an observer on the current Sentry hub. A nil hub
// (Sentry not initialized) produces an observer that matches nothing.
func NewSentryObserver() *SentryObserver {
	return &SentryObserver{hub: sentry.CurrentHub().Clone()}
}

// ShouldProcess implements Observer: only failures are reported.
func (o *SentryObserver) ShouldProcess(e Event) bool {
	if o.hub == nil || o.hub.Client() == nil {
		return false
	}
	switch e.Kind {
	case NodeFailed:
		return true
	case ExecutionCompleted:
		return e.Failed
	default:
		return false
	}
}

// OnEvent implements Observer.
func (o *SentryObserver) OnEvent(e Event) error {
	o.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("execution_id", e.ExecutionID)
		scope.SetTag("graph_id", e.GraphID)
		if e.NodeID != "" {
			scope.SetTag("node_id", e.NodeID)
		}
		scope.SetExtra("layer", e.Layer)
		scope.SetExtra("iteration", e.Iteration)

		if e.Err != nil {
			o.hub.CaptureException(e.Err)
			return
		}
		o.hub.CaptureMessage(fmt.Sprintf("execution %s failed", e.ExecutionID))
	})
	return nil
}
