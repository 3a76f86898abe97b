package execution

// CancellationReason records why a run, or a node within it, was cancelled.
// It is recorded once per run at the point cancellation is first observed.
type CancellationReason string

const (
	// UserRequested means the hosting code cancelled the run's context
	UserRequested CancellationReason = "UserRequested"
	// Timeout means a node-scoped or run-scoped deadline fired
	Timeout CancellationReason = "Timeout"
	// ParentFailed means a direct upstream node failed permanently
	ParentFailed CancellationReason = "ParentFailed"
	// DependencyCancelled means a transitive upstream node failed or was
	// cancelled, so this node was never started
	DependencyCancelled CancellationReason = "DependencyCancelled"
	// ResourceExhausted means the run was stopped because a resource limit
	// was reached
	ResourceExhausted CancellationReason = "ResourceExhausted"
)

// Cascades reports whether the reason propagates through the dependency
// graph to descendants (dependency/parent cases) as opposed to simply
// stopping dispatch of not-yet-started nodes (user/timeout/resource cases).
func (r CancellationReason) Cascades() bool {
	return r == ParentFailed || r == DependencyCancelled
}
