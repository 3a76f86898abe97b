package orchestrator

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/wehubfusion/Daedalus/pkg/execution"
)

var (
	// ErrRunFailed is the sentinel wrapped by RunError.
	ErrRunFailed = errors.New("execution finished with node failures")

	// ErrIterationLimit is the sentinel wrapped by IterationLimitError.
	ErrIterationLimit = errors.New("iteration limit exceeded")
)

// NodeExecutionError wraps a node failure with execution detail. It is the
// cause recorded in the node's outcome after retries are exhausted.
type NodeExecutionError struct {
	// NodeID is the failed node
	NodeID string
	// Attempts is how many executions were made before giving up
	Attempts int
	// Cause is the final attempt's error
	Cause error
}

// Error implements the error interface.
func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %q failed after %d attempt(s): %v", e.NodeID, e.Attempts, e.Cause)
}

// Unwrap returns the underlying error.
func (e *NodeExecutionError) Unwrap() error {
	return e.Cause
}

// CancellationError is the terminal error for a cancelled run.
type CancellationError struct {
	// Reason is the run's recorded cancellation reason
	Reason execution.CancellationReason
}

// Error implements the error interface.
func (e *CancellationError) Error() string {
	return fmt.Sprintf("execution cancelled: %s", e.Reason)
}

// IterationLimitError is fatal for the whole run: a cyclic graph's dirty
// set never emptied within the configured maximum iterations. It is
// distinct from a per-node failure.
type IterationLimitError struct {
	// MaxIterations is the configured limit that was exceeded
	MaxIterations int
	// DirtyNodes lists the nodes still pending re-execution
	DirtyNodes []string
}

// Error implements the error interface.
func (e *IterationLimitError) Error() string {
	return fmt.Sprintf("cyclic execution exceeded %d iterations with %d node(s) still dirty (%s)",
		e.MaxIterations, len(e.DirtyNodes), strings.Join(e.DirtyNodes, ", "))
}

// Unwrap makes the error match ErrIterationLimit under errors.Is.
func (e *IterationLimitError) Unwrap() error {
	return ErrIterationLimit
}

// RunError reports which nodes failed in a run whose unrelated branches may
// still have completed. Callers inspect the context's outcomes to tell full
// success from partial failure.
type RunError struct {
	// FailedNodes lists the IDs of nodes that ended in failure
	FailedNodes []string
}

// Error implements the error interface.
func (e *RunError) Error() string {
	return fmt.Sprintf("%v: %s", ErrRunFailed, strings.Join(e.FailedNodes, ", "))
}

// Unwrap makes the error match ErrRunFailed under errors.Is.
func (e *RunError) Unwrap() error {
	return ErrRunFailed
}

func newRunError(outcomes map[string]execution.Outcome) *RunError {
	var failed []string
	for id, o := range outcomes {
		if o.State == execution.StateFailed {
			failed = append(failed, id)
		}
	}
	sort.Strings(failed)
	return &RunError{FailedNodes: failed}
}
