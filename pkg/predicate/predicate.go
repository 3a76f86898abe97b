// Package predicate provides edge-predicate implementations for conditional
// routing. Besides plain Go functions (graph.PredicateFunc), hosts can guard
// edges with JavaScript expressions evaluated against the producer's
// artifact payload in a sandboxed, pooled VM.
package predicate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/wehubfusion/Daedalus/pkg/artifact"
)

// DefaultEvalTimeout bounds a single expression evaluation.
const DefaultEvalTimeout = 2 * time.Second

// JS is a conditional-routing predicate backed by a JavaScript expression.
// The expression sees two globals: `payload`, the producer artifact's
// payload, and `nodeId`, the producer's ID. Its result is coerced to a
// boolean. JS implements graph.Predicate.
type JS struct {
	source  string
	program *goja.Program
	pool    sync.Pool
	timeout time.Duration
}

// CompileJS compiles an expression into a reusable predicate. Compilation
// errors surface here, at graph-construction time, not mid-run.
func CompileJS(expr string) (*JS, error) {
	if expr == "" {
		return nil, errors.New("predicate expression cannot be empty")
	}
	program, err := goja.Compile("predicate", expr, true)
	if err != nil {
		return nil, fmt.Errorf("failed to compile predicate expression: %w", err)
	}
	p := &JS{source: expr, program: program, timeout: DefaultEvalTimeout}
	p.pool.New = func() interface{} { return newSandboxedVM() }
	return p, nil
}

// MustCompileJS is CompileJS that panics on error, for statically known
// expressions in graph-construction code.
func MustCompileJS(expr string) *JS {
	p, err := CompileJS(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// WithTimeout returns the predicate with a custom evaluation timeout.
func (p *JS) WithTimeout(d time.Duration) *JS {
	if d > 0 {
		p.timeout = d
	}
	return p
}

// Source returns the original expression text.
func (p *JS) Source() string {
	return p.source
}

// Evaluate implements graph.Predicate. Evaluation is bounded by the
// predicate's timeout; a timed-out or thrown expression fails the edge
// evaluation rather than silently routing.
func (p *JS) Evaluate(ctx context.Context, a *artifact.Artifact) (bool, error) {
	vm := p.pool.Get().(*goja.Runtime)
	defer p.pool.Put(vm)

	var payload interface{}
	nodeID := ""
	if a != nil {
		// The expression gets its own copy so a mutating predicate cannot
		// corrupt the cached artifact.
		payload = artifact.DeepCopy(a.Payload)
		nodeID = a.NodeID
	}
	if err := vm.Set("payload", payload); err != nil {
		return false, fmt.Errorf("failed to bind payload: %w", err)
	}
	if err := vm.Set("nodeId", nodeID); err != nil {
		return false, fmt.Errorf("failed to bind nodeId: %w", err)
	}

	timeout := p.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	timer := time.AfterFunc(timeout, func() {
		vm.Interrupt("predicate evaluation timed out")
	})
	defer timer.Stop()

	value, err := vm.RunProgram(p.program)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return false, fmt.Errorf("predicate evaluation timed out after %s", timeout)
		}
		return false, fmt.Errorf("predicate evaluation failed: %w", err)
	}

	return value.ToBoolean(), nil
}

// newSandboxedVM creates a VM with host-reachable globals removed, so
// routing expressions stay pure functions of the payload.
func newSandboxedVM() *goja.Runtime {
	vm := goja.New()
	for _, name := range []string{"eval", "Function"} {
		_ = vm.Set(name, goja.Undefined())
	}
	return vm
}
