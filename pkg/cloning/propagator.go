// Package cloning decides, per output edge, whether a downstream consumer
// receives a producer's original artifact or an isolated deep copy.
package cloning

import (
	"sync"

	"github.com/wehubfusion/Daedalus/pkg/artifact"
	"github.com/wehubfusion/Daedalus/pkg/graph"
)

// Propagator hands a producer's artifact to its downstream edges according
// to the resolved cloning policy. For lazy cloning it tracks, per artifact
// instance, whether the original has already been handed out, so exactly one
// consumer on a fan-out gets the original regardless of how many edges
// follow.
type Propagator struct {
	mu     sync.Mutex
	handed map[*artifact.Artifact]bool
}

// NewPropagator creates a propagator. One propagator serves one run; the
// handed-out tracking must not leak across runs.
func NewPropagator() *Propagator {
	return &Propagator{handed: make(map[*artifact.Artifact]bool)}
}

// Propagate returns the artifact instance each consumer should receive, in
// the order the edges slice is given. The edge order is the declared order
// of the consumer list, never concurrency arrival order: the orchestrator
// calls Propagate once per producer before dispatching downstream work.
func (p *Propagator) Propagate(a *artifact.Artifact, policy graph.CloningPolicy, edges []string) map[string]*artifact.Artifact {
	out := make(map[string]*artifact.Artifact, len(edges))
	if a == nil {
		return out
	}

	switch policy {
	case graph.NeverClone:
		for _, consumer := range edges {
			out[consumer] = a
		}
	case graph.AlwaysClone:
		for _, consumer := range edges {
			out[consumer] = a.Clone()
		}
	default: // LazyClone
		p.mu.Lock()
		for _, consumer := range edges {
			if !p.handed[a] {
				p.handed[a] = true
				out[consumer] = a
				continue
			}
			out[consumer] = a.Clone()
		}
		p.mu.Unlock()
	}

	return out
}

// Deliver resolves a single edge. The first lazy-clone delivery for an
// artifact instance gets the original; later deliveries get copies.
func (p *Propagator) Deliver(a *artifact.Artifact, policy graph.CloningPolicy) *artifact.Artifact {
	if a == nil {
		return nil
	}
	switch policy {
	case graph.NeverClone:
		return a
	case graph.AlwaysClone:
		return a.Clone()
	default:
		p.mu.Lock()
		defer p.mu.Unlock()
		if !p.handed[a] {
			p.handed[a] = true
			return a
		}
		return a.Clone()
	}
}
