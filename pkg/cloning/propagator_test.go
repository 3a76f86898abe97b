package cloning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wehubfusion/Daedalus/pkg/artifact"
	"github.com/wehubfusion/Daedalus/pkg/graph"
)

func payloadArtifact() *artifact.Artifact {
	return artifact.New("producer", map[string]interface{}{"value": 1})
}

func TestPropagator_NeverClone_SharesInstance(t *testing.T) {
	p := NewPropagator()
	a := payloadArtifact()

	out := p.Propagate(a, graph.NeverClone, []string{"b", "c"})

	require.Len(t, out, 2)
	assert.Same(t, a, out["b"])
	assert.Same(t, a, out["c"])
}

func TestPropagator_AlwaysClone_CopiesEveryEdge(t *testing.T) {
	p := NewPropagator()
	a := payloadArtifact()

	out := p.Propagate(a, graph.AlwaysClone, []string{"b", "c"})

	require.Len(t, out, 2)
	assert.NotSame(t, a, out["b"])
	assert.NotSame(t, a, out["c"])
	assert.NotSame(t, out["b"], out["c"])

	// Copies are deep: mutating one consumer's view leaves the rest intact.
	out["b"].Payload.(map[string]interface{})["value"] = 99
	assert.Equal(t, 1, a.Payload.(map[string]interface{})["value"])
	assert.Equal(t, 1, out["c"].Payload.(map[string]interface{})["value"])
}

func TestPropagator_LazyClone_FirstEdgeGetsOriginal(t *testing.T) {
	p := NewPropagator()
	a := payloadArtifact()

	out := p.Propagate(a, graph.LazyClone, []string{"b", "c", "d"})

	require.Len(t, out, 3)
	assert.Same(t, a, out["b"])
	assert.NotSame(t, a, out["c"])
	assert.NotSame(t, a, out["d"])
}

func TestPropagator_LazyClone_SingleConsumerAvoidsCopy(t *testing.T) {
	p := NewPropagator()
	a := payloadArtifact()

	out := p.Propagate(a, graph.LazyClone, []string{"b"})

	assert.Same(t, a, out["b"])
}

func TestPropagator_LazyClone_HandOffTrackedAcrossCalls(t *testing.T) {
	p := NewPropagator()
	a := payloadArtifact()

	first := p.Deliver(a, graph.LazyClone)
	second := p.Deliver(a, graph.LazyClone)

	assert.Same(t, a, first)
	assert.NotSame(t, a, second)
}

func TestPropagator_Propagate_NoEdges(t *testing.T) {
	p := NewPropagator()

	out := p.Propagate(payloadArtifact(), graph.LazyClone, nil)

	assert.Empty(t, out)
}
