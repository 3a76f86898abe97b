package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wehubfusion/Daedalus/pkg/artifact"
)

func noopUnit() Unit {
	return UnitFunc(func(ctx context.Context, in Input) (*artifact.Artifact, error) {
		return artifact.New(in.NodeID, nil), nil
	})
}

func TestBuilder_Build_Diamond(t *testing.T) {
	g, err := NewBuilder().
		AddNode(&Node{ID: "a", Unit: noopUnit()}).
		AddNode(&Node{ID: "b", DependsOn: []string{"a"}, Unit: noopUnit()}).
		AddNode(&Node{ID: "c", DependsOn: []string{"a"}, Unit: noopUnit()}).
		AddNode(&Node{ID: "d", DependsOn: []string{"b", "c"}, Unit: noopUnit()}).
		Build()

	require.NoError(t, err)
	assert.Equal(t, 4, g.Len())
	assert.False(t, g.Cyclic())
	assert.True(t, g.Contains("d"))
	assert.Equal(t, []string{"b", "c"}, g.Consumers("a"))
}

func TestBuilder_Build_RejectsInvalidNodes(t *testing.T) {
	tests := []struct {
		name   string
		build  func() (*Graph, error)
		reason string
	}{
		{
			name: "empty ID",
			build: func() (*Graph, error) {
				return NewBuilder().AddNode(&Node{ID: "", Unit: noopUnit()}).Build()
			},
			reason: "ID",
		},
		{
			name: "duplicate ID",
			build: func() (*Graph, error) {
				return NewBuilder().
					AddNode(&Node{ID: "a", Unit: noopUnit()}).
					AddNode(&Node{ID: "a", Unit: noopUnit()}).
					Build()
			},
			reason: "duplicate",
		},
		{
			name: "nil unit",
			build: func() (*Graph, error) {
				return NewBuilder().AddNode(&Node{ID: "a"}).Build()
			},
			reason: "unit",
		},
		{
			name: "dangling dependency",
			build: func() (*Graph, error) {
				return NewBuilder().
					AddNode(&Node{ID: "a", DependsOn: []string{"ghost"}, Unit: noopUnit()}).
					Build()
			},
			reason: "ghost",
		},
		{
			name: "self dependency",
			build: func() (*Graph, error) {
				return NewBuilder().
					AddNode(&Node{ID: "a", DependsOn: []string{"a"}, Unit: noopUnit()}).
					Build()
			},
			reason: "itself",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			g, err := tc.build()
			require.Error(t, err)
			assert.Nil(t, g)
			assert.True(t, IsValidation(err), "expected a validation error, got %v", err)
			assert.Contains(t, err.Error(), tc.reason)
		})
	}
}

func TestBuilder_Build_RejectsCycleByDefault(t *testing.T) {
	g, err := NewBuilder().
		AddNode(&Node{ID: "a", DependsOn: []string{"c"}, Unit: noopUnit()}).
		AddNode(&Node{ID: "b", DependsOn: []string{"a"}, Unit: noopUnit()}).
		AddNode(&Node{ID: "c", DependsOn: []string{"b"}, Unit: noopUnit()}).
		Build()

	require.Error(t, err)
	assert.Nil(t, g)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.NotEmpty(t, verr.Cycle)
}

func TestBuilder_AllowCycles_RecordsBackEdges(t *testing.T) {
	g, err := NewBuilder().
		AllowCycles().
		AddNode(&Node{ID: "a", DependsOn: []string{"b"}, Unit: noopUnit()}).
		AddNode(&Node{ID: "b", DependsOn: []string{"a"}, Unit: noopUnit()}).
		Build()

	require.NoError(t, err)
	assert.True(t, g.Cyclic())
	// Exactly one direction of the cycle is a back edge.
	assert.NotEqual(t, g.IsBackEdge("a", "b"), g.IsBackEdge("b", "a"))
}

func TestGraph_Layers_Diamond(t *testing.T) {
	g, err := NewBuilder().
		AddNode(&Node{ID: "a", Unit: noopUnit()}).
		AddNode(&Node{ID: "b", DependsOn: []string{"a"}, Unit: noopUnit()}).
		AddNode(&Node{ID: "c", DependsOn: []string{"a"}, Unit: noopUnit()}).
		AddNode(&Node{ID: "d", DependsOn: []string{"b", "c"}, Unit: noopUnit()}).
		Build()
	require.NoError(t, err)

	layers, err := g.Layers(nil)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a"}, {"b", "c"}, {"d"}}, layers)
}

func TestGraph_Layers_PendingSubset(t *testing.T) {
	g, err := NewBuilder().
		AddNode(&Node{ID: "a", Unit: noopUnit()}).
		AddNode(&Node{ID: "b", DependsOn: []string{"a"}, Unit: noopUnit()}).
		AddNode(&Node{ID: "c", DependsOn: []string{"b"}, Unit: noopUnit()}).
		Build()
	require.NoError(t, err)

	// Dependencies outside the subset count as satisfied.
	layers, err := g.Layers(map[string]bool{"b": true, "c": true})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"b"}, {"c"}}, layers)

	layers, err = g.Layers(map[string]bool{})
	require.NoError(t, err)
	assert.Empty(t, layers)
}

func TestGraph_ResolveCloning(t *testing.T) {
	g, err := NewBuilder().
		WithDefaultCloning(AlwaysClone).
		AddNode(&Node{ID: "a", Unit: noopUnit()}).
		AddNode(&Node{ID: "b", Unit: noopUnit(), Cloning: PolicyPtr(NeverClone)}).
		Build()
	require.NoError(t, err)

	assert.Equal(t, AlwaysClone, g.ResolveCloning("a"))
	assert.Equal(t, NeverClone, g.ResolveCloning("b"))
}

func TestGraph_Descendants(t *testing.T) {
	g, err := NewBuilder().
		AddNode(&Node{ID: "a", Unit: noopUnit()}).
		AddNode(&Node{ID: "b", DependsOn: []string{"a"}, Unit: noopUnit()}).
		AddNode(&Node{ID: "c", DependsOn: []string{"b"}, Unit: noopUnit()}).
		AddNode(&Node{ID: "x", Unit: noopUnit()}).
		Build()
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"b", "c"}, g.Descendants("a"))
	assert.Empty(t, g.Descendants("x"))
}
