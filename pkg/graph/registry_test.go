package graph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func singleNodeGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := NewBuilder().AddNode(&Node{ID: "only", Unit: noopUnit()}).Build()
	require.NoError(t, err)
	return g
}

func TestRegistry_Register_RejectsDuplicateID(t *testing.T) {
	r := NewRegistry()
	first := singleNodeGraph(t)
	second := singleNodeGraph(t)

	require.NoError(t, r.Register("etl", first))
	err := r.Register("etl", second)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateGraph))

	// The first registration stays in place.
	got, err := r.Get("etl")
	require.NoError(t, err)
	assert.Same(t, first, got)
}

func TestRegistry_Register_RejectsEmptyIDAndNilGraph(t *testing.T) {
	r := NewRegistry()

	assert.Error(t, r.Register("", singleNodeGraph(t)))
	assert.Error(t, r.Register("etl", nil))
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_Get_Unknown(t *testing.T) {
	r := NewRegistry()

	_, err := r.Get("missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGraphNotFound))
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("etl", singleNodeGraph(t)))

	assert.True(t, r.Unregister("etl"))
	assert.False(t, r.Unregister("etl"))
	assert.False(t, r.Contains("etl"))
}

func TestRegistry_IDs_Sorted(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("zeta", singleNodeGraph(t)))
	require.NoError(t, r.Register("alpha", singleNodeGraph(t)))

	assert.Equal(t, []string{"alpha", "zeta"}, r.IDs())
}
