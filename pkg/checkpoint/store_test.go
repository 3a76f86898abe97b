package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wehubfusion/Daedalus/pkg/execution"
)

func sampleMeta(executionID string, layer int) execution.ContextMetadata {
	return execution.ContextMetadata{
		ExecutionID:    executionID,
		GraphID:        "etl",
		CompletedNodes: []string{"extract", "transform"},
		LayerIndex:     layer,
		TakenAt:        time.Now().UTC(),
	}
}

func TestMemoryStore_SaveLoad(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, sampleMeta("run-1", 1)))

	meta, err := s.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "etl", meta.GraphID)
	assert.Equal(t, []string{"extract", "transform"}, meta.CompletedNodes)
	assert.Equal(t, 1, meta.LayerIndex)
}

func TestMemoryStore_Save_LaterCheckpointWins(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, sampleMeta("run-1", 1)))
	require.NoError(t, s.Save(ctx, sampleMeta("run-1", 3)))

	meta, err := s.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 3, meta.LayerIndex)
}

func TestMemoryStore_Save_RequiresExecutionID(t *testing.T) {
	s := NewMemoryStore()

	err := s.Save(context.Background(), execution.ContextMetadata{GraphID: "etl"})
	assert.Error(t, err)
}

func TestMemoryStore_Load_NotFound(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_Delete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, sampleMeta("run-1", 1)))
	require.NoError(t, s.Delete(ctx, "run-1"))
	require.NoError(t, s.Delete(ctx, "run-1")) // idempotent

	_, err := s.Load(ctx, "run-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_List_Sorted(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, sampleMeta("run-b", 1)))
	require.NoError(t, s.Save(ctx, sampleMeta("run-a", 1)))

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-a", "run-b"}, ids)
}

func TestMemoryStore_RoundTripThroughRestore(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	original := execution.NewContext("etl")
	original.MarkCompleted("extract", nil, 1)
	require.NoError(t, s.Save(ctx, original.Snapshot()))

	meta, err := s.Load(ctx, original.ExecutionID)
	require.NoError(t, err)

	restored := execution.Restore(meta)
	assert.Equal(t, original.ExecutionID, restored.ExecutionID)
	assert.True(t, restored.Completed("extract"))
}
