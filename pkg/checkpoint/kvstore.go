package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/wehubfusion/Daedalus/pkg/execution"
	"go.uber.org/zap"
)

// KVStore persists checkpoints in a NATS JetStream key-value bucket, keyed
// by execution ID. Useful when the process resuming a run is not the one
// that started it.
type KVStore struct {
	kv     nats.KeyValue
	logger *zap.Logger
}

// NewKVStore opens (or creates) the checkpoint bucket on the given
// JetStream context.
func NewKVStore(js nats.JetStreamContext, bucket string, logger *zap.Logger) (*KVStore, error) {
	if js == nil {
		return nil, errors.New("JetStream context cannot be nil")
	}
	if bucket == "" {
		bucket = "DAEDALUS_CHECKPOINTS"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{Bucket: bucket})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint bucket %q: %w", bucket, err)
	}

	return &KVStore{kv: kv, logger: logger}, nil
}

// Save implements Store.
func (s *KVStore) Save(_ context.Context, meta execution.ContextMetadata) error {
	if meta.ExecutionID == "" {
		return errors.New("checkpoint has no execution ID")
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	if _, err := s.kv.Put(meta.ExecutionID, data); err != nil {
		return fmt.Errorf("failed to store checkpoint for %q: %w", meta.ExecutionID, err)
	}
	s.logger.Debug("checkpoint saved",
		zap.String("executionID", meta.ExecutionID),
		zap.Int("layerIndex", meta.LayerIndex),
		zap.Int("completedNodes", len(meta.CompletedNodes)))
	return nil
}

// Load implements Store.
func (s *KVStore) Load(_ context.Context, executionID string) (execution.ContextMetadata, error) {
	entry, err := s.kv.Get(executionID)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return execution.ContextMetadata{}, ErrNotFound
	}
	if err != nil {
		return execution.ContextMetadata{}, fmt.Errorf("failed to load checkpoint for %q: %w", executionID, err)
	}

	var meta execution.ContextMetadata
	if err := json.Unmarshal(entry.Value(), &meta); err != nil {
		return execution.ContextMetadata{}, fmt.Errorf("failed to decode checkpoint for %q: %w", executionID, err)
	}
	return meta, nil
}

// Delete implements Store.
func (s *KVStore) Delete(_ context.Context, executionID string) error {
	err := s.kv.Delete(executionID)
	if err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete checkpoint for %q: %w", executionID, err)
	}
	return nil
}

// List implements Store.
func (s *KVStore) List(_ context.Context) ([]string, error) {
	keys, err := s.kv.Keys()
	if errors.Is(err, nats.ErrNoKeysFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	return keys, nil
}
