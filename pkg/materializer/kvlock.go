package materializer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// KVLocker is a distributed artifact locker backed by a NATS JetStream
// key-value bucket. A lock is held by creating the key; Create fails while
// another holder exists, and the bucket TTL reclaims locks abandoned by
// crashed processes.
type KVLocker struct {
	kv       nats.KeyValue
	holderID string
	poll     time.Duration
	logger   *zap.Logger
}

// KVLockerConfig configures the distributed locker.
type KVLockerConfig struct {
	// Bucket is the KV bucket name holding lock keys
	Bucket string
	// TTL reclaims locks whose holder died without releasing. Defaults to 1 minute.
	TTL time.Duration
	// PollInterval is how often waiting acquirers re-attempt. Defaults to 100ms.
	PollInterval time.Duration
}

// Validate normalizes the configuration.
func (c *KVLockerConfig) Validate() error {
	if c.Bucket == "" {
		return errors.New("bucket name cannot be empty")
	}
	if c.TTL <= 0 {
		c.TTL = time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	return nil
}

// NewKVLocker creates a distributed locker on the given JetStream context,
// creating the bucket if it does not exist.
func NewKVLocker(js nats.JetStreamContext, config KVLockerConfig, logger *zap.Logger) (*KVLocker, error) {
	if js == nil {
		return nil, errors.New("JetStream context cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	kv, err := js.KeyValue(config.Bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket: config.Bucket,
			TTL:    config.TTL,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open lock bucket %q: %w", config.Bucket, err)
	}

	return &KVLocker{
		kv:       kv,
		holderID: uuid.NewString(),
		poll:     config.PollInterval,
		logger:   logger,
	}, nil
}

// Acquire implements Locker. The lock key records the holder ID so operators
// can see who owns a contended artifact.
func (l *KVLocker) Acquire(ctx context.Context, key string, wait bool, timeout time.Duration) (func(), error) {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	deadline := time.Now().Add(timeout)

	for {
		_, err := l.kv.Create(key, []byte(l.holderID))
		if err == nil {
			l.logger.Debug("acquired artifact lock",
				zap.String("key", key),
				zap.String("holderID", l.holderID))
			return func() { l.release(key) }, nil
		}
		if !errors.Is(err, nats.ErrKeyExists) {
			return nil, fmt.Errorf("failed to acquire lock for %q: %w", key, err)
		}
		if !wait || time.Now().After(deadline) {
			return nil, &LockTimeoutError{Key: key, Timeout: timeout}
		}

		select {
		case <-time.After(l.poll):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (l *KVLocker) release(key string) {
	// Only the holder should delete; a stale delete after TTL expiry would
	// otherwise release someone else's lock.
	entry, err := l.kv.Get(key)
	if err != nil {
		return
	}
	if string(entry.Value()) != l.holderID {
		l.logger.Warn("skipping release of lock held by another process",
			zap.String("key", key),
			zap.String("holderID", l.holderID))
		return
	}
	if err := l.kv.Delete(key); err != nil {
		l.logger.Warn("failed to release artifact lock",
			zap.String("key", key),
			zap.Error(err))
	}
}
