package materializer

import (
	"context"
	"sync"
	"time"
)

// Locker serializes artifact computation per key. Acquire returns a release
// function on success. With wait true, acquisition blocks up to timeout for
// the current holder to finish; with wait false it fails fast. Either path
// surfaces contention as a *LockTimeoutError.
type Locker interface {
	Acquire(ctx context.Context, key string, wait bool, timeout time.Duration) (release func(), err error)
}

// MutexLocker is the in-process locker: one slot per artifact key. It is
// sufficient when a single process hosts every run; multi-process
// deployments use KVLocker instead.
type MutexLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewMutexLocker creates an in-process artifact locker.
func NewMutexLocker() *MutexLocker {
	return &MutexLocker{slots: make(map[string]chan struct{})}
}

func (l *MutexLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = make(chan struct{}, 1)
		l.slots[key] = s
	}
	return s
}

// Acquire implements Locker.
func (l *MutexLocker) Acquire(ctx context.Context, key string, wait bool, timeout time.Duration) (func(), error) {
	s := l.slot(key)
	release := func() { <-s }

	if !wait {
		select {
		case s <- struct{}{}:
			return release, nil
		default:
			return nil, &LockTimeoutError{Key: key, Timeout: 0}
		}
	}

	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s <- struct{}{}:
		return release, nil
	case <-timer.C:
		return nil, &LockTimeoutError{Key: key, Timeout: timeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
