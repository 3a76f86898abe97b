package materializer

import (
	"errors"
	"fmt"
	"time"
)

// ErrLockTimeout is the sentinel wrapped by LockTimeoutError.
var ErrLockTimeout = errors.New("artifact lock timeout")

// LockTimeoutError reports that the artifact lock could not be acquired
// within the configured timeout. It is retryable by the caller and never
// auto-retried internally, to avoid unbounded recursive waiting.
type LockTimeoutError struct {
	// Key is the artifact key whose lock was contended
	Key string
	// Timeout is how long acquisition was attempted
	Timeout time.Duration
}

// Error implements the error interface.
func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s acquiring lock for artifact %q", e.Timeout, e.Key)
}

// Unwrap makes the error match ErrLockTimeout under errors.Is.
func (e *LockTimeoutError) Unwrap() error {
	return ErrLockTimeout
}

// IsLockTimeout reports whether err is a lock acquisition timeout.
func IsLockTimeout(err error) bool {
	return errors.Is(err, ErrLockTimeout)
}
