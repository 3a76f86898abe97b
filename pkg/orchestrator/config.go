package orchestrator

import (
	"time"

	"github.com/wehubfusion/Daedalus/pkg/graph"
)

// Config tunes a single orchestrator instance. Zero values are normalized
// by Validate.
type Config struct {
	// MaxConcurrent bounds how many nodes execute at once across layers and
	// partition items. Non-positive falls back to the number of CPUs.
	MaxConcurrent int

	// MaxIterations caps cyclic re-execution; exceeding it is fatal for the
	// run. Defaults to 100.
	MaxIterations int

	// GracePeriod is how long in-flight nodes get to finish after
	// cancellation is observed before being abandoned. Defaults to 5s.
	GracePeriod time.Duration

	// RunTimeout is the graph-scoped deadline for a whole run; zero means
	// no run-level deadline.
	RunTimeout time.Duration

	// DefaultRetry applies to nodes that do not declare their own policy.
	DefaultRetry graph.RetryPolicy

	// LockTimeout bounds artifact lock acquisition during node
	// materialization. Defaults to 30s.
	LockTimeout time.Duration
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations: 100,
		GracePeriod:   5 * time.Second,
		LockTimeout:   30 * time.Second,
		DefaultRetry:  graph.RetryPolicy{MaxAttempts: 1},
	}
}

// Validate normalizes unset fields.
func (c *Config) Validate() {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 100
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = 5 * time.Second
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = 30 * time.Second
	}
	c.DefaultRetry = c.DefaultRetry.Normalize()
}
