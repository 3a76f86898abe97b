package aggregator

import "sync"

// Counter accumulates a running int64 total. Non-numeric folds count as 1,
// so it doubles as an occurrence counter.
type Counter struct {
	mu    sync.Mutex
	total int64
}

// NewCounter returns a zeroed counter. Usable as a Factory via
// func() Aggregator { return NewCounter() }.
func NewCounter() *Counter {
	return &Counter{}
}

// Fold adds the value to the running total.
func (c *Counter) Fold(value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch v := value.(type) {
	case int:
		c.total += int64(v)
	case int64:
		c.total += v
	case float64:
		c.total += int64(v)
	default:
		c.total++
	}
}

// Value returns the current total as int64.
func (c *Counter) Value() interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Total returns the current total without boxing.
func (c *Counter) Total() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Reset zeroes the counter.
func (c *Counter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total = 0
}

// Collector accumulates folded values in arrival order. Commonly used to
// gather per-node errors or partial results across a run.
type Collector struct {
	mu    sync.Mutex
	items []interface{}
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Fold appends the value.
func (c *Collector) Fold(value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, value)
}

// Value returns a copy of the collected values.
func (c *Collector) Value() interface{} {
	return c.Items()
}

// Items returns a copy of the collected values.
func (c *Collector) Items() []interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]interface{}, len(c.items))
	copy(out, c.items)
	return out
}

// Reset discards all collected values.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = nil
}
