package aggregator

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_GetOrCreate_ReturnsSameInstance(t *testing.T) {
	r := NewRegistry()

	first := r.GetOrCreate("count", func() Aggregator { return NewCounter() })
	second := r.GetOrCreate("count", func() Aggregator { return NewCounter() })

	assert.Same(t, first, second)
}

func TestRegistry_Get_Unknown(t *testing.T) {
	r := NewRegistry()

	_, ok := r.Get("missing")
	assert.False(t, ok)
}

func TestRegistry_ResetAll(t *testing.T) {
	r := NewRegistry()
	counter := r.GetOrCreate("count", func() Aggregator { return NewCounter() })
	counter.Fold(5)

	r.ResetAll()

	assert.Equal(t, int64(0), counter.Value())
}

func TestCounter_Fold(t *testing.T) {
	c := NewCounter()

	c.Fold(2)
	c.Fold(int64(3))
	c.Fold(1.5)
	c.Fold("not a number") // counts as one occurrence

	assert.Equal(t, int64(7), c.Total())
}

func TestCounter_ConcurrentFolds(t *testing.T) {
	c := NewCounter()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Fold(1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), c.Total())
}

func TestCollector_Items_ReturnsCopy(t *testing.T) {
	c := NewCollector()
	c.Fold("a")
	c.Fold("b")

	items := c.Items()
	require.Len(t, items, 2)

	items[0] = "mutated"
	assert.Equal(t, []interface{}{"a", "b"}, c.Items())
}
