package predicate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wehubfusion/Daedalus/pkg/artifact"
)

func TestCompileJS_RejectsInvalidInput(t *testing.T) {
	_, err := CompileJS("")
	assert.Error(t, err)

	_, err = CompileJS("payload.count >")
	assert.Error(t, err)
}

func TestMustCompileJS_PanicsOnError(t *testing.T) {
	assert.Panics(t, func() { MustCompileJS("((") })
	assert.NotPanics(t, func() { MustCompileJS("true") })
}

func TestJS_Evaluate_PayloadExpression(t *testing.T) {
	p, err := CompileJS("payload.count > 2 && payload.region === 'eu-west'")
	require.NoError(t, err)

	a := artifact.New("load", map[string]interface{}{"count": 3, "region": "eu-west"})
	ok, err := p.Evaluate(context.Background(), a)
	require.NoError(t, err)
	assert.True(t, ok)

	a = artifact.New("load", map[string]interface{}{"count": 1, "region": "eu-west"})
	ok, err = p.Evaluate(context.Background(), a)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestJS_Evaluate_SeesProducerNodeID(t *testing.T) {
	p := MustCompileJS("nodeId === 'load'")

	ok, err := p.Evaluate(context.Background(), artifact.New("load", nil))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.Evaluate(context.Background(), artifact.New("other", nil))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestJS_Evaluate_CoercesResultToBoolean(t *testing.T) {
	p := MustCompileJS("payload.items.length")

	ok, err := p.Evaluate(context.Background(), artifact.New("load", map[string]interface{}{
		"items": []interface{}{1},
	}))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.Evaluate(context.Background(), artifact.New("load", map[string]interface{}{
		"items": []interface{}{},
	}))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestJS_Evaluate_NilArtifact(t *testing.T) {
	p := MustCompileJS("payload === null || payload === undefined")

	ok, err := p.Evaluate(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestJS_Evaluate_CannotMutateArtifact(t *testing.T) {
	p := MustCompileJS("(payload.count = 99) === 99")

	payload := map[string]interface{}{"count": 1}
	a := artifact.New("load", payload)

	ok, err := p.Evaluate(context.Background(), a)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, payload["count"])
}

func TestJS_Evaluate_ThrownExpressionFails(t *testing.T) {
	p := MustCompileJS("payload.missing.deeper")

	_, err := p.Evaluate(context.Background(), artifact.New("load", map[string]interface{}{}))
	assert.Error(t, err)
}

func TestJS_Evaluate_TimeoutInterruptsRunawayExpression(t *testing.T) {
	p := MustCompileJS("while (true) {}").WithTimeout(50 * time.Millisecond)

	start := time.Now()
	_, err := p.Evaluate(context.Background(), artifact.New("load", nil))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestJS_Evaluate_SandboxBlocksEval(t *testing.T) {
	p := MustCompileJS("typeof eval === 'undefined' && typeof Function === 'undefined'")

	ok, err := p.Evaluate(context.Background(), artifact.New("load", nil))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestJS_Evaluate_ConcurrentUse(t *testing.T) {
	p := MustCompileJS("payload.count > 0")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := p.Evaluate(context.Background(), artifact.New("load", map[string]interface{}{"count": 1}))
			assert.NoError(t, err)
			assert.True(t, ok)
		}()
	}
	wg.Wait()
}
