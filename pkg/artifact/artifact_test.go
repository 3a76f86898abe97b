package artifact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ComputesFingerprint(t *testing.T) {
	a := New("extract", map[string]interface{}{"rows": 10})

	assert.Equal(t, "extract", a.NodeID)
	assert.NotEmpty(t, a.Fingerprint)
	assert.False(t, a.ProducedAt.IsZero())
}

func TestCompute_OrderInsensitive(t *testing.T) {
	first := Compute(map[string]interface{}{"a": 1, "b": "x", "c": []interface{}{1, 2}})
	second := Compute(map[string]interface{}{"c": []interface{}{1, 2}, "b": "x", "a": 1})

	assert.Equal(t, first, second)
}

func TestCompute_DistinguishesPayloads(t *testing.T) {
	assert.NotEqual(t, Compute(map[string]interface{}{"a": 1}), Compute(map[string]interface{}{"a": 2}))
	assert.NotEqual(t, Compute([]interface{}{1, 2}), Compute([]interface{}{2, 1}))
}

func TestCombine_SensitiveToOrderAndContent(t *testing.T) {
	fp1 := Compute("one")
	fp2 := Compute("two")

	assert.Equal(t, Combine(fp1, fp2), Combine(fp1, fp2))
	assert.NotEqual(t, Combine(fp1, fp2), Combine(fp2, fp1))
	assert.NotEqual(t, Combine(fp1), Combine(fp1, fp2))
}

func TestClone_IsolatesNestedPayload(t *testing.T) {
	original := New("load", map[string]interface{}{
		"meta": map[string]interface{}{"region": "eu-west"},
		"rows": []interface{}{1, 2, 3},
	})

	clone := original.Clone()
	require.NotSame(t, original, clone)

	clonePayload := clone.Payload.(map[string]interface{})
	clonePayload["meta"].(map[string]interface{})["region"] = "us-east"
	clonePayload["rows"] = append(clonePayload["rows"].([]interface{}), 4)

	originalPayload := original.Payload.(map[string]interface{})
	assert.Equal(t, "eu-west", originalPayload["meta"].(map[string]interface{})["region"])
	assert.Len(t, originalPayload["rows"], 3)

	assert.Equal(t, original.NodeID, clone.NodeID)
	assert.Equal(t, original.Fingerprint, clone.Fingerprint)
}

func TestClone_NilArtifact(t *testing.T) {
	var a *Artifact
	assert.Nil(t, a.Clone())
}

func TestFresh(t *testing.T) {
	a := NewWithFingerprint("node", "payload", Fingerprint("abc"))

	assert.True(t, a.Fresh(Fingerprint("abc")))
	assert.False(t, a.Fresh(Fingerprint("def")))
}
