// Package artifact defines the materialized output of a node execution.
// An artifact is an opaque payload paired with a freshness fingerprint that
// the materializer uses to decide whether a cached value is still current.
package artifact

import (
	"time"
)

// Artifact is the materialized result of one node for one execution.
// The payload is opaque to the engine; consumers receive it either as a
// shared reference or as a deep copy depending on the active cloning policy.
type Artifact struct {
	// NodeID is the ID of the node that produced this artifact
	NodeID string `json:"nodeId"`
	// Payload is the node's output. The engine treats it as opaque data;
	// deep cloning supports JSON-shaped values natively and falls back to a
	// JSON round-trip for anything else.
	Payload interface{} `json:"payload"`
	// Fingerprint is the freshness marker used for staleness checks.
	// Artifacts with matching fingerprints are considered interchangeable.
	Fingerprint Fingerprint `json:"fingerprint"`
	// ProducedAt records when the artifact was computed
	ProducedAt time.Time `json:"producedAt"`
}

// New creates an artifact for the given node with a fingerprint computed
// from the payload.
func New(nodeID string, payload interface{}) *Artifact {
	return &Artifact{
		NodeID:      nodeID,
		Payload:     payload,
		Fingerprint: Compute(payload),
		ProducedAt:  time.Now().UTC(),
	}
}

// NewWithFingerprint creates an artifact carrying an explicit freshness
// marker, for producers that derive freshness from their inputs rather than
// their output.
func NewWithFingerprint(nodeID string, payload interface{}, fp Fingerprint) *Artifact {
	return &Artifact{
		NodeID:      nodeID,
		Payload:     payload,
		Fingerprint: fp,
		ProducedAt:  time.Now().UTC(),
	}
}

// Clone returns a deep, independent copy of the artifact. Mutation of the
// clone's payload is invisible to the original and vice versa.
func (a *Artifact) Clone() *Artifact {
	if a == nil {
		return nil
	}
	return &Artifact{
		NodeID:      a.NodeID,
		Payload:     deepCopy(a.Payload),
		Fingerprint: a.Fingerprint,
		ProducedAt:  a.ProducedAt,
	}
}

// Fresh reports whether the artifact's fingerprint matches the given marker.
func (a *Artifact) Fresh(fp Fingerprint) bool {
	if a == nil {
		return false
	}
	return a.Fingerprint == fp
}
