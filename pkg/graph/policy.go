package graph

// CloningPolicy governs whether downstream consumers of an artifact receive
// a shared reference or an isolated copy. The policy is resolved per edge:
// a node-level override beats the graph default.
type CloningPolicy int

const (
	// LazyClone hands the original to the first consumer in declared edge
	// order and deep copies for every later consumer on a fan-out. This is
	// the default: zero-copy for the common single-consumer case while still
	// isolating mutation in true fan-out.
	LazyClone CloningPolicy = iota
	// AlwaysClone gives every consumer an independent copy
	AlwaysClone
	// NeverClone gives every consumer the same shared reference; consuming
	// units must treat their inputs as read-only
	NeverClone
)

// String returns the policy name.
func (p CloningPolicy) String() string {
	switch p {
	case AlwaysClone:
		return "AlwaysClone"
	case NeverClone:
		return "NeverClone"
	case LazyClone:
		return "LazyClone"
	default:
		return "Unknown"
	}
}

// PolicyPtr returns a pointer to the given policy, for node-level overrides.
func PolicyPtr(p CloningPolicy) *CloningPolicy {
	return &p
}
