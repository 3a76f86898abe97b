package graph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDuplicateGraph is returned when registering a graph under an ID
	// that is already taken.
	ErrDuplicateGraph = errors.New("graph ID already registered")

	// ErrGraphNotFound is returned when a registry lookup misses.
	ErrGraphNotFound = errors.New("graph not found")
)

// ValidationError describes a malformed graph. It is fatal at registration
// or build time and never surfaces mid-run.
type ValidationError struct {
	// NodeID identifies the offending node, when the failure is node-local
	NodeID string
	// Reason is a human-readable description of the failure
	Reason string
	// Cycle holds a witness path when the failure is an illegal cycle
	Cycle []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	msg := "graph validation failed"
	if e.NodeID != "" {
		msg += fmt.Sprintf(" at node %q", e.NodeID)
	}
	msg += ": " + e.Reason
	if len(e.Cycle) > 0 {
		msg += " (" + strings.Join(e.Cycle, " -> ") + ")"
	}
	return msg
}

// IsValidation reports whether err is a graph validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
