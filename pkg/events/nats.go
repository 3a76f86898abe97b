package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSPublisher forwards lifecycle events to a NATS subject so external
// collectors can follow runs without linking against the engine. Events are
// published as JSON on <prefix>.<executionID>.<kind>.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	wanted map[Kind]bool
}

// NewNATSPublisher creates a publishing observer. With no kinds listed,
// every event is published.
func NewNATSPublisher(conn *nats.Conn, subjectPrefix string, kinds ...Kind) (*NATSPublisher, error) {
	if conn == nil {
		return nil, errors.New("NATS connection cannot be nil")
	}
	if subjectPrefix == "" {
		subjectPrefix = "daedalus.events"
	}
	var wanted map[Kind]bool
	if len(kinds) > 0 {
		wanted = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			wanted[k] = true
		}
	}
	return &NATSPublisher{conn: conn, prefix: subjectPrefix, wanted: wanted}, nil
}

// ShouldProcess implements Observer.
func (p *NATSPublisher) ShouldProcess(e Event) bool {
	if p.wanted == nil {
		return true
	}
	return p.wanted[e.Kind]
}

// OnEvent implements Observer.
func (p *NATSPublisher) OnEvent(e Event) error {
	payload := struct {
		Event
		Error string `json:"error,omitempty"`
	}{Event: e}
	if e.Err != nil {
		payload.Error = e.Err.Error()
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	subject := fmt.Sprintf("%s.%s.%s", p.prefix, e.ExecutionID, e.Kind)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish event to %s: %w", subject, err)
	}
	return nil
}
