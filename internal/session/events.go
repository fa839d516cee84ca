package session

import "time"

// Event types emitted to external collaborators.
const (
	EventSessionCreated   = "SessionCreated"
	EventMoveExecuted     = "MoveExecuted"
	EventSessionMigrated  = "SessionMigrated"
	EventSettlementResult = "SettlementResult"
)

// Event is one boundary notification. Attributes carry the event-specific
// payload as strings so collaborators need no shared type definitions.
type Event struct {
	Type       string            `json:"type"`
	SessionID  string            `json:"session_id"`
	Timestamp  time.Time         `json:"timestamp"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Publisher receives boundary events. Implementations must not block the
// caller; slow consumers drop rather than stall move processing.
type Publisher interface {
	Publish(event Event)
}

// NopPublisher discards all events.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}
