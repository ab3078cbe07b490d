package events

import (
	"time"

	"github.com/google/uuid"
)

// Event defines the contract for all session events published on the
// internal bus.
type Event interface {
	// EventType returns the unique code for this event (e.g., "RESPONSE_DELIVERED").
	EventType() string

	// Owner returns the identity of the user the event targets.
	Owner() uuid.UUID

	// Payload returns the data associated with the event.
	Payload() map[string]interface{}

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type codes.
const (
	TypeResponseDelivered = "RESPONSE_DELIVERED"
	TypeSessionDegraded   = "SESSION_DEGRADED"
	TypeIntakeChanged     = "INTAKE_CHANGED"
)

// SessionEvent is the concrete event emitted by the relay orchestrator.
type SessionEvent struct {
	Type       string
	OwnerId    uuid.UUID
	SessionId  uuid.UUID
	Data       map[string]interface{}
	OccurredAt time.Time
}

func (e SessionEvent) EventType() string {
	return e.Type
}

func (e SessionEvent) Owner() uuid.UUID {
	return e.OwnerId
}

func (e SessionEvent) Payload() map[string]interface{} {
	payload := map[string]interface{}{
		"session_id": e.SessionId.String(),
	}
	for k, v := range e.Data {
		payload[k] = v
	}
	return payload
}

func (e SessionEvent) Timestamp() time.Time {
	return e.OccurredAt
}
