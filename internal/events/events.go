package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobEvent represents a job lifecycle notification, e.g. "review.completed".
// It carries the owning org scope and a JSON payload so handlers need no
// dependency on the job types themselves.
type JobEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Type is the event type string, e.g. "review.completed"
	Type string `json:"type"`

	// OrgKey identifies the scope whose endpoints should be notified
	OrgKey string `json:"org_key"`

	// Payload contains the event-specific data serialized as JSON
	Payload json.RawMessage `json:"payload"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"created_at"`
}

// UnmarshalPayload decodes the event payload into the provided structure.
func (e *JobEvent) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// NewJobEvent creates a new JobEvent with the specified type, scope and payload.
func NewJobEvent(eventType, orgKey string, payload interface{}) (*JobEvent, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &JobEvent{
		ID:        uuid.New(),
		Type:      eventType,
		OrgKey:    orgKey,
		Payload:   payloadBytes,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// EventHandler defines an interface for components that can handle events.
// Handlers are responsible for processing events and taking appropriate actions.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *JobEvent) error
}

// EventEmitter defines an interface for components that can emit events.
// This allows services to publish events without direct knowledge of handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	// Returns an error if the event cannot be emitted.
	EmitEvent(ctx context.Context, event *JobEvent) error
}
