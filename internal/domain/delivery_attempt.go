package domain

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryAttempt records one outbound webhook HTTP call. Attempts are
// append-only; they are never mutated after creation. HTTPStatus is nil
// when the request failed before receiving a response.
type DeliveryAttempt struct {
	ID           uuid.UUID `json:"id"`
	EndpointID   uuid.UUID `json:"endpoint_id"`
	EventType    string    `json:"event_type"`
	Payload      []byte    `json:"payload"`
	Signature    string    `json:"signature,omitempty"`
	HTTPStatus   *int      `json:"http_status,omitempty"`
	Success      bool      `json:"success"`
	DurationMs   int64     `json:"duration_ms"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewDeliveryAttempt creates a DeliveryAttempt for the given endpoint and
// event. The remaining fields are filled in by the dispatcher once the
// HTTP call has finished.
func NewDeliveryAttempt(endpointID uuid.UUID, eventType string, payload []byte, signature string) *DeliveryAttempt {
	return &DeliveryAttempt{
		ID:         uuid.New(),
		EndpointID: endpointID,
		EventType:  eventType,
		Payload:    payload,
		Signature:  signature,
		CreatedAt:  time.Now().UTC(),
	}
}
