package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common validation errors for WebhookEndpoint
var (
	ErrEmptyEndpointID     = errors.New("endpoint ID cannot be empty")
	ErrEmptyEndpointOrgKey = errors.New("endpoint org key cannot be empty")
	ErrEmptyEndpointURL    = errors.New("endpoint URL cannot be empty")
	ErrNoEventTypes        = errors.New("endpoint must subscribe to at least one event type")
)

// Event types delivered to webhook endpoints.
const (
	EventReviewCompleted             = "review.completed"
	EventReviewFailed                = "review.failed"
	EventReviewOptimizationCompleted = "review.optimization.completed"
)

// knownEventTypes is the set of event types an endpoint may subscribe to.
var knownEventTypes = map[string]struct{}{
	EventReviewCompleted:             {},
	EventReviewFailed:                {},
	EventReviewOptimizationCompleted: {},
}

// WebhookEndpoint is a registered delivery target for outbound event
// notifications.
//
// Invariant: Enabled=false with a non-nil RetryAt means the endpoint is
// temporarily disabled and eligible for automatic re-enable; Enabled=false
// with a nil RetryAt means it is permanently disabled pending manual action.
type WebhookEndpoint struct {
	ID             uuid.UUID  `json:"id"`
	OrgKey         string     `json:"org_key"`
	URL            string     `json:"url"`
	Secret         string     `json:"-"`
	EventTypes     []string   `json:"event_types"`
	Enabled        bool       `json:"enabled"`
	FailureCount   int        `json:"failure_count"`
	RetryCount     int        `json:"retry_count"`
	RetryAt        *time.Time `json:"retry_at,omitempty"`
	DisabledAt     *time.Time `json:"disabled_at,omitempty"`
	LastDeliveryAt *time.Time `json:"last_delivery_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// NewWebhookEndpoint creates an enabled endpoint for the given org,
// URL and subscribed event types. The secret may be empty, in which case
// deliveries are unsigned.
// Returns an error if validation fails.
func NewWebhookEndpoint(orgKey, url, secret string, eventTypes []string) (*WebhookEndpoint, error) {
	now := time.Now().UTC()
	endpoint := &WebhookEndpoint{
		ID:         uuid.New(),
		OrgKey:     orgKey,
		URL:        url,
		Secret:     secret,
		EventTypes: eventTypes,
		Enabled:    true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := endpoint.Validate(); err != nil {
		return nil, err
	}

	return endpoint, nil
}

// Validate checks if the WebhookEndpoint has valid data.
// Returns an error if any field fails validation.
func (e *WebhookEndpoint) Validate() error {
	if e.ID == uuid.Nil {
		return ErrEmptyEndpointID
	}

	if e.OrgKey == "" {
		return ErrEmptyEndpointOrgKey
	}

	if e.URL == "" {
		return ErrEmptyEndpointURL
	}

	if len(e.EventTypes) == 0 {
		return ErrNoEventTypes
	}

	for _, et := range e.EventTypes {
		if _, ok := knownEventTypes[et]; !ok {
			return errors.New("unknown event type: " + et)
		}
	}

	return nil
}

// SubscribedTo reports whether the endpoint subscribes to the given event type.
func (e *WebhookEndpoint) SubscribedTo(eventType string) bool {
	for _, et := range e.EventTypes {
		if et == eventType {
			return true
		}
	}
	return false
}

// PermanentlyDisabled reports whether the endpoint is disabled with no
// scheduled retry, meaning manual re-enable is required.
func (e *WebhookEndpoint) PermanentlyDisabled() bool {
	return !e.Enabled && e.RetryAt == nil
}
