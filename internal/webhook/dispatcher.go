package webhook

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/critichq/critic-api/internal/domain"
	"github.com/critichq/critic-api/internal/events"
	"github.com/critichq/critic-api/internal/platform/logger"
	"github.com/critichq/critic-api/internal/ratelimit"
	"github.com/critichq/critic-api/internal/store"
)

// Outbound delivery headers.
const (
	headerEvent     = "X-Critic-Event"
	headerDelivery  = "X-Critic-Delivery"
	headerSignature = "X-Critic-Signature"
)

// storeTimeout bounds the store writes that follow a delivery attempt,
// independent of the HTTP deadline.
const storeTimeout = 10 * time.Second

// Config holds the dispatcher's delivery and backoff settings.
type Config struct {
	// MaxFailures is the consecutive-failure count at which an endpoint is
	// disabled.
	MaxFailures int

	// MaxPayloadBytes is the body size ceiling; larger payloads are
	// delivered in the minimal truncated form.
	MaxPayloadBytes int

	// Backoff is the retry schedule indexed by retry attempt; attempts past
	// the end reuse the final entry.
	Backoff []time.Duration

	// MaxRetryCount is the retry attempt count beyond which an endpoint is
	// permanently disabled.
	MaxRetryCount int

	// AllowedDomains optionally restricts endpoint hosts; empty means no
	// restriction.
	AllowedDomains []string

	// PerScopeLimit caps deliveries per org scope per rate-limit window.
	PerScopeLimit int

	// DeliveryTimeout bounds a single outbound HTTP call.
	DeliveryTimeout time.Duration
}

// DefaultConfig returns a Config with the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxFailures:     5,
		MaxPayloadBytes: 256 * 1024,
		Backoff: []time.Duration{
			1 * time.Hour, 2 * time.Hour, 4 * time.Hour, 8 * time.Hour, 24 * time.Hour,
		},
		MaxRetryCount:   10,
		PerScopeLimit:   100,
		DeliveryTimeout: 30 * time.Second,
	}
}

// Dispatcher validates, signs and delivers event payloads to registered
// endpoints, recording every attempt and driving the failure/backoff state
// machine. Delivery is asynchronous and fire-and-forget from the
// triggering job's perspective.
type Dispatcher struct {
	db         *sql.DB
	endpoints  store.WebhookEndpointStore
	deliveries store.DeliveryStore
	limiter    *ratelimit.Limiter
	client     *http.Client
	cfg        Config
	logger     *slog.Logger
	wg         sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. db may be nil, in which case failure
// bookkeeping runs without a wrapping transaction; stores that are not
// database-backed pass nil. A nil client gets a default HTTP client bounded
// by cfg.DeliveryTimeout. If log is nil, a default logger will be used.
func NewDispatcher(
	db *sql.DB,
	endpoints store.WebhookEndpointStore,
	deliveries store.DeliveryStore,
	limiter *ratelimit.Limiter,
	client *http.Client,
	cfg Config,
	log *slog.Logger,
) *Dispatcher {
	if endpoints == nil {
		panic("endpoints store cannot be nil")
	}
	if deliveries == nil {
		panic("deliveries store cannot be nil")
	}
	if limiter == nil {
		panic("limiter cannot be nil")
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.DeliveryTimeout}
	}
	if log == nil {
		log = slog.Default()
	}

	return &Dispatcher{
		db:         db,
		endpoints:  endpoints,
		deliveries: deliveries,
		limiter:    limiter,
		client:     client,
		cfg:        cfg,
		logger:     log.With(slog.String("component", "webhook_dispatcher")),
	}
}

// Register validates an endpoint against SSRF rules and persists it.
// A URL that fails validation is never stored.
func (d *Dispatcher) Register(ctx context.Context, endpoint *domain.WebhookEndpoint) error {
	if err := endpoint.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	if err := ValidateURL(endpoint.URL, d.cfg.AllowedDomains); err != nil {
		return err
	}

	if err := d.endpoints.Create(ctx, endpoint); err != nil {
		return fmt.Errorf("failed to store webhook endpoint: %w", err)
	}

	d.logger.Info("webhook endpoint registered",
		slog.String("endpoint_id", endpoint.ID.String()),
		slog.String("org_key", endpoint.OrgKey))
	return nil
}

// UpdateEndpoint re-validates and saves changes to an existing endpoint.
// URL validation is never skipped on update.
func (d *Dispatcher) UpdateEndpoint(ctx context.Context, endpoint *domain.WebhookEndpoint) error {
	if err := endpoint.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	if err := ValidateURL(endpoint.URL, d.cfg.AllowedDomains); err != nil {
		return err
	}

	if err := d.endpoints.Update(ctx, endpoint); err != nil {
		return fmt.Errorf("failed to update webhook endpoint: %w", err)
	}

	return nil
}

// Dispatch delivers the event to every enabled endpoint of the org
// subscribed to eventType. Deliveries run asynchronously; Dispatch returns
// once they are started. A typed ratelimit.ExceededError is returned when
// the org's delivery budget is exhausted.
func (d *Dispatcher) Dispatch(ctx context.Context, orgKey, eventType string, data map[string]any) error {
	log := logger.FromContextOrDefault(ctx, d.logger)

	if !d.limiter.Allow("webhook:"+orgKey, d.cfg.PerScopeLimit) {
		return &ratelimit.ExceededError{Operation: "webhook delivery", Limit: d.cfg.PerScopeLimit}
	}

	targets, err := d.endpoints.ListForEvent(ctx, orgKey, eventType)
	if err != nil {
		return fmt.Errorf("failed to list webhook endpoints: %w", err)
	}

	if len(targets) == 0 {
		return nil
	}

	body, truncated, err := buildBody(eventType, data, d.cfg.MaxPayloadBytes, time.Now().UTC())
	if err != nil {
		return err
	}

	if truncated {
		log.Warn("webhook payload truncated",
			slog.String("event_type", eventType),
			slog.String("org_key", orgKey),
			slog.Int("limit_bytes", d.cfg.MaxPayloadBytes))
	}

	for _, endpoint := range targets {
		d.wg.Add(1)
		go func(endpoint *domain.WebhookEndpoint) {
			defer d.wg.Done()
			// Delivery outlives the triggering request, so it runs under its
			// own timeout rather than the caller's context.
			deliverCtx, cancel := context.WithTimeout(context.Background(), d.cfg.DeliveryTimeout)
			defer cancel()
			d.deliver(deliverCtx, endpoint, eventType, body)
		}(endpoint)
	}

	return nil
}

// Wait blocks until all in-flight deliveries have finished. Used during
// graceful shutdown and by tests.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// HandleEvent adapts the dispatcher to the events.EventHandler interface so
// job completion events fan out to webhooks without the job layer knowing
// about delivery.
func (d *Dispatcher) HandleEvent(ctx context.Context, event *events.JobEvent) error {
	var data map[string]any
	if len(event.Payload) > 0 {
		if err := event.UnmarshalPayload(&data); err != nil {
			return fmt.Errorf("failed to decode event payload: %w", err)
		}
	}

	return d.Dispatch(ctx, event.OrgKey, event.Type, data)
}

// deliver performs one outbound HTTP POST, records the attempt and updates
// the endpoint's failure state.
func (d *Dispatcher) deliver(ctx context.Context, endpoint *domain.WebhookEndpoint, eventType string, body []byte) {
	log := d.logger.With(
		slog.String("endpoint_id", endpoint.ID.String()),
		slog.String("event_type", eventType))

	signature := ""
	if endpoint.Secret != "" {
		signature = sign(endpoint.Secret, body)
	}

	attempt := domain.NewDeliveryAttempt(endpoint.ID, eventType, body, signature)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(body))
	if err != nil {
		attempt.ErrorMessage = err.Error()
		d.recordAttempt(attempt)
		d.handleFailure(endpoint, log)
		return
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerEvent, eventType)
	req.Header.Set(headerDelivery, uuid.NewString())
	if signature != "" {
		req.Header.Set(headerSignature, signature)
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	attempt.DurationMs = time.Since(start).Milliseconds()

	if err != nil {
		attempt.ErrorMessage = err.Error()
		log.Warn("webhook delivery failed", slog.String("error", err.Error()))
		d.recordAttempt(attempt)
		d.handleFailure(endpoint, log)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	status := resp.StatusCode
	attempt.HTTPStatus = &status
	attempt.Success = status >= 200 && status < 300

	if !attempt.Success {
		attempt.ErrorMessage = fmt.Sprintf("unexpected status %d", status)
	}

	d.recordAttempt(attempt)

	if attempt.Success {
		storeCtx, cancel := d.storeContext()
		defer cancel()
		if err := d.endpoints.RecordSuccess(storeCtx, endpoint.ID); err != nil {
			log.Warn("failed to reset endpoint delivery state", slog.String("error", err.Error()))
		}
		log.Debug("webhook delivered",
			slog.Int("status", status),
			slog.Int64("duration_ms", attempt.DurationMs))
		return
	}

	log.Warn("webhook delivery rejected", slog.Int("status", status))
	d.handleFailure(endpoint, log)
}

// storeContext returns a fresh bounded context for the bookkeeping that
// follows a delivery attempt. The delivery context cannot be reused: a
// timed-out delivery leaves it already expired, and the attempt log and
// failure state updates must still land.
func (d *Dispatcher) storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), storeTimeout)
}

// recordAttempt appends the attempt to the durable delivery log. Logging
// failures here must not interfere with the delivery outcome.
func (d *Dispatcher) recordAttempt(attempt *domain.DeliveryAttempt) {
	ctx, cancel := d.storeContext()
	defer cancel()
	if err := d.deliveries.Create(ctx, attempt); err != nil {
		d.logger.Warn("failed to record delivery attempt",
			slog.String("endpoint_id", attempt.EndpointID.String()),
			slog.String("error", err.Error()))
	}
}

// handleFailure advances the endpoint's failure state machine: increment
// the consecutive-failure counter atomically, and once it reaches the
// threshold disable the endpoint with the next backoff step, or permanently
// once the retry budget is exhausted. When a database handle is available
// the increment and the disable commit together.
func (d *Dispatcher) handleFailure(endpoint *domain.WebhookEndpoint, log *slog.Logger) {
	ctx, cancel := d.storeContext()
	defer cancel()

	err := d.withEndpointStore(ctx, func(endpoints store.WebhookEndpointStore) error {
		counters, err := endpoints.RecordFailure(ctx, endpoint.ID)
		if err != nil {
			return fmt.Errorf("failed to record endpoint failure: %w", err)
		}

		if counters.FailureCount < d.cfg.MaxFailures {
			return nil
		}

		if counters.RetryCount > d.cfg.MaxRetryCount {
			if err := endpoints.Disable(ctx, endpoint.ID, nil); err != nil {
				return fmt.Errorf("failed to permanently disable endpoint: %w", err)
			}
			log.Error("webhook endpoint permanently disabled after exhausting retries",
				slog.Int("retry_count", counters.RetryCount))
			return nil
		}

		step := counters.RetryCount
		if step >= len(d.cfg.Backoff) {
			step = len(d.cfg.Backoff) - 1
		}
		retryAt := time.Now().UTC().Add(d.cfg.Backoff[step])

		if err := endpoints.Disable(ctx, endpoint.ID, &retryAt); err != nil {
			return fmt.Errorf("failed to disable endpoint: %w", err)
		}

		log.Warn("webhook endpoint temporarily disabled",
			slog.Int("failure_count", counters.FailureCount),
			slog.Int("retry_count", counters.RetryCount),
			slog.Time("retry_at", retryAt))
		return nil
	})
	if err != nil {
		log.Warn("failed to update endpoint failure state", slog.String("error", err.Error()))
	}
}

// withEndpointStore runs fn against the endpoint store, inside a
// transaction when the dispatcher holds a database handle.
func (d *Dispatcher) withEndpointStore(ctx context.Context, fn func(store.WebhookEndpointStore) error) error {
	if d.db == nil {
		return fn(d.endpoints)
	}
	return store.RunInTransaction(ctx, d.db, func(ctx context.Context, tx *sql.Tx) error {
		return fn(d.endpoints.WithTx(tx))
	})
}

// Ensure Dispatcher implements events.EventHandler
var _ events.EventHandler = (*Dispatcher)(nil)
