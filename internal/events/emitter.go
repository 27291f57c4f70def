package events

import (
	"context"
	"log/slog"
	"sync"
)

// InMemoryEventEmitter fans job events out to registered handlers in the
// emitting goroutine. Handlers subscribe to specific event types, mirroring
// how webhook endpoints subscribe, or to every event when no types are given.
type InMemoryEventEmitter struct {
	mu       sync.RWMutex
	byType   map[string][]EventHandler
	catchAll []EventHandler
	logger   *slog.Logger
}

// NewInMemoryEventEmitter creates an emitter with no subscriptions.
func NewInMemoryEventEmitter(logger *slog.Logger) *InMemoryEventEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryEventEmitter{
		byType: make(map[string][]EventHandler),
		logger: logger.With(slog.String("component", "event_emitter")),
	}
}

// RegisterHandler subscribes the handler to the given event types. With no
// types the handler receives every event.
func (e *InMemoryEventEmitter) RegisterHandler(handler EventHandler, eventTypes ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(eventTypes) == 0 {
		e.catchAll = append(e.catchAll, handler)
	}
	for _, eventType := range eventTypes {
		e.byType[eventType] = append(e.byType[eventType], handler)
	}
	e.logger.Debug("registered event handler",
		slog.Any("event_types", eventTypes))
}

// EmitEvent delivers the event to every handler subscribed to its type.
// A failing handler does not stop delivery to the rest; the first error
// encountered is returned.
func (e *InMemoryEventEmitter) EmitEvent(ctx context.Context, event *JobEvent) error {
	e.mu.RLock()
	handlers := make([]EventHandler, 0, len(e.catchAll)+len(e.byType[event.Type]))
	handlers = append(handlers, e.catchAll...)
	handlers = append(handlers, e.byType[event.Type]...)
	e.mu.RUnlock()

	if len(handlers) == 0 {
		e.logger.Debug("no handlers subscribed to event",
			slog.String("event_id", event.ID.String()),
			slog.String("event_type", event.Type))
		return nil
	}

	var firstErr error
	for _, handler := range handlers {
		if err := handler.HandleEvent(ctx, event); err != nil {
			e.logger.Error("handler failed to process event",
				slog.String("error", err.Error()),
				slog.String("event_id", event.ID.String()),
				slog.String("event_type", event.Type))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

// Ensure InMemoryEventEmitter implements EventEmitter
var _ EventEmitter = (*InMemoryEventEmitter)(nil)
