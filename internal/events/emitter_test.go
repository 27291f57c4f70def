package events

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingHandler captures the events it receives.
type recordingHandler struct {
	mu     sync.Mutex
	events []*JobEvent
	err    error
}

func (h *recordingHandler) HandleEvent(_ context.Context, event *JobEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	return h.err
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

func TestNewJobEvent(t *testing.T) {
	t.Parallel()

	event, err := NewJobEvent("review.completed", "org-acme", map[string]string{
		"job_id": "abc",
	})

	require.NoError(t, err)
	assert.Equal(t, "review.completed", event.Type)
	assert.Equal(t, "org-acme", event.OrgKey)
	assert.False(t, event.CreatedAt.IsZero())

	var payload struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, event.UnmarshalPayload(&payload))
	assert.Equal(t, "abc", payload.JobID)
}

func TestInMemoryEventEmitter(t *testing.T) {
	t.Parallel()

	t.Run("delivers to all handlers", func(t *testing.T) {
		t.Parallel()

		emitter := NewInMemoryEventEmitter(nil)
		first := &recordingHandler{}
		second := &recordingHandler{}
		emitter.RegisterHandler(first)
		emitter.RegisterHandler(second)

		event, err := NewJobEvent("review.completed", "org-acme", nil)
		require.NoError(t, err)

		require.NoError(t, emitter.EmitEvent(context.Background(), event))
		assert.Equal(t, 1, first.count())
		assert.Equal(t, 1, second.count())
	})

	t.Run("handler error does not stop other handlers", func(t *testing.T) {
		t.Parallel()

		emitter := NewInMemoryEventEmitter(nil)
		failing := &recordingHandler{err: errors.New("delivery exploded")}
		healthy := &recordingHandler{}
		emitter.RegisterHandler(failing)
		emitter.RegisterHandler(healthy)

		event, err := NewJobEvent("review.completed", "org-acme", nil)
		require.NoError(t, err)

		err = emitter.EmitEvent(context.Background(), event)
		assert.Error(t, err)
		assert.Equal(t, 1, healthy.count(), "healthy handler still receives the event")
	})

	t.Run("type subscriptions filter events", func(t *testing.T) {
		t.Parallel()

		emitter := NewInMemoryEventEmitter(nil)
		completions := &recordingHandler{}
		failures := &recordingHandler{}
		everything := &recordingHandler{}
		emitter.RegisterHandler(completions, "review.completed", "review.optimization.completed")
		emitter.RegisterHandler(failures, "review.failed")
		emitter.RegisterHandler(everything)

		for _, eventType := range []string{"review.completed", "review.failed", "review.optimization.completed"} {
			event, err := NewJobEvent(eventType, "org-acme", nil)
			require.NoError(t, err)
			require.NoError(t, emitter.EmitEvent(context.Background(), event))
		}

		assert.Equal(t, 2, completions.count())
		assert.Equal(t, 1, failures.count())
		assert.Equal(t, 3, everything.count())
	})

	t.Run("no handlers is not an error", func(t *testing.T) {
		t.Parallel()

		emitter := NewInMemoryEventEmitter(nil)
		event, err := NewJobEvent("review.completed", "org-acme", nil)
		require.NoError(t, err)

		assert.NoError(t, emitter.EmitEvent(context.Background(), event))
	})
}
