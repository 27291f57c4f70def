package webhook

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/critichq/critic-api/internal/domain"
)

func seedDisabled(t *testing.T, endpoints *MockEndpointStore, orgKey string, retryAt *time.Time) *domain.WebhookEndpoint {
	t.Helper()

	endpoint, err := domain.NewWebhookEndpoint(orgKey, "https://hooks.example.com/"+orgKey, "",
		[]string{domain.EventReviewCompleted})
	require.NoError(t, err)

	endpoint.Enabled = false
	endpoint.FailureCount = 5
	endpoint.RetryAt = retryAt
	now := time.Now().UTC()
	endpoint.DisabledAt = &now
	endpoints.Seed(endpoint)
	return endpoint
}

func TestSweeper_SweepOnceReEnablesDueEndpoints(t *testing.T) {
	t.Parallel()

	endpoints := NewMockEndpointStore()

	past := time.Now().UTC().Add(-time.Minute)
	future := time.Now().UTC().Add(time.Hour)

	due := seedDisabled(t, endpoints, "org-due", &past)
	notDue := seedDisabled(t, endpoints, "org-later", &future)
	permanent := seedDisabled(t, endpoints, "org-dead", nil)

	sweeper := NewSweeper(endpoints, time.Hour, nil)

	count, err := sweeper.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	snap := endpoints.Snapshot(due.ID)
	assert.True(t, snap.Enabled)
	assert.Equal(t, 1, snap.RetryCount)
	assert.Nil(t, snap.RetryAt)
	// Failure history survives re-enable.
	assert.Equal(t, 5, snap.FailureCount)

	assert.False(t, endpoints.Snapshot(notDue.ID).Enabled)

	snap = endpoints.Snapshot(permanent.ID)
	assert.False(t, snap.Enabled)
	assert.True(t, snap.PermanentlyDisabled())
}

func TestSweeper_RunLoop(t *testing.T) {
	t.Parallel()

	endpoints := NewMockEndpointStore()
	past := time.Now().UTC().Add(-time.Minute)
	due := seedDisabled(t, endpoints, "org-due", &past)

	sweeper := NewSweeper(endpoints, 10*time.Millisecond, nil)
	sweeper.Start()
	defer sweeper.Stop()

	assert.Eventually(t, func() bool {
		snap := endpoints.Snapshot(due.ID)
		return snap != nil && snap.Enabled
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSweeper_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	sweeper := NewSweeper(NewMockEndpointStore(), time.Hour, nil)
	sweeper.Start()

	sweeper.Stop()
	sweeper.Stop()
}
