package webhook

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildBody_FullPayload(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	data := map[string]any{
		"job_id":  "4a2f72a8-0a60-4f22-ae1c-77f4ba5f9a01",
		"org_key": "org-123",
		"status":  "completed",
		"summary": "3 findings",
	}

	body, truncated, err := buildBody("review.completed", data, 256*1024, now)
	require.NoError(t, err)
	assert.False(t, truncated)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))

	assert.Equal(t, "review.completed", decoded["event"])
	assert.Equal(t, "2025-06-01T12:00:00Z", decoded["timestamp"])
	assert.Equal(t, "org-123", decoded["org_key"])
	assert.Equal(t, "3 findings", decoded["summary"])
}

func TestBuildBody_TruncatesOversizedPayload(t *testing.T) {
	t.Parallel()

	big := make([]byte, 4096)
	for i := range big {
		big[i] = 'x'
	}
	data := map[string]any{
		"job_id":  "4a2f72a8-0a60-4f22-ae1c-77f4ba5f9a01",
		"org_key": "org-123",
		"status":  "completed",
		"diff":    string(big),
	}

	body, truncated, err := buildBody("review.completed", data, 1024, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, truncated)
	assert.LessOrEqual(t, len(body), 1024)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))

	assert.Equal(t, true, decoded["truncated"])
	assert.Equal(t, "review.completed", decoded["event"])
	assert.Equal(t, "org-123", decoded["org_key"])
	assert.Equal(t, "completed", decoded["status"])
	assert.NotContains(t, decoded, "diff")

	size, ok := decoded["original_size_bytes"].(float64)
	require.True(t, ok)
	assert.Greater(t, size, float64(1024))
}

func TestBuildBody_DataDoesNotOverrideEnvelope(t *testing.T) {
	t.Parallel()

	data := map[string]any{"event": "spoofed", "status": "failed"}

	body, _, err := buildBody("review.failed", data, 0, time.Now().UTC())
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "review.failed", decoded["event"])
}

func TestSign(t *testing.T) {
	t.Parallel()

	got := sign("whsec_test", []byte(`{"a":1}`))
	assert.Equal(t, "sha256=51426af50a41dd7ff2cd3f116594734766d4018d15d6fb07169aee5d2959adf5", got)
}
