package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// essentialFields are the payload keys preserved in the minimal truncated
// variant so receivers can still correlate the event.
var essentialFields = []string{"job_id", "org_key", "status"}

// buildBody assembles the delivery body for an event. The full form is
// {event, <data...>, timestamp}. If the encoded payload exceeds maxBytes,
// a minimal variant carrying only the essential fields plus a truncation
// flag is substituted. Returns the body and whether it was truncated.
func buildBody(eventType string, data map[string]any, maxBytes int, now time.Time) ([]byte, bool, error) {
	full := make(map[string]any, len(data)+2)
	for k, v := range data {
		full[k] = v
	}
	full["event"] = eventType
	full["timestamp"] = now.Format(time.RFC3339)

	body, err := json.Marshal(full)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	if maxBytes <= 0 || len(body) <= maxBytes {
		return body, false, nil
	}

	minimal := map[string]any{
		"event":               eventType,
		"truncated":           true,
		"original_size_bytes": len(body),
		"timestamp":           full["timestamp"],
		"message": fmt.Sprintf(
			"payload exceeded the %d byte limit and was reduced to essential fields", maxBytes),
	}
	for _, key := range essentialFields {
		if v, ok := data[key]; ok {
			minimal[key] = v
		}
	}

	body, err = json.Marshal(minimal)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode truncated webhook payload: %w", err)
	}

	return body, true, nil
}

// sign computes the hex HMAC-SHA256 of the exact body bytes under the
// endpoint secret, in the "sha256=<hex>" header form.
func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
