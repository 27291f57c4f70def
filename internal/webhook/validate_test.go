package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		url     string
		wantErr error
	}{
		{
			name: "public https host is allowed",
			url:  "https://hooks.slack.com/services/x",
		},
		{
			name: "public http host is allowed",
			url:  "http://hooks.example-receiver.test/deliveries",
		},
		{
			name:    "loopback literal is blocked",
			url:     "http://127.0.0.1:9000/hook",
			wantErr: ErrSSRFBlocked,
		},
		{
			name:    "link-local metadata address is blocked",
			url:     "http://169.254.169.254/",
			wantErr: ErrSSRFBlocked,
		},
		{
			name:    "localhost is blocked",
			url:     "http://localhost/x",
			wantErr: ErrSSRFBlocked,
		},
		{
			name:    "localhost subdomain is blocked",
			url:     "https://api.localhost/hook",
			wantErr: ErrSSRFBlocked,
		},
		{
			name:    "gcp metadata hostname is blocked",
			url:     "http://metadata.google.internal/computeMetadata/v1/",
			wantErr: ErrSSRFBlocked,
		},
		{
			name:    "ipv6 loopback is blocked",
			url:     "http://[::1]:8080/hook",
			wantErr: ErrSSRFBlocked,
		},
		{
			name:    "ipv4-mapped ipv6 loopback is blocked",
			url:     "http://[::ffff:127.0.0.1]/hook",
			wantErr: ErrSSRFBlocked,
		},
		{
			name:    "private range literal is blocked",
			url:     "https://10.0.0.8/hook",
			wantErr: ErrSSRFBlocked,
		},
		{
			name:    "unspecified address is blocked",
			url:     "http://0.0.0.0/hook",
			wantErr: ErrSSRFBlocked,
		},
		{
			name:    "non-http scheme is rejected",
			url:     "ftp://hooks.example.com/hook",
			wantErr: ErrInvalidURL,
		},
		{
			name:    "missing host is rejected",
			url:     "https:///hook",
			wantErr: ErrInvalidURL,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := ValidateURL(tc.url, nil)
			if tc.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.wantErr)
			}
		})
	}
}

func TestValidateURL_AllowedDomains(t *testing.T) {
	t.Parallel()

	allowed := []string{"hooks.slack.com", "example.com"}

	assert.NoError(t, ValidateURL("https://hooks.slack.com/services/x", allowed))
	assert.NoError(t, ValidateURL("https://ci.example.com/webhook", allowed))

	err := ValidateURL("https://evil.test/webhook", allowed)
	assert.ErrorIs(t, err, ErrSSRFBlocked)

	// Suffix matching must not treat "notexample.com" as a subdomain.
	err = ValidateURL("https://notexample.com/webhook", allowed)
	assert.ErrorIs(t, err, ErrSSRFBlocked)
}
