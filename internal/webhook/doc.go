// Package webhook implements outbound event notification delivery:
// SSRF-safe endpoint registration, signed asynchronous delivery with an
// append-only attempt log, and the failure-count/backoff state machine
// that temporarily or permanently disables misbehaving endpoints.
package webhook
