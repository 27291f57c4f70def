package config

import (
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database" validate:"required"`
	Analysis  AnalysisConfig  `mapstructure:"analysis" validate:"required"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit" validate:"required"`
	Webhook   WebhookConfig   `mapstructure:"webhook" validate:"required"`
}

// ServerConfig contains process-level settings.
type ServerConfig struct {
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// AnalysisConfig controls the parallel analysis executor.
type AnalysisConfig struct {
	// WorkerCount is the number of concurrent workers per job run,
	// independent of the number of units.
	WorkerCount int `mapstructure:"worker_count" validate:"required,gt=0,lte=64"`
}

// RateLimitConfig holds the per-operation-class admission ceilings.
// All ceilings apply to a single fixed window of Window duration.
type RateLimitConfig struct {
	// Window is the fixed-window duration the ceilings apply to.
	Window time.Duration `mapstructure:"window" validate:"required"`

	// OptimizationPerWindow caps expensive secondary analysis runs per actor.
	OptimizationPerWindow int `mapstructure:"optimization_per_window" validate:"required,gt=0"`

	// WebhookPerWindow caps webhook deliveries per org scope.
	WebhookPerWindow int `mapstructure:"webhook_per_window" validate:"required,gt=0"`

	// SubmissionPerWindow caps primary job submissions per actor.
	SubmissionPerWindow int `mapstructure:"submission_per_window" validate:"required,gt=0"`
}

// WebhookConfig controls outbound delivery and the failure/backoff
// state machine.
type WebhookConfig struct {
	// MaxFailures is the consecutive-failure count at which an endpoint is
	// disabled.
	MaxFailures int `mapstructure:"max_failures" validate:"required,gt=0"`

	// MaxPayloadKB is the payload byte ceiling in kilobytes; larger payloads
	// are delivered in the minimal truncated form.
	MaxPayloadKB int `mapstructure:"max_payload_kb" validate:"required,gt=0"`

	// BackoffHours is the comma-separated retry schedule in hours, indexed
	// by retry attempt.
	BackoffHours string `mapstructure:"backoff_hours" validate:"required"`

	// MaxRetryCount is the retry attempt count beyond which an endpoint is
	// permanently disabled.
	MaxRetryCount int `mapstructure:"max_retry_count" validate:"required,gt=0"`

	// AllowedDomains optionally restricts endpoint hosts to the given
	// domain suffixes, comma separated. Empty means no restriction.
	AllowedDomains string `mapstructure:"allowed_domains"`

	// SweepInterval is how often disabled endpoints are checked for
	// re-enable.
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"required"`

	// DeliveryTimeout bounds a single outbound HTTP delivery.
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout" validate:"required"`
}

// BackoffSchedule parses BackoffHours into durations. Invalid entries were
// already rejected by Load, so parse errors are ignored here.
func (c WebhookConfig) BackoffSchedule() []time.Duration {
	parts := strings.Split(c.BackoffHours, ",")
	schedule := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		hours, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			continue
		}
		schedule = append(schedule, time.Duration(hours)*time.Hour)
	}
	return schedule
}

// AllowedDomainList splits AllowedDomains into a cleaned slice.
// Returns nil when no restriction is configured.
func (c WebhookConfig) AllowedDomainList() []string {
	if strings.TrimSpace(c.AllowedDomains) == "" {
		return nil
	}
	parts := strings.Split(c.AllowedDomains, ",")
	domains := make([]string, 0, len(parts))
	for _, p := range parts {
		if d := strings.TrimSpace(p); d != "" {
			domains = append(domains, d)
		}
	}
	return domains
}

// MaxPayloadBytes returns the payload ceiling in bytes.
func (c WebhookConfig) MaxPayloadBytes() int {
	return c.MaxPayloadKB * 1024
}
