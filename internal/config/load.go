package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// envPrefix is the prefix for all environment variables read by Load,
// e.g. CRITIC_DATABASE_URL maps to the database.url key.
const envPrefix = "CRITIC"

// Load reads configuration from environment variables and optionally a
// config file. Environment variables take precedence over values from
// config files. Returns a populated Config struct or an error if
// loading or validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// An optional config.yaml in the working directory is honored but not
	// required; env-only deployments are the common case.
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// AutomaticEnv only resolves keys viper already knows about, so bind
	// every key that has a default explicitly.
	for _, key := range v.AllKeys() {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %q: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if err := validateBackoff(cfg.Webhook.BackoffHours); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults registers the default value for every configuration key.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.log_level", "info")

	v.SetDefault("analysis.worker_count", 3)

	v.SetDefault("ratelimit.window", time.Hour)
	v.SetDefault("ratelimit.optimization_per_window", 10)
	v.SetDefault("ratelimit.webhook_per_window", 100)
	v.SetDefault("ratelimit.submission_per_window", 50)

	v.SetDefault("webhook.max_failures", 5)
	v.SetDefault("webhook.max_payload_kb", 256)
	v.SetDefault("webhook.backoff_hours", "1,2,4,8,24")
	v.SetDefault("webhook.max_retry_count", 10)
	v.SetDefault("webhook.allowed_domains", "")
	v.SetDefault("webhook.sweep_interval", 5*time.Minute)
	v.SetDefault("webhook.delivery_timeout", 30*time.Second)

	// database.url has no default; it is required and must come from the
	// environment or a config file.
	v.SetDefault("database.url", "")
}

// validateBackoff checks that the backoff schedule is a non-empty list of
// positive integers.
func validateBackoff(schedule string) error {
	parts := strings.Split(schedule, ",")
	if len(parts) == 0 {
		return fmt.Errorf("webhook backoff schedule cannot be empty")
	}
	for _, p := range parts {
		hours, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return fmt.Errorf("invalid webhook backoff entry %q: %w", p, err)
		}
		if hours <= 0 {
			return fmt.Errorf("webhook backoff entries must be positive, got %d", hours)
		}
	}
	return nil
}
