package outbox

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	// Domain is the first segment of every topic, e.g. "orders".
	Domain              string        `mapstructure:"domain"`
	PollInterval        time.Duration `mapstructure:"poll-interval"`
	BatchSize           int           `mapstructure:"batch-size"`
	LeaseDuration       time.Duration `mapstructure:"lease-duration"`
	MaxAttempts         int           `mapstructure:"max-attempts"`
	BackoffBase         time.Duration `mapstructure:"backoff-base"`
	BackoffCap          time.Duration `mapstructure:"backoff-cap"`
	DispatchConcurrency int           `mapstructure:"dispatch-concurrency"`
	// Retention is how long PUBLISHED records are kept.
	Retention time.Duration `mapstructure:"retention"`
}

func DefaultConfig() Config {
	return Config{
		PollInterval:        200 * time.Millisecond,
		BatchSize:           100,
		LeaseDuration:       30 * time.Second,
		MaxAttempts:         12,
		BackoffBase:         500 * time.Millisecond,
		BackoffCap:          60 * time.Second,
		DispatchConcurrency: 8,
		Retention:           7 * 24 * time.Hour,
	}
}

func newConfig(v *viper.Viper) (Config, error) {
	cfg := DefaultConfig()
	if sub := v.Sub("outbox"); sub != nil {
		if err := sub.Unmarshal(&cfg); err != nil {
			return Config{}, fmt.Errorf("failed to load outbox config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid outbox config: %w", err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Domain == "" {
		errs = append(errs, errors.New("domain is required"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll-interval must be positive"))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, errors.New("batch-size must be positive"))
	}
	if c.LeaseDuration <= 0 {
		errs = append(errs, errors.New("lease-duration must be positive"))
	}
	if c.MaxAttempts <= 0 {
		errs = append(errs, errors.New("max-attempts must be positive"))
	}
	if c.BackoffBase <= 0 {
		errs = append(errs, errors.New("backoff-base must be positive"))
	}
	if c.BackoffCap < c.BackoffBase {
		errs = append(errs, fmt.Errorf("backoff-cap %s is below backoff-base %s", c.BackoffCap, c.BackoffBase))
	}
	if c.DispatchConcurrency <= 0 {
		errs = append(errs, errors.New("dispatch-concurrency must be positive"))
	}
	if c.Retention <= 0 {
		errs = append(errs, errors.New("retention must be positive"))
	}
	return errors.Join(errs...)
}
