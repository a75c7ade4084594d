package rabbitmq

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
	// ConfirmTimeout bounds the wait for a publisher confirm.
	ConfirmTimeout          time.Duration `mapstructure:"confirm-timeout"`
	DialTimeout             time.Duration `mapstructure:"dial-timeout"`
	ReadinessTimeoutSeconds int           `mapstructure:"readiness-timeout-seconds"`
	FailOnBrokerError       *bool         `mapstructure:"fail-on-broker-error"`
}

const (
	defaultConfirmTimeout   = 5 * time.Second
	defaultDialTimeout      = 10 * time.Second
	defaultReadinessTimeout = 30
)

func newConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	sub := v.Sub("rabbitmq")
	if sub == nil {
		return cfg, errors.New("failed to load rabbitmq config: missing \"rabbitmq\" section")
	}
	if err := sub.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to load rabbitmq config: %w", err)
	}
	return finalize(cfg)
}

func finalize(cfg Config) (Config, error) {
	if cfg.ConfirmTimeout == 0 {
		cfg.ConfirmTimeout = defaultConfirmTimeout
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.ReadinessTimeoutSeconds == 0 {
		cfg.ReadinessTimeoutSeconds = defaultReadinessTimeout
	}
	if cfg.FailOnBrokerError == nil {
		failOnBrokerError := true
		cfg.FailOnBrokerError = &failOnBrokerError
	}

	var errs []error
	if cfg.URL == "" {
		errs = append(errs, errors.New("url is required"))
	}
	if cfg.Exchange == "" {
		errs = append(errs, errors.New("exchange is required"))
	}
	if cfg.ConfirmTimeout < 0 {
		errs = append(errs, fmt.Errorf("confirm-timeout must be positive, got %s", cfg.ConfirmTimeout))
	}
	if err := errors.Join(errs...); err != nil {
		return cfg, fmt.Errorf("invalid rabbitmq config: %w", err)
	}
	return cfg, nil
}
