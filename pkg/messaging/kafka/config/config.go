package config

import (
	"fmt"

	"github.com/samber/lo"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type options struct {
	cfg *Config
}

type Option func(*options)

// WithKafkaConfig uses cfg instead of the "kafka" config key. Defaults and
// validation still apply.
func WithKafkaConfig(cfg Config) Option {
	return func(o *options) { o.cfg = &cfg }
}

func NewKafkaConfigModule(opts ...Option) fx.Option {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if o.cfg != nil {
		return fx.Provide(func(log *zap.Logger) (Config, error) {
			return finalize(*o.cfg, log)
		})
	}
	return fx.Provide(newConfig)
}

func newConfig(v *viper.Viper, log *zap.Logger) (Config, error) {
	var cfg Config
	sub := v.Sub("kafka")
	if sub == nil {
		return cfg, fmt.Errorf("failed to load kafka config: missing \"kafka\" section")
	}
	if err := sub.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to load kafka config: %w", err)
	}
	return finalize(cfg, log)
}

func finalize(cfg Config, log *zap.Logger) (Config, error) {
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return cfg, fmt.Errorf("invalid kafka config: %w", err)
	}

	log.Info("loaded kafka config",
		zap.String("brokers", cfg.Brokers),
		zap.Strings("consumers", lo.Map(cfg.ConsumersConfig.ConsumerConfig, func(c ConsumerConfig, _ int) string {
			return c.Name
		})),
		zap.String("acks", cfg.ProducerConfig.Acks),
	)
	return cfg, nil
}

// Consumer returns the consumer named name.
func (c Config) Consumer(name string) (ConsumerConfig, bool) {
	return lo.Find(c.ConsumersConfig.ConsumerConfig, func(cc ConsumerConfig) bool {
		return cc.Name == name
	})
}
