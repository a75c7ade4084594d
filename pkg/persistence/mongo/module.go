package mongo

import (
	"context"

	"github.com/Sokol111/ecommerce-outbox/pkg/core/health"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Option func(*Config)

// WithMongoConfig bypasses the "mongo" viper key.
func WithMongoConfig(cfg Config) Option {
	return func(c *Config) { *c = cfg }
}

// NewMongoModule provides Mongo, persistence.TxManager and Migrator.
func NewMongoModule(opts ...Option) fx.Option {
	provideConfig := fx.Provide(newConfig)
	if len(opts) > 0 {
		var cfg Config
		for _, opt := range opts {
			opt(&cfg)
		}
		applyDefaults(&cfg)
		provideConfig = fx.Supply(cfg)
	}

	return fx.Module("mongo",
		provideConfig,
		fx.Provide(
			provideMongo,
			newTxManager,
			newMigrator,
		),
	)
}

func provideMongo(lc fx.Lifecycle, log *zap.Logger, conf Config, readiness health.ComponentManager) (Mongo, error) {
	c, err := newClient(log, conf)
	if err != nil {
		return nil, err
	}

	markReady := readiness.AddComponent("mongo")
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := c.connect(ctx); err != nil {
				return err
			}
			markReady()
			return nil
		},
		OnStop: c.disconnect,
	})
	return c, nil
}
