package health

import (
	"context"
	"fmt"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Config struct {
	RunningInKubernetes bool `mapstructure:"running-in-kubernetes"`
}

func newConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	sub := v.Sub("readiness")
	if sub == nil {
		return cfg, nil
	}
	if err := sub.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to load readiness config: %w", err)
	}
	return cfg, nil
}

// NewReadinessModule provides the readiness tracker under its four interfaces.
func NewReadinessModule() fx.Option {
	return fx.Module("readiness",
		fx.Provide(
			newConfig,
			func(log *zap.Logger, cfg Config) *readiness {
				return newReadiness(log, cfg.RunningInKubernetes)
			},
			func(r *readiness) ComponentManager { return r },
			func(r *readiness) ReadinessChecker { return r },
			func(r *readiness) ReadinessWaiter { return r },
			func(r *readiness) TrafficController { return r },
		),
		fx.Invoke(func(lc fx.Lifecycle, r *readiness) {
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					r.start()
					return nil
				},
			})
		}),
	)
}
