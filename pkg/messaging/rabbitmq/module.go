package rabbitmq

import (
	"context"
	"fmt"
	"time"

	"github.com/Sokol111/ecommerce-outbox/pkg/core/health"
	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type moduleOptions struct {
	config *Config
}

type Option func(*moduleOptions)

// WithRabbitMQConfig uses cfg instead of the "rabbitmq" config key.
func WithRabbitMQConfig(cfg Config) Option {
	return func(o *moduleOptions) { o.config = &cfg }
}

// NewPublisherModule provides the RabbitMQ Publisher. The connection is
// dialed on start, retrying until the readiness timeout.
func NewPublisherModule(opts ...Option) fx.Option {
	o := &moduleOptions{}
	for _, opt := range opts {
		opt(o)
	}

	return fx.Module("rabbitmq-publisher",
		fx.Provide(
			func(v *viper.Viper) (Config, error) {
				if o.config != nil {
					return finalize(*o.config)
				}
				return newConfig(v)
			},
			providePublisher,
		),
	)
}

type publisherParams struct {
	fx.In

	Lc             fx.Lifecycle
	Config         Config
	Log            *zap.Logger
	Readiness      health.ComponentManager
	TracerProvider trace.TracerProvider `optional:"true"`
}

func providePublisher(p publisherParams) *Publisher {
	tp := p.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	log := p.Log.With(zap.String("component", "rabbitmq-publisher"))
	pub := newPublisher(p.Config, tp, log)
	dial := newDialer(p.Config)

	markReady := p.Readiness.AddComponent("rabbitmq-publisher")
	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			conn, err := connect(ctx, dial, log, p.Config.ReadinessTimeoutSeconds, newDialBackoff())
			if err != nil {
				if *p.Config.FailOnBrokerError {
					return fmt.Errorf("rabbitmq unavailable: %w", err)
				}
				log.Warn("rabbitmq not ready, continuing", zap.Error(err))
				return nil
			}
			pub.setConnection(conn)
			markReady()
			return nil
		},
		OnStop: func(context.Context) error {
			return pub.close()
		},
	})
	return pub
}

func newDialBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0
	return b
}

func connect(ctx context.Context, dial dialFunc, log *zap.Logger, timeoutSec int, b backoff.BackOff) (connection, error) {
	log.Info("connecting to rabbitmq", zap.Int("timeout_seconds", timeoutSec))

	if timeoutSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
		defer cancel()
	}

	var conn connection
	err := backoff.Retry(func() error {
		c, err := dial()
		if err != nil {
			log.Debug("rabbitmq dial failed", zap.Error(err))
			return err
		}
		conn = c
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return nil, err
	}

	log.Info("rabbitmq connected")
	return conn, nil
}
