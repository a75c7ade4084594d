package producer

import (
	"context"
	"fmt"
	"time"

	"github.com/Sokol111/ecommerce-outbox/pkg/core/health"
	"github.com/Sokol111/ecommerce-outbox/pkg/core/logger"
	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/kafka/config"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const flushTimeout = 10 * time.Second

// NewProducerModule provides the Kafka Publisher and the raw Producer. The
// producer becomes ready once the brokers answer a metadata request.
func NewProducerModule() fx.Option {
	return fx.Module("kafka-producer",
		fx.Provide(
			provideKafkaProducer,
			func(p *kafka.Producer) Producer { return p },
			providePublisher,
		),
	)
}

func configMap(conf config.Config) *kafka.ConfigMap {
	p := conf.ProducerConfig
	return &kafka.ConfigMap{
		"bootstrap.servers":  conf.Brokers,
		"acks":               p.Acks,
		"enable.idempotence": *p.EnableIdempotence,
		"linger.ms":          p.LingerMs,
		"message.timeout.ms": p.MessageTimeoutMs,
	}
}

func provideKafkaProducer(lc fx.Lifecycle, log *zap.Logger, conf config.Config, readiness health.ComponentManager) (*kafka.Producer, error) {
	log = log.With(zap.String("component", "kafka-producer"))

	p, err := kafka.NewProducer(configMap(conf))
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	markReady := readiness.AddComponent("kafka-producer")
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go logEvents(p.Events(), logger.NewLogThrottler(log, 0))
			if err := waitForBrokers(ctx, p, log, conf.ProducerConfig.ReadinessTimeoutSeconds, *conf.ProducerConfig.FailOnBrokerError); err != nil {
				return fmt.Errorf("kafka brokers unavailable: %w", err)
			}
			markReady()
			return nil
		},
		OnStop: func(context.Context) error {
			if left := p.Flush(int(flushTimeout.Milliseconds())); left > 0 {
				log.Warn("unflushed messages on shutdown", zap.Int("count", left))
			}
			p.Close()
			return nil
		},
	})
	return p, nil
}

// logEvents drains the producer-wide event channel. Delivery reports for
// Publish go to per-call channels, so only client errors and reports for
// messages produced without a channel arrive here.
func logEvents(events <-chan kafka.Event, throttler *logger.LogThrottler) {
	for e := range events {
		switch ev := e.(type) {
		case kafka.Error:
			throttler.Error(ev.Code().String(), "kafka producer error", zap.Error(ev), zap.Bool("fatal", ev.IsFatal()))
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				throttler.Error("delivery", "kafka delivery failed", zap.Error(ev.TopicPartition.Error))
			}
		}
	}
}

type publisherParams struct {
	fx.In

	Producer       Producer
	Log            *zap.Logger
	TracerProvider trace.TracerProvider `optional:"true"`
}

func providePublisher(p publisherParams) *Publisher {
	tp := p.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return newPublisher(p.Producer, tp, p.Log.With(zap.String("component", "kafka-publisher")))
}
