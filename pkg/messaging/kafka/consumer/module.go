package consumer

import (
	"context"
	"fmt"

	"github.com/Sokol111/ecommerce-outbox/pkg/core/worker"
	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/kafka/config"
	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/kafka/producer"
	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/patterns/inbox"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// feed runs the reader and the processor of one consumer.
type feed struct {
	reader    *reader
	processor *processor
}

func (f *feed) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return f.reader.Run(ctx) })
	g.Go(func() error { return f.processor.Run(ctx) })
	return g.Wait()
}

// NewConsumerModule feeds the consumer named name in the kafka config into
// the inbox dispatcher. The consumer starts reading once the application is
// ready and shuts the application down on a fatal error.
//
//	consumer.NewConsumerModule("orders")
func NewConsumerModule(name string) fx.Option {
	return fx.Module("kafka-consumer-"+name,
		fx.Provide(
			func(conf config.Config) (config.ConsumerConfig, error) {
				cc, ok := conf.Consumer(name)
				if !ok {
					return cc, fmt.Errorf("no consumer config found for consumer name: %s", name)
				}
				return cc, nil
			},
			provideKafkaConsumer,
			provideFeed,
			fx.Private,
		),
		fx.Decorate(func(log *zap.Logger, cc config.ConsumerConfig) *zap.Logger {
			return log.With(
				zap.String("component", "kafka-consumer"),
				zap.String("consumer_name", cc.Name),
				zap.Strings("topics", cc.Topics),
				zap.String("group_id", cc.GroupID),
			)
		}),
		fx.Provide(worker.Register[*feed]("kafka-consumer-"+name, worker.WithReady(), worker.WithShutdown())),
	)
}

type feedParams struct {
	fx.In

	Consumer       *kafka.Consumer
	ConsumerConf   config.ConsumerConfig
	Dispatcher     *inbox.Dispatcher
	Log            *zap.Logger
	Producer       producer.Producer    `optional:"true"`
	TracerProvider trace.TracerProvider `optional:"true"`
}

func provideFeed(p feedParams) (*feed, error) {
	tp := p.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	tracer := newMessageTracer(tp)

	dlq := newNoopDLQHandler(p.Log)
	if p.ConsumerConf.EnableDLQ {
		if p.Producer == nil {
			return nil, fmt.Errorf("consumer %s: dlq enabled but no kafka producer is provided", p.ConsumerConf.Name)
		}
		dlq = newDLQHandler(p.Producer, p.ConsumerConf.DLQTopic, tracer, p.Log)
	}

	messages := make(chan *kafka.Message, p.ConsumerConf.ChannelBufferSize)
	results := newResultHandler(p.Log, dlq, p.Consumer, p.ConsumerConf.NackDelay)
	return &feed{
		reader:    newReader(p.Consumer, messages, p.Log),
		processor: newProcessor(messages, p.Dispatcher, results, tracer, p.ConsumerConf.ProcessingTimeout, p.Log),
	}, nil
}
