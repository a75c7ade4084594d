package consumer

import (
	"context"
	"maps"
	"slices"

	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/broker"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// messageTracer starts consumer and DLQ spans linked to the producer trace
// carried in the message headers.
type messageTracer struct {
	tracer trace.Tracer
}

func newMessageTracer(tp trace.TracerProvider) *messageTracer {
	return &messageTracer{tracer: tp.Tracer("kafka-consumer")}
}

func (t *messageTracer) startConsumerSpan(ctx context.Context, message *kafka.Message) (context.Context, trace.Span) {
	ctx = broker.ExtractTrace(ctx, headerMap(message.Headers))
	return t.tracer.Start(ctx, "kafka.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", *message.TopicPartition.Topic),
			attribute.Int("messaging.kafka.partition", int(message.TopicPartition.Partition)),
			attribute.Int64("messaging.kafka.offset", int64(message.TopicPartition.Offset)),
			attribute.String("messaging.message.id", headerValue(message.Headers, broker.HeaderEventID)),
			attribute.String("messaging.message.key", string(message.Key)),
		),
	)
}

func (t *messageTracer) startDLQSpan(ctx context.Context, message *kafka.Message, dlqTopic string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "kafka.send_to_dlq",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", dlqTopic),
			attribute.String("messaging.source.topic", *message.TopicPartition.Topic),
			attribute.Int("messaging.source.partition", int(message.TopicPartition.Partition)),
			attribute.Int64("messaging.source.offset", int64(message.TopicPartition.Offset)),
		),
	)
}

// injectContext rewrites the trace headers of message to point at ctx.
func (t *messageTracer) injectContext(ctx context.Context, message *kafka.Message) {
	headers := broker.InjectTrace(ctx, headerMap(message.Headers))
	message.Headers = make([]kafka.Header, 0, len(headers))
	for _, k := range slices.Sorted(maps.Keys(headers)) {
		message.Headers = append(message.Headers, kafka.Header{Key: k, Value: []byte(headers[k])})
	}
}
