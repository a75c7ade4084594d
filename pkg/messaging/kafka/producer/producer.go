package producer

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/broker"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const system = "kafka"

// Producer is the raw produce call; the consumer uses it to write to the DLQ.
type Producer interface {
	Produce(message *kafka.Message, deliveryChan chan kafka.Event) error
}

// Publisher is the broker.Publisher binding for Kafka. Publish returns once
// the delivery report for the message arrived.
type Publisher struct {
	producer Producer
	tp       trace.TracerProvider
	log      *zap.Logger
}

var _ broker.Publisher = (*Publisher)(nil)

func newPublisher(p Producer, tp trace.TracerProvider, log *zap.Logger) *Publisher {
	return &Publisher{producer: p, tp: tp, log: log}
}

func (p *Publisher) Publish(ctx context.Context, msg broker.Message) error {
	ctx, span, headers := broker.StartProducerSpan(ctx, p.tp, system, msg)
	defer span.End()

	topic := msg.Topic
	km := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(msg.Key),
		Value:          msg.Value,
		Headers:        toKafkaHeaders(headers),
	}

	err := p.deliver(ctx, km)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (p *Publisher) deliver(ctx context.Context, km *kafka.Message) error {
	// Buffered so a late delivery report never blocks librdkafka after ctx ends.
	deliveryChan := make(chan kafka.Event, 1)
	if err := p.producer.Produce(km, deliveryChan); err != nil {
		return classify(fmt.Errorf("failed to produce to %s: %w", *km.TopicPartition.Topic, err))
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("waiting for delivery report: %w", ctx.Err())
	case e := <-deliveryChan:
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				return classify(fmt.Errorf("delivery to %s failed: %w", *km.TopicPartition.Topic, ev.TopicPartition.Error))
			}
			p.log.Debug("message delivered",
				zap.String("topic", *ev.TopicPartition.Topic),
				zap.Int32("partition", ev.TopicPartition.Partition),
				zap.Int64("offset", int64(ev.TopicPartition.Offset)),
			)
			return nil
		case kafka.Error:
			return classify(ev)
		default:
			return broker.NackError("unexpected delivery event %T", e)
		}
	}
}

var permanentCodes = []kafka.ErrorCode{
	kafka.ErrMsgSizeTooLarge,
	kafka.ErrInvalidMsg,
	kafka.ErrInvalidMsgSize,
	kafka.ErrRecordListTooLarge,
	kafka.ErrTopicAuthorizationFailed,
	kafka.ErrClusterAuthorizationFailed,
}

// classify marks rejections of the message itself and fatal producer errors
// as permanent. Everything else, including queue-full and timeouts, is
// transient.
func classify(err error) error {
	var kerr kafka.Error
	if !errors.As(err, &kerr) {
		return err
	}
	if kerr.IsFatal() || slices.Contains(permanentCodes, kerr.Code()) {
		return broker.Permanent(err)
	}
	return err
}

func toKafkaHeaders(headers map[string]string) []kafka.Header {
	out := make([]kafka.Header, 0, len(headers))
	for _, k := range slices.Sorted(maps.Keys(headers)) {
		out = append(out, kafka.Header{Key: k, Value: []byte(headers[k])})
	}
	return out
}
