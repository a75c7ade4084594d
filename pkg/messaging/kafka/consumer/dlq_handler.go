package consumer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/kafka/producer"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const dlqDeliveryTimeout = 30 * time.Second

var errDLQDelivery = errors.New("dlq delivery failed")

// dlqHandler parks messages that can never be dispatched.
type dlqHandler interface {
	sendToDLQ(ctx context.Context, message *kafka.Message, processingErr error) error
}

type kafkaDLQHandler struct {
	producer producer.Producer
	dlqTopic string
	tracer   *messageTracer
	log      *zap.Logger
	now      func() time.Time
}

func newDLQHandler(p producer.Producer, dlqTopic string, tracer *messageTracer, log *zap.Logger) dlqHandler {
	return &kafkaDLQHandler{
		producer: p,
		dlqTopic: dlqTopic,
		tracer:   tracer,
		log:      log,
		now:      time.Now,
	}
}

func (h *kafkaDLQHandler) sendToDLQ(ctx context.Context, message *kafka.Message, processingErr error) error {
	ctx, span := h.tracer.startDLQSpan(ctx, message, h.dlqTopic)
	defer span.End()

	headers := append([]kafka.Header(nil), message.Headers...)
	headers = append(headers,
		kafka.Header{Key: "dlq.original.topic", Value: []byte(*message.TopicPartition.Topic)},
		kafka.Header{Key: "dlq.original.partition", Value: []byte(strconv.Itoa(int(message.TopicPartition.Partition)))},
		kafka.Header{Key: "dlq.original.offset", Value: []byte(strconv.FormatInt(int64(message.TopicPartition.Offset), 10))},
		kafka.Header{Key: "dlq.error", Value: []byte(processingErr.Error())},
		kafka.Header{Key: "dlq.timestamp", Value: []byte(h.now().UTC().Format(time.RFC3339))},
	)
	dlqMessage := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &h.dlqTopic, Partition: kafka.PartitionAny},
		Key:            message.Key,
		Value:          message.Value,
		Headers:        headers,
	}
	h.tracer.injectContext(ctx, dlqMessage)

	err := h.deliver(ctx, dlqMessage)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send message to DLQ")
		h.log.Error("failed to send message to DLQ", append(messageFields(message), zap.String("dlq_topic", h.dlqTopic), zap.Error(err))...)
		return err
	}

	span.SetStatus(codes.Ok, "message sent to DLQ")
	h.log.Warn("message sent to DLQ", append(messageFields(message), zap.String("dlq_topic", h.dlqTopic), zap.NamedError("cause", processingErr))...)
	return nil
}

func (h *kafkaDLQHandler) deliver(ctx context.Context, message *kafka.Message) error {
	ctx, cancel := context.WithTimeout(ctx, dlqDeliveryTimeout)
	defer cancel()

	deliveryChan := make(chan kafka.Event, 1)
	if err := h.producer.Produce(message, deliveryChan); err != nil {
		return fmt.Errorf("%w: %w", errDLQDelivery, err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", errDLQDelivery, ctx.Err())
	case e := <-deliveryChan:
		m, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("%w: unexpected event %v", errDLQDelivery, e)
		}
		if m.TopicPartition.Error != nil {
			return fmt.Errorf("%w: %w", errDLQDelivery, m.TopicPartition.Error)
		}
		return nil
	}
}

// noopDLQHandler drops poison messages when the consumer has no DLQ.
type noopDLQHandler struct {
	log *zap.Logger
}

func newNoopDLQHandler(log *zap.Logger) dlqHandler {
	return &noopDLQHandler{log: log}
}

func (h *noopDLQHandler) sendToDLQ(_ context.Context, message *kafka.Message, processingErr error) error {
	h.log.Error("undeliverable message skipped, DLQ disabled", append(messageFields(message), zap.Error(processingErr))...)
	return nil
}
