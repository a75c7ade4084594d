package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/broker"
	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/envelope"
	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/patterns/inbox"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// offsetControl is the part of *kafka.Consumer the result handler drives.
type offsetControl interface {
	StoreMessage(m *kafka.Message) (storedOffsets []kafka.TopicPartition, err error)
	Seek(partition kafka.TopicPartition, ignoredTimeoutMs int) error
}

type verdict int

const (
	acked verdict = iota + 1
	nacked
)

// resultHandler acks or nacks a message based on the dispatch result. Ack
// stores the offset for the next auto commit. Nack seeks the partition back
// to the message so it is redelivered after nackDelay.
type resultHandler struct {
	log       *zap.Logger
	dlq       dlqHandler
	consumer  offsetControl
	nackDelay time.Duration
	sleep     func(ctx context.Context, d time.Duration)
}

func newResultHandler(log *zap.Logger, dlq dlqHandler, consumer offsetControl, nackDelay time.Duration) *resultHandler {
	return &resultHandler{
		log:       log,
		dlq:       dlq,
		consumer:  consumer,
		nackDelay: nackDelay,
		sleep:     sleep,
	}
}

// isPoison reports errors that redelivery cannot fix. Unknown event types
// go to the DLQ too, so they can be replayed once a handler exists.
func isPoison(err error) bool {
	return errors.Is(err, envelope.ErrInvalidEnvelope) ||
		errors.Is(err, envelope.ErrSerialization) ||
		errors.Is(err, inbox.ErrUnknownEventType)
}

func (h *resultHandler) handle(ctx context.Context, message *kafka.Message, outcome inbox.Outcome, err error, span trace.Span) (verdict, error) {
	switch {
	case err == nil:
		span.SetStatus(codes.Ok, outcome.String())
		if outcome == inbox.Duplicate {
			h.log.Debug("duplicate message acknowledged", messageFields(message)...)
		}
		h.storeOffset(message)
		return acked, nil

	case isPoison(err):
		span.RecordError(err)
		span.SetStatus(codes.Error, "unprocessable message")
		if dlqErr := h.dlq.sendToDLQ(ctx, message, err); dlqErr != nil {
			return h.nack(ctx, message, dlqErr)
		}
		h.storeOffset(message)
		return acked, nil

	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch failed")
		return h.nack(ctx, message, err)
	}
}

func (h *resultHandler) nack(ctx context.Context, message *kafka.Message, cause error) (verdict, error) {
	h.log.Warn("message nacked, redelivering", append(messageFields(message),
		zap.String("eventType", headerValue(message.Headers, broker.HeaderEventType)),
		zap.Duration("nack_delay", h.nackDelay),
		zap.Error(cause),
	)...)

	if err := h.consumer.Seek(message.TopicPartition, 0); err != nil {
		return 0, fmt.Errorf("failed to seek back to offset %d of partition %d: %w",
			message.TopicPartition.Offset, message.TopicPartition.Partition, err)
	}
	h.sleep(ctx, h.nackDelay)
	return nacked, nil
}

func (h *resultHandler) storeOffset(message *kafka.Message) {
	if _, err := h.consumer.StoreMessage(message); err != nil {
		h.log.Error("failed to store offset", append(messageFields(message), zap.Error(err))...)
	}
}
