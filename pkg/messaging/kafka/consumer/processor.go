package consumer

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/Sokol111/ecommerce-outbox/pkg/core/logger"
	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/broker"
	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/patterns/inbox"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

// Dispatcher is satisfied by *inbox.Dispatcher.
type Dispatcher interface {
	DispatchMessage(ctx context.Context, value []byte) (inbox.Outcome, error)
}

// PanicError is returned for a dispatch that panicked. The message is nacked.
type PanicError struct {
	Panic any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Panic)
}

type partitionKey struct {
	topic     string
	partition int32
}

type processor struct {
	messagesChan <-chan *kafka.Message
	dispatcher   Dispatcher
	results      *resultHandler
	tracer       *messageTracer
	timeout      time.Duration
	log          *zap.Logger

	// rewind holds the offset each nacked partition was seeked back to.
	// Messages past it were read before the seek and are dropped.
	rewind map[partitionKey]kafka.Offset
}

func newProcessor(messagesChan <-chan *kafka.Message, dispatcher Dispatcher, results *resultHandler,
	tracer *messageTracer, timeout time.Duration, log *zap.Logger) *processor {
	return &processor{
		messagesChan: messagesChan,
		dispatcher:   dispatcher,
		results:      results,
		tracer:       tracer,
		timeout:      timeout,
		log:          log,
		rewind:       make(map[partitionKey]kafka.Offset),
	}
}

func (p *processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-p.messagesChan:
			if err := p.process(ctx, msg); err != nil {
				return err
			}
		}
	}
}

func (p *processor) process(ctx context.Context, message *kafka.Message) error {
	key := partitionKey{topic: *message.TopicPartition.Topic, partition: message.TopicPartition.Partition}
	if p.stale(key, message.TopicPartition.Offset) {
		p.log.Debug("dropping message read before seek", messageFields(message)...)
		return nil
	}

	spanCtx, span := p.tracer.startConsumerSpan(ctx, message)
	defer span.End()

	log := p.log.With(zap.String("eventId", headerValue(message.Headers, broker.HeaderEventID)))
	outcome, err := p.dispatch(logger.With(spanCtx, log), message)
	if ctx.Err() != nil {
		// Shutting down: leave the offset unstored so the message is redelivered.
		return nil
	}

	v, err := p.results.handle(spanCtx, message, outcome, err, span)
	if err != nil {
		return err
	}
	if v == nacked {
		p.rewind[key] = message.TopicPartition.Offset
	}
	return nil
}

func (p *processor) stale(key partitionKey, offset kafka.Offset) bool {
	at, ok := p.rewind[key]
	if !ok {
		return false
	}
	if offset > at {
		return true
	}
	delete(p.rewind, key)
	return false
}

func (p *processor) dispatch(ctx context.Context, message *kafka.Message) (outcome inbox.Outcome, err error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			perr := &PanicError{Panic: r, Stack: debug.Stack()}
			p.log.Error("dispatch panicked", append(messageFields(message), zap.Any("panic", r), zap.ByteString("stack", perr.Stack))...)
			err = perr
		}
	}()

	return p.dispatcher.DispatchMessage(ctx, message.Value)
}
