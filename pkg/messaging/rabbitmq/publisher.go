package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/broker"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const system = "rabbitmq"

var (
	errNotConnected = errors.New("rabbitmq connection not established")
	errUnroutable   = errors.New("message returned as unroutable")
)

// Publisher is the broker.Publisher binding for RabbitMQ. Messages go to a
// durable topic exchange with the topic as routing key and are published
// mandatory on a confirm-mode channel. Publish returns after the broker
// confirmed the message.
type Publisher struct {
	cfg Config
	tp  trace.TracerProvider
	log *zap.Logger

	mu      sync.Mutex
	conn    connection
	ch      channel
	confirm chan amqp.Confirmation
	returns chan amqp.Return
	closed  chan *amqp.Error
}

var _ broker.Publisher = (*Publisher)(nil)

func newPublisher(cfg Config, tp trace.TracerProvider, log *zap.Logger) *Publisher {
	return &Publisher{cfg: cfg, tp: tp, log: log}
}

func (p *Publisher) setConnection(conn connection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conn = conn
	p.invalidate()
}

func (p *Publisher) Publish(ctx context.Context, msg broker.Message) error {
	ctx, span, headers := broker.StartProducerSpan(ctx, p.tp, system, msg)
	defer span.End()

	err := p.publish(ctx, msg, headers)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// publish holds the lock for the whole round trip so each confirm and return
// belongs to exactly one in-flight message.
func (p *Publisher) publish(ctx context.Context, msg broker.Message, headers map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureChannel(); err != nil {
		return err
	}

	if err := p.ch.PublishWithContext(ctx, p.cfg.Exchange, msg.Topic, true, false, toPublishing(msg, headers)); err != nil {
		p.invalidate()
		return classify(fmt.Errorf("failed to publish to %s: %w", msg.Topic, err))
	}

	return p.waitForConfirm(ctx, msg.Topic)
}

func (p *Publisher) waitForConfirm(ctx context.Context, topic string) error {
	timer := time.NewTimer(p.cfg.ConfirmTimeout)
	defer timer.Stop()

	var returned *amqp.Return
	for {
		select {
		case r, ok := <-p.returns:
			if !ok {
				p.invalidate()
				return broker.NackError("channel closed while waiting for confirm of %s", topic)
			}
			// The broker sends basic.return before the ack of the same message.
			returned = &r
		case c, ok := <-p.confirm:
			if !ok {
				p.invalidate()
				return broker.NackError("channel closed while waiting for confirm of %s", topic)
			}
			if returned == nil {
				select {
				case r, ok := <-p.returns:
					if ok {
						returned = &r
					}
				default:
				}
			}
			if returned != nil {
				return broker.NackError("%w: %s (%d %s)", errUnroutable, topic, returned.ReplyCode, returned.ReplyText)
			}
			if !c.Ack {
				return broker.NackError("nacked delivery tag %d on %s", c.DeliveryTag, topic)
			}
			return nil
		case amqpErr := <-p.closed:
			p.invalidate()
			if amqpErr != nil {
				return classify(fmt.Errorf("channel closed while publishing to %s: %w", topic, amqpErr))
			}
			return broker.NackError("channel closed while publishing to %s", topic)
		case <-timer.C:
			p.invalidate()
			return broker.NackError("no confirm for %s after %s", topic, p.cfg.ConfirmTimeout)
		case <-ctx.Done():
			p.invalidate()
			return fmt.Errorf("waiting for confirm: %w", ctx.Err())
		}
	}
}

func (p *Publisher) ensureChannel() error {
	if p.ch != nil {
		return nil
	}
	if p.conn == nil || p.conn.IsClosed() {
		return errNotConnected
	}

	ch, err := p.conn.openChannel()
	if err != nil {
		return classify(err)
	}
	if err := ch.ExchangeDeclare(p.cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return classify(fmt.Errorf("failed to declare exchange %s: %w", p.cfg.Exchange, err))
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return classify(fmt.Errorf("failed to enable confirms: %w", err))
	}

	p.ch = ch
	p.confirm = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	p.returns = ch.NotifyReturn(make(chan amqp.Return, 1))
	p.closed = ch.NotifyClose(make(chan *amqp.Error, 1))
	p.log.Debug("rabbitmq channel opened", zap.String("exchange", p.cfg.Exchange))
	return nil
}

// invalidate drops the channel; the next publish opens a fresh one. A late
// confirm on the old channel can then never be matched to another message.
func (p *Publisher) invalidate() {
	if p.ch == nil {
		return
	}
	_ = p.ch.Close()
	p.ch = nil
	p.confirm = nil
	p.returns = nil
	p.closed = nil
}

func (p *Publisher) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.invalidate()
	if p.conn == nil || p.conn.IsClosed() {
		return nil
	}
	return p.conn.Close()
}

func toPublishing(msg broker.Message, headers map[string]string) amqp.Publishing {
	table := make(amqp.Table, len(headers))
	for k, v := range headers {
		table[k] = v
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.Envelope.EventID.String(),
		Type:         msg.Envelope.EventType,
		Timestamp:    msg.Envelope.OccurredAt,
		Headers:      table,
		Body:         msg.Value,
	}
}

// classify marks access and precondition failures as permanent: retrying the
// same message against the same exchange cannot succeed.
func classify(err error) error {
	var amqpErr *amqp.Error
	if !errors.As(err, &amqpErr) {
		return err
	}
	switch amqpErr.Code {
	case amqp.AccessRefused, amqp.PreconditionFailed, amqp.FrameError, amqp.NotImplemented:
		return broker.Permanent(err)
	default:
		return err
	}
}
