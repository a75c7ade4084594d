// Package brokertest provides an in-memory broker.Publisher with scripted
// failures and an at-least-once delivery queue for consumer tests.
package brokertest

import (
	"context"
	"sync"

	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/broker"
	"github.com/google/uuid"
)

// Hook runs before a publish is accepted. Returning an error fails the
// publish without recording it.
type Hook func(ctx context.Context, msg broker.Message) error

type Broker struct {
	mu        sync.Mutex
	published []broker.Message
	queue     []broker.Message
	failures  map[uuid.UUID][]error
	attempts  map[uuid.UUID]int
	hook      Hook
}

var _ broker.Publisher = (*Broker)(nil)

func New() *Broker {
	return &Broker{
		failures: make(map[uuid.UUID][]error),
		attempts: make(map[uuid.UUID]int),
	}
}

// FailNext makes the next len(errs) publishes of eventID fail with errs, in order.
func (b *Broker) FailNext(eventID uuid.UUID, errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[eventID] = append(b.failures[eventID], errs...)
}

func (b *Broker) SetHook(h Hook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hook = h
}

func (b *Broker) Publish(ctx context.Context, msg broker.Message) error {
	b.mu.Lock()
	hook := b.hook
	b.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, msg); err != nil {
			b.countAttempt(msg)
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	id := msg.Envelope.EventID
	b.attempts[id]++
	if scripted := b.failures[id]; len(scripted) > 0 {
		b.failures[id] = scripted[1:]
		return scripted[0]
	}
	b.published = append(b.published, msg)
	b.queue = append(b.queue, msg)
	return nil
}

func (b *Broker) countAttempt(msg broker.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts[msg.Envelope.EventID]++
}

// Published returns every acknowledged publish in acknowledgement order.
func (b *Broker) Published() []broker.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]broker.Message(nil), b.published...)
}

// PublishedIDs returns the event ids of Published.
func (b *Broker) PublishedIDs() []uuid.UUID {
	msgs := b.Published()
	ids := make([]uuid.UUID, len(msgs))
	for i, m := range msgs {
		ids[i] = m.Envelope.EventID
	}
	return ids
}

// PublishedFor returns the acknowledged publishes with the given key, in order.
func (b *Broker) PublishedFor(key string) []broker.Message {
	var out []broker.Message
	for _, m := range b.Published() {
		if m.Key == key {
			out = append(out, m)
		}
	}
	return out
}

// Attempts counts publish calls for eventID, failed ones included.
func (b *Broker) Attempts(eventID uuid.UUID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts[eventID]
}

// Redeliver queues msg again as if the broker redelivered it.
func (b *Broker) Redeliver(msg broker.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = append(b.queue, msg)
}

// Consume hands queued messages to handle until the queue is empty or ctx
// ends. A handler error is a nack: the message goes to the back of the
// queue. It returns the number of acknowledged deliveries.
func (b *Broker) Consume(ctx context.Context, handle func(ctx context.Context, msg broker.Message) error) int {
	acked := 0
	for ctx.Err() == nil {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.mu.Unlock()
			return acked
		}
		msg := b.queue[0]
		b.queue = b.queue[1:]
		b.mu.Unlock()

		if err := handle(ctx, msg); err != nil {
			b.Redeliver(msg)
			continue
		}
		acked++
	}
	return acked
}
