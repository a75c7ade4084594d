package rabbitmq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/broker"
	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/envelope"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// mockChannel answers each publish through reply, which may write to the
// registered notify channels.
type mockChannel struct {
	mu         sync.Mutex
	published  []amqp.Publishing
	keys       []string
	confirmed  bool
	closeCalls int
	publishErr error
	declareErr error
	reply      func(m *mockChannel, tag uint64)

	confirms chan amqp.Confirmation
	returns  chan amqp.Return
	closes   chan *amqp.Error
}

func (m *mockChannel) Confirm(bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirmed = true
	return nil
}

func (m *mockChannel) NotifyPublish(c chan amqp.Confirmation) chan amqp.Confirmation {
	m.confirms = c
	return c
}

func (m *mockChannel) NotifyReturn(c chan amqp.Return) chan amqp.Return {
	m.returns = c
	return c
}

func (m *mockChannel) NotifyClose(c chan *amqp.Error) chan *amqp.Error {
	m.closes = c
	return c
}

func (m *mockChannel) ExchangeDeclare(string, string, bool, bool, bool, bool, amqp.Table) error {
	return m.declareErr
}

func (m *mockChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	m.mu.Lock()
	if m.publishErr != nil {
		m.mu.Unlock()
		return m.publishErr
	}
	m.published = append(m.published, msg)
	m.keys = append(m.keys, key)
	tag := uint64(len(m.published))
	m.mu.Unlock()

	if m.reply != nil {
		m.reply(m, tag)
	}
	return nil
}

func (m *mockChannel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalls++
	return nil
}

type mockConnection struct {
	mu       sync.Mutex
	channels []*mockChannel
	next     func() *mockChannel
	closed   bool
	openErr  error
}

func (c *mockConnection) openChannel() (channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openErr != nil {
		return nil, c.openErr
	}
	ch := c.next()
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *mockConnection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *mockConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func ack(m *mockChannel, tag uint64) {
	m.confirms <- amqp.Confirmation{DeliveryTag: tag, Ack: true}
}

func testConfig() Config {
	return Config{URL: "amqp://localhost", Exchange: "orders", ConfirmTimeout: 50 * time.Millisecond}
}

func newTestPublisher(conn connection) *Publisher {
	p := newPublisher(testConfig(), noop.NewTracerProvider(), zap.NewNop())
	p.setConnection(conn)
	return p
}

func testMessage(t *testing.T) broker.Message {
	t.Helper()
	msg, err := broker.NewMessage("orders", envelope.Envelope{
		EventID:       uuid.New(),
		EventType:     "OrderCreatedEvent",
		AggregateType: "Order",
		AggregateID:   uuid.New(),
		OccurredAt:    time.Now().UTC(),
		SchemaVersion: 1,
		Payload:       []byte(`{"productId":"p1","quantity":2}`),
	}, nil)
	require.NoError(t, err)
	return msg
}

func TestPublisher_Publish(t *testing.T) {
	t.Run("acked message is delivered", func(t *testing.T) {
		// Given
		ch := &mockChannel{reply: ack}
		conn := &mockConnection{next: func() *mockChannel { return ch }}
		pub := newTestPublisher(conn)
		msg := testMessage(t)

		// When
		err := pub.Publish(context.Background(), msg)

		// Then
		require.NoError(t, err)
		require.Len(t, ch.published, 1)
		assert.True(t, ch.confirmed)
		assert.Equal(t, msg.Topic, ch.keys[0])
		sent := ch.published[0]
		assert.Equal(t, msg.Value, sent.Body)
		assert.Equal(t, msg.Envelope.EventID.String(), sent.MessageId)
		assert.Equal(t, "OrderCreatedEvent", sent.Type)
		assert.Equal(t, amqp.Persistent, sent.DeliveryMode)
		assert.Equal(t, "OrderCreatedEvent", sent.Headers[broker.HeaderEventType])
	})

	t.Run("channel is reused across publishes", func(t *testing.T) {
		ch := &mockChannel{reply: ack}
		conn := &mockConnection{next: func() *mockChannel { return ch }}
		pub := newTestPublisher(conn)

		require.NoError(t, pub.Publish(context.Background(), testMessage(t)))
		require.NoError(t, pub.Publish(context.Background(), testMessage(t)))

		assert.Len(t, conn.channels, 1)
		assert.Len(t, ch.published, 2)
	})

	tests := []struct {
		name          string
		channel       func() *mockChannel
		wantErr       error
		wantPermanent bool
		wantReopen    bool
	}{
		{
			name: "nack is transient",
			channel: func() *mockChannel {
				return &mockChannel{reply: func(m *mockChannel, tag uint64) {
					m.confirms <- amqp.Confirmation{DeliveryTag: tag, Ack: false}
				}}
			},
			wantErr: broker.ErrNotAcknowledged,
		},
		{
			name: "returned message is transient",
			channel: func() *mockChannel {
				return &mockChannel{reply: func(m *mockChannel, tag uint64) {
					m.returns <- amqp.Return{ReplyCode: amqp.NoRoute, ReplyText: "NO_ROUTE"}
					m.confirms <- amqp.Confirmation{DeliveryTag: tag, Ack: true}
				}}
			},
			wantErr: errUnroutable,
		},
		{
			name:       "missing confirm times out",
			channel:    func() *mockChannel { return &mockChannel{} },
			wantErr:    broker.ErrNotAcknowledged,
			wantReopen: true,
		},
		{
			name: "channel closed by broker with access refused is permanent",
			channel: func() *mockChannel {
				return &mockChannel{reply: func(m *mockChannel, _ uint64) {
					m.closes <- &amqp.Error{Code: amqp.AccessRefused, Reason: "ACCESS_REFUSED"}
				}}
			},
			wantPermanent: true,
			wantReopen:    true,
		},
		{
			name: "publish error is transient",
			channel: func() *mockChannel {
				return &mockChannel{publishErr: amqp.ErrClosed}
			},
			wantErr:    amqp.ErrClosed,
			wantReopen: true,
		},
		{
			name: "exchange precondition failure is permanent",
			channel: func() *mockChannel {
				return &mockChannel{declareErr: &amqp.Error{Code: amqp.PreconditionFailed, Reason: "PRECONDITION_FAILED"}}
			},
			wantPermanent: true,
			wantReopen:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given
			conn := &mockConnection{next: tt.channel}
			pub := newTestPublisher(conn)

			// When
			err := pub.Publish(context.Background(), testMessage(t))

			// Then
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Equal(t, tt.wantPermanent, broker.IsPermanent(err))

			_ = pub.Publish(context.Background(), testMessage(t))
			if tt.wantReopen {
				assert.Len(t, conn.channels, 2, "broken channel must be replaced")
			} else {
				assert.Len(t, conn.channels, 1)
			}
		})
	}

	t.Run("cancelled context stops the wait", func(t *testing.T) {
		// Given
		ch := &mockChannel{}
		pub := newTestPublisher(&mockConnection{next: func() *mockChannel { return ch }})
		pub.cfg.ConfirmTimeout = time.Hour
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		// When
		err := pub.Publish(ctx, testMessage(t))

		// Then
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.False(t, broker.IsPermanent(err))
		assert.Equal(t, 1, ch.closeCalls)
	})

	t.Run("not connected", func(t *testing.T) {
		pub := newPublisher(testConfig(), noop.NewTracerProvider(), zap.NewNop())

		err := pub.Publish(context.Background(), testMessage(t))

		assert.ErrorIs(t, err, errNotConnected)
		assert.False(t, broker.IsPermanent(err))
	})
}

func TestPublisher_Close(t *testing.T) {
	ch := &mockChannel{reply: ack}
	conn := &mockConnection{next: func() *mockChannel { return ch }}
	pub := newTestPublisher(conn)
	require.NoError(t, pub.Publish(context.Background(), testMessage(t)))

	require.NoError(t, pub.close())

	assert.True(t, conn.IsClosed())
	assert.Equal(t, 1, ch.closeCalls)
}

func TestConnect(t *testing.T) {
	t.Run("retries until dial succeeds", func(t *testing.T) {
		// Given
		calls := 0
		dial := func() (connection, error) {
			calls++
			if calls < 3 {
				return nil, errors.New("connection refused")
			}
			return &mockConnection{}, nil
		}

		// When
		conn, err := connect(context.Background(), dial, zap.NewNop(), 5, &backoff.ZeroBackOff{})

		// Then
		require.NoError(t, err)
		assert.NotNil(t, conn)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up at the deadline", func(t *testing.T) {
		dial := func() (connection, error) { return nil, errors.New("connection refused") }

		_, err := connect(context.Background(), dial, zap.NewNop(), 1, backoff.NewConstantBackOff(50*time.Millisecond))

		assert.Error(t, err)
	})
}

func TestFinalize(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "defaults applied", cfg: Config{URL: "amqp://x", Exchange: "orders"}},
		{name: "url required", cfg: Config{Exchange: "orders"}, wantErr: "url is required"},
		{name: "exchange required", cfg: Config{URL: "amqp://x"}, wantErr: "exchange is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := finalize(tt.cfg)

			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, defaultConfirmTimeout, got.ConfirmTimeout)
			assert.Equal(t, defaultReadinessTimeout, got.ReadinessTimeoutSeconds)
			assert.True(t, *got.FailOnBrokerError)
		})
	}
}
