package product

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Sokol111/ecommerce-outbox/internal/events"
	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/envelope"
	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/patterns/inbox"
	"github.com/Sokol111/ecommerce-outbox/pkg/persistence/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// memoryLedger applies records when the memory transaction commits.
type memoryLedger struct {
	mu        sync.Mutex
	orders    map[uuid.UUID]string
	recordErr error
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{orders: make(map[uuid.UUID]string)}
}

func (l *memoryLedger) Record(ctx context.Context, orderID uuid.UUID, productID string, _ time.Time) error {
	if l.recordErr != nil {
		return l.recordErr
	}
	tx, ok := memory.TxFromContext(ctx)
	if !ok {
		return errors.New("record outside a transaction")
	}
	tx.OnCommit(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if _, exists := l.orders[orderID]; !exists {
			l.orders[orderID] = productID
		}
	})
	return nil
}

func (l *memoryLedger) CountByProduct(_ context.Context, productID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	for _, p := range l.orders {
		if p == productID {
			n++
		}
	}
	return n, nil
}

func orderCreatedEnvelope(t *testing.T, orderID uuid.UUID, productID string) envelope.Envelope {
	t.Helper()
	payload, err := envelope.EncodePayload(events.OrderCreatedEvent{ProductID: productID})
	require.NoError(t, err)
	return envelope.Envelope{
		EventID:       uuid.New(),
		EventType:     events.OrderCreated,
		AggregateType: events.AggregateOrder,
		AggregateID:   orderID,
		OccurredAt:    envelope.Normalize(time.Now()),
		SchemaVersion: 1,
		Payload:       payload,
	}
}

func newTestDispatcher(t *testing.T, ledger OrderLedger, log *zap.Logger) *inbox.Dispatcher {
	t.Helper()
	registry := inbox.NewRegistry()
	reg := newOrderCreatedRegistration(NewOrderCreatedHandler(ledger))
	require.NoError(t, registry.Register(reg.EventType, reg.Handler))
	return inbox.NewDispatcher(memory.NewTxManager(), inbox.NewMemoryDedupStore(), registry, log)
}

func TestOrderCreatedHandler(t *testing.T) {
	ctx := context.Background()
	orderID := uuid.MustParse("0b5c7f8e-1111-4a2b-9c3d-000000000001")

	t.Run("logs and records the order", func(t *testing.T) {
		// Given
		core, logs := observer.New(zapcore.InfoLevel)
		ledger := newMemoryLedger()
		d := newTestDispatcher(t, ledger, zap.New(core))

		// When
		outcome, err := d.Dispatch(ctx, orderCreatedEnvelope(t, orderID, "p-42"))

		// Then
		require.NoError(t, err)
		assert.Equal(t, inbox.Processed, outcome)
		n, _ := ledger.CountByProduct(ctx, "p-42")
		assert.Equal(t, int64(1), n)

		entries := logs.FilterMessage("order created").All()
		require.Len(t, entries, 1)
		assert.Equal(t, "p-42", entries[0].ContextMap()["productId"])
		assert.Equal(t, orderID.String(), entries[0].ContextMap()["orderId"])
	})

	t.Run("redelivery is processed once", func(t *testing.T) {
		// Given
		core, logs := observer.New(zapcore.InfoLevel)
		ledger := newMemoryLedger()
		d := newTestDispatcher(t, ledger, zap.New(core))
		env := orderCreatedEnvelope(t, orderID, "p-42")

		// When
		first, err1 := d.Dispatch(ctx, env)
		second, err2 := d.Dispatch(ctx, env)

		// Then
		require.NoError(t, err1)
		require.NoError(t, err2)
		assert.Equal(t, inbox.Processed, first)
		assert.Equal(t, inbox.Duplicate, second)
		assert.Equal(t, 1, logs.FilterMessage("order created").Len())
	})

	tests := []struct {
		name       string
		productID  string
		recordErr  error
		wantPoison bool
	}{
		{name: "blank product id is poison", productID: "", wantPoison: true},
		{name: "ledger failure is retried", productID: "p-42", recordErr: errors.New("write conflict")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given
			ledger := newMemoryLedger()
			ledger.recordErr = tt.recordErr
			d := newTestDispatcher(t, ledger, zap.NewNop())
			env := orderCreatedEnvelope(t, orderID, tt.productID)

			// When
			_, err := d.Dispatch(ctx, env)

			// Then
			require.Error(t, err)
			assert.Equal(t, tt.wantPoison, errors.Is(err, envelope.ErrInvalidEnvelope))

			// Nothing committed, so a later delivery is processed again.
			ledger.recordErr = nil
			env.Payload, _ = envelope.EncodePayload(events.OrderCreatedEvent{ProductID: "p-42"})
			outcome, err := d.Dispatch(ctx, env)
			require.NoError(t, err)
			assert.Equal(t, inbox.Processed, outcome)
		})
	}
}
