package outbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Sokol111/ecommerce-outbox/pkg/persistence/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type orderCreated struct {
	ProductID string `json:"productId"`
}

func newRecord(aggregateID uuid.UUID) *Record {
	return &Record{
		EventID:       uuid.New(),
		AggregateType: "Order",
		AggregateID:   aggregateID,
		EventType:     "OrderCreatedEvent",
		SchemaVersion: 1,
		OccurredAt:    time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Payload:       []byte(`{"productId":"p1"}`),
	}
}

// insertCommitted stages recs in one committed memory transaction.
func insertCommitted(t *testing.T, tm *memory.TxManager, store Store, recs ...*Record) {
	t.Helper()
	_, err := tm.WithTransaction(context.Background(), func(txCtx context.Context) (any, error) {
		for _, rec := range recs {
			if err := store.Insert(txCtx, rec); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	require.NoError(t, err)
}

func mustGet(t *testing.T, store *MemoryStore, id uuid.UUID) Record {
	t.Helper()
	rec, ok := store.Get(id)
	require.True(t, ok, "record %s not found", id)
	return rec
}

func setPropagator(p propagation.TextMapPropagator) (restore func()) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(p)
	return func() { otel.SetTextMapPropagator(prev) }
}
