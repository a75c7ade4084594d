package inbox

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/envelope"
	"github.com/Sokol111/ecommerce-outbox/pkg/persistence/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// countingHandler counts calls and, separately, effects that committed.
type countingHandler struct {
	mu        sync.Mutex
	calls     map[uuid.UUID]int
	committed map[uuid.UUID]int
	fail      func(env envelope.Envelope) error
}

func newCountingHandler() *countingHandler {
	return &countingHandler{calls: make(map[uuid.UUID]int), committed: make(map[uuid.UUID]int)}
}

func (h *countingHandler) Handle(ctx context.Context, env envelope.Envelope) error {
	h.mu.Lock()
	h.calls[env.EventID]++
	fail := h.fail
	h.mu.Unlock()

	if fail != nil {
		if err := fail(env); err != nil {
			return err
		}
	}
	tx, _ := memory.TxFromContext(ctx)
	tx.OnCommit(func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.committed[env.EventID]++
	})
	return nil
}

func (h *countingHandler) Calls(id uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[id]
}

func (h *countingHandler) Committed(id uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.committed[id]
}

func newEnvelope(eventType string) envelope.Envelope {
	return envelope.Envelope{
		EventID:       uuid.New(),
		EventType:     eventType,
		AggregateType: "Order",
		AggregateID:   uuid.New(),
		OccurredAt:    envelope.Normalize(time.Now()),
		SchemaVersion: 1,
		Payload:       []byte(`{"productId":"p1"}`),
	}
}

func newTestDispatcher(t *testing.T, h Handler) (*Dispatcher, *MemoryDedupStore) {
	t.Helper()
	registry := NewRegistry()
	require.NoError(t, registry.Register("OrderCreatedEvent", h))
	dedup := NewMemoryDedupStore()
	return NewDispatcher(memory.NewTxManager(), dedup, registry, zap.NewNop()), dedup
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	h := HandlerFunc(func(context.Context, envelope.Envelope) error { return nil })

	require.NoError(t, r.Register("OrderCreatedEvent", h))

	t.Run("duplicate registration", func(t *testing.T) {
		assert.ErrorIs(t, r.Register("OrderCreatedEvent", h), ErrDuplicateHandler)
	})

	t.Run("lookup", func(t *testing.T) {
		_, ok := r.Lookup("OrderCreatedEvent")
		assert.True(t, ok)
		_, ok = r.Lookup("OrderCancelledEvent")
		assert.False(t, ok)
		assert.Equal(t, []string{"OrderCreatedEvent"}, r.EventTypes())
	})

	t.Run("rejects empty registration", func(t *testing.T) {
		assert.Error(t, r.Register("", h))
		assert.Error(t, r.Register("X", nil))
	})
}

func TestDispatcher_Dispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("processes a new event", func(t *testing.T) {
		// Given
		h := newCountingHandler()
		d, dedup := newTestDispatcher(t, h)
		env := newEnvelope("OrderCreatedEvent")

		// When
		outcome, err := d.Dispatch(ctx, env)

		// Then
		require.NoError(t, err)
		assert.Equal(t, Processed, outcome)
		assert.Equal(t, 1, h.Committed(env.EventID))
		assert.Equal(t, 1, dedup.Len())
	})

	t.Run("redelivery is a duplicate", func(t *testing.T) {
		h := newCountingHandler()
		d, _ := newTestDispatcher(t, h)
		env := newEnvelope("OrderCreatedEvent")
		_, err := d.Dispatch(ctx, env)
		require.NoError(t, err)

		outcome, err := d.Dispatch(ctx, env)

		require.NoError(t, err)
		assert.Equal(t, Duplicate, outcome)
		assert.Equal(t, 1, h.Calls(env.EventID))
	})

	t.Run("handler failure rolls back and allows retry", func(t *testing.T) {
		// Given
		h := newCountingHandler()
		failures := 1
		h.fail = func(envelope.Envelope) error {
			if failures > 0 {
				failures--
				return errors.New("product store down")
			}
			return nil
		}
		d, dedup := newTestDispatcher(t, h)
		env := newEnvelope("OrderCreatedEvent")

		// When
		_, firstErr := d.Dispatch(ctx, env)
		outcome, secondErr := d.Dispatch(ctx, env)

		// Then
		require.Error(t, firstErr)
		require.NoError(t, secondErr)
		assert.Equal(t, Processed, outcome)
		assert.Equal(t, 2, h.Calls(env.EventID))
		assert.Equal(t, 1, h.Committed(env.EventID))
		assert.Equal(t, 1, dedup.Len())
	})

	t.Run("unknown event type is not recorded", func(t *testing.T) {
		d, dedup := newTestDispatcher(t, newCountingHandler())

		_, err := d.Dispatch(ctx, newEnvelope("OrderCancelledEvent"))

		assert.ErrorIs(t, err, ErrUnknownEventType)
		assert.Zero(t, dedup.Len())
	})
}

func TestDispatcher_DispatchMessage(t *testing.T) {
	h := newCountingHandler()
	d, _ := newTestDispatcher(t, h)
	env := newEnvelope("OrderCreatedEvent")
	raw, err := envelope.Marshal(env)
	require.NoError(t, err)

	t.Run("decodes and dispatches", func(t *testing.T) {
		outcome, err := d.DispatchMessage(context.Background(), raw)

		require.NoError(t, err)
		assert.Equal(t, Processed, outcome)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := d.DispatchMessage(context.Background(), []byte(`{"eventId":"nope"}`))

		assert.Error(t, err)
	})
}

func TestDispatcher_DedupUnderDuplicatesAndInterleaving(t *testing.T) {
	// Given
	h := newCountingHandler()
	d, _ := newTestDispatcher(t, h)
	rng := rand.New(rand.NewPCG(3, 5))

	events := make([]envelope.Envelope, 30)
	for i := range events {
		events[i] = newEnvelope("OrderCreatedEvent")
	}
	var deliveries []envelope.Envelope
	for _, env := range events {
		for range 1 + rng.IntN(4) {
			deliveries = append(deliveries, env)
		}
	}
	rng.Shuffle(len(deliveries), func(i, j int) { deliveries[i], deliveries[j] = deliveries[j], deliveries[i] })

	// When
	var wg sync.WaitGroup
	work := make(chan envelope.Envelope)
	for range 4 {
		wg.Go(func() {
			for env := range work {
				_, err := d.Dispatch(context.Background(), env)
				assert.NoError(t, err)
			}
		})
	}
	for _, env := range deliveries {
		work <- env
	}
	close(work)
	wg.Wait()

	// Then
	for _, env := range events {
		assert.Equal(t, 1, h.Calls(env.EventID), "event %s", env.EventID)
		assert.Equal(t, 1, h.Committed(env.EventID), "event %s", env.EventID)
	}
}

func TestMemoryDedupStore(t *testing.T) {
	ctx := context.Background()
	tm := memory.NewTxManager()
	store := NewMemoryDedupStore()
	id := uuid.New()

	t.Run("insert requires a transaction", func(t *testing.T) {
		assert.Error(t, store.Insert(ctx, id, time.Now()))
	})

	t.Run("staged insert is visible inside its transaction only", func(t *testing.T) {
		_, err := tm.WithTransaction(ctx, func(txCtx context.Context) (any, error) {
			require.NoError(t, store.Insert(txCtx, id, time.Now()))
			seen, err := store.Seen(txCtx, id)
			require.NoError(t, err)
			assert.True(t, seen)
			assert.ErrorIs(t, store.Insert(txCtx, id, time.Now()), ErrAlreadyProcessed)
			return nil, errors.New("rollback")
		})
		require.Error(t, err)

		seen, err := store.Seen(ctx, id)
		require.NoError(t, err)
		assert.False(t, seen)
	})
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "processed", Processed.String())
	assert.Equal(t, "duplicate", Duplicate.String())
	assert.Equal(t, "unknown", Outcome(0).String())
}
