package outbox

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/broker"
	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/broker/brokertest"
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

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Domain = "orders"
	cfg.PollInterval = 5 * time.Millisecond
	cfg.MaxAttempts = 5
	cfg.BackoffBase = 100 * time.Millisecond
	cfg.BackoffCap = 10 * time.Second
	cfg.DispatchConcurrency = 4
	return cfg
}

type relayFixture struct {
	clock   *fakeClock
	store   *MemoryStore
	tm      *memory.TxManager
	broker  *brokertest.Broker
	emitter *emitter
	relay   *Relay
}

func newRelayFixture(t *testing.T, mutate func(*Config), opts ...RelayOption) *relayFixture {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	clock := newFakeClock()
	store := NewMemoryStore(WithClock(clock.Now))
	b := brokertest.New()
	opts = append([]RelayOption{WithOwner("relay-a"), WithJitter(noJitter), WithRelayClock(clock.Now)}, opts...)
	relay, err := NewRelay(store, b, cfg, zap.NewNop(), opts...)
	require.NoError(t, err)

	return &relayFixture{
		clock:   clock,
		store:   store,
		tm:      memory.NewTxManager(),
		broker:  b,
		emitter: NewEmitter(store).(*emitter),
		relay:   relay,
	}
}

func (f *relayFixture) emit(t *testing.T, aggregateID uuid.UUID, productID string) Record {
	t.Helper()
	id, err := emitIn(context.Background(), f.tm, f.emitter, Event{
		AggregateType: "Order",
		AggregateID:   aggregateID,
		Payload:       orderCreated{ProductID: productID},
	})
	require.NoError(t, err)
	return mustGet(t, f.store, id)
}

func (f *relayFixture) cycle(t *testing.T) int {
	t.Helper()
	n, err := f.relay.RunCycle(context.Background())
	require.NoError(t, err)
	return n
}

func TestRelay_HappyPathSingleEvent(t *testing.T) {
	// Given
	f := newRelayFixture(t, nil)
	fixed := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	f.emitter.newID = func() uuid.UUID { return fixed }
	agg := uuid.MustParse("a1000000-0000-0000-0000-000000000000")
	rec := f.emit(t, agg, "p1")

	// When
	n := f.cycle(t)

	// Then
	assert.Equal(t, 1, n)
	published := f.broker.Published()
	require.Len(t, published, 1)
	msg := published[0]
	assert.Equal(t, "orders.order.ordercreatedevent", msg.Topic)
	assert.Equal(t, agg.String(), msg.Key)
	assert.Equal(t, fixed.String(), msg.Headers[broker.HeaderEventID])

	env, err := envelope.Unmarshal(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, fixed, env.EventID)
	assert.Equal(t, "OrderCreatedEvent", env.EventType)
	assert.Equal(t, "Order", env.AggregateType)
	assert.Equal(t, agg, env.AggregateID)
	assert.True(t, rec.OccurredAt.Equal(env.OccurredAt))
	assert.JSONEq(t, `{"productId":"p1"}`, string(env.Payload))

	assert.Equal(t, StatePublished, mustGet(t, f.store, fixed).State)
}

// crashAfterPublish loses every MarkPublished, as if the process died right
// after the broker acknowledged.
type crashAfterPublish struct {
	Store
}

func (crashAfterPublish) MarkPublished(context.Context, uuid.UUID) error {
	return errors.New("relay killed")
}

func TestRelay_CrashBeforeMarkPublished(t *testing.T) {
	// Given
	f := newRelayFixture(t, nil)
	rec := f.emit(t, uuid.New(), "p1")
	crashed, err := NewRelay(crashAfterPublish{f.store}, f.broker, testConfig(), zap.NewNop(),
		WithOwner("relay-crashed"), WithJitter(noJitter), WithRelayClock(f.clock.Now))
	require.NoError(t, err)

	// When the first relay publishes and dies
	n, err := crashed.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// Then the record is leased and invisible until the lease runs out
	assert.Equal(t, StateInFlight, mustGet(t, f.store, rec.EventID).State)
	assert.Zero(t, f.cycle(t))

	// When the lease expires the restarted relay publishes again
	f.clock.Advance(testConfig().LeaseDuration)
	assert.Equal(t, 1, f.cycle(t))

	// Then the broker saw the envelope twice and the consumer handled it once
	assert.Equal(t, []uuid.UUID{rec.EventID, rec.EventID}, f.broker.PublishedIDs())
	assert.Equal(t, StatePublished, mustGet(t, f.store, rec.EventID).State)

	calls := 0
	registry := inbox.NewRegistry()
	require.NoError(t, registry.Register("OrderCreatedEvent", inbox.HandlerFunc(
		func(context.Context, envelope.Envelope) error {
			calls++
			return nil
		})))
	dispatcher := inbox.NewDispatcher(memory.NewTxManager(), inbox.NewMemoryDedupStore(), registry, zap.NewNop())
	acked := f.broker.Consume(context.Background(), func(ctx context.Context, msg broker.Message) error {
		_, err := dispatcher.DispatchMessage(ctx, msg.Value)
		return err
	})
	assert.Equal(t, 2, acked)
	assert.Equal(t, 1, calls)
}

func TestRelay_OrderingUnderTransientFailure(t *testing.T) {
	// Given
	f := newRelayFixture(t, nil)
	agg := uuid.New()
	s1, s2, s3 := f.emit(t, agg, "p1"), f.emit(t, agg, "p2"), f.emit(t, agg, "p3")
	f.broker.FailNext(s1.EventID, errors.New("leader not available"))

	// When the head fails
	f.cycle(t)

	// Then nothing behind it is published and the head backs off
	assert.Empty(t, f.broker.Published())
	head := mustGet(t, f.store, s1.EventID)
	assert.Equal(t, StatePending, head.State)
	assert.Equal(t, 1, head.AttemptCount)
	assert.Equal(t, "leader not available", head.LastError)
	assert.Equal(t, f.clock.Now().Add(100*time.Millisecond), head.NextAttemptAt)
	for _, id := range []uuid.UUID{s2.EventID, s3.EventID} {
		rec := mustGet(t, f.store, id)
		assert.Equal(t, StatePending, rec.State)
		assert.Zero(t, rec.AttemptCount)
	}

	// And successors stay hidden while the head backs off
	assert.Zero(t, f.cycle(t))

	// When the backoff elapses
	f.clock.Advance(100 * time.Millisecond)
	assert.Equal(t, 3, f.cycle(t))

	// Then the broker sees s1, s2, s3 in order
	assert.Equal(t, []uuid.UUID{s1.EventID, s2.EventID, s3.EventID}, f.broker.PublishedIDs())
}

func TestRelay_ParallelAggregates(t *testing.T) {
	// Given
	f := newRelayFixture(t, func(c *Config) { c.DispatchConcurrency = 2 })
	a3, a4 := uuid.New(), uuid.New()
	var recs []Record
	for i := range 3 {
		recs = append(recs, f.emit(t, a3, fmt.Sprintf("a3-%d", i)), f.emit(t, a4, fmt.Sprintf("a4-%d", i)))
	}

	// Both aggregates must be mid-publish at the same time for the heads to pass.
	var (
		mu      sync.Mutex
		arrived = make(map[string]bool)
		both    = make(chan struct{})
	)
	f.broker.SetHook(func(ctx context.Context, msg broker.Message) error {
		mu.Lock()
		if !arrived[msg.Key] {
			arrived[msg.Key] = true
			if len(arrived) == 2 {
				close(both)
			}
		}
		mu.Unlock()
		select {
		case <-both:
			return nil
		case <-time.After(2 * time.Second):
			return errors.New("aggregates were not dispatched in parallel")
		}
	})

	// When
	n := f.cycle(t)

	// Then
	assert.Equal(t, 6, n)
	for _, agg := range []uuid.UUID{a3, a4} {
		var got []uuid.UUID
		for _, msg := range f.broker.PublishedFor(agg.String()) {
			got = append(got, msg.Envelope.EventID)
		}
		var want []uuid.UUID
		for _, rec := range recs {
			if rec.AggregateID == agg {
				want = append(want, rec.EventID)
			}
		}
		assert.Equal(t, want, got)
	}
}

func TestRelay_PoisonEvent(t *testing.T) {
	// Given
	f := newRelayFixture(t, nil)
	poisonAgg := uuid.New()
	poison := f.emit(t, poisonAgg, "p1")
	successor := f.emit(t, poisonAgg, "p2")
	other := f.emit(t, uuid.New(), "p3")
	f.broker.FailNext(poison.EventID, broker.Permanent(errors.New("schema rejected")))

	// When
	f.cycle(t)

	// Then the poison record is DEAD after one attempt
	dead := mustGet(t, f.store, poison.EventID)
	assert.Equal(t, StateDead, dead.State)
	assert.Equal(t, testConfig().MaxAttempts, dead.AttemptCount)
	assert.Contains(t, dead.LastError, "schema rejected")
	assert.Equal(t, 1, f.broker.Attempts(poison.EventID))

	// And unrelated aggregates are unaffected
	assert.Equal(t, StatePublished, mustGet(t, f.store, other.EventID).State)

	// And the DEAD record does not hold back its successor
	assert.Equal(t, 1, f.cycle(t))
	assert.Equal(t, StatePublished, mustGet(t, f.store, successor.EventID).State)

	stats, err := f.store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Counts[StateDead])
}

func TestRelay_BackoffGrowth(t *testing.T) {
	// Given
	f := newRelayFixture(t, func(c *Config) { c.MaxAttempts = 10 }, WithJitter(uniformJitter))
	rec := f.emit(t, uuid.New(), "p1")
	transient := errors.New("broker unavailable")
	f.broker.FailNext(rec.EventID, transient, transient, transient, transient, transient)

	windows := [][2]time.Duration{
		{100 * time.Millisecond, 200 * time.Millisecond},
		{200 * time.Millisecond, 400 * time.Millisecond},
		{400 * time.Millisecond, 800 * time.Millisecond},
		{800 * time.Millisecond, 1600 * time.Millisecond},
		{1600 * time.Millisecond, 3200 * time.Millisecond},
	}

	for i, w := range windows {
		// When
		require.Equal(t, 1, f.cycle(t), "failure %d", i+1)

		// Then
		got := mustGet(t, f.store, rec.EventID)
		delta := got.NextAttemptAt.Sub(f.clock.Now())
		assert.Equal(t, i+1, got.AttemptCount)
		assert.GreaterOrEqual(t, delta, w[0], "failure %d", i+1)
		assert.Less(t, delta, w[1], "failure %d", i+1)

		f.clock.Advance(delta)
	}

	assert.Equal(t, 1, f.cycle(t))
	assert.Equal(t, StatePublished, mustGet(t, f.store, rec.EventID).State)
}

func TestRelay_RetriesExhausted(t *testing.T) {
	f := newRelayFixture(t, func(c *Config) { c.MaxAttempts = 2 })
	rec := f.emit(t, uuid.New(), "p1")
	f.broker.FailNext(rec.EventID, errors.New("timeout"), errors.New("timeout"))

	f.cycle(t)
	f.clock.Advance(time.Minute)
	f.cycle(t)

	got := mustGet(t, f.store, rec.EventID)
	assert.Equal(t, StateDead, got.State)
	assert.Equal(t, 2, got.AttemptCount)
}

func TestRelay_SlowBrokerStopsGroupBeforeLeaseRunsOut(t *testing.T) {
	// Given six records of one aggregate, a 100ms lease and 40ms publishes
	f := newRelayFixture(t, func(c *Config) { c.LeaseDuration = 100 * time.Millisecond })
	agg := uuid.New()
	var recs []Record
	for i := range 6 {
		recs = append(recs, f.emit(t, agg, fmt.Sprintf("p%d", i)))
	}
	var (
		mu       sync.Mutex
		inFlight int
		overlap  int
	)
	f.broker.SetHook(func(context.Context, broker.Message) error {
		mu.Lock()
		inFlight++
		if inFlight > 1 {
			overlap++
		}
		mu.Unlock()
		f.clock.Advance(40 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	})
	other, err := NewRelay(f.store, f.broker, f.relay.cfg, zap.NewNop(),
		WithOwner("relay-b"), WithJitter(noJitter), WithRelayClock(f.clock.Now))
	require.NoError(t, err)

	// When relay-a runs one cycle
	assert.Equal(t, 6, f.cycle(t))

	// Then it stopped once the remaining lease was shorter than a publish
	assert.Len(t, f.broker.Published(), 2)
	for _, rec := range recs[2:] {
		got := mustGet(t, f.store, rec.EventID)
		assert.Equal(t, StatePending, got.State)
		assert.Empty(t, got.LeaseOwner)
		assert.Zero(t, got.AttemptCount)
	}

	// When relay-b picks up the rest
	for range 5 {
		_, err := other.RunCycle(context.Background())
		require.NoError(t, err)
	}

	// Then every record went out once, in order, never from two relays at once
	var seqs []int64
	for _, msg := range f.broker.PublishedFor(agg.String()) {
		seqs = append(seqs, mustGet(t, f.store, msg.Envelope.EventID).Sequence)
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6}, seqs)
	assert.Zero(t, overlap)
	for _, rec := range recs {
		assert.Equal(t, StatePublished, mustGet(t, f.store, rec.EventID).State)
	}
}

func TestRelay_PublishDeadlineIsHalfLease(t *testing.T) {
	// Given
	f := newRelayFixture(t, nil)
	f.emit(t, uuid.New(), "p1")
	var remaining time.Duration
	f.broker.SetHook(func(ctx context.Context, _ broker.Message) error {
		deadline, ok := ctx.Deadline()
		if !ok {
			return errors.New("publish without deadline")
		}
		remaining = time.Until(deadline)
		return nil
	})

	// When
	f.cycle(t)

	// Then
	require.Len(t, f.broker.Published(), 1)
	assert.LessOrEqual(t, remaining, testConfig().LeaseDuration/2)
	assert.Greater(t, remaining, testConfig().LeaseDuration/2-time.Second)
}

func TestRelay_ShutdownLeavesLeaseToExpire(t *testing.T) {
	// Given
	f := newRelayFixture(t, nil)
	rec := f.emit(t, uuid.New(), "p1")
	ctx, cancel := context.WithCancel(context.Background())
	f.broker.SetHook(func(pubCtx context.Context, _ broker.Message) error {
		cancel()
		<-pubCtx.Done()
		return pubCtx.Err()
	})

	// When
	_, _ = f.relay.RunCycle(ctx)

	// Then
	got := mustGet(t, f.store, rec.EventID)
	assert.Equal(t, StateInFlight, got.State)
	assert.Zero(t, got.AttemptCount)
	assert.Empty(t, f.broker.Published())
}

func TestRelay_PerAggregateOrderingAndAtLeastOnce(t *testing.T) {
	// Given
	f := newRelayFixture(t, func(c *Config) {
		c.MaxAttempts = 1000
		c.BatchSize = 7
	})
	rng := rand.New(rand.NewPCG(42, 1))
	var rngMu sync.Mutex
	f.broker.SetHook(func(context.Context, broker.Message) error {
		rngMu.Lock()
		defer rngMu.Unlock()
		if rng.IntN(10) < 3 {
			return errors.New("flaky broker")
		}
		return nil
	})

	aggregates := make([]uuid.UUID, 6)
	for i := range aggregates {
		aggregates[i] = uuid.New()
	}
	var recs []Record
	for i := range 60 {
		recs = append(recs, f.emit(t, aggregates[i%len(aggregates)], fmt.Sprintf("p%d", i)))
	}

	// When
	for range 500 {
		f.cycle(t)
		f.clock.Advance(testConfig().BackoffCap + testConfig().BackoffBase)
		stats, err := f.store.Stats(context.Background())
		require.NoError(t, err)
		if stats.Counts[StatePublished] == int64(len(recs)) {
			break
		}
	}

	// Then every record was published exactly once the broker acked it
	for _, rec := range recs {
		require.Equal(t, StatePublished, mustGet(t, f.store, rec.EventID).State)
	}
	bySeq := make(map[uuid.UUID]int64, len(recs))
	for _, rec := range recs {
		bySeq[rec.EventID] = rec.Sequence
	}
	for _, agg := range aggregates {
		var last int64
		for _, msg := range f.broker.PublishedFor(agg.String()) {
			seq := bySeq[msg.Envelope.EventID]
			assert.Greater(t, seq, last, "aggregate %s published out of order", agg)
			last = seq
		}
	}
	assert.Len(t, f.broker.Published(), len(recs))
}

// flakyStore fails ClaimBatch a fixed number of times.
type flakyStore struct {
	Store
	mu       sync.Mutex
	failures int
}

func (s *flakyStore) ClaimBatch(ctx context.Context, owner string, limit int, lease time.Duration) ([]Record, error) {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return nil, ErrStoreUnavailable
	}
	s.mu.Unlock()
	return s.Store.ClaimBatch(ctx, owner, limit, lease)
}

func TestRelay_Run(t *testing.T) {
	// Given
	core, logs := observer.New(zapcore.InfoLevel)
	f := newRelayFixture(t, nil)
	rec := f.emit(t, uuid.New(), "p1")
	store := &flakyStore{Store: f.store, failures: 3}
	relay, err := NewRelay(store, f.broker, testConfig(), zap.New(core), WithJitter(noJitter), WithRelayClock(f.clock.Now))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	// When
	go func() { done <- relay.Run(ctx) }()

	// Then the relay survives store outages and publishes
	require.Eventually(t, func() bool {
		got, _ := f.store.Get(rec.EventID)
		return got.State == StatePublished
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop after cancellation")
	}

	// And the repeated outage was logged as a warning only once
	assert.Equal(t, 1, logs.FilterMessage("outbox store unavailable, retrying").FilterLevelExact(zapcore.WarnLevel).Len())
	assert.Zero(t, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
}

func TestIsStoreUnavailable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "wrapped outage", err: fmt.Errorf("failed to claim outbox batch: %w", ErrStoreUnavailable), want: true},
		{name: "other failure", err: errors.New("bad query"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsStoreUnavailable(tt.err))
		})
	}
}

func TestRelay_Drain(t *testing.T) {
	// Given
	f := newRelayFixture(t, func(c *Config) { c.BatchSize = 2 })
	blocked := f.emit(t, uuid.New(), "p0")
	f.broker.FailNext(blocked.EventID, errors.New("timeout"))
	for i := range 5 {
		f.emit(t, uuid.New(), fmt.Sprintf("p%d", i+1))
	}

	// When
	n, err := f.relay.Drain(context.Background())

	// Then
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Len(t, f.broker.Published(), 5)
	assert.Equal(t, StatePending, mustGet(t, f.store, blocked.EventID).State)
}

func TestNewRelay_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Domain = ""

	_, err := NewRelay(NewMemoryStore(), brokertest.New(), cfg, zap.NewNop())

	assert.ErrorContains(t, err, "domain is required")
}

func TestGroupByAggregate(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	batch := []Record{
		{AggregateID: b, Sequence: 1},
		{AggregateID: a, Sequence: 2},
		{AggregateID: b, Sequence: 3},
	}

	groups := groupByAggregate(batch)

	require.Len(t, groups, 2)
	assert.Equal(t, []int64{1, 3}, []int64{groups[0][0].Sequence, groups[0][1].Sequence})
	assert.Equal(t, int64(2), groups[1][0].Sequence)
}
