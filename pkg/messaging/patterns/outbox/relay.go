package outbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Sokol111/ecommerce-outbox/pkg/core/logger"
	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/broker"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Relay moves committed outbox records to the broker. Any number of relays
// may run against one store; leases keep them from sending the same record
// concurrently.
type Relay struct {
	store     Store
	publisher broker.Publisher
	cfg       Config
	owner     string
	jitter    func(time.Duration) time.Duration
	now       func() time.Time
	metrics   *relayMetrics
	log       *zap.Logger
	throttler *logger.LogThrottler
}

type relayOptions struct {
	owner         string
	jitter        func(time.Duration) time.Duration
	now           func() time.Time
	meterProvider metric.MeterProvider
}

type RelayOption func(*relayOptions)

// WithOwner sets the lease owner id. Defaults to <hostname>-<short uuid>.
func WithOwner(owner string) RelayOption {
	return func(o *relayOptions) {
		o.owner = owner
	}
}

// WithJitter replaces the uniform backoff jitter.
func WithJitter(jitter func(time.Duration) time.Duration) RelayOption {
	return func(o *relayOptions) {
		o.jitter = jitter
	}
}

// WithRelayClock sets the clock leases are checked against. It must agree
// with the store's clock.
func WithRelayClock(now func() time.Time) RelayOption {
	return func(o *relayOptions) {
		o.now = now
	}
}

func WithMeterProvider(mp metric.MeterProvider) RelayOption {
	return func(o *relayOptions) {
		o.meterProvider = mp
	}
}

func NewRelay(store Store, publisher broker.Publisher, cfg Config, log *zap.Logger, opts ...RelayOption) (*Relay, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid outbox config: %w", err)
	}

	o := relayOptions{jitter: uniformJitter, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.owner == "" {
		o.owner = defaultOwner()
	}

	metrics, err := newRelayMetrics(o.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create outbox metrics: %w", err)
	}

	log = log.With(zap.String("component", "outbox-relay"), zap.String("owner", o.owner))
	return &Relay{
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		owner:     o.owner,
		jitter:    o.jitter,
		now:       o.now,
		metrics:   metrics,
		log:       log,
		throttler: logger.NewLogThrottler(log, 0),
	}, nil
}

func defaultOwner() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "relay"
	}
	return host + "-" + uuid.NewString()[:8]
}

func (r *Relay) Owner() string {
	return r.owner
}

// Run polls until ctx is cancelled. Store failures are logged and retried
// after the poll interval; they never stop the loop.
func (r *Relay) Run(ctx context.Context) error {
	r.log.Info("outbox relay started",
		zap.Duration("pollInterval", r.cfg.PollInterval),
		zap.Int("batchSize", r.cfg.BatchSize),
		zap.Int("concurrency", r.cfg.DispatchConcurrency),
	)
	defer r.log.Info("outbox relay stopped")

	for {
		n, err := r.RunCycle(ctx)
		if ctx.Err() != nil {
			return nil
		}
		switch {
		case IsStoreUnavailable(err):
			r.throttler.Warn("claim", "outbox store unavailable, retrying", zap.Error(err))
		case err != nil:
			r.throttler.Error("claim", "outbox claim failed", zap.Error(err))
		default:
			r.throttler.Reset("claim")
		}
		if err != nil || n == 0 {
			if !sleep(ctx, r.cfg.PollInterval) {
				return nil
			}
		}
	}
}

// Drain runs cycles until nothing is claimable and returns how many records
// it processed. Records backing off are left for a later run.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := r.RunCycle(ctx)
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, ctx.Err()
		}
	}
}

// RunCycle claims one batch and dispatches it. It returns the number of
// records claimed.
func (r *Relay) RunCycle(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	batch, err := r.store.ClaimBatch(ctx, r.owner, r.cfg.BatchSize, r.cfg.LeaseDuration)
	if err != nil {
		return 0, fmt.Errorf("failed to claim outbox batch: %w", err)
	}
	if len(batch) == 0 {
		return 0, nil
	}
	r.metrics.recordClaimed(ctx, len(batch))

	var g errgroup.Group
	g.SetLimit(r.cfg.DispatchConcurrency)
	for _, group := range groupByAggregate(batch) {
		g.Go(func() error {
			r.dispatchGroup(ctx, group)
			return nil
		})
	}
	_ = g.Wait()

	return len(batch), nil
}

// groupByAggregate keeps groups in order of first appearance and records in
// sequence order within each group.
func groupByAggregate(batch []Record) [][]Record {
	groups := lo.GroupBy(batch, func(rec Record) uuid.UUID { return rec.AggregateID })
	order := lo.Uniq(lo.Map(batch, func(rec Record, _ int) uuid.UUID { return rec.AggregateID }))
	return lo.Map(order, func(id uuid.UUID, _ int) []Record { return groups[id] })
}

// dispatchGroup publishes one aggregate's records in order. The first
// failure halts the group and hands the successors back to the store. A
// record whose lease could run out before its publish deadline is not sent,
// so the aggregate never has publishes from two relays at once.
func (r *Relay) dispatchGroup(ctx context.Context, group []Record) {
	for i, rec := range group {
		if ctx.Err() != nil {
			return
		}
		if rec.LeaseExpiresAt.Sub(r.now()) < r.publishTimeout() {
			r.log.Debug("outbox lease too short to publish, releasing the rest of the aggregate",
				zap.String("aggregateId", rec.AggregateID.String()),
				zap.Int("released", len(group)-i))
			r.release(ctx, group[i:])
			return
		}
		if r.publish(ctx, rec) {
			continue
		}
		if ctx.Err() == nil {
			r.release(ctx, group[i+1:])
		}
		return
	}
}

func (r *Relay) publish(ctx context.Context, rec Record) bool {
	log := r.log.With(
		zap.String("eventId", rec.EventID.String()),
		zap.String("eventType", rec.EventType),
		zap.String("aggregateId", rec.AggregateID.String()),
		zap.Int64("sequence", rec.Sequence),
	)

	msg, err := broker.NewMessage(r.cfg.Domain, rec.Envelope(), rec.Headers)
	if err != nil {
		r.fail(ctx, log, rec, broker.Permanent(err))
		return false
	}

	pubCtx, cancel := context.WithTimeout(ctx, r.publishTimeout())
	start := time.Now()
	err = r.publisher.Publish(pubCtx, msg)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			log.Debug("publish interrupted by shutdown, lease left to expire")
			return false
		}
		r.fail(ctx, log, rec, err)
		return false
	}

	r.metrics.recordPublished(ctx, time.Since(start))
	bookCtx, done := r.bookkeepingContext(ctx)
	defer done()
	if err := r.store.MarkPublished(bookCtx, rec.EventID); err != nil {
		// The broker already has the event; it is sent again after the lease
		// expires, which consumers deduplicate.
		r.throttler.Error("mark-published", "failed to mark outbox record published", zap.Error(err),
			zap.String("eventId", rec.EventID.String()))
		return true
	}
	log.Debug("outbox record published", zap.String("topic", msg.Topic))
	return true
}

func (r *Relay) fail(ctx context.Context, log *zap.Logger, rec Record, cause error) {
	update := FailureUpdate{Error: cause.Error()}
	kind := failureTransient
	if broker.IsPermanent(cause) {
		update.Permanent = true
		kind = failurePermanent
	} else {
		update.Backoff = Backoff(rec.AttemptCount, r.cfg.BackoffBase, r.cfg.BackoffCap, r.jitter)
	}
	r.metrics.recordFailed(ctx, kind)

	bookCtx, done := r.bookkeepingContext(ctx)
	defer done()
	if err := r.store.MarkFailed(bookCtx, r.owner, rec.EventID, update, r.cfg.MaxAttempts); err != nil {
		r.throttler.Error("mark-failed", "failed to record outbox publish failure", zap.Error(err),
			zap.String("eventId", rec.EventID.String()))
		return
	}

	switch {
	case update.Permanent:
		log.Error("outbox record rejected by broker, moved to DEAD", zap.Error(cause))
	case rec.AttemptCount+1 >= r.cfg.MaxAttempts:
		log.Error("outbox record exhausted retries, moved to DEAD",
			zap.Int("attempts", rec.AttemptCount+1), zap.Error(cause))
	default:
		log.Warn("outbox publish failed, will retry",
			zap.Int("attempt", rec.AttemptCount+1),
			zap.Duration("backoff", update.Backoff),
			zap.Error(cause),
		)
	}
}

func (r *Relay) release(ctx context.Context, rest []Record) {
	if len(rest) == 0 {
		return
	}
	ids := lo.Map(rest, func(rec Record, _ int) uuid.UUID { return rec.EventID })

	bookCtx, done := r.bookkeepingContext(ctx)
	defer done()
	if err := r.store.Release(bookCtx, r.owner, ids); err != nil {
		r.throttler.Warn("release", "failed to release halted outbox records, leases will expire",
			zap.Error(err), zap.Int("count", len(ids)))
	}
}

func (r *Relay) publishTimeout() time.Duration {
	return r.cfg.LeaseDuration / 2
}

// bookkeepingContext outlives a shutdown that lands between a broker ack
// and the store update, bounded by half a lease.
func (r *Relay) bookkeepingContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), r.cfg.LeaseDuration/2)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// IsStoreUnavailable reports whether err means the store could not be reached.
func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
