package inbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sokol111/ecommerce-outbox/pkg/core/logger"
	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/envelope"
	"github.com/Sokol111/ecommerce-outbox/pkg/persistence"
	"go.uber.org/zap"
)

type Outcome int

const (
	// Processed means the handler ran and its effects committed.
	Processed Outcome = iota + 1
	// Duplicate means the event was processed before; ack and move on.
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case Processed:
		return "processed"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Dispatcher routes envelopes to handlers exactly once per event id. A
// returned error means nothing was committed and the transport must nack.
type Dispatcher struct {
	tx       persistence.TxManager
	dedup    DedupStore
	registry *Registry
	log      *zap.Logger
	now      func() time.Time
}

func NewDispatcher(tx persistence.TxManager, dedup DedupStore, registry *Registry, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		tx:       tx,
		dedup:    dedup,
		registry: registry,
		log:      log.With(zap.String("component", "inbox")),
		now:      time.Now,
	}
}

// DispatchMessage decodes value and dispatches it. Undecodable values fail
// with envelope.ErrInvalidEnvelope or envelope.ErrSerialization; retrying
// them cannot help.
func (d *Dispatcher) DispatchMessage(ctx context.Context, value []byte) (Outcome, error) {
	env, err := envelope.Unmarshal(value)
	if err != nil {
		return 0, err
	}
	return d.Dispatch(ctx, env)
}

func (d *Dispatcher) Dispatch(ctx context.Context, env envelope.Envelope) (Outcome, error) {
	log := d.log.With(
		zap.String("eventId", env.EventID.String()),
		zap.String("eventType", env.EventType),
		zap.String("aggregateId", env.AggregateID.String()),
	)

	outcome, err := persistence.InTransaction(ctx, d.tx, func(txCtx context.Context) (Outcome, error) {
		seen, err := d.dedup.Seen(txCtx, env.EventID)
		if err != nil {
			return 0, fmt.Errorf("failed to check inbox: %w", err)
		}
		if seen {
			return Duplicate, nil
		}

		h, ok := d.registry.Lookup(env.EventType)
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrUnknownEventType, env.EventType)
		}
		if err := h.Handle(logger.With(txCtx, log), env); err != nil {
			return 0, fmt.Errorf("handler failed: %w", err)
		}

		if err := d.dedup.Insert(txCtx, env.EventID, d.now().UTC()); err != nil {
			return 0, err
		}
		return Processed, nil
	})

	switch {
	case errors.Is(err, ErrAlreadyProcessed):
		// A concurrent delivery committed first; our handler effects rolled back.
		log.Debug("event processed concurrently, dropping duplicate")
		return Duplicate, nil
	case err != nil:
		log.Warn("event dispatch failed", zap.Error(err))
		return 0, err
	case outcome == Duplicate:
		log.Debug("duplicate event skipped")
	default:
		log.Debug("event processed")
	}
	return outcome, nil
}
