package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/Sokol111/ecommerce-outbox/pkg/core/logger"
	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/broker"
	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/envelope"
	"github.com/Sokol111/ecommerce-outbox/pkg/persistence"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event is what application code emits. EventType defaults to the Go type
// name of Payload and SchemaVersion defaults to 1.
type Event struct {
	EventType     string
	AggregateType string
	AggregateID   uuid.UUID
	SchemaVersion int
	Payload       any
}

// Emitter stages events in the caller's transaction. The event becomes
// durable exactly when that transaction commits.
type Emitter interface {
	Emit(ctx context.Context, ev Event) (uuid.UUID, error)
}

type emitter struct {
	store Store
	now   func() time.Time
	newID func() uuid.UUID
}

func NewEmitter(store Store) Emitter {
	return &emitter{store: store, now: time.Now, newID: uuid.New}
}

func (e *emitter) Emit(ctx context.Context, ev Event) (uuid.UUID, error) {
	if !persistence.InTx(ctx) {
		return uuid.Nil, ErrNoAmbientTransaction
	}

	payload, err := envelope.EncodePayload(ev.Payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %w", ErrSerialization, err)
	}

	eventType := ev.EventType
	if eventType == "" {
		eventType = envelope.TypeName(ev.Payload)
	}
	schemaVersion := ev.SchemaVersion
	if schemaVersion == 0 {
		schemaVersion = 1
	}

	headers := broker.InjectTrace(ctx, nil)
	if len(headers) == 0 {
		headers = nil
	}

	rec := &Record{
		EventID:       e.newID(),
		AggregateType: ev.AggregateType,
		AggregateID:   ev.AggregateID,
		EventType:     eventType,
		SchemaVersion: schemaVersion,
		OccurredAt:    envelope.Normalize(e.now()),
		Payload:       payload,
		Headers:       headers,
	}
	if err := e.store.Insert(ctx, rec); err != nil {
		return uuid.Nil, fmt.Errorf("failed to stage %s event: %w", eventType, err)
	}

	logger.Get(ctx).Debug("event staged in outbox",
		zap.String("eventId", rec.EventID.String()),
		zap.String("eventType", eventType),
		zap.String("aggregateId", ev.AggregateID.String()),
		zap.Int64("sequence", rec.Sequence),
	)
	return rec.EventID, nil
}
