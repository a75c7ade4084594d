package outbox

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/envelope"
	"github.com/google/uuid"
)

type State string

const (
	StatePending   State = "PENDING"
	StateInFlight  State = "IN_FLIGHT"
	StatePublished State = "PUBLISHED"
	StateDead      State = "DEAD"
)

// States lists every state in lifecycle order.
var States = []State{StatePending, StateInFlight, StatePublished, StateDead}

func (s State) Terminal() bool {
	return s == StatePublished || s == StateDead
}

const (
	maxAggregateTypeLen = 64
	maxEventTypeLen     = 128
	maxLastErrorLen     = 1024
)

// Record is one staged event. Insert fills CreatedAt, Sequence, State and
// NextAttemptAt; everything after that is owned by the relay.
type Record struct {
	EventID       uuid.UUID
	AggregateType string
	AggregateID   uuid.UUID
	EventType     string
	SchemaVersion int
	OccurredAt    time.Time
	Payload       []byte
	Headers       map[string]string

	CreatedAt      time.Time
	Sequence       int64
	State          State
	AttemptCount   int
	NextAttemptAt  time.Time
	LeaseOwner     string
	LeaseExpiresAt time.Time
	LastError      string
	PublishedAt    time.Time
}

// Envelope is the wire form of the record.
func (r Record) Envelope() envelope.Envelope {
	return envelope.Envelope{
		EventID:       r.EventID,
		EventType:     r.EventType,
		AggregateType: r.AggregateType,
		AggregateID:   r.AggregateID,
		OccurredAt:    r.OccurredAt,
		SchemaVersion: r.SchemaVersion,
		Payload:       r.Payload,
	}
}

// HasValidLease reports whether a relay holds the record at now.
func (r Record) HasValidLease(now time.Time) bool {
	return r.State == StateInFlight && r.LeaseOwner != "" && r.LeaseExpiresAt.After(now)
}

func (r Record) clone() Record {
	r.Payload = append([]byte(nil), r.Payload...)
	r.Headers = maps.Clone(r.Headers)
	return r
}

func (r Record) validate() error {
	switch {
	case r.EventID == uuid.Nil:
		return fmt.Errorf("%w: event id is required", ErrInvalidRecord)
	case r.AggregateID == uuid.Nil:
		return fmt.Errorf("%w: aggregate id is required", ErrInvalidRecord)
	case r.AggregateType == "" || len(r.AggregateType) > maxAggregateTypeLen:
		return fmt.Errorf("%w: aggregate type must be 1-%d bytes", ErrInvalidRecord, maxAggregateTypeLen)
	case r.EventType == "" || len(r.EventType) > maxEventTypeLen:
		return fmt.Errorf("%w: event type must be 1-%d bytes", ErrInvalidRecord, maxEventTypeLen)
	case r.SchemaVersion < 1:
		return fmt.Errorf("%w: schema version must be >= 1", ErrInvalidRecord)
	}
	return nil
}

// FailureUpdate describes a failed publish for MarkFailed.
type FailureUpdate struct {
	Error   string
	Backoff time.Duration
	// Permanent sends the record straight to DEAD.
	Permanent bool
}

// Stats is a snapshot for operators.
type Stats struct {
	Counts map[State]int64
	// OldestPendingAge is the age of the oldest PENDING or IN_FLIGHT record,
	// zero when there is none.
	OldestPendingAge time.Duration
}

// Store is the durable outbox.
//
// Insert joins the caller's transaction. Every other method runs in its own
// transaction and is safe to call from concurrent relays.
type Store interface {
	// Insert stages rec in the ambient transaction. It fails with
	// ErrNoAmbientTransaction outside one and ErrDuplicateEventID when the
	// id exists.
	Insert(ctx context.Context, rec *Record) error

	// ClaimBatch leases up to limit records to owner, ordered by aggregate id
	// then sequence. A record is only claimed together with every earlier
	// unpublished record of its aggregate, so it may return fewer records
	// than are due.
	ClaimBatch(ctx context.Context, owner string, limit int, lease time.Duration) ([]Record, error)

	// MarkPublished records a broker acknowledgement. Repeated calls and calls
	// on DEAD records are no-ops.
	MarkPublished(ctx context.Context, eventID uuid.UUID) error

	// MarkFailed counts a failed attempt on a record leased by owner and
	// schedules the retry, or moves it to DEAD once maxAttempts is reached.
	// Records in any other state or leased by someone else are left alone.
	MarkFailed(ctx context.Context, owner string, eventID uuid.UUID, f FailureUpdate, maxAttempts int) error

	// Release returns records leased by owner to PENDING without counting an
	// attempt.
	Release(ctx context.Context, owner string, eventIDs []uuid.UUID) error

	// PeekByAggregate lists records of an aggregate with sequence > afterSeq.
	PeekByAggregate(ctx context.Context, aggregateID uuid.UUID, afterSeq int64, limit int) ([]Record, error)

	Stats(ctx context.Context) (Stats, error)

	// Replay moves a DEAD record back to PENDING with its attempts reset.
	Replay(ctx context.Context, eventID uuid.UUID) error
}

func truncateError(msg string) string {
	if len(msg) <= maxLastErrorLen {
		return msg
	}
	return msg[:maxLastErrorLen]
}
