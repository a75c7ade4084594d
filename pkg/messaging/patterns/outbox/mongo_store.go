package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/envelope"
	"github.com/Sokol111/ecommerce-outbox/pkg/persistence"
	"github.com/Sokol111/ecommerce-outbox/pkg/persistence/mongo"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	recordsCollection   = "outbox"
	sequencesCollection = "outbox_sequences"
	claimLockCollection = "outbox_claim_lock"
)

type recordDoc struct {
	EventID        string            `bson:"_id"`
	AggregateType  string            `bson:"aggregate_type"`
	AggregateID    string            `bson:"aggregate_id"`
	EventType      string            `bson:"event_type"`
	SchemaVersion  int               `bson:"schema_version"`
	OccurredAt     string            `bson:"occurred_at"`
	Payload        string            `bson:"payload"`
	Headers        map[string]string `bson:"headers,omitempty"`
	CreatedAt      time.Time         `bson:"created_at"`
	Sequence       int64             `bson:"sequence"`
	State          State             `bson:"state"`
	AttemptCount   int               `bson:"attempt_count"`
	NextAttemptAt  time.Time         `bson:"next_attempt_at"`
	LeaseOwner     *string           `bson:"lease_owner,omitempty"`
	LeaseExpiresAt *time.Time        `bson:"lease_expires_at,omitempty"`
	LastError      *string           `bson:"last_error,omitempty"`
	PublishedAt    *time.Time        `bson:"published_at,omitempty"`
	ExpireAt       *time.Time        `bson:"expire_at,omitempty"`
}

func toDoc(rec *Record) recordDoc {
	return recordDoc{
		EventID:       rec.EventID.String(),
		AggregateType: rec.AggregateType,
		AggregateID:   rec.AggregateID.String(),
		EventType:     rec.EventType,
		SchemaVersion: rec.SchemaVersion,
		OccurredAt:    rec.OccurredAt.UTC().Format(envelope.TimeLayout),
		Payload:       string(rec.Payload),
		Headers:       rec.Headers,
		CreatedAt:     rec.CreatedAt,
		Sequence:      rec.Sequence,
		State:         rec.State,
		AttemptCount:  rec.AttemptCount,
		NextAttemptAt: rec.NextAttemptAt,
	}
}

func (d recordDoc) toRecord() (Record, error) {
	eventID, err := uuid.Parse(d.EventID)
	if err != nil {
		return Record{}, fmt.Errorf("invalid event id %q: %w", d.EventID, err)
	}
	aggregateID, err := uuid.Parse(d.AggregateID)
	if err != nil {
		return Record{}, fmt.Errorf("invalid aggregate id %q: %w", d.AggregateID, err)
	}
	occurredAt, err := time.Parse(envelope.TimeLayout, d.OccurredAt)
	if err != nil {
		return Record{}, fmt.Errorf("invalid occurred_at %q: %w", d.OccurredAt, err)
	}

	return Record{
		EventID:        eventID,
		AggregateType:  d.AggregateType,
		AggregateID:    aggregateID,
		EventType:      d.EventType,
		SchemaVersion:  d.SchemaVersion,
		OccurredAt:     occurredAt,
		Payload:        []byte(d.Payload),
		Headers:        d.Headers,
		CreatedAt:      d.CreatedAt.UTC(),
		Sequence:       d.Sequence,
		State:          d.State,
		AttemptCount:   d.AttemptCount,
		NextAttemptAt:  d.NextAttemptAt.UTC(),
		LeaseOwner:     lo.FromPtr(d.LeaseOwner),
		LeaseExpiresAt: lo.FromPtr(d.LeaseExpiresAt).UTC(),
		LastError:      lo.FromPtr(d.LastError),
		PublishedAt:    lo.FromPtr(d.PublishedAt).UTC(),
	}, nil
}

// MongoStore keeps the outbox in the "outbox" collection. Sequences come
// from a counter document updated inside the inserting transaction, so
// concurrent emitters conflict on it and commit one after another.
type MongoStore struct {
	records   *mongodriver.Collection
	sequences *mongodriver.Collection
	locks     *mongodriver.Collection
	tx        persistence.TxManager
	retention time.Duration
	now       func() time.Time
}

var _ Store = (*MongoStore)(nil)

func NewMongoStore(m mongo.Mongo, tx persistence.TxManager, cfg Config) *MongoStore {
	return &MongoStore{
		records:   m.Collection(recordsCollection),
		sequences: m.Collection(sequencesCollection),
		locks:     m.Collection(claimLockCollection),
		tx:        tx,
		retention: cfg.Retention,
		now:       time.Now,
	}
}

func (s *MongoStore) Insert(ctx context.Context, rec *Record) error {
	if !persistence.InTx(ctx) || mongodriver.SessionFromContext(ctx) == nil {
		return ErrNoAmbientTransaction
	}
	if err := rec.validate(); err != nil {
		return err
	}

	seq, err := s.nextSequence(ctx)
	if err != nil {
		return err
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	rec.Sequence = seq
	rec.CreatedAt = now
	rec.State = StatePending
	rec.AttemptCount = 0
	rec.NextAttemptAt = now
	rec.LeaseOwner = ""
	rec.LeaseExpiresAt = time.Time{}
	rec.LastError = ""
	rec.PublishedAt = time.Time{}

	if _, err := s.records.InsertOne(ctx, toDoc(rec)); err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateEventID, rec.EventID)
		}
		return fmt.Errorf("failed to insert outbox record: %w", mongo.Classify(err))
	}
	return nil
}

func (s *MongoStore) nextSequence(ctx context.Context) (int64, error) {
	var counter struct {
		Value int64 `bson:"value"`
	}
	err := s.sequences.FindOneAndUpdate(ctx,
		bson.M{"_id": recordsCollection},
		bson.M{"$inc": bson.M{"value": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate outbox sequence: %w", mongo.Classify(err))
	}
	return counter.Value, nil
}

func (s *MongoStore) ClaimBatch(ctx context.Context, owner string, limit int, lease time.Duration) ([]Record, error) {
	if limit <= 0 {
		return nil, nil
	}

	return persistence.InTransaction(ctx, s.tx, func(txCtx context.Context) ([]Record, error) {
		// Every claimer writes the lock document first, so concurrent claims
		// conflict and the loser retries against the winner's leases.
		if _, err := s.locks.UpdateOne(txCtx,
			bson.M{"_id": recordsCollection},
			bson.M{"$inc": bson.M{"fence": int64(1)}},
			options.UpdateOne().SetUpsert(true),
		); err != nil {
			return nil, fmt.Errorf("failed to take claim lock: %w", mongo.Classify(err))
		}

		now := s.now().UTC().Truncate(time.Millisecond)
		picked, err := s.scanClaimable(txCtx, now, limit)
		if err != nil || len(picked) == 0 {
			return nil, err
		}

		expires := now.Add(lease)
		ids := lo.Map(picked, func(rec Record, _ int) string { return rec.EventID.String() })
		if _, err := s.records.UpdateMany(txCtx,
			bson.M{"_id": bson.M{"$in": ids}},
			bson.M{"$set": bson.M{
				"state":            StateInFlight,
				"lease_owner":      owner,
				"lease_expires_at": expires,
			}},
		); err != nil {
			return nil, fmt.Errorf("failed to lease outbox records: %w", mongo.Classify(err))
		}

		for i := range picked {
			picked[i].State = StateInFlight
			picked[i].LeaseOwner = owner
			picked[i].LeaseExpiresAt = expires
		}
		return picked, nil
	})
}

func (s *MongoStore) scanClaimable(ctx context.Context, now time.Time, limit int) ([]Record, error) {
	cur, err := s.records.Find(ctx,
		bson.M{"state": bson.M{"$in": bson.A{StatePending, StateInFlight}}},
		options.Find().SetSort(bson.D{{Key: "aggregate_id", Value: 1}, {Key: "sequence", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan outbox: %w", mongo.Classify(err))
	}
	defer func() { _ = cur.Close(ctx) }()

	scanner := newClaimScanner(now, limit)
	for cur.Next(ctx) {
		var doc recordDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode outbox record: %w", err)
		}
		rec, err := doc.toRecord()
		if err != nil {
			return nil, err
		}
		if scanner.offer(rec) {
			break
		}
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan outbox: %w", mongo.Classify(err))
	}
	return scanner.picked, nil
}

func (s *MongoStore) MarkPublished(ctx context.Context, eventID uuid.UUID) error {
	now := s.now().UTC()
	res, err := s.records.UpdateOne(ctx,
		bson.M{"_id": eventID.String(), "state": bson.M{"$in": bson.A{StatePending, StateInFlight}}},
		bson.M{
			"$set": bson.M{
				"state":        StatePublished,
				"published_at": now,
				"expire_at":    now.Add(s.retention),
			},
			"$unset": bson.M{"lease_owner": "", "lease_expires_at": ""},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to mark outbox record published: %w", mongo.Classify(err))
	}
	if res.MatchedCount == 0 {
		return s.ensureExists(ctx, eventID)
	}
	return nil
}

func (s *MongoStore) MarkFailed(ctx context.Context, owner string, eventID uuid.UUID, f FailureUpdate, maxAttempts int) error {
	attempts := bson.M{"$add": bson.A{"$attempt_count", 1}}
	if f.Permanent {
		attempts = bson.M{"$max": bson.A{attempts, maxAttempts}}
	}

	pipeline := mongodriver.Pipeline{
		{{Key: "$set", Value: bson.M{
			"attempt_count":   attempts,
			"last_error":      bson.M{"$literal": truncateError(f.Error)},
			"next_attempt_at": s.now().UTC().Add(f.Backoff),
		}}},
		{{Key: "$set", Value: bson.M{
			"state": bson.M{"$cond": bson.A{
				bson.M{"$gte": bson.A{"$attempt_count", maxAttempts}},
				StateDead,
				StatePending,
			}},
		}}},
		{{Key: "$unset", Value: bson.A{"lease_owner", "lease_expires_at"}}},
	}

	res, err := s.records.UpdateOne(ctx,
		bson.M{"_id": eventID.String(), "state": StateInFlight, "lease_owner": owner},
		pipeline,
	)
	if err != nil {
		return fmt.Errorf("failed to mark outbox record failed: %w", mongo.Classify(err))
	}
	if res.MatchedCount == 0 {
		return s.ensureExists(ctx, eventID)
	}
	return nil
}

func (s *MongoStore) Release(ctx context.Context, owner string, eventIDs []uuid.UUID) error {
	if len(eventIDs) == 0 {
		return nil
	}
	ids := lo.Map(eventIDs, func(id uuid.UUID, _ int) string { return id.String() })
	_, err := s.records.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}, "state": StateInFlight, "lease_owner": owner},
		bson.M{
			"$set":   bson.M{"state": StatePending},
			"$unset": bson.M{"lease_owner": "", "lease_expires_at": ""},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to release outbox records: %w", mongo.Classify(err))
	}
	return nil
}

func (s *MongoStore) PeekByAggregate(ctx context.Context, aggregateID uuid.UUID, afterSeq int64, limit int) ([]Record, error) {
	cur, err := s.records.Find(ctx,
		bson.M{"aggregate_id": aggregateID.String(), "sequence": bson.M{"$gt": afterSeq}},
		options.Find().SetSort(bson.D{{Key: "sequence", Value: 1}}).SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read outbox aggregate: %w", mongo.Classify(err))
	}

	var docs []recordDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to read outbox aggregate: %w", mongo.Classify(err))
	}

	out := make([]Record, 0, len(docs))
	for _, doc := range docs {
		rec, err := doc.toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *MongoStore) Stats(ctx context.Context) (Stats, error) {
	cur, err := s.records.Aggregate(ctx, mongodriver.Pipeline{
		{{Key: "$group", Value: bson.M{"_id": "$state", "count": bson.M{"$sum": 1}}}},
	})
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count outbox records: %w", mongo.Classify(err))
	}

	var groups []struct {
		State State `bson:"_id"`
		Count int64 `bson:"count"`
	}
	if err := cur.All(ctx, &groups); err != nil {
		return Stats{}, fmt.Errorf("failed to count outbox records: %w", mongo.Classify(err))
	}

	stats := Stats{Counts: make(map[State]int64, len(States))}
	for _, st := range States {
		stats.Counts[st] = 0
	}
	for _, g := range groups {
		stats.Counts[g.State] = g.Count
	}

	var oldest recordDoc
	err = s.records.FindOne(ctx,
		bson.M{"state": bson.M{"$in": bson.A{StatePending, StateInFlight}}},
		options.FindOne().SetSort(bson.D{{Key: "sequence", Value: 1}}),
	).Decode(&oldest)
	switch {
	case errors.Is(err, mongodriver.ErrNoDocuments):
	case err != nil:
		return Stats{}, fmt.Errorf("failed to find oldest pending record: %w", mongo.Classify(err))
	default:
		stats.OldestPendingAge = s.now().Sub(oldest.CreatedAt)
	}
	return stats, nil
}

func (s *MongoStore) Replay(ctx context.Context, eventID uuid.UUID) error {
	res, err := s.records.UpdateOne(ctx,
		bson.M{"_id": eventID.String(), "state": StateDead},
		bson.M{
			"$set": bson.M{
				"state":           StatePending,
				"attempt_count":   0,
				"next_attempt_at": s.now().UTC(),
			},
			"$unset": bson.M{"last_error": "", "lease_owner": "", "lease_expires_at": ""},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to replay outbox record: %w", mongo.Classify(err))
	}
	if res.MatchedCount > 0 {
		return nil
	}

	if err := s.ensureExists(ctx, eventID); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrNotDead, eventID)
}

func (s *MongoStore) ensureExists(ctx context.Context, eventID uuid.UUID) error {
	n, err := s.records.CountDocuments(ctx, bson.M{"_id": eventID.String()})
	if err != nil {
		return fmt.Errorf("failed to look up outbox record: %w", mongo.Classify(err))
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, eventID)
	}
	return nil
}
