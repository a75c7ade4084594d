package inbox

import (
	"context"
	"fmt"
	"time"

	"github.com/Sokol111/ecommerce-outbox/pkg/persistence/mongo"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
)

const processedEventsCollection = "processed_events"

type processedEvent struct {
	EventID     string    `bson:"_id"`
	FirstSeenAt time.Time `bson:"first_seen_at"`
}

type mongoDedupStore struct {
	coll *mongodriver.Collection
}

func NewMongoDedupStore(m mongo.Mongo) DedupStore {
	return &mongoDedupStore{coll: m.Collection(processedEventsCollection)}
}

func (s *mongoDedupStore) Seen(ctx context.Context, eventID uuid.UUID) (bool, error) {
	n, err := s.coll.CountDocuments(ctx, bson.M{"_id": eventID.String()})
	if err != nil {
		return false, fmt.Errorf("failed to query processed events: %w", mongo.Classify(err))
	}
	return n > 0, nil
}

func (s *mongoDedupStore) Insert(ctx context.Context, eventID uuid.UUID, firstSeenAt time.Time) error {
	_, err := s.coll.InsertOne(ctx, processedEvent{EventID: eventID.String(), FirstSeenAt: firstSeenAt})
	if mongodriver.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %s", ErrAlreadyProcessed, eventID)
	}
	if err != nil {
		return fmt.Errorf("failed to record processed event: %w", mongo.Classify(err))
	}
	return nil
}
