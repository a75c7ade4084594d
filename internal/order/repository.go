package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sokol111/ecommerce-outbox/pkg/persistence"
	"github.com/Sokol111/ecommerce-outbox/pkg/persistence/mongo"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
)

const ordersCollection = "orders"

type orderEntity struct {
	ID        string    `bson:"_id"`
	ProductID string    `bson:"product_id"`
	CreatedAt time.Time `bson:"created_at"`
}

type mongoRepository struct {
	coll *mongodriver.Collection
}

func newMongoRepository(m mongo.Mongo) Repository {
	return &mongoRepository{coll: m.Collection(ordersCollection)}
}

func (r *mongoRepository) Save(ctx context.Context, o *Order) error {
	if _, err := r.coll.InsertOne(ctx, toEntity(o)); err != nil {
		return fmt.Errorf("failed to insert order: %w", mongo.Classify(err))
	}
	return nil
}

func (r *mongoRepository) FindByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	var e orderEntity
	err := r.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id.String()}}).Decode(&e)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return nil, persistence.ErrEntityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find order: %w", mongo.Classify(err))
	}
	return toDomain(&e)
}

func toEntity(o *Order) *orderEntity {
	return &orderEntity{
		ID:        o.ID.String(),
		ProductID: o.ProductID,
		CreatedAt: o.CreatedAt,
	}
}

func toDomain(e *orderEntity) (*Order, error) {
	id, err := uuid.Parse(e.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid order id %q: %w", e.ID, err)
	}
	return &Order{ID: id, ProductID: e.ProductID, CreatedAt: e.CreatedAt}, nil
}
