package product

import (
	"context"
	"fmt"
	"time"

	"github.com/Sokol111/ecommerce-outbox/pkg/persistence/mongo"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const productOrdersCollection = "product_orders"

// OrderLedger records which orders reference which product.
type OrderLedger interface {
	// Record upserts the order; recording the same order twice is a no-op.
	Record(ctx context.Context, orderID uuid.UUID, productID string, at time.Time) error
	CountByProduct(ctx context.Context, productID string) (int64, error)
}

type productOrderEntity struct {
	OrderID    string    `bson:"_id"`
	ProductID  string    `bson:"product_id"`
	RecordedAt time.Time `bson:"recorded_at"`
}

type mongoLedger struct {
	coll *mongodriver.Collection
}

func newMongoLedger(m mongo.Mongo) OrderLedger {
	return &mongoLedger{coll: m.Collection(productOrdersCollection)}
}

func (l *mongoLedger) Record(ctx context.Context, orderID uuid.UUID, productID string, at time.Time) error {
	_, err := l.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: orderID.String()}},
		bson.D{{Key: "$setOnInsert", Value: productOrderEntity{
			OrderID:    orderID.String(),
			ProductID:  productID,
			RecordedAt: at,
		}}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to record product order: %w", mongo.Classify(err))
	}
	return nil
}

func (l *mongoLedger) CountByProduct(ctx context.Context, productID string) (int64, error) {
	n, err := l.coll.CountDocuments(ctx, bson.D{{Key: "product_id", Value: productID}})
	if err != nil {
		return 0, fmt.Errorf("failed to count product orders: %w", mongo.Classify(err))
	}
	return n, nil
}
