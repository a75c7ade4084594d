package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Sokol111/ecommerce-outbox/internal/events"
	"github.com/Sokol111/ecommerce-outbox/pkg/core/logger"
	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/patterns/outbox"
	"github.com/Sokol111/ecommerce-outbox/pkg/persistence"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Service interface {
	Create(ctx context.Context, productID string) (*Order, error)
}

type service struct {
	tx      persistence.TxManager
	repo    Repository
	emitter outbox.Emitter
	now     func() time.Time
	newID   func() uuid.UUID
}

func NewService(tx persistence.TxManager, repo Repository, emitter outbox.Emitter) Service {
	return &service{tx: tx, repo: repo, emitter: emitter, now: time.Now, newID: uuid.New}
}

// Create saves the order and stages OrderCreatedEvent in one transaction:
// either both become durable or neither does.
func (s *service) Create(ctx context.Context, productID string) (*Order, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, ErrInvalidProductID
	}

	o := &Order{ID: s.newID(), ProductID: productID, CreatedAt: s.now().UTC()}

	eventID, err := persistence.InTransaction(ctx, s.tx, func(txCtx context.Context) (uuid.UUID, error) {
		if err := s.repo.Save(txCtx, o); err != nil {
			return uuid.Nil, err
		}
		return s.emitter.Emit(txCtx, outbox.Event{
			EventType:     events.OrderCreated,
			AggregateType: events.AggregateOrder,
			AggregateID:   o.ID,
			Payload:       events.OrderCreatedEvent{ProductID: productID},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	logger.Get(ctx).Info("order created",
		zap.String("orderId", o.ID.String()),
		zap.String("productId", productID),
		zap.String("eventId", eventID.String()),
	)
	return o, nil
}
