package product

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Sokol111/ecommerce-outbox/internal/events"
	"github.com/Sokol111/ecommerce-outbox/pkg/core/logger"
	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/envelope"
	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/patterns/inbox"
	"go.uber.org/zap"
)

// errMissingProductID wraps envelope.ErrInvalidEnvelope so the consumer
// dead-letters the message instead of redelivering it.
var errMissingProductID = fmt.Errorf("%w: order created event without productId", envelope.ErrInvalidEnvelope)

// OrderCreatedHandler records each new order against its product. It runs
// inside the dispatcher transaction, so the ledger write commits together
// with the event's dedup entry.
type OrderCreatedHandler struct {
	ledger OrderLedger
	now    func() time.Time
}

var _ inbox.Handler = (*OrderCreatedHandler)(nil)

func NewOrderCreatedHandler(ledger OrderLedger) *OrderCreatedHandler {
	return &OrderCreatedHandler{ledger: ledger, now: time.Now}
}

func (h *OrderCreatedHandler) Handle(ctx context.Context, env envelope.Envelope) error {
	var payload events.OrderCreatedEvent
	if err := env.Decode(&payload); err != nil {
		return err
	}
	productID := strings.TrimSpace(payload.ProductID)
	if productID == "" {
		return fmt.Errorf("%w: event %s", errMissingProductID, env.EventID)
	}

	logger.Get(ctx).Info("order created",
		zap.String("orderId", env.AggregateID.String()),
		zap.String("productId", productID),
	)
	return h.ledger.Record(ctx, env.AggregateID, productID, h.now().UTC())
}

func newOrderCreatedRegistration(h *OrderCreatedHandler) inbox.Registration {
	return inbox.Registration{EventType: events.OrderCreated, Handler: h}
}
