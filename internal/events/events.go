// Package events holds the event contracts shared by the order and product
// services.
package events

const (
	AggregateOrder = "Order"

	OrderCreated = "OrderCreatedEvent"
)

// OrderCreatedEvent is emitted on aggregate Order/<orderId> when an order is
// persisted.
type OrderCreatedEvent struct {
	ProductID string `json:"productId"`
}
