package order

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidProductID = errors.New("productId must not be blank")

type Order struct {
	ID        uuid.UUID
	ProductID string
	CreatedAt time.Time
}

// Repository persists orders. Save joins the transaction carried by ctx.
type Repository interface {
	Save(ctx context.Context, o *Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*Order, error)
}
