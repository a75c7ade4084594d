package inbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrAlreadyProcessed = errors.New("event already processed")

// DedupStore remembers processed event ids. Both methods enlist in the
// transaction carried by ctx.
type DedupStore interface {
	Seen(ctx context.Context, eventID uuid.UUID) (bool, error)
	// Insert fails with ErrAlreadyProcessed when eventID is known.
	Insert(ctx context.Context, eventID uuid.UUID, firstSeenAt time.Time) error
}
