package outbox

import (
	"errors"

	"github.com/Sokol111/ecommerce-outbox/pkg/persistence"
)

var (
	ErrDuplicateEventID     = errors.New("duplicate event id")
	ErrNoAmbientTransaction = errors.New("no ambient transaction")
	ErrSerialization        = errors.New("event serialization failed")
	ErrInvalidRecord        = errors.New("invalid outbox record")
	ErrRecordNotFound       = errors.New("outbox record not found")
	ErrNotDead              = errors.New("outbox record is not DEAD")
	// ErrStoreUnavailable aliases the persistence error so callers can map
	// either to a 503.
	ErrStoreUnavailable = persistence.ErrUnavailable
)
