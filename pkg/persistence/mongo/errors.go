package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sokol111/ecommerce-outbox/pkg/persistence"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
)

const transientTxLabel = "TransientTransactionError"

// IsTransientTxError reports whether the server labelled err as safe to
// retry the whole transaction.
func IsTransientTxError(err error) bool {
	var labeled mongodriver.LabeledError
	return errors.As(err, &labeled) && labeled.HasErrorLabel(transientTxLabel)
}

// IsUnavailable reports connectivity failures: network errors and timeouts,
// which include server selection running out of time.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	return mongodriver.IsNetworkError(err) ||
		mongodriver.IsTimeout(err) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Classify wraps connectivity failures with persistence.ErrUnavailable and
// leaves other errors unchanged.
func Classify(err error) error {
	if IsUnavailable(err) && !errors.Is(err, persistence.ErrUnavailable) {
		return fmt.Errorf("%w: %w", persistence.ErrUnavailable, err)
	}
	return err
}
