//go:build integration

package product

import (
	"context"
	"testing"
	"time"

	"github.com/Sokol111/ecommerce-outbox/pkg/persistence"
	"github.com/Sokol111/ecommerce-outbox/pkg/testutil/container"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
)

func TestMongoLedger_Integration(t *testing.T) {
	ctx := context.Background()

	var (
		ledger OrderLedger
		tx     persistence.TxManager
	)
	container.StartMongoApp(t, container.StartMongo(t),
		fx.Provide(newMongoLedger),
		fx.Populate(&ledger, &tx),
	)

	// Given
	orderID := uuid.New()
	record := func() error {
		_, err := tx.WithTransaction(ctx, func(txCtx context.Context) (any, error) {
			return nil, ledger.Record(txCtx, orderID, "p-42", time.Now())
		})
		return err
	}

	// When
	require.NoError(t, record())
	require.NoError(t, record())

	// Then
	n, err := ledger.CountByProduct(ctx, "p-42")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
