package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcTxManager func(ctx context.Context, fn func(txCtx context.Context) (any, error)) (any, error)

func (f funcTxManager) WithTransaction(ctx context.Context, fn func(txCtx context.Context) (any, error)) (any, error) {
	return f(ctx, fn)
}

var passthrough = funcTxManager(func(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	return fn(ContextWithTx(ctx))
})

func TestInTx(t *testing.T) {
	assert.False(t, InTx(context.Background()))
	assert.True(t, InTx(ContextWithTx(context.Background())))
}

func TestInTransaction(t *testing.T) {
	t.Run("returns typed result inside tx", func(t *testing.T) {
		// When
		got, err := InTransaction(context.Background(), passthrough, func(txCtx context.Context) (string, error) {
			require.True(t, InTx(txCtx))
			return "order-1", nil
		})

		// Then
		require.NoError(t, err)
		assert.Equal(t, "order-1", got)
	})

	t.Run("propagates error with zero value", func(t *testing.T) {
		// Given
		boom := errors.New("boom")

		// When
		got, err := InTransaction(context.Background(), passthrough, func(context.Context) (int, error) {
			return 7, boom
		})

		// Then
		assert.ErrorIs(t, err, boom)
		assert.Zero(t, got)
	})
}
