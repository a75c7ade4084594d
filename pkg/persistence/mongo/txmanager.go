package mongo

import (
	"context"
	"fmt"

	"github.com/Sokol111/ecommerce-outbox/pkg/persistence"
	"go.uber.org/zap"
)

const maxTxAttempts = 3

type txManager struct {
	mongo Mongo
	log   *zap.Logger
}

func newTxManager(mongo Mongo, log *zap.Logger) persistence.TxManager {
	return &txManager{mongo: mongo, log: log.With(zap.String("component", "mongo-tx"))}
}

func (t *txManager) WithTransaction(ctx context.Context, fn func(txCtx context.Context) (any, error)) (any, error) {
	if persistence.InTx(ctx) {
		return fn(ctx)
	}

	var lastErr error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		res, err := t.run(ctx, fn)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !IsTransientTxError(err) || ctx.Err() != nil {
			break
		}
		t.log.Warn("transient transaction error, retrying", zap.Int("attempt", attempt), zap.Error(err))
	}
	return nil, Classify(lastErr)
}

func (t *txManager) run(ctx context.Context, fn func(txCtx context.Context) (any, error)) (any, error) {
	session, err := t.mongo.StartSession()
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(context.WithoutCancel(ctx))

	return session.WithTransaction(ctx, func(sessCtx context.Context) (any, error) {
		return fn(persistence.ContextWithTx(sessCtx))
	})
}
