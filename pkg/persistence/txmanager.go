package persistence

import "context"

// TxManager runs fn inside a transaction. The context passed to fn carries the
// transaction; repositories that receive it enlist in it. fn returning an error
// rolls the transaction back. Calling WithTransaction with a context that is
// already transactional joins the outer transaction.
type TxManager interface {
	WithTransaction(ctx context.Context, fn func(txCtx context.Context) (any, error)) (any, error)
}

type txKey struct{}

// ContextWithTx marks ctx as running inside a transaction. TxManager
// implementations call it; application code does not.
func ContextWithTx(ctx context.Context) context.Context {
	return context.WithValue(ctx, txKey{}, true)
}

// InTx reports whether ctx runs inside a transaction opened by a TxManager.
func InTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{}).(bool)
	return v
}

// InTransaction is a typed wrapper around TxManager.WithTransaction.
func InTransaction[T any](ctx context.Context, tm TxManager, fn func(txCtx context.Context) (T, error)) (T, error) {
	res, err := tm.WithTransaction(ctx, func(txCtx context.Context) (any, error) {
		return fn(txCtx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	v, _ := res.(T)
	return v, nil
}
