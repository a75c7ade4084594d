// Package memory provides a process-local transaction manager. Stores that
// want to take part in its transactions stage their writes on the *Tx found
// in the context and apply them from a commit hook.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/Sokol111/ecommerce-outbox/pkg/persistence"
)

type txCtxKey struct{}

// Tx collects the effects of one transaction.
type Tx struct {
	commits []func()
	staged  map[any]any
}

// OnCommit registers apply to run if and when the transaction commits.
// Hooks run in registration order while the manager still holds its lock.
func (tx *Tx) OnCommit(apply func()) {
	tx.commits = append(tx.commits, apply)
}

// Staged returns the participant-private value stored under key, creating
// it with init on first use. Participants use it to see their own
// uncommitted writes.
func (tx *Tx) Staged(key any, init func() any) any {
	if v, ok := tx.staged[key]; ok {
		return v
	}
	v := init()
	tx.staged[key] = v
	return v
}

// TxFromContext returns the transaction ctx belongs to.
func TxFromContext(ctx context.Context) (*Tx, bool) {
	tx, ok := ctx.Value(txCtxKey{}).(*Tx)
	return tx, ok
}

// TxManager serializes transactions: one runs at a time, which gives the
// same isolation as a database running everything at SERIALIZABLE.
type TxManager struct {
	mu sync.Mutex
}

var _ persistence.TxManager = (*TxManager)(nil)

func NewTxManager() *TxManager {
	return &TxManager{}
}

func (m *TxManager) WithTransaction(ctx context.Context, fn func(txCtx context.Context) (any, error)) (res any, err error) {
	if _, ok := TxFromContext(ctx); ok {
		return fn(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &Tx{staged: make(map[any]any)}
	txCtx := persistence.ContextWithTx(context.WithValue(ctx, txCtxKey{}, tx))

	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("transaction rolled back: panic: %v", r)
		}
	}()

	res, err = fn(txCtx)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, apply := range tx.commits {
		apply()
	}
	return res, nil
}
