package order

import (
	"context"
	"errors"
	"sync"

	"github.com/Sokol111/ecommerce-outbox/pkg/persistence"
	"github.com/Sokol111/ecommerce-outbox/pkg/persistence/memory"
	"github.com/google/uuid"
)

var errNoTx = errors.New("save outside a transaction")

// memoryRepository applies saves when the memory transaction commits.
type memoryRepository struct {
	mu      sync.Mutex
	orders  map[uuid.UUID]Order
	saveErr error
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{orders: make(map[uuid.UUID]Order)}
}

func (r *memoryRepository) Save(ctx context.Context, o *Order) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	tx, ok := memory.TxFromContext(ctx)
	if !ok {
		return errNoTx
	}
	saved := *o
	tx.OnCommit(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.orders[saved.ID] = saved
	})
	return nil
}

func (r *memoryRepository) FindByID(_ context.Context, id uuid.UUID) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, persistence.ErrEntityNotFound
	}
	return &o, nil
}

func (r *memoryRepository) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

type fakeService struct {
	mu    sync.Mutex
	calls []string
	order *Order
	err   error
}

func (s *fakeService) Create(_ context.Context, productID string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, productID)
	return s.order, s.err
}
