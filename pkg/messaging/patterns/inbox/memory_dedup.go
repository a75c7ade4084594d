package inbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sokol111/ecommerce-outbox/pkg/persistence/memory"
	"github.com/google/uuid"
)

var errNoTransaction = errors.New("inbox insert outside a transaction")

// MemoryDedupStore enlists in memory.TxManager transactions.
type MemoryDedupStore struct {
	mu   sync.Mutex
	seen map[uuid.UUID]time.Time
}

var _ DedupStore = (*MemoryDedupStore)(nil)

func NewMemoryDedupStore() *MemoryDedupStore {
	return &MemoryDedupStore{seen: make(map[uuid.UUID]time.Time)}
}

type stagedDedup struct {
	store *MemoryDedupStore
}

func (s *MemoryDedupStore) staged(tx *memory.Tx) map[uuid.UUID]time.Time {
	return tx.Staged(stagedDedup{store: s}, func() any {
		return make(map[uuid.UUID]time.Time)
	}).(map[uuid.UUID]time.Time)
}

func (s *MemoryDedupStore) Seen(ctx context.Context, eventID uuid.UUID) (bool, error) {
	if tx, ok := memory.TxFromContext(ctx); ok {
		if _, pending := s.staged(tx)[eventID]; pending {
			return true, nil
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[eventID]
	return ok, nil
}

func (s *MemoryDedupStore) Insert(ctx context.Context, eventID uuid.UUID, firstSeenAt time.Time) error {
	tx, ok := memory.TxFromContext(ctx)
	if !ok {
		return errNoTransaction
	}
	if seen, _ := s.Seen(ctx, eventID); seen {
		return fmt.Errorf("%w: %s", ErrAlreadyProcessed, eventID)
	}

	s.staged(tx)[eventID] = firstSeenAt
	tx.OnCommit(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.seen[eventID] = firstSeenAt
	})
	return nil
}

// Len returns the number of committed event ids.
func (s *MemoryDedupStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
