package outbox

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Sokol111/ecommerce-outbox/pkg/persistence/memory"
	"github.com/google/uuid"
)

// MemoryStore keeps the outbox in process memory. Insert enlists in a
// memory.TxManager transaction; the other methods lock the store directly.
type MemoryStore struct {
	mu        sync.Mutex
	records   map[uuid.UUID]*Record
	seq       int64
	retention time.Duration
	now       func() time.Time
}

var _ Store = (*MemoryStore)(nil)

type MemoryStoreOption func(*MemoryStore)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// WithRetention sets how long PUBLISHED records survive pruning.
func WithRetention(d time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.retention = d
	}
}

func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		records:   make(map[uuid.UUID]*Record),
		retention: DefaultConfig().Retention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type stagedInserts struct {
	store *MemoryStore
}

func (s *MemoryStore) Insert(ctx context.Context, rec *Record) error {
	tx, ok := memory.TxFromContext(ctx)
	if !ok {
		return ErrNoAmbientTransaction
	}
	if err := rec.validate(); err != nil {
		return err
	}

	staged := tx.Staged(stagedInserts{store: s}, func() any {
		return make(map[uuid.UUID]struct{})
	}).(map[uuid.UUID]struct{})

	s.mu.Lock()
	_, exists := s.records[rec.EventID]
	if _, pending := staged[rec.EventID]; exists || pending {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateEventID, rec.EventID)
	}
	// The memory TxManager runs one transaction at a time, so sequences are
	// handed out in commit order.
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	now := s.now().UTC()
	rec.Sequence = seq
	rec.CreatedAt = now
	rec.State = StatePending
	rec.AttemptCount = 0
	rec.NextAttemptAt = now
	rec.LeaseOwner = ""
	rec.LeaseExpiresAt = time.Time{}
	rec.LastError = ""
	rec.PublishedAt = time.Time{}

	staged[rec.EventID] = struct{}{}
	stored := rec.clone()
	tx.OnCommit(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.records[stored.EventID] = &stored
	})
	return nil
}

func (s *MemoryStore) ClaimBatch(_ context.Context, owner string, limit int, lease time.Duration) ([]Record, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	scanner := newClaimScanner(now, limit)
	for _, rec := range s.sortedLocked() {
		if scanner.offer(*rec) {
			break
		}
	}

	claimed := make([]Record, 0, len(scanner.picked))
	for _, picked := range scanner.picked {
		rec := s.records[picked.EventID]
		rec.State = StateInFlight
		rec.LeaseOwner = owner
		rec.LeaseExpiresAt = now.Add(lease)
		claimed = append(claimed, rec.clone())
	}
	return claimed, nil
}

func (s *MemoryStore) MarkPublished(_ context.Context, eventID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[eventID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, eventID)
	}
	if rec.State.Terminal() {
		return nil
	}
	rec.State = StatePublished
	rec.PublishedAt = s.now().UTC()
	rec.LeaseOwner = ""
	rec.LeaseExpiresAt = time.Time{}
	return nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, owner string, eventID uuid.UUID, f FailureUpdate, maxAttempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[eventID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, eventID)
	}
	if rec.State != StateInFlight || rec.LeaseOwner != owner {
		return nil
	}

	now := s.now().UTC()
	rec.AttemptCount++
	if f.Permanent {
		rec.AttemptCount = max(rec.AttemptCount, maxAttempts)
	}
	rec.LastError = truncateError(f.Error)
	rec.NextAttemptAt = now.Add(f.Backoff)
	rec.LeaseOwner = ""
	rec.LeaseExpiresAt = time.Time{}
	rec.State = StatePending
	if rec.AttemptCount >= maxAttempts {
		rec.State = StateDead
	}
	return nil
}

func (s *MemoryStore) Release(_ context.Context, owner string, eventIDs []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range eventIDs {
		rec, ok := s.records[id]
		if !ok || rec.State != StateInFlight || rec.LeaseOwner != owner {
			continue
		}
		rec.State = StatePending
		rec.LeaseOwner = ""
		rec.LeaseExpiresAt = time.Time{}
	}
	return nil
}

func (s *MemoryStore) PeekByAggregate(_ context.Context, aggregateID uuid.UUID, afterSeq int64, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Record
	for _, rec := range s.sortedLocked() {
		if len(out) >= limit {
			break
		}
		if rec.AggregateID == aggregateID && rec.Sequence > afterSeq {
			out = append(out, rec.clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	s.pruneLocked(now)

	stats := Stats{Counts: make(map[State]int64, len(States))}
	for _, st := range States {
		stats.Counts[st] = 0
	}
	var oldest time.Time
	for _, rec := range s.records {
		stats.Counts[rec.State]++
		if !rec.State.Terminal() && (oldest.IsZero() || rec.CreatedAt.Before(oldest)) {
			oldest = rec.CreatedAt
		}
	}
	if !oldest.IsZero() {
		stats.OldestPendingAge = now.Sub(oldest)
	}
	return stats, nil
}

func (s *MemoryStore) Replay(_ context.Context, eventID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[eventID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, eventID)
	}
	if rec.State != StateDead {
		return fmt.Errorf("%w: %s is %s", ErrNotDead, eventID, rec.State)
	}
	rec.State = StatePending
	rec.AttemptCount = 0
	rec.LastError = ""
	rec.NextAttemptAt = s.now().UTC()
	return nil
}

// Get returns a copy of the stored record.
func (s *MemoryStore) Get(eventID uuid.UUID) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[eventID]
	if !ok {
		return Record{}, false
	}
	return rec.clone(), true
}

func (s *MemoryStore) sortedLocked() []*Record {
	all := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		all = append(all, rec)
	}
	slices.SortFunc(all, func(a, b *Record) int {
		return cmp.Or(
			cmp.Compare(a.AggregateID.String(), b.AggregateID.String()),
			cmp.Compare(a.Sequence, b.Sequence),
		)
	})
	return all
}

func (s *MemoryStore) pruneLocked(now time.Time) {
	for id, rec := range s.records {
		if rec.State == StatePublished && !rec.PublishedAt.Add(s.retention).After(now) {
			delete(s.records, id)
		}
	}
}
