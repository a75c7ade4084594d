package outbox

import (
	"time"

	"github.com/google/uuid"
)

// claimScanner picks claimable records from a stream sorted by aggregate id
// then sequence. Within an aggregate it takes the longest prefix of due
// records: the first unpublished record that is not due (backing off, or
// leased to someone) hides everything after it.
type claimScanner struct {
	now     time.Time
	limit   int
	blocked map[uuid.UUID]bool
	picked  []Record
}

func newClaimScanner(now time.Time, limit int) *claimScanner {
	return &claimScanner{now: now, limit: limit, blocked: make(map[uuid.UUID]bool)}
}

// offer considers rec and reports whether the scan is complete.
func (s *claimScanner) offer(rec Record) bool {
	if rec.State.Terminal() || s.blocked[rec.AggregateID] {
		return s.full()
	}
	if !s.due(rec) {
		s.blocked[rec.AggregateID] = true
		return s.full()
	}
	s.picked = append(s.picked, rec)
	return s.full()
}

func (s *claimScanner) due(rec Record) bool {
	switch rec.State {
	case StatePending:
		return !rec.NextAttemptAt.After(s.now)
	case StateInFlight:
		return !rec.LeaseExpiresAt.After(s.now)
	default:
		return false
	}
}

func (s *claimScanner) full() bool {
	return len(s.picked) >= s.limit
}
