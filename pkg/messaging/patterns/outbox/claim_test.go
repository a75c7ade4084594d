package outbox

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestClaimScanner(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	aggA, aggB := uuid.New(), uuid.New()

	pending := func(agg uuid.UUID, seq int64) Record {
		return Record{EventID: uuid.New(), AggregateID: agg, Sequence: seq, State: StatePending, NextAttemptAt: now}
	}
	backingOff := func(agg uuid.UUID, seq int64) Record {
		r := pending(agg, seq)
		r.NextAttemptAt = now.Add(time.Second)
		return r
	}
	leased := func(agg uuid.UUID, seq int64, expires time.Time) Record {
		r := pending(agg, seq)
		r.State = StateInFlight
		r.LeaseOwner = "other"
		r.LeaseExpiresAt = expires
		return r
	}
	withState := func(r Record, s State) Record {
		r.State = s
		return r
	}

	tests := []struct {
		name     string
		input    []Record
		limit    int
		expected []int64
	}{
		{
			name:     "takes every due record",
			input:    []Record{pending(aggA, 1), pending(aggA, 2), pending(aggB, 3)},
			limit:    10,
			expected: []int64{1, 2, 3},
		},
		{
			name:     "respects limit",
			input:    []Record{pending(aggA, 1), pending(aggA, 2), pending(aggB, 3)},
			limit:    2,
			expected: []int64{1, 2},
		},
		{
			name:     "backing off head hides successors",
			input:    []Record{backingOff(aggA, 1), pending(aggA, 2), pending(aggB, 3)},
			limit:    10,
			expected: []int64{3},
		},
		{
			name:     "valid lease hides successors",
			input:    []Record{leased(aggA, 1, now.Add(time.Second)), pending(aggA, 2)},
			limit:    10,
			expected: nil,
		},
		{
			name:     "expired lease is reclaimed",
			input:    []Record{leased(aggA, 1, now), pending(aggA, 2)},
			limit:    10,
			expected: []int64{1, 2},
		},
		{
			name:     "dead and published records do not block",
			input:    []Record{withState(pending(aggA, 1), StateDead), withState(pending(aggA, 2), StatePublished), pending(aggA, 3)},
			limit:    10,
			expected: []int64{3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newClaimScanner(now, tt.limit)
			for _, rec := range tt.input {
				if s.offer(rec) {
					break
				}
			}

			var got []int64
			for _, rec := range s.picked {
				got = append(got, rec.Sequence)
			}
			assert.Equal(t, tt.expected, got)
		})
	}
}
