package backend

import (
	"fmt"
	"slices"
	"sync/atomic"
	"time"
)

// Store owns one Stats per backend in a closed population. The population is
// fixed at construction, so lookups need no lock; mutations lock only the
// backend they touch.
type Store struct {
	ids   []ID
	stats map[ID]*Stats
	total atomic.Int64
	clock func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used to stamp rate-limit events.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// NewStore creates stats for every id in the population. Duplicate ids are
// collapsed and the population is kept in ascending order so that every
// "lowest id wins" tie-break can simply iterate IDs().
func NewStore(ids []ID, windowSize int, opts ...Option) *Store {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	s := &Store{
		ids:   sorted,
		stats: make(map[ID]*Stats, len(sorted)),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, id := range sorted {
		s.stats[id] = newStats(id, windowSize)
	}

	return s
}

// IDs returns the population in ascending order. Callers must not modify it.
func (s *Store) IDs() []ID {
	return s.ids
}

// Len returns the population size.
func (s *Store) Len() int {
	return len(s.ids)
}

// Contains reports whether id belongs to the population.
func (s *Store) Contains(id ID) bool {
	_, ok := s.stats[id]
	return ok
}

// RecordOutcome records a success or an ordinary failure.
func (s *Store) RecordOutcome(id ID, success bool, latencyMs float64) {
	s.get(id).recordOutcome(success, latencyMs)
	s.total.Add(1)
}

// RecordRateLimited records a capacity rejection and returns the time it was stamped with.
func (s *Store) RecordRateLimited(id ID, latencyMs float64) time.Time {
	at := s.clock()
	s.get(id).recordRateLimited(latencyMs, at)
	s.total.Add(1)
	return at
}

// Snapshot returns a copy of one backend's stats.
func (s *Store) Snapshot(id ID) Snapshot {
	return s.get(id).snapshot()
}

// Snapshots returns a copy of every backend's stats in population order.
// Each entry is consistent on its own; entries may be from slightly different instants.
func (s *Store) Snapshots() []Snapshot {
	out := make([]Snapshot, 0, len(s.ids))
	for _, id := range s.ids {
		out = append(out, s.stats[id].snapshot())
	}
	return out
}

// TotalRequests returns the number of attempts recorded across all backends.
func (s *Store) TotalRequests() int64 {
	return s.total.Load()
}

func (s *Store) get(id ID) *Stats {
	st, ok := s.stats[id]
	if !ok {
		panic(fmt.Sprintf("backend: unknown backend id %d", id))
	}
	return st
}
