package strategy

import (
	"github.com/angeloszaimis/adaptive-router/internal/backend"
	"github.com/angeloszaimis/adaptive-router/internal/ratelimit"
)

// freeAttempts is the number of attempts per request that carry no penalty.
// Variants that tune exploration per attempt explore harder inside it.
const freeAttempts = 3

type Strategy interface {
	Name() string
	// Select picks a backend for the given 0-indexed attempt, skipping excluded
	// ones. When every backend is excluded it returns the best known backend.
	Select(excluded backend.Set, attempt int) backend.ID
	Observe(id backend.ID, success bool, latencyMs float64)
	ObserveRateLimited(id backend.ID, latencyMs float64)
}

// Masking is implemented by strategies that keep rate-limited backends out of selection.
type Masking interface {
	Tracker() *ratelimit.Tracker
}

type base struct {
	name  string
	store *backend.Store
}

func (b *base) Name() string {
	return b.name
}

func (b *base) Observe(id backend.ID, success bool, latencyMs float64) {
	b.store.RecordOutcome(id, success, latencyMs)
}

func (b *base) ObserveRateLimited(id backend.ID, latencyMs float64) {
	b.store.RecordRateLimited(id, latencyMs)
}

// candidates returns snapshots of every backend not in excluded, in id order.
func (b *base) candidates(excluded backend.Set) []backend.Snapshot {
	out := make([]backend.Snapshot, 0, b.store.Len())
	for _, id := range b.store.IDs() {
		if excluded.Has(id) {
			continue
		}
		out = append(out, b.store.Snapshot(id))
	}
	return out
}

func (b *base) snapshotsOf(ids []backend.ID) []backend.Snapshot {
	out := make([]backend.Snapshot, 0, len(ids))
	for _, id := range ids {
		out = append(out, b.store.Snapshot(id))
	}
	return out
}

// bestKnown returns the backend with the highest observed success rate
// across the whole population.
func (b *base) bestKnown() backend.ID {
	return highestSuccessRate(b.store.Snapshots())
}

// highestSuccessRate picks the tried backend with the best success rate.
// Untried backends are skipped; with no tried backend the first one wins.
func highestSuccessRate(snaps []backend.Snapshot) backend.ID {
	if len(snaps) == 0 {
		return 0
	}

	best := snaps[0].ID
	bestRate := -1.0

	for _, s := range snaps {
		if s.NumRequests > 0 && s.SuccessRate() > bestRate {
			bestRate = s.SuccessRate()
			best = s.ID
		}
	}

	return best
}
