package strategy

import (
	"sync/atomic"

	"github.com/angeloszaimis/adaptive-router/internal/backend"
)

const DefaultDiscoveryLimit = 50

// exploreExploitStrategy spends the first discoveryLimit requests on the backend
// it is least certain about, then commits to the best observed success rate.
type exploreExploitStrategy struct {
	base
	discoveryLimit int64
	requests       atomic.Int64
}

func NewExploreExploitStrategy(store *backend.Store, discoveryLimit int) Strategy {
	if discoveryLimit <= 0 {
		discoveryLimit = DefaultDiscoveryLimit
	}
	return &exploreExploitStrategy{
		base:           base{name: "explore-exploit", store: store},
		discoveryLimit: int64(discoveryLimit),
	}
}

func (e *exploreExploitStrategy) Select(excluded backend.Set, attempt int) backend.ID {
	// Retries do not advance discovery.
	n := e.requests.Load()
	if attempt == 0 {
		n = e.requests.Add(1)
	}

	snaps := e.candidates(excluded)
	if len(snaps) == 0 {
		return e.bestKnown()
	}

	if n < e.discoveryLimit {
		return leastConfident(snaps)
	}
	return highestSuccessRate(snaps)
}

// Discovering reports whether the strategy is still in its discovery phase.
func (e *exploreExploitStrategy) Discovering() bool {
	return e.requests.Load() < e.discoveryLimit
}

// leastConfident prefers an untried backend, then the one with the widest posterior.
func leastConfident(snaps []backend.Snapshot) backend.ID {
	best := snaps[0].ID
	bestVariance := -1.0

	for _, s := range snaps {
		if s.NumRequests == 0 {
			return s.ID
		}
		if v := s.BetaVariance(); v > bestVariance {
			bestVariance = v
			best = s.ID
		}
	}

	return best
}
