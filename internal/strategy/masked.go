package strategy

import (
	"github.com/angeloszaimis/adaptive-router/internal/backend"
	"github.com/angeloszaimis/adaptive-router/internal/ratelimit"
)

// maskedStrategy runs Thompson Sampling over the backends the tracker does not
// consider rate limited. The tracker's mode decides whether limits are plain
// cooldowns or exponentially backed-off blocks.
type maskedStrategy struct {
	base
	tracker   *ratelimit.Tracker
	sampler   *BetaSampler
	posterior posterior
}

func NewThompsonMaskedStrategy(store *backend.Store, tracker *ratelimit.Tracker, sampler *BetaSampler) Strategy {
	return &maskedStrategy{
		base:      base{name: "thompson-masked", store: store},
		tracker:   tracker,
		sampler:   sampler,
		posterior: allTime,
	}
}

func NewSlidingWindowStrategy(store *backend.Store, tracker *ratelimit.Tracker, sampler *BetaSampler) Strategy {
	return &maskedStrategy{
		base:      base{name: "sliding-window", store: store},
		tracker:   tracker,
		sampler:   sampler,
		posterior: windowed,
	}
}

func NewBlockingBanditStrategy(store *backend.Store, tracker *ratelimit.Tracker, sampler *BetaSampler) Strategy {
	return &maskedStrategy{
		base:      base{name: "blocking-bandit", store: store},
		tracker:   tracker,
		sampler:   sampler,
		posterior: allTime,
	}
}

func (m *maskedStrategy) Select(excluded backend.Set, attempt int) backend.ID {
	available, limited := m.tracker.Partition(excluded)
	if len(available) > 0 {
		return sampleMax(m.sampler, m.snapshotsOf(available), attempt, m.posterior)
	}

	if id, ok := m.tracker.LeastRecentlyLimited(limited); ok {
		return id
	}

	return m.bestKnown()
}

func (m *maskedStrategy) Observe(id backend.ID, success bool, latencyMs float64) {
	m.base.Observe(id, success, latencyMs)
	if success {
		m.tracker.RecordSuccess(id)
	}
}

func (m *maskedStrategy) ObserveRateLimited(id backend.ID, latencyMs float64) {
	m.base.ObserveRateLimited(id, latencyMs)
	m.tracker.RecordRateLimited(id)
}

func (m *maskedStrategy) Tracker() *ratelimit.Tracker {
	return m.tracker
}
