package strategy

import (
	"math"

	"github.com/angeloszaimis/adaptive-router/internal/backend"
)

// posterior maps a backend snapshot to the Beta parameters a draw is made from.
type posterior func(s backend.Snapshot, attempt int) (alpha, beta float64)

func allTime(s backend.Snapshot, _ int) (float64, float64) {
	return s.Alpha, s.Beta
}

func windowed(s backend.Snapshot, _ int) (float64, float64) {
	return s.WindowAlpha(), s.WindowBeta()
}

// widened rescales the posterior so its mass sums to roughly total/scale
// observations, which flattens it for early attempts.
func widened(s backend.Snapshot, attempt int) (float64, float64) {
	return ScaledPosterior(s.Alpha, s.Beta, VarianceScale(attempt))
}

// VarianceScale is 4.0 * 0.5^attempt inside the penalty-free window and 0 after it.
func VarianceScale(attempt int) float64 {
	if attempt >= freeAttempts {
		return 0
	}
	return 4.0 * math.Pow(0.5, float64(attempt))
}

// ScaledPosterior shrinks (alpha, beta) toward a pseudo-count of
// max(2, (alpha+beta)/scale), never dropping either parameter below 1.
// A zero scale or a bare prior leaves the parameters unchanged.
func ScaledPosterior(alpha, beta, scale float64) (float64, float64) {
	total := alpha + beta
	if scale <= 0 || total <= 2 {
		return alpha, beta
	}
	factor := math.Max(2, total/scale) / total
	return math.Max(1, alpha*factor), math.Max(1, beta*factor)
}

type thompsonStrategy struct {
	base
	sampler   *BetaSampler
	posterior posterior
}

func NewThompsonStrategy(store *backend.Store, sampler *BetaSampler) Strategy {
	return &thompsonStrategy{
		base:      base{name: "thompson", store: store},
		sampler:   sampler,
		posterior: allTime,
	}
}

func NewThompsonModifiedStrategy(store *backend.Store, sampler *BetaSampler) Strategy {
	return &thompsonStrategy{
		base:      base{name: "thompson-modified", store: store},
		sampler:   sampler,
		posterior: widened,
	}
}

func (t *thompsonStrategy) Select(excluded backend.Set, attempt int) backend.ID {
	snaps := t.candidates(excluded)
	if len(snaps) == 0 {
		return t.bestKnown()
	}
	return sampleMax(t.sampler, snaps, attempt, t.posterior)
}

// sampleMax draws once per candidate and returns the largest draw.
func sampleMax(sampler *BetaSampler, snaps []backend.Snapshot, attempt int, post posterior) backend.ID {
	best := snaps[0].ID
	bestSample := -1.0

	for _, s := range snaps {
		alpha, beta := post(s, attempt)
		if sample := sampler.Sample(alpha, beta); sample > bestSample {
			bestSample = sample
			best = s.ID
		}
	}

	return best
}
