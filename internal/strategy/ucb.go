package strategy

import (
	"math"

	"github.com/angeloszaimis/adaptive-router/internal/backend"
)

// UCBScore is the UCB1 score successRate + c*sqrt(ln(total)/n). A backend
// that was never tried scores +Inf.
func UCBScore(successRate float64, n, total int64, c float64) float64 {
	if n == 0 {
		return math.Inf(1)
	}
	if total < 1 {
		total = 1
	}
	return successRate + c*math.Sqrt(math.Log(float64(total))/float64(n))
}

// ExplorationConstant is the UCB constant used by the modified variant for a
// 0-indexed attempt.
func ExplorationConstant(attempt int) float64 {
	if attempt < freeAttempts {
		return 3.0
	}
	return 1.0
}

type ucbStrategy struct {
	base
	constant func(attempt int) float64
}

func NewUCBStrategy(store *backend.Store) Strategy {
	return &ucbStrategy{
		base:     base{name: "ucb", store: store},
		constant: func(int) float64 { return math.Sqrt2 },
	}
}

func NewUCBModifiedStrategy(store *backend.Store) Strategy {
	return &ucbStrategy{
		base:     base{name: "ucb-modified", store: store},
		constant: ExplorationConstant,
	}
}

func (u *ucbStrategy) Select(excluded backend.Set, attempt int) backend.ID {
	snaps := u.candidates(excluded)
	if len(snaps) == 0 {
		return u.bestKnown()
	}

	total := u.store.TotalRequests()
	c := u.constant(attempt)

	best := snaps[0].ID
	bestScore := math.Inf(-1)

	for _, s := range snaps {
		score := UCBScore(s.SuccessRate(), s.NumRequests, total, c)
		if math.IsInf(score, 1) {
			return s.ID
		}
		if score > bestScore {
			bestScore = score
			best = s.ID
		}
	}

	return best
}
