package backend

import (
	"sync"
	"time"
)

// ID identifies a backend. Backends are addressed by port, so the id is the port number.
type ID int

// Stats holds the mutable counters and Beta posterior for one backend.
type Stats struct {
	mutex             sync.Mutex
	id                ID
	numSuccess        int64
	numFailure        int64
	numRequests       int64
	totalLatencyMs    float64
	alpha             float64
	beta              float64
	numRateLimited    int64
	lastRateLimitedAt time.Time
	window            *Window
}

// Snapshot is a point-in-time copy of a backend's Stats.
type Snapshot struct {
	ID                ID        `json:"id"`
	NumSuccess        int64     `json:"num_success"`
	NumFailure        int64     `json:"num_failure"`
	NumRequests       int64     `json:"num_requests"`
	TotalLatencyMs    float64   `json:"total_latency_ms"`
	Alpha             float64   `json:"alpha"`
	Beta              float64   `json:"beta"`
	NumRateLimited    int64     `json:"num_rate_limited"`
	LastRateLimitedAt time.Time `json:"last_rate_limited_at"`
	WindowSuccesses   int       `json:"window_successes"`
	WindowFailures    int       `json:"window_failures"`
}

func newStats(id ID, windowSize int) *Stats {
	return &Stats{
		id:     id,
		alpha:  1.0,
		beta:   1.0,
		window: NewWindow(windowSize),
	}
}

func (s *Stats) recordOutcome(success bool, latencyMs float64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.numRequests++
	s.totalLatencyMs += latencyMs
	if success {
		s.numSuccess++
		s.alpha++
	} else {
		s.numFailure++
		s.beta++
	}
	s.window.Append(success)
}

// recordRateLimited leaves alpha, beta and the success/failure counters alone:
// a capacity rejection says nothing about backend quality.
func (s *Stats) recordRateLimited(latencyMs float64, at time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.numRequests++
	s.totalLatencyMs += latencyMs
	s.numRateLimited++
	s.lastRateLimitedAt = at
}

func (s *Stats) snapshot() Snapshot {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return Snapshot{
		ID:                s.id,
		NumSuccess:        s.numSuccess,
		NumFailure:        s.numFailure,
		NumRequests:       s.numRequests,
		TotalLatencyMs:    s.totalLatencyMs,
		Alpha:             s.alpha,
		Beta:              s.beta,
		NumRateLimited:    s.numRateLimited,
		LastRateLimitedAt: s.lastRateLimitedAt,
		WindowSuccesses:   s.window.Successes(),
		WindowFailures:    s.window.Failures(),
	}
}

// SuccessRate returns NumSuccess / NumRequests, or 0 before any request.
func (s Snapshot) SuccessRate() float64 {
	if s.NumRequests == 0 {
		return 0
	}
	return float64(s.NumSuccess) / float64(s.NumRequests)
}

// AvgLatencyMs returns the mean latency over every recorded attempt.
func (s Snapshot) AvgLatencyMs() float64 {
	if s.NumRequests == 0 {
		return 0
	}
	return s.TotalLatencyMs / float64(s.NumRequests)
}

// BetaVariance returns the variance of the backend's Beta(alpha, beta) posterior.
func (s Snapshot) BetaVariance() float64 {
	return BetaVariance(s.Alpha, s.Beta)
}

// WindowAlpha and WindowBeta are the Beta parameters over the recent outcome window.
func (s Snapshot) WindowAlpha() float64 {
	return float64(s.WindowSuccesses) + 1
}

func (s Snapshot) WindowBeta() float64 {
	return float64(s.WindowFailures) + 1
}

// EverRateLimited reports whether the backend has ever answered with a capacity rejection.
func (s Snapshot) EverRateLimited() bool {
	return !s.LastRateLimitedAt.IsZero()
}

// BetaVariance computes alpha*beta / ((alpha+beta)^2 * (alpha+beta+1)).
func BetaVariance(alpha, beta float64) float64 {
	total := alpha + beta
	return (alpha * beta) / (total * total * (total + 1))
}
