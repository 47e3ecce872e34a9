package metrics

import (
	"slices"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/angeloszaimis/adaptive-router/internal/attempt"
	"github.com/angeloszaimis/adaptive-router/internal/backend"
	"github.com/angeloszaimis/adaptive-router/internal/routing"
)

const DefaultLatencyWindow = 10000

// Aggregator keeps running totals over every outcome it is given.
type Aggregator struct {
	mutex            sync.RWMutex
	totalRequests    int64
	totalSuccess     int64
	totalFailure     int64
	totalRetries     int64
	totalRateLimited int64
	totalPenalty     int64
	totalAttempts    int64
	latencies        []float64
	next             int
	perBackend       map[backend.ID]*backendTotals
	startTime        time.Time
	lastUpdate       time.Time
}

type backendTotals struct {
	requests       int64
	success        int64
	failure        int64
	rateLimited    int64
	totalLatencyMs float64
}

type Snapshot struct {
	Strategy         string                        `json:"strategy"`
	TotalRequests    int64                         `json:"total_requests"`
	TotalSuccess     int64                         `json:"total_success"`
	TotalFailure     int64                         `json:"total_failure"`
	TotalRetries     int64                         `json:"total_retries"`
	TotalRateLimited int64                         `json:"total_rate_limited"`
	TotalPenalty     int64                         `json:"total_penalty"`
	TotalAttempts    int64                         `json:"total_attempts"`
	GlobalRegret     int64                         `json:"global_regret"`
	BestGuessScore   int64                         `json:"best_guess_score"`
	LatencyP50       float64                       `json:"latency_p50"`
	LatencyP99       float64                       `json:"latency_p99"`
	Uptime           float64                       `json:"uptime_seconds"`
	LastUpdate       time.Time                     `json:"last_update"`
	PerBackend       map[backend.ID]BackendMetrics `json:"per_server"`
	Backends         []routing.BackendState        `json:"backends,omitempty"`
}

type BackendMetrics struct {
	Port         backend.ID `json:"port"`
	NumRequests  int64      `json:"num_requests"`
	NumSuccess   int64      `json:"num_success"`
	NumFailure   int64      `json:"num_failure"`
	NumRateLimit int64      `json:"num_rate_limited"`
	SuccessRate  float64    `json:"success_rate"`
	AvgLatencyMs float64    `json:"avg_latency_ms"`
}

// NewAggregator keeps the last latencyWindow attempt latencies for percentiles.
func NewAggregator(latencyWindow int) *Aggregator {
	if latencyWindow <= 0 {
		latencyWindow = DefaultLatencyWindow
	}
	return &Aggregator{
		latencies:  make([]float64, 0, latencyWindow),
		perBackend: make(map[backend.ID]*backendTotals),
		startTime:  time.Now(),
	}
}

// Record applies one attempt outcome. A rate-limited attempt counts as neither
// success nor failure for its backend.
func (a *Aggregator) Record(o attempt.Outcome) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	bt, ok := a.perBackend[o.BackendID]
	if !ok {
		bt = &backendTotals{}
		a.perBackend[o.BackendID] = bt
	}

	bt.requests++
	bt.totalLatencyMs += o.LatencyMs
	switch {
	case o.RateLimited:
		bt.rateLimited++
		a.totalRateLimited++
	case o.Success:
		bt.success++
	default:
		bt.failure++
	}

	a.totalAttempts++
	if o.Retry() {
		a.totalRetries++
	}
	if o.Penalized {
		a.totalPenalty++
	}
	a.recordLatency(o.LatencyMs)

	if o.RequestComplete {
		a.totalRequests++
		if o.RequestSuccess {
			a.totalSuccess++
		} else {
			a.totalFailure++
		}
		a.lastUpdate = o.Timestamp
	}
}

// recordLatency overwrites the oldest sample once the window is full.
func (a *Aggregator) recordLatency(ms float64) {
	if len(a.latencies) < cap(a.latencies) {
		a.latencies = append(a.latencies, ms)
		return
	}
	a.latencies[a.next] = ms
	a.next = (a.next + 1) % len(a.latencies)
}

func (a *Aggregator) Snapshot(strategy string) Snapshot {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	snap := Snapshot{
		Strategy:         strategy,
		TotalRequests:    a.totalRequests,
		TotalSuccess:     a.totalSuccess,
		TotalFailure:     a.totalFailure,
		TotalRetries:     a.totalRetries,
		TotalRateLimited: a.totalRateLimited,
		TotalPenalty:     a.totalPenalty,
		TotalAttempts:    a.totalAttempts,
		GlobalRegret:     a.totalRequests - a.totalSuccess,
		BestGuessScore:   a.totalSuccess - a.totalPenalty,
		Uptime:           time.Since(a.startTime).Seconds(),
		LastUpdate:       a.lastUpdate,
		PerBackend:       make(map[backend.ID]BackendMetrics, len(a.perBackend)),
	}

	if len(a.latencies) > 0 {
		sorted := slices.Clone(a.latencies)
		slices.Sort(sorted)
		snap.LatencyP50 = stat.Quantile(0.50, stat.Empirical, sorted, nil)
		snap.LatencyP99 = stat.Quantile(0.99, stat.Empirical, sorted, nil)
	}

	for id, bt := range a.perBackend {
		bm := BackendMetrics{
			Port:         id,
			NumRequests:  bt.requests,
			NumSuccess:   bt.success,
			NumFailure:   bt.failure,
			NumRateLimit: bt.rateLimited,
		}
		if bt.requests > 0 {
			bm.SuccessRate = float64(bt.success) / float64(bt.requests)
			bm.AvgLatencyMs = bt.totalLatencyMs / float64(bt.requests)
		}
		snap.PerBackend[id] = bm
	}

	return snap
}
