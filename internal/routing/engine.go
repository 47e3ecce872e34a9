package routing

import (
	"errors"
	"time"

	"github.com/angeloszaimis/adaptive-router/internal/backend"
	"github.com/angeloszaimis/adaptive-router/internal/ratelimit"
	"github.com/angeloszaimis/adaptive-router/internal/strategy"
)

var ErrNoBackends = errors.New("routing: no backends configured")

const (
	DefaultMaxAttempts         = 10
	DefaultPenaltyFreeAttempts = 3
	DefaultWindowSize          = 30
)

type Config struct {
	Strategy            string
	Seed                uint64
	Backends            []backend.ID
	MaxAttempts         int
	PenaltyFreeAttempts int
	WindowSize          int
	DiscoveryLimit      int
	RateLimit           ratelimit.Config
}

// BackendState is the externally visible state of one backend.
type BackendState struct {
	backend.Snapshot
	SuccessRate  float64               `json:"success_rate"`
	AvgLatencyMs float64               `json:"avg_latency_ms"`
	RateLimited  bool                  `json:"rate_limited"`
	Block        *ratelimit.BlockState `json:"block,omitempty"`
}

type Engine struct {
	variant     strategy.Variant
	store       *backend.Store
	strategy    strategy.Strategy
	tracker     *ratelimit.Tracker
	sampler     *strategy.BetaSampler
	maxAttempts int
	penaltyFree int
}

type Option func(*engineOptions)

type engineOptions struct {
	clock func() time.Time
}

// WithClock sets the clock used for rate-limit bookkeeping.
func WithClock(clock func() time.Time) Option {
	return func(o *engineOptions) {
		o.clock = clock
	}
}

func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	o := engineOptions{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	variant, err := strategy.Lookup(cfg.Strategy)
	if err != nil {
		return nil, err
	}
	if len(cfg.Backends) == 0 {
		return nil, ErrNoBackends
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.PenaltyFreeAttempts <= 0 {
		cfg.PenaltyFreeAttempts = DefaultPenaltyFreeAttempts
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultWindowSize
	}

	store := backend.NewStore(cfg.Backends, cfg.WindowSize, backend.WithClock(o.clock))
	sampler := strategy.NewBetaSampler(cfg.Seed)

	strat, err := strategy.New(variant.Key, strategy.Deps{
		Store:          store,
		Sampler:        sampler,
		DiscoveryLimit: cfg.DiscoveryLimit,
		RateLimit:      cfg.RateLimit,
		Clock:          o.clock,
	})
	if err != nil {
		return nil, err
	}

	e := &Engine{
		variant:     variant,
		store:       store,
		strategy:    strat,
		sampler:     sampler,
		maxAttempts: cfg.MaxAttempts,
		penaltyFree: cfg.PenaltyFreeAttempts,
	}
	if m, ok := strat.(strategy.Masking); ok {
		e.tracker = m.Tracker()
	}

	return e, nil
}

func (e *Engine) Variant() strategy.Variant {
	return e.variant
}

func (e *Engine) Strategy() strategy.Strategy {
	return e.strategy
}

func (e *Engine) Store() *backend.Store {
	return e.store
}

// Tracker is nil for strategies that do not mask rate-limited backends.
func (e *Engine) Tracker() *ratelimit.Tracker {
	return e.tracker
}

func (e *Engine) Seed() uint64 {
	return e.sampler.Seed()
}

func (e *Engine) MaxAttempts() int {
	return e.maxAttempts
}

func (e *Engine) PenaltyFreeAttempts() int {
	return e.penaltyFree
}

// Penalized reports whether a 0-indexed attempt counts against the score.
func (e *Engine) Penalized(attemptNumber int) bool {
	return attemptNumber >= e.penaltyFree
}

// Backends returns the state of every backend in id order.
func (e *Engine) Backends() []BackendState {
	snaps := e.store.Snapshots()
	out := make([]BackendState, 0, len(snaps))

	for _, s := range snaps {
		state := BackendState{
			Snapshot:     s,
			SuccessRate:  s.SuccessRate(),
			AvgLatencyMs: s.AvgLatencyMs(),
		}
		if e.tracker != nil {
			state.RateLimited = e.tracker.IsRateLimited(s.ID)
			if e.tracker.Mode() == ratelimit.ModeBlocking {
				block := e.tracker.BlockState(s.ID)
				state.Block = &block
			}
		}
		out = append(out, state)
	}

	return out
}
