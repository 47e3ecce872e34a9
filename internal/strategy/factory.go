package strategy

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angeloszaimis/adaptive-router/internal/backend"
	"github.com/angeloszaimis/adaptive-router/internal/ratelimit"
)

var ErrUnknownStrategy = errors.New("unknown strategy")

// Deps carries what a strategy needs besides its variant.
type Deps struct {
	Store *backend.Store
	// Sampler defaults to a time-seeded sampler.
	Sampler        *BetaSampler
	DiscoveryLimit int
	// RateLimit configures the tracker of masking variants. Its Mode is
	// overridden by the variant.
	RateLimit ratelimit.Config
	Clock     func() time.Time
}

// Variant describes one selectable strategy.
type Variant struct {
	Key         string
	Name        string
	Description string
	build       func(Deps) Strategy
}

var variants = []Variant{
	{
		Key:         "v1",
		Name:        "explore-exploit",
		Description: "highest Beta variance for the first requests, then best success rate",
		build: func(d Deps) Strategy {
			return NewExploreExploitStrategy(d.Store, d.DiscoveryLimit)
		},
	},
	{
		Key:         "v2",
		Name:        "ucb",
		Description: "UCB1 with c = sqrt(2)",
		build: func(d Deps) Strategy {
			return NewUCBStrategy(d.Store)
		},
	},
	{
		Key:         "v3",
		Name:        "ucb-modified",
		Description: "UCB1 with c = 3.0 during penalty-free attempts, 1.0 after",
		build: func(d Deps) Strategy {
			return NewUCBModifiedStrategy(d.Store)
		},
	},
	{
		Key:         "v4",
		Name:        "thompson",
		Description: "Thompson Sampling over all-time Beta posteriors",
		build: func(d Deps) Strategy {
			return NewThompsonStrategy(d.Store, d.Sampler)
		},
	},
	{
		Key:         "v5",
		Name:        "thompson-modified",
		Description: "Thompson Sampling with posteriors widened for early attempts",
		build: func(d Deps) Strategy {
			return NewThompsonModifiedStrategy(d.Store, d.Sampler)
		},
	},
	{
		Key:         "v6",
		Name:        "thompson-masked",
		Description: "Thompson Sampling skipping backends in rate-limit cooldown",
		build: func(d Deps) Strategy {
			return NewThompsonMaskedStrategy(d.Store, d.tracker(ratelimit.ModeCooldown), d.Sampler)
		},
	},
	{
		Key:         "v7",
		Name:        "sliding-window",
		Description: "masked Thompson Sampling over the most recent outcomes only",
		build: func(d Deps) Strategy {
			return NewSlidingWindowStrategy(d.Store, d.tracker(ratelimit.ModeCooldown), d.Sampler)
		},
	},
	{
		Key:         "v8",
		Name:        "blocking-bandit",
		Description: "masked Thompson Sampling with exponential backoff blocks on 429",
		build: func(d Deps) Strategy {
			return NewBlockingBanditStrategy(d.Store, d.tracker(ratelimit.ModeBlocking), d.Sampler)
		},
	},
}

func (d Deps) tracker(mode ratelimit.Mode) *ratelimit.Tracker {
	cfg := d.RateLimit
	cfg.Mode = mode

	var opts []ratelimit.Option
	if d.Clock != nil {
		opts = append(opts, ratelimit.WithClock(d.Clock))
	}

	return ratelimit.NewTracker(d.Store, cfg, opts...)
}

// Variants lists every strategy in selector order.
func Variants() []Variant {
	out := make([]Variant, len(variants))
	copy(out, variants)
	return out
}

// Lookup resolves a selector, either a key such as "v4" or a name such as
// "thompson". Matching ignores case and surrounding space.
func Lookup(selector string) (Variant, error) {
	s := strings.ToLower(strings.TrimSpace(selector))
	for _, v := range variants {
		if s == v.Key || s == v.Name {
			return v, nil
		}
	}
	return Variant{}, fmt.Errorf("%w: %q", ErrUnknownStrategy, selector)
}

// New builds the strategy named by selector.
func New(selector string, deps Deps) (Strategy, error) {
	v, err := Lookup(selector)
	if err != nil {
		return nil, err
	}
	if deps.Store == nil {
		return nil, errors.New("strategy: nil backend store")
	}
	if deps.Sampler == nil {
		deps.Sampler = NewBetaSampler(0)
	}
	return v.build(deps), nil
}
