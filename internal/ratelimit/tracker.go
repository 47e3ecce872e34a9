package ratelimit

import (
	"time"

	"github.com/angeloszaimis/adaptive-router/internal/backend"
)

type Mode int

const (
	ModeCooldown Mode = iota // limited for a fixed period after each rejection
	ModeBlocking             // limited until an exponentially backed-off deadline
)

const (
	DefaultCooldown      = time.Second
	DefaultBlockBase     = 5 * time.Second
	DefaultMaxMultiplier = 4
)

func (m Mode) String() string {
	switch m {
	case ModeCooldown:
		return "cooldown"
	case ModeBlocking:
		return "blocking"
	default:
		return "unknown"
	}
}

// Config holds the tracker parameters. Zero values fall back to the defaults.
type Config struct {
	Mode          Mode
	Cooldown      time.Duration
	BlockBase     time.Duration
	MaxMultiplier int
}

// Tracker derives rate-limit state for every backend of a Store.
type Tracker struct {
	store  *backend.Store
	cfg    Config
	clock  func() time.Time
	blocks map[backend.ID]*block
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the tracker's notion of now.
func WithClock(clock func() time.Time) Option {
	return func(t *Tracker) {
		t.clock = clock
	}
}

// NewTracker creates a tracker over the store's population.
func NewTracker(store *backend.Store, cfg Config, opts ...Option) *Tracker {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.BlockBase <= 0 {
		cfg.BlockBase = DefaultBlockBase
	}
	if cfg.MaxMultiplier < 1 {
		cfg.MaxMultiplier = DefaultMaxMultiplier
	}

	t := &Tracker{
		store:  store,
		cfg:    cfg,
		clock:  time.Now,
		blocks: make(map[backend.ID]*block, store.Len()),
	}
	for _, opt := range opts {
		opt(t)
	}

	for _, id := range store.IDs() {
		t.blocks[id] = newBlock()
	}

	return t
}

// Mode returns the tracker mode.
func (t *Tracker) Mode() Mode {
	return t.cfg.Mode
}

// IsRateLimited reports whether id should currently be kept out of selection.
func (t *Tracker) IsRateLimited(id backend.ID) bool {
	now := t.clock()

	if t.cfg.Mode == ModeBlocking {
		return t.blockOf(id).blocked(now)
	}

	snap := t.store.Snapshot(id)
	if !snap.EverRateLimited() {
		return false
	}
	return now.Sub(snap.LastRateLimitedAt) < t.cfg.Cooldown
}

// Partition splits the non-excluded population into backends that may be
// selected and backends that are currently rate limited. Both keep population order.
func (t *Tracker) Partition(excluded backend.Set) (available, limited []backend.ID) {
	for _, id := range t.store.IDs() {
		if excluded.Has(id) {
			continue
		}
		if t.IsRateLimited(id) {
			limited = append(limited, id)
		} else {
			available = append(available, id)
		}
	}
	return available, limited
}

// LeastRecentlyLimited picks, among candidates, the backend most likely to
// have recovered: the oldest last rejection in cooldown mode, the earliest
// block expiry in blocking mode. A candidate that was never limited wins
// outright. Ties go to the lowest id. It returns false for no candidates.
func (t *Tracker) LeastRecentlyLimited(candidates []backend.ID) (backend.ID, bool) {
	var (
		chosen backend.ID
		oldest time.Time
		found  bool
	)

	// A zero timestamp (never limited) orders before every real one.
	for _, id := range candidates {
		at := t.limitedAt(id)
		if !found || at.Before(oldest) || (at.Equal(oldest) && id < chosen) {
			chosen, oldest, found = id, at, true
		}
	}

	return chosen, found
}

// RecordRateLimited updates block state after a capacity rejection. In
// cooldown mode the store's rejection timestamp is all the state needed.
func (t *Tracker) RecordRateLimited(id backend.ID) BlockState {
	b := t.blockOf(id)
	if t.cfg.Mode != ModeBlocking {
		return b.state()
	}
	return b.rateLimited(t.clock(), t.cfg.BlockBase, t.cfg.MaxMultiplier)
}

// RecordSuccess resets the backoff of id.
func (t *Tracker) RecordSuccess(id backend.ID) {
	t.blockOf(id).succeeded()
}

// BlockState returns the backoff state of id.
func (t *Tracker) BlockState(id backend.ID) BlockState {
	return t.blockOf(id).state()
}

// States returns the backoff state of every backend.
func (t *Tracker) States() map[backend.ID]BlockState {
	states := make(map[backend.ID]BlockState, len(t.blocks))
	for id, b := range t.blocks {
		states[id] = b.state()
	}
	return states
}

func (t *Tracker) limitedAt(id backend.ID) time.Time {
	if t.cfg.Mode == ModeBlocking {
		return t.blockOf(id).state().BlockedUntil
	}
	return t.store.Snapshot(id).LastRateLimitedAt
}

func (t *Tracker) blockOf(id backend.ID) *block {
	b, ok := t.blocks[id]
	if !ok {
		// Same contract as the store: ids outside the population are a bug.
		t.store.Snapshot(id)
	}
	return b
}
