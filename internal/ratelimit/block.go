package ratelimit

import (
	"sync"
	"time"
)

// BlockState is the backoff state of one backend in blocking mode.
type BlockState struct {
	ConsecutiveRateLimits int       `json:"consecutive_rate_limits"`
	BackoffMultiplier     int       `json:"backoff_multiplier"`
	BlockedUntil          time.Time `json:"blocked_until"`
}

type block struct {
	mutex        sync.Mutex
	consecutive  int
	multiplier   int
	blockedUntil time.Time
}

func newBlock() *block {
	return &block{multiplier: 1}
}

// rateLimited doubles the multiplier (capped at maxMultiplier) and blocks the
// backend for base * multiplier from now.
func (b *block) rateLimited(now time.Time, base time.Duration, maxMultiplier int) BlockState {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.consecutive++
	b.multiplier = min(b.multiplier*2, maxMultiplier)
	b.blockedUntil = now.Add(base * time.Duration(b.multiplier))

	return b.stateLocked()
}

func (b *block) succeeded() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.consecutive = 0
	b.multiplier = 1
}

func (b *block) blocked(now time.Time) bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return now.Before(b.blockedUntil)
}

func (b *block) state() BlockState {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.stateLocked()
}

func (b *block) stateLocked() BlockState {
	return BlockState{
		ConsecutiveRateLimits: b.consecutive,
		BackoffMultiplier:     b.multiplier,
		BlockedUntil:          b.blockedUntil,
	}
}
