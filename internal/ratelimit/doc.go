// Package ratelimit tracks which backends are currently refusing work because
// of capacity limits (HTTP 429).
//
// A Tracker runs in one of two modes:
//
//   - Cooldown: a backend is limited while less than the cooldown period has
//     passed since its last capacity rejection.
//   - Blocking: each rejection blocks the backend for base * multiplier, where
//     the multiplier doubles on every consecutive rejection up to a cap and
//     resets to 1 on the backend's next success.
//
// Usage:
//
//	tracker := ratelimit.NewTracker(store, ratelimit.Config{
//		Mode:          ratelimit.ModeBlocking,
//		BlockBase:     5 * time.Second,
//		MaxMultiplier: 4,
//	})
//	if !tracker.IsRateLimited(id) {
//	    // send...
//	}
package ratelimit
