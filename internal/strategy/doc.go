// Package strategy defines the selection strategy interface and implements
// the adaptive multi-armed bandit policies that choose a backend for each attempt:
//
//   - v1 Explore-then-exploit: highest Beta variance during discovery, then best success rate
//   - v2 UCB1: success rate plus an uncertainty bonus, c = sqrt(2)
//   - v3 UCB modified: c = 3.0 inside the penalty-free window, 1.0 after it
//   - v4 Thompson Sampling: max draw from each backend's Beta posterior
//   - v5 Thompson modified: posterior widened for early attempts
//   - v6 Thompson masked: Thompson Sampling over backends not in rate-limit cooldown
//   - v7 Sliding window: v6 with a posterior built from the last outcomes only
//   - v8 Blocking bandit: v6 with exponential backoff blocks on capacity rejections
//
// Every strategy reads and writes backend statistics through a shared
// backend.Store; a strategy never keeps its own copy of the counters.
package strategy
