package strategy_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/adaptive-router/internal/backend"
	"github.com/angeloszaimis/adaptive-router/internal/ratelimit"
	"github.com/angeloszaimis/adaptive-router/internal/strategy"
)

var _ = Describe("Masked strategies", func() {
	var (
		clock *fakeClock
		store *backend.Store
	)

	newTracker := func(mode ratelimit.Mode) *ratelimit.Tracker {
		return ratelimit.NewTracker(store, ratelimit.Config{
			Mode:          mode,
			Cooldown:      time.Second,
			BlockBase:     5 * time.Second,
			MaxMultiplier: 4,
		}, ratelimit.WithClock(clock.Now))
	}

	BeforeEach(func() {
		clock = newFakeClock()
		store = backend.NewStore(ports, 30, backend.WithClock(clock.Now))
	})

	Describe("thompson-masked", func() {
		var strat strategy.Strategy

		BeforeEach(func() {
			strat = strategy.NewThompsonMaskedStrategy(store, newTracker(ratelimit.ModeCooldown), strategy.NewBetaSampler(11))
			record(store, 4000, true, 90)
			record(store, 4000, false, 10)
			record(store, 4001, true, 50)
			record(store, 4001, false, 50)
			record(store, 4002, true, 10)
			record(store, 4002, false, 90)
		})

		It("keeps a rate-limited backend out of selection during its cooldown", func() {
			strat.ObserveRateLimited(4000, 2)

			for i := 0; i < 50; i++ {
				Expect(strat.Select(nil, 0)).NotTo(Equal(backend.ID(4000)))
			}

			clock.Advance(time.Second)
			counts := countSelections(50, func() backend.ID { return strat.Select(nil, 0) })
			Expect(counts[4000]).To(BeNumerically(">", 45))
		})

		It("does not count a rate limit as failure evidence", func() {
			before := store.Snapshot(4000)
			strat.ObserveRateLimited(4000, 2)
			after := store.Snapshot(4000)

			Expect(after.Alpha).To(Equal(before.Alpha))
			Expect(after.Beta).To(Equal(before.Beta))
			Expect(after.NumRateLimited).To(Equal(before.NumRateLimited + 1))
		})

		It("falls back to the least recently limited backend when all candidates are limited", func() {
			strat.ObserveRateLimited(4002, 1)
			clock.Advance(100 * time.Millisecond)
			strat.ObserveRateLimited(4000, 1)
			clock.Advance(100 * time.Millisecond)
			strat.ObserveRateLimited(4001, 1)

			Expect(strat.Select(nil, 0)).To(Equal(backend.ID(4002)))
			Expect(strat.Select(backend.NewSet(4002), 1)).To(Equal(backend.ID(4000)))
		})

		It("falls back to the best known backend when everything is excluded", func() {
			Expect(strat.Select(backend.NewSet(ports...), 0)).To(Equal(backend.ID(4000)))
		})

		It("exposes its tracker", func() {
			masking, ok := strat.(strategy.Masking)
			Expect(ok).To(BeTrue())
			Expect(masking.Tracker().Mode()).To(Equal(ratelimit.ModeCooldown))
		})
	})

	Describe("sliding-window", func() {
		It("judges backends on recent outcomes only", func() {
			strat := strategy.NewSlidingWindowStrategy(store, newTracker(ratelimit.ModeCooldown), strategy.NewBetaSampler(5))
			masked := strategy.NewThompsonMaskedStrategy(store, newTracker(ratelimit.ModeCooldown), strategy.NewBetaSampler(5))

			// 4000 recovered recently; 4001 degraded recently.
			record(store, 4000, false, 100)
			record(store, 4000, true, 30)
			record(store, 4001, true, 60)
			record(store, 4001, false, 30)
			record(store, 4002, false, 60)

			windowCounts := countSelections(100, func() backend.ID { return strat.Select(nil, 0) })
			allTimeCounts := countSelections(100, func() backend.ID { return masked.Select(nil, 0) })

			Expect(windowCounts[4000]).To(BeNumerically(">", 95))
			Expect(allTimeCounts[4001]).To(BeNumerically(">", 95))
		})
	})

	Describe("blocking-bandit", func() {
		var (
			tracker *ratelimit.Tracker
			strat   strategy.Strategy
		)

		BeforeEach(func() {
			tracker = newTracker(ratelimit.ModeBlocking)
			strat = strategy.NewBlockingBanditStrategy(store, tracker, strategy.NewBetaSampler(13))
		})

		It("blocks for twice then four times the base duration", func() {
			start := clock.Now()

			strat.ObserveRateLimited(4001, 1)
			Expect(tracker.BlockState(4001).BlockedUntil).To(Equal(start.Add(10 * time.Second)))

			strat.ObserveRateLimited(4001, 1)
			Expect(tracker.BlockState(4001).BlockedUntil).To(Equal(start.Add(20 * time.Second)))

			strat.ObserveRateLimited(4001, 1)
			Expect(tracker.BlockState(4001).BlockedUntil).To(Equal(start.Add(20 * time.Second)))
		})

		It("resets the backoff on the next success", func() {
			strat.ObserveRateLimited(4001, 1)
			strat.ObserveRateLimited(4001, 1)
			strat.Observe(4001, true, 3)

			Expect(tracker.BlockState(4001).BackoffMultiplier).To(Equal(1))
			Expect(tracker.BlockState(4001).ConsecutiveRateLimits).To(BeZero())
		})

		It("keeps the backoff through an ordinary failure", func() {
			strat.ObserveRateLimited(4001, 1)
			strat.Observe(4001, false, 3)
			Expect(tracker.BlockState(4001).BackoffMultiplier).To(Equal(2))
		})

		It("never selects a blocked backend while others are free", func() {
			strat.ObserveRateLimited(4000, 1)
			strat.ObserveRateLimited(4002, 1)
			for i := 0; i < 50; i++ {
				Expect(strat.Select(nil, 0)).To(Equal(backend.ID(4001)))
			}
		})

		It("picks the block that expires soonest when all are blocked", func() {
			strat.ObserveRateLimited(4000, 1)
			strat.ObserveRateLimited(4000, 1)
			strat.ObserveRateLimited(4001, 1)
			clock.Advance(time.Second)
			strat.ObserveRateLimited(4002, 1)

			Expect(strat.Select(nil, 0)).To(Equal(backend.ID(4001)))
		})
	})
})
