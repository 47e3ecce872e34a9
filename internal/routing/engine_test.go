package routing_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/adaptive-router/internal/backend"
	"github.com/angeloszaimis/adaptive-router/internal/ratelimit"
	"github.com/angeloszaimis/adaptive-router/internal/routing"
	"github.com/angeloszaimis/adaptive-router/internal/strategy"
)

var _ = Describe("Engine", func() {
	It("builds the configured strategy over the configured population", func() {
		engine, err := routing.NewEngine(routing.Config{
			Strategy: "thompson",
			Seed:     5,
			Backends: []backend.ID{4002, 4000, 4001},
		})
		Expect(err).NotTo(HaveOccurred())

		Expect(engine.Variant().Key).To(Equal("v4"))
		Expect(engine.Strategy().Name()).To(Equal("thompson"))
		Expect(engine.Store().IDs()).To(Equal([]backend.ID{4000, 4001, 4002}))
		Expect(engine.Seed()).To(Equal(uint64(5)))
		Expect(engine.Tracker()).To(BeNil())
	})

	It("applies defaults", func() {
		engine, err := routing.NewEngine(routing.Config{Strategy: "v2", Backends: []backend.ID{4000}})
		Expect(err).NotTo(HaveOccurred())
		Expect(engine.MaxAttempts()).To(Equal(routing.DefaultMaxAttempts))
		Expect(engine.PenaltyFreeAttempts()).To(Equal(routing.DefaultPenaltyFreeAttempts))
	})

	It("fails fast on an unknown strategy", func() {
		_, err := routing.NewEngine(routing.Config{Strategy: "v9", Backends: []backend.ID{4000}})
		Expect(err).To(MatchError(strategy.ErrUnknownStrategy))
	})

	It("refuses an empty population", func() {
		_, err := routing.NewEngine(routing.Config{Strategy: "v4"})
		Expect(err).To(MatchError(routing.ErrNoBackends))
	})

	DescribeTable("Penalized",
		func(attemptNumber int, expected bool) {
			engine, err := routing.NewEngine(routing.Config{Strategy: "v4", Backends: []backend.ID{4000}, PenaltyFreeAttempts: 3})
			Expect(err).NotTo(HaveOccurred())
			Expect(engine.Penalized(attemptNumber)).To(Equal(expected))
		},
		Entry("first attempt", 0, false),
		Entry("third attempt", 2, false),
		Entry("fourth attempt", 3, true),
		Entry("tenth attempt", 9, true),
	)

	It("reports rate-limit and block state for the blocking variant", func() {
		now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		engine, err := routing.NewEngine(routing.Config{
			Strategy:  "v8",
			Backends:  []backend.ID{4000, 4001},
			RateLimit: ratelimit.Config{BlockBase: time.Second, MaxMultiplier: 4},
		}, routing.WithClock(func() time.Time { return now }))
		Expect(err).NotTo(HaveOccurred())

		engine.Strategy().ObserveRateLimited(4001, 2)
		engine.Strategy().Observe(4000, true, 4)

		states := engine.Backends()
		Expect(states).To(HaveLen(2))
		Expect(states[0].RateLimited).To(BeFalse())
		Expect(states[0].SuccessRate).To(Equal(1.0))
		Expect(states[0].AvgLatencyMs).To(Equal(4.0))
		Expect(states[1].RateLimited).To(BeTrue())
		Expect(states[1].Block).NotTo(BeNil())
		Expect(states[1].Block.BlockedUntil).To(Equal(now.Add(2 * time.Second)))
	})

	It("omits block state for cooldown variants", func() {
		engine, err := routing.NewEngine(routing.Config{Strategy: "v6", Backends: []backend.ID{4000}})
		Expect(err).NotTo(HaveOccurred())

		engine.Strategy().ObserveRateLimited(4000, 1)
		states := engine.Backends()
		Expect(states[0].RateLimited).To(BeTrue())
		Expect(states[0].Block).To(BeNil())
	})
})
