package strategy_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/adaptive-router/internal/backend"
	"github.com/angeloszaimis/adaptive-router/internal/ratelimit"
	"github.com/angeloszaimis/adaptive-router/internal/strategy"
)

var _ = Describe("Factory", func() {
	var deps strategy.Deps

	BeforeEach(func() {
		deps = strategy.Deps{
			Store:   backend.NewStore(ports, 30),
			Sampler: strategy.NewBetaSampler(1),
		}
	})

	DescribeTable("builds every variant by key and by name",
		func(key, name string) {
			byKey, err := strategy.New(key, deps)
			Expect(err).NotTo(HaveOccurred())
			Expect(byKey.Name()).To(Equal(name))

			byName, err := strategy.New(name, deps)
			Expect(err).NotTo(HaveOccurred())
			Expect(byName.Name()).To(Equal(name))
		},
		Entry("v1", "v1", "explore-exploit"),
		Entry("v2", "v2", "ucb"),
		Entry("v3", "v3", "ucb-modified"),
		Entry("v4", "v4", "thompson"),
		Entry("v5", "v5", "thompson-modified"),
		Entry("v6", "v6", "thompson-masked"),
		Entry("v7", "v7", "sliding-window"),
		Entry("v8", "v8", "blocking-bandit"),
	)

	DescribeTable("gives masking variants a tracker in the right mode",
		func(key string, mode ratelimit.Mode) {
			s, err := strategy.New(key, deps)
			Expect(err).NotTo(HaveOccurred())

			masking, ok := s.(strategy.Masking)
			Expect(ok).To(BeTrue())
			Expect(masking.Tracker().Mode()).To(Equal(mode))
		},
		Entry("v6", "v6", ratelimit.ModeCooldown),
		Entry("v7", "v7", ratelimit.ModeCooldown),
		Entry("v8", "v8", ratelimit.ModeBlocking),
	)

	It("accepts selectors in any case with surrounding space", func() {
		v, err := strategy.Lookup("  V4 ")
		Expect(err).NotTo(HaveOccurred())
		Expect(v.Name).To(Equal("thompson"))
	})

	It("rejects an unknown selector", func() {
		_, err := strategy.New("round-robin", deps)
		Expect(err).To(MatchError(strategy.ErrUnknownStrategy))
	})

	It("rejects a missing store", func() {
		_, err := strategy.New("v4", strategy.Deps{})
		Expect(err).To(HaveOccurred())
	})

	It("lists the variants in selector order", func() {
		variants := strategy.Variants()
		Expect(variants).To(HaveLen(8))
		Expect(variants[0].Key).To(Equal("v1"))
		Expect(variants[7].Key).To(Equal("v8"))
		for _, v := range variants {
			Expect(v.Description).NotTo(BeEmpty())
		}
	})
})
