package backend_test

import (
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/adaptive-router/internal/backend"
)

var _ = Describe("Store", func() {
	var (
		store *backend.Store
		now   time.Time
	)

	BeforeEach(func() {
		now = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
		store = backend.NewStore(
			[]backend.ID{4002, 4000, 4001, 4000},
			30,
			backend.WithClock(func() time.Time { return now }),
		)
	})

	Describe("NewStore", func() {
		It("should sort and deduplicate the population", func() {
			Expect(store.IDs()).To(Equal([]backend.ID{4000, 4001, 4002}))
			Expect(store.Len()).To(Equal(3))
		})

		It("should start every backend with a uniform prior", func() {
			for _, snap := range store.Snapshots() {
				Expect(snap.Alpha).To(Equal(1.0))
				Expect(snap.Beta).To(Equal(1.0))
				Expect(snap.NumRequests).To(BeZero())
				Expect(snap.EverRateLimited()).To(BeFalse())
			}
		})

		It("should report membership", func() {
			Expect(store.Contains(4001)).To(BeTrue())
			Expect(store.Contains(9999)).To(BeFalse())
		})
	})

	Describe("RecordOutcome", func() {
		It("should update counters and the posterior on success", func() {
			store.RecordOutcome(4000, true, 12.5)

			snap := store.Snapshot(4000)
			Expect(snap.NumRequests).To(Equal(int64(1)))
			Expect(snap.NumSuccess).To(Equal(int64(1)))
			Expect(snap.NumFailure).To(BeZero())
			Expect(snap.TotalLatencyMs).To(Equal(12.5))
			Expect(snap.Alpha).To(Equal(2.0))
			Expect(snap.Beta).To(Equal(1.0))
		})

		It("should update counters and the posterior on failure", func() {
			store.RecordOutcome(4000, false, 3)

			snap := store.Snapshot(4000)
			Expect(snap.NumFailure).To(Equal(int64(1)))
			Expect(snap.Alpha).To(Equal(1.0))
			Expect(snap.Beta).To(Equal(2.0))
			Expect(snap.WindowFailures).To(Equal(1))
		})

		It("should count the running total across backends", func() {
			store.RecordOutcome(4000, true, 1)
			store.RecordOutcome(4001, false, 1)
			store.RecordRateLimited(4002, 1)
			Expect(store.TotalRequests()).To(Equal(int64(3)))
		})

		It("should not lose updates under concurrency", func() {
			var wg sync.WaitGroup
			for i := 0; i < 200; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					store.RecordOutcome(4001, i%2 == 0, 1)
				}(i)
			}
			wg.Wait()

			snap := store.Snapshot(4001)
			Expect(snap.NumRequests).To(Equal(int64(200)))
			Expect(snap.NumSuccess).To(Equal(int64(100)))
			Expect(snap.NumFailure).To(Equal(int64(100)))
			Expect(snap.Alpha).To(Equal(101.0))
			Expect(snap.Beta).To(Equal(101.0))
		})
	})

	Describe("RecordRateLimited", func() {
		It("should never touch the posterior or success/failure counters", func() {
			store.RecordOutcome(4000, true, 1)
			before := store.Snapshot(4000)

			at := store.RecordRateLimited(4000, 7)

			after := store.Snapshot(4000)
			Expect(at).To(Equal(now))
			Expect(after.Alpha).To(Equal(before.Alpha))
			Expect(after.Beta).To(Equal(before.Beta))
			Expect(after.NumSuccess).To(Equal(before.NumSuccess))
			Expect(after.NumFailure).To(Equal(before.NumFailure))
			Expect(after.NumRequests).To(Equal(before.NumRequests + 1))
			Expect(after.NumRateLimited).To(Equal(int64(1)))
			Expect(after.TotalLatencyMs).To(Equal(8.0))
			Expect(after.LastRateLimitedAt).To(Equal(now))
		})

		It("should not enter the outcome window", func() {
			store.RecordRateLimited(4000, 1)
			snap := store.Snapshot(4000)
			Expect(snap.WindowSuccesses + snap.WindowFailures).To(BeZero())
		})
	})

	Describe("derived values", func() {
		It("should report a 1/12 variance for Beta(1,1)", func() {
			Expect(store.Snapshot(4000).BetaVariance()).To(BeNumerically("~", 1.0/12, 1e-15))
		})

		It("should give an untried backend the largest variance in the population", func() {
			store.RecordOutcome(4001, true, 1)
			store.RecordOutcome(4002, false, 1)
			store.RecordOutcome(4002, true, 1)

			untried := store.Snapshot(4000).BetaVariance()
			Expect(store.Snapshot(4001).BetaVariance()).To(BeNumerically("<", untried))
			Expect(store.Snapshot(4002).BetaVariance()).To(BeNumerically("<", untried))
		})

		It("should match the posterior after nine successes and one failure", func() {
			for i := 0; i < 9; i++ {
				store.RecordOutcome(4000, true, 1)
			}
			store.RecordOutcome(4000, false, 1)

			snap := store.Snapshot(4000)
			Expect(snap.Alpha).To(Equal(10.0))
			Expect(snap.Beta).To(Equal(2.0))
			Expect(snap.BetaVariance()).To(BeNumerically("~", 20.0/1872.0, 1e-12))
			Expect(snap.SuccessRate()).To(BeNumerically("~", 0.9, 1e-12))
		})

		It("should report a zero success rate before any request", func() {
			Expect(store.Snapshot(4002).SuccessRate()).To(BeZero())
			Expect(store.Snapshot(4002).AvgLatencyMs()).To(BeZero())
		})
	})

	Describe("unknown ids", func() {
		It("should panic", func() {
			Expect(func() { store.RecordOutcome(1, true, 1) }).To(Panic())
			Expect(func() { store.Snapshot(1) }).To(Panic())
		})
	})
})
