package attemptlog_test

import (
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/adaptive-router/internal/attempt"
	"github.com/angeloszaimis/adaptive-router/internal/attemptlog"
	"github.com/angeloszaimis/adaptive-router/internal/backend"
)

var start = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func openStore() *attemptlog.Store {
	store, err := attemptlog.Open(filepath.Join(GinkgoT().TempDir(), "runs", "attempts.db"))
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(store.Close)
	return store
}

func outcomesOf(requestID string, seq int64, backends []backend.ID, success bool) []attempt.Outcome {
	out := make([]attempt.Outcome, 0, len(backends))
	for i, b := range backends {
		last := i == len(backends)-1
		out = append(out, attempt.Outcome{
			RequestID:       requestID,
			RequestSeq:      seq,
			AttemptNumber:   i,
			BackendID:       b,
			Success:         last && success,
			LatencyMs:       1.5,
			RequestComplete: last,
			RequestSuccess:  last && success,
			Penalized:       i >= 3,
			Strategy:        "v4",
			Timestamp:       start.Add(time.Duration(i) * time.Millisecond),
		})
	}
	return out
}

var _ = Describe("Store", func() {
	var store *attemptlog.Store

	BeforeEach(func() {
		store = openStore()
	})

	Describe("StartRun", func() {
		It("names the run after its start time and strategy", func() {
			run, err := store.StartRun("v4", "session-a", start)
			Expect(err).NotTo(HaveOccurred())
			Expect(run.ID).To(Equal("2026-03-04_05-06-07_v4"))
			Expect(run.SessionID).To(Equal("session-a"))
			Expect(run.Current).To(BeTrue())
		})

		It("generates a session id when none is given", func() {
			run, err := store.StartRun("v4", "", start)
			Expect(err).NotTo(HaveOccurred())
			Expect(run.SessionID).To(HaveLen(36))
		})

		It("keeps run ids unique within one second", func() {
			first, err := store.StartRun("v4", "s", start)
			Expect(err).NotTo(HaveOccurred())
			second, err := store.StartRun("v4", "s", start)
			Expect(err).NotTo(HaveOccurred())

			Expect(second.ID).NotTo(Equal(first.ID))
			Expect(second.ID).To(HavePrefix(first.ID + "_"))
		})
	})

	It("stores attempts with 1-based attempt numbers and computes run totals", func() {
		run, err := store.StartRun("v4", "s", start)
		Expect(err).NotTo(HaveOccurred())

		Expect(store.AppendAttempts(run.ID, outcomesOf("req-a", 1, []backend.ID{4000}, true))).To(Succeed())
		Expect(store.AppendAttempts(run.ID, outcomesOf("req-b", 2, []backend.ID{4001, 4002, 4003, 4004}, false))).To(Succeed())

		records, err := store.Attempts(run.ID, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(records).To(HaveLen(5))

		Expect(records[0].AttemptNumber).To(Equal(1))
		Expect(records[0].RequestSuccess).To(BeTrue())
		Expect(records[0].Timestamp).To(BeTemporally("==", start))

		last := records[4]
		Expect(last.RequestNumber).To(Equal(int64(2)))
		Expect(last.AttemptNumber).To(Equal(4))
		Expect(last.BackendID).To(Equal(backend.ID(4004)))
		Expect(last.Penalized).To(BeTrue())
		Expect(last.RequestComplete).To(BeTrue())
		Expect(last.RequestSuccess).To(BeFalse())

		got, err := store.Run(run.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.TotalRequests).To(Equal(int64(2)))
		Expect(got.TotalAttempts).To(Equal(int64(5)))
	})

	It("limits the number of attempts returned", func() {
		run, err := store.StartRun("v4", "s", start)
		Expect(err).NotTo(HaveOccurred())
		Expect(store.AppendAttempts(run.ID, outcomesOf("r", 1, []backend.ID{4000, 4001, 4002}, true))).To(Succeed())

		records, err := store.Attempts(run.ID, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(records).To(HaveLen(2))
	})

	It("lists runs newest first and marks the current one", func() {
		_, err := store.StartRun("v2", "s1", start)
		Expect(err).NotTo(HaveOccurred())
		current, err := store.StartRun("v4", "s1", start.Add(time.Minute))
		Expect(err).NotTo(HaveOccurred())

		runs, err := store.ListRuns()
		Expect(err).NotTo(HaveOccurred())
		Expect(runs).To(HaveLen(2))
		Expect(runs[0].ID).To(Equal(current.ID))
		Expect(runs[0].Current).To(BeTrue())
		Expect(runs[1].Current).To(BeFalse())
		Expect(runs[1].TotalAttempts).To(BeZero())

		got, err := store.CurrentRun()
		Expect(err).NotTo(HaveOccurred())
		Expect(got.ID).To(Equal(current.ID))
	})

	It("records the end of a run", func() {
		run, err := store.StartRun("v4", "s", start)
		Expect(err).NotTo(HaveOccurred())
		Expect(store.EndRun(run.ID, start.Add(time.Hour))).To(Succeed())

		got, err := store.Run(run.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.EndedAt).NotTo(BeNil())
		Expect(*got.EndedAt).To(BeTemporally("==", start.Add(time.Hour)))
	})

	It("groups runs into sessions", func() {
		_, err := store.StartRun("v2", "s1", start)
		Expect(err).NotTo(HaveOccurred())
		_, err = store.StartRun("v4", "s1", start.Add(time.Minute))
		Expect(err).NotTo(HaveOccurred())
		_, err = store.StartRun("v4", "s2", start.Add(2*time.Minute))
		Expect(err).NotTo(HaveOccurred())

		sessions, err := store.Sessions()
		Expect(err).NotTo(HaveOccurred())
		Expect(sessions).To(HaveLen(2))
		Expect(sessions[0].ID).To(Equal("s2"))
		Expect(sessions[1].Runs).To(HaveLen(2))
		Expect(sessions[1].Strategies).To(ConsistOf("v2", "v4"))
		Expect(sessions[1].StartedAt).To(BeTemporally("==", start))
	})

	It("reports unknown runs", func() {
		_, err := store.Run("nope")
		Expect(err).To(MatchError(attemptlog.ErrRunNotFound))

		_, err = store.Attempts("nope", 0)
		Expect(err).To(MatchError(attemptlog.ErrRunNotFound))

		Expect(store.EndRun("nope", start)).To(MatchError(attemptlog.ErrRunNotFound))
	})

	It("has no current run before one is started", func() {
		_, err := store.CurrentRun()
		Expect(err).To(MatchError(attemptlog.ErrRunNotFound))
	})
})
