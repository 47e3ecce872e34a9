package metrics_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/adaptive-router/internal/attempt"
	"github.com/angeloszaimis/adaptive-router/internal/backend"
	"github.com/angeloszaimis/adaptive-router/internal/metrics"
	"github.com/angeloszaimis/adaptive-router/internal/routing"
)

var _ = Describe("Collector", func() {
	var (
		collector *metrics.Collector
		log       *slog.Logger
		ctx       context.Context
		cancel    context.CancelFunc
	)

	BeforeEach(func() {
		log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
		ctx, cancel = context.WithCancel(context.Background())
		collector = metrics.NewCollector(100, 1000, log)
	})

	AfterEach(func() {
		cancel()
	})

	It("aggregates published outcomes", func() {
		collector.Start(ctx)

		collector.Publish(attempt.Outcome{BackendID: 4000, Success: true, RequestComplete: true, RequestSuccess: true})

		Eventually(func() int64 {
			return collector.Snapshot("v4").TotalSuccess
		}).Should(Equal(int64(1)))
	})

	It("drains buffered outcomes on shutdown", func() {
		collector.Start(ctx)

		for i := 0; i < 50; i++ {
			collector.Publish(attempt.Outcome{BackendID: 4001, LatencyMs: 1})
		}
		cancel()
		Eventually(collector.Done()).Should(BeClosed())

		Expect(collector.Snapshot("v4").TotalAttempts).To(Equal(int64(50)))
	})

	It("applies outcomes inline after shutdown", func() {
		collector.Start(ctx)
		cancel()
		Eventually(collector.Done()).Should(BeClosed())

		collector.Publish(attempt.Outcome{BackendID: 4000, RequestComplete: true})
		Expect(collector.Snapshot("v4").TotalRequests).To(Equal(int64(1)))
	})

	It("never drops outcomes when the buffer is full", func() {
		small := metrics.NewCollector(1, 1000, log)
		small.Start(ctx)

		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				for i := 0; i < 250; i++ {
					small.Publish(attempt.Outcome{BackendID: 4000})
				}
			}()
		}

		wg.Wait()
		cancel()
		Eventually(small.Done()).Should(BeClosed())
		Expect(small.Snapshot("v4").TotalAttempts).To(Equal(int64(2000)))
	})

	It("feeds the exporter", func() {
		exporter := metrics.NewExporter("v4", nil)
		collector.WithExporter(exporter).Start(ctx)

		collector.Publish(attempt.Outcome{BackendID: 4000, Success: true, RequestComplete: true, RequestSuccess: true})
		cancel()
		Eventually(collector.Done()).Should(BeClosed())

		families, err := exporter.Registry().Gather()
		Expect(err).NotTo(HaveOccurred())
		Expect(familyNames(families)).To(ContainElement("router_requests_total"))
	})

	Describe("Handler", func() {
		It("serves the snapshot with live backend state", func() {
			collector.Start(ctx)
			collector.Publish(attempt.Outcome{BackendID: 4000, Success: true, RequestComplete: true, RequestSuccess: true})
			Eventually(func() int64 { return collector.Snapshot("v4").TotalRequests }).Should(Equal(int64(1)))

			source := func() []routing.BackendState {
				return []routing.BackendState{{Snapshot: backend.Snapshot{ID: 4000, Alpha: 2, Beta: 1}}}
			}

			rec := httptest.NewRecorder()
			collector.Handler("v4", source).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/snapshot", nil))

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get("Content-Type")).To(Equal("application/json"))

			var body map[string]any
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body["strategy"]).To(Equal("v4"))
			Expect(body["total_success"]).To(BeNumerically("==", 1))
			Expect(body["per_server"]).To(HaveKey("4000"))
			Expect(body["backends"]).To(HaveLen(1))
		})
	})
})
