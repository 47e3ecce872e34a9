package main

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fastjson"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

const requestIDAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

type harnessOptions struct {
	url         string
	requests    int
	rps         float64
	concurrency int
	timeout     time.Duration
}

type harnessSummary struct {
	Requests    int
	Succeeded   int
	Failed      int
	Errors      int
	Elapsed     time.Duration
	LatencyP50  float64
	LatencyP99  float64
	LatencyMean float64
}

func (s harnessSummary) SuccessRate() float64 {
	if s.Requests == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.Requests)
}

func newHarnessCmd() *cobra.Command {
	opts := harnessOptions{}

	cmd := &cobra.Command{
		Use:   "harness",
		Short: "Send requests with random ids to a running router and report the outcome",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			summary, err := runHarness(ctx, opts)
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), summary)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.url, "url", "http://localhost:8000/", "router URL")
	cmd.Flags().IntVarP(&opts.requests, "requests", "n", 1000, "number of requests to send")
	cmd.Flags().Float64Var(&opts.rps, "rps", 10, "requests per second")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 16, "maximum requests in flight")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "per-request timeout")

	return cmd
}

func newRequestID(r *rand.Rand) string {
	b := make([]byte, 24)
	for i := range b {
		b[i] = requestIDAlphabet[r.IntN(len(requestIDAlphabet))]
	}
	return string(b)
}

// runHarness paces requests at opts.rps. It stops early, without error, when
// ctx is cancelled.
func runHarness(ctx context.Context, opts harnessOptions) (harnessSummary, error) {
	if opts.requests <= 0 {
		return harnessSummary{}, fmt.Errorf("requests must be positive")
	}
	if opts.rps <= 0 {
		return harnessSummary{}, fmt.Errorf("rps must be positive")
	}
	if opts.concurrency <= 0 {
		opts.concurrency = 1
	}

	client := &fasthttp.Client{
		MaxConnsPerHost: opts.concurrency,
		ReadTimeout:     opts.timeout,
		WriteTimeout:    opts.timeout,
	}
	defer client.CloseIdleConnections()

	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	ticker := time.NewTicker(time.Duration(float64(time.Second) / opts.rps))
	defer ticker.Stop()

	var (
		mutex     sync.Mutex
		summary   harnessSummary
		latencies = make([]float64, 0, opts.requests)
	)

	g := errgroup.Group{}
	g.SetLimit(opts.concurrency)

	start := time.Now()
loop:
	for i := 0; i < opts.requests; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				break loop
			case <-ticker.C:
			}
		}

		id := newRequestID(rng)
		g.Go(func() error {
			ok, sent, latency := sendOne(client, opts.url, id, opts.timeout)

			mutex.Lock()
			defer mutex.Unlock()
			summary.Requests++
			latencies = append(latencies, latency)
			switch {
			case ok:
				summary.Succeeded++
			case sent:
				summary.Failed++
			default:
				summary.Errors++
			}
			return nil
		})
	}
	_ = g.Wait()
	summary.Elapsed = time.Since(start)

	if len(latencies) > 0 {
		slices.Sort(latencies)
		summary.LatencyP50 = stat.Quantile(0.5, stat.Empirical, latencies, nil)
		summary.LatencyP99 = stat.Quantile(0.99, stat.Empirical, latencies, nil)
		summary.LatencyMean = stat.Mean(latencies, nil)
	}

	return summary, nil
}

// sendOne reports whether the router accepted the request, whether a response
// arrived at all, and the round trip in milliseconds.
func sendOne(client *fasthttp.Client, url, id string, timeout time.Duration) (ok, sent bool, latencyMs float64) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBodyString(`{"id":"` + id + `"}`)

	start := time.Now()
	err := client.DoTimeout(req, resp, timeout)
	latencyMs = float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		return false, false, latencyMs
	}

	if resp.StatusCode() != fasthttp.StatusOK {
		return false, true, latencyMs
	}
	v, err := fastjson.ParseBytes(resp.Body())
	if err != nil {
		return false, true, latencyMs
	}
	return string(v.GetStringBytes("status")) == "ok", true, latencyMs
}

func printSummary(w io.Writer, s harnessSummary) {
	fmt.Fprintf(w, "requests:     %d\n", s.Requests)
	fmt.Fprintf(w, "succeeded:    %d\n", s.Succeeded)
	fmt.Fprintf(w, "failed:       %d\n", s.Failed)
	fmt.Fprintf(w, "errors:       %d\n", s.Errors)
	fmt.Fprintf(w, "success rate: %.2f%%\n", s.SuccessRate()*100)
	fmt.Fprintf(w, "latency:      mean %.1fms  p50 %.1fms  p99 %.1fms\n", s.LatencyMean, s.LatencyP50, s.LatencyP99)
	fmt.Fprintf(w, "elapsed:      %s\n", s.Elapsed.Round(time.Millisecond))
}
