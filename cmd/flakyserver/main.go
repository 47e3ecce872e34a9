// Command flakyserver runs a set of unreliable downstream servers for local
// experiments with the router. Every port fails with its own probability and
// answers 429 once its per-second capacity is used up.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/valyala/fasthttp"
	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/adaptive-router/pkg/logger"
)

type options struct {
	host       string
	firstPort  int
	count      int
	minFailure float64
	maxFailure float64
	capacity   int
	maxLatency time.Duration
	seed       uint64
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := options{}

	cmd := &cobra.Command{
		Use:          "flakyserver",
		Short:        "Run flaky downstream servers on consecutive ports",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.New(opts.logLevel, false, "dev")

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return run(ctx, opts, log)
		},
	}

	cmd.Flags().StringVar(&opts.host, "host", "localhost", "listen host")
	cmd.Flags().IntVar(&opts.firstPort, "port", 4000, "first port")
	cmd.Flags().IntVar(&opts.count, "count", 10, "number of servers")
	cmd.Flags().Float64Var(&opts.minFailure, "min-failure", 0.1, "failure probability of the most reliable server")
	cmd.Flags().Float64Var(&opts.maxFailure, "max-failure", 0.9, "failure probability of the least reliable server")
	cmd.Flags().IntVar(&opts.capacity, "capacity", 20, "requests per second each server accepts before answering 429 (0 = unlimited)")
	cmd.Flags().DurationVar(&opts.maxLatency, "max-latency", 50*time.Millisecond, "upper bound of the simulated processing time")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 0, "random seed (0 = time based)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "log level")

	return cmd
}

// failureRates spreads failure probabilities evenly over the ports and
// shuffles them, so reliability does not follow port order.
func failureRates(count int, lo, hi float64, r *rand.Rand) []float64 {
	rates := make([]float64, count)
	for i := range rates {
		if count == 1 {
			rates[i] = lo
			continue
		}
		rates[i] = lo + (hi-lo)*float64(i)/float64(count-1)
	}
	r.Shuffle(len(rates), func(i, j int) { rates[i], rates[j] = rates[j], rates[i] })
	return rates
}

func run(ctx context.Context, opts options, log *slog.Logger) error {
	if opts.count <= 0 {
		return fmt.Errorf("count must be positive")
	}
	seed := opts.seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	rates := failureRates(opts.count, opts.minFailure, opts.maxFailure, r)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < opts.count; i++ {
		port := opts.firstPort + i
		fs := newFlakyServer(rates[i], opts.capacity, opts.maxLatency, seed+uint64(port), time.Now)

		ln, err := net.Listen("tcp", net.JoinHostPort(opts.host, fmt.Sprint(port)))
		if err != nil {
			cancel()
			_ = g.Wait()
			return fmt.Errorf("listen on %d: %w", port, err)
		}

		srv := &fasthttp.Server{
			Handler:               fs.handle,
			Name:                  "flakyserver",
			ReadTimeout:           5 * time.Second,
			WriteTimeout:          5 * time.Second,
			NoDefaultServerHeader: true,
		}

		log.Info("Flaky server started",
			slog.Int("port", port),
			slog.Float64("failure_rate", rates[i]),
			slog.Int("capacity", opts.capacity))

		g.Go(func() error {
			return srv.Serve(ln)
		})
		g.Go(func() error {
			<-gctx.Done()
			return srv.Shutdown()
		})
	}

	err := g.Wait()
	log.Info("Flaky servers stopped")
	return err
}

// flakyServer fails a fixed share of requests and rejects requests beyond its
// per-second capacity.
type flakyServer struct {
	failureRate float64
	capacity    int
	maxLatency  time.Duration
	clock       func() time.Time

	mutex       sync.Mutex
	rng         *rand.Rand
	windowStart time.Time
	inWindow    int
}

func newFlakyServer(failureRate float64, capacity int, maxLatency time.Duration, seed uint64, clock func() time.Time) *flakyServer {
	return &flakyServer{
		failureRate: failureRate,
		capacity:    capacity,
		maxLatency:  maxLatency,
		clock:       clock,
		rng:         rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

type verdict int

const (
	verdictOK verdict = iota
	verdictFail
	verdictRateLimited
)

func (s *flakyServer) decide() (verdict, time.Duration) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.clock()
	if now.Sub(s.windowStart) >= time.Second {
		s.windowStart = now
		s.inWindow = 0
	}

	var delay time.Duration
	if s.maxLatency > 0 {
		delay = time.Duration(s.rng.Int64N(int64(s.maxLatency)))
	}

	if s.capacity > 0 && s.inWindow >= s.capacity {
		return verdictRateLimited, 0
	}
	s.inWindow++

	if s.rng.Float64() < s.failureRate {
		return verdictFail, delay
	}
	return verdictOK, delay
}

func (s *flakyServer) handle(ctx *fasthttp.RequestCtx) {
	if !ctx.IsPost() {
		ctx.SetStatusCode(fasthttp.StatusMethodNotAllowed)
		return
	}

	v, delay := s.decide()
	if delay > 0 {
		time.Sleep(delay)
	}

	switch v {
	case verdictRateLimited:
		ctx.SetStatusCode(fasthttp.StatusTooManyRequests)
		ctx.SetBodyString("rate limited")
	case verdictFail:
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetBodyString("failure")
	default:
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	}
}
