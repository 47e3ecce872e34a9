package routing

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/angeloszaimis/adaptive-router/internal/attempt"
	"github.com/angeloszaimis/adaptive-router/internal/backend"
)

// Sender delivers one attempt to one backend.
type Sender interface {
	Send(ctx context.Context, id backend.ID, requestID string) (attempt.Kind, float64)
}

type Result struct {
	RequestID string
	Success   bool
	Attempts  int
	Tried     []backend.ID
}

type Coordinator struct {
	engine   *Engine
	sender   Sender
	sink     attempt.Sink
	logger   *slog.Logger
	requests atomic.Int64
	clock    func() time.Time
}

func NewCoordinator(logger *slog.Logger, engine *Engine, sender Sender, sink attempt.Sink) *Coordinator {
	if sink == nil {
		sink = attempt.MultiSink(nil)
	}
	return &Coordinator{
		engine: engine,
		sender: sender,
		sink:   sink,
		logger: logger,
		clock:  time.Now,
	}
}

// HandleRequest routes one request until a backend accepts it or the attempt
// budget runs out. Every attempt updates the backend statistics and emits
// exactly one outcome; the last outcome is marked RequestComplete.
func (c *Coordinator) HandleRequest(ctx context.Context, requestID string) Result {
	seq := c.requests.Add(1)
	strat := c.engine.strategy
	population := c.engine.store.Len()
	maxAttempts := c.engine.maxAttempts

	tried := make(backend.Set, min(population, maxAttempts))
	result := Result{RequestID: requestID}

	for n := 0; n < maxAttempts && tried.Len() < population; n++ {
		// A cancelled request never reaches a backend, so there is nothing
		// to observe or report.
		if ctx.Err() != nil {
			break
		}

		id := strat.Select(tried, n)
		if tried.Has(id) {
			// Only the all-excluded fallback can return a tried backend.
			break
		}

		kind, latency := c.sender.Send(ctx, id, requestID)

		switch kind {
		case attempt.Success:
			strat.Observe(id, true, latency)
		case attempt.RateLimited:
			strat.ObserveRateLimited(id, latency)
		default:
			strat.Observe(id, false, latency)
		}

		tried.Add(id)
		result.Tried = append(result.Tried, id)
		result.Attempts = n + 1
		result.Success = kind == attempt.Success

		done := result.Success ||
			n+1 == maxAttempts ||
			tried.Len() == population ||
			ctx.Err() != nil

		c.sink.Publish(attempt.Outcome{
			RequestID:       requestID,
			RequestSeq:      seq,
			AttemptNumber:   n,
			BackendID:       id,
			Success:         result.Success,
			RateLimited:     kind == attempt.RateLimited,
			LatencyMs:       latency,
			RequestComplete: done,
			RequestSuccess:  done && result.Success,
			Penalized:       c.engine.Penalized(n),
			Strategy:        c.engine.variant.Key,
			Timestamp:       c.clock(),
		})

		c.logger.Debug("attempt finished",
			slog.String("request_id", requestID),
			slog.Int("attempt", n),
			slog.Int("backend", int(id)),
			slog.String("outcome", kind.String()),
			slog.Float64("latency_ms", latency))

		if done {
			break
		}
	}

	if result.Success {
		c.logger.Info("request succeeded",
			slog.String("request_id", requestID),
			slog.Int("attempts", result.Attempts))
	} else {
		c.logger.Warn("request exhausted",
			slog.String("request_id", requestID),
			slog.Int("attempts", result.Attempts))
	}

	return result
}

// Requests returns how many requests the coordinator has handled.
func (c *Coordinator) Requests() int64 {
	return c.requests.Load()
}
