package metrics

import (
	"context"
	"log/slog"
	"sync"

	"github.com/angeloszaimis/adaptive-router/internal/attempt"
)

// Collector moves outcomes off the request path onto a single consumer.
type Collector struct {
	eventCh    chan attempt.Outcome
	aggregator *Aggregator
	exporter   *Exporter
	logger     *slog.Logger

	mutex   sync.RWMutex
	stopped bool
	done    chan struct{}
}

func NewCollector(bufferSize, latencyWindow int, logger *slog.Logger) *Collector {
	return &Collector{
		eventCh:    make(chan attempt.Outcome, bufferSize),
		aggregator: NewAggregator(latencyWindow),
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// WithExporter mirrors every outcome into e. Call before Start.
func (c *Collector) WithExporter(e *Exporter) *Collector {
	c.exporter = e
	return c
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

// Done is closed once the collector has stopped and drained its buffer.
func (c *Collector) Done() <-chan struct{} {
	return c.done
}

// Publish hands an outcome to the collector. It blocks while the buffer is
// full and applies the outcome inline once the collector has stopped.
func (c *Collector) Publish(o attempt.Outcome) {
	c.mutex.RLock()
	if c.stopped {
		c.mutex.RUnlock()
		c.process(o)
		return
	}
	c.eventCh <- o
	c.mutex.RUnlock()
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")
	defer close(c.done)

	for {
		select {
		case o := <-c.eventCh:
			c.process(o)
		case <-ctx.Done():
			c.stop()
			c.drain()
			return
		}
	}
}

// stop switches publishers to inline processing. Publishers hold the read lock
// while sending, so the loop keeps consuming until the write lock is ours.
func (c *Collector) stop() {
	locked := make(chan struct{})
	go func() {
		c.mutex.Lock()
		c.stopped = true
		c.mutex.Unlock()
		close(locked)
	}()

	for {
		select {
		case o := <-c.eventCh:
			c.process(o)
		case <-locked:
			return
		}
	}
}

func (c *Collector) drain() {
	for {
		select {
		case o := <-c.eventCh:
			c.process(o)
		default:
			return
		}
	}
}

func (c *Collector) process(o attempt.Outcome) {
	c.aggregator.Record(o)
	if c.exporter != nil {
		c.exporter.Observe(o)
	}
}

func (c *Collector) Snapshot(strategy string) Snapshot {
	return c.aggregator.Snapshot(strategy)
}
