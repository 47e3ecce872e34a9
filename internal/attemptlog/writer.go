package attemptlog

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/angeloszaimis/adaptive-router/internal/attempt"
)

const (
	DefaultBatchSize     = 64
	DefaultFlushInterval = 250 * time.Millisecond
)

// Writer is an attempt.Sink that appends outcomes to one run. Publish only
// buffers; inserts happen on Run's goroutine or on an explicit Flush.
type Writer struct {
	store     *Store
	runID     string
	batchSize int
	interval  time.Duration
	logger    *slog.Logger

	mutex   sync.Mutex
	pending []attempt.Outcome
	flushCh chan struct{}
	done    chan struct{}

	written atomic.Int64
	failed  atomic.Int64
}

func NewWriter(store *Store, runID string, batchSize int, interval time.Duration, logger *slog.Logger) *Writer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Writer{
		store:     store,
		runID:     runID,
		batchSize: batchSize,
		interval:  interval,
		logger:    logger,
		pending:   make([]attempt.Outcome, 0, batchSize),
		flushCh:   make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

func (w *Writer) Publish(o attempt.Outcome) {
	w.mutex.Lock()
	w.pending = append(w.pending, o)
	full := len(w.pending) >= w.batchSize
	w.mutex.Unlock()

	if full {
		select {
		case w.flushCh <- struct{}{}:
		default:
		}
	}
}

// Run flushes on every interval tick and whenever a batch fills up, until
// ctx is done. Outcomes published afterwards wait for a final Flush. Run must
// be called at most once.
func (w *Writer) Run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.flushAndLog()
		case <-w.flushCh:
			w.flushAndLog()
		case <-ctx.Done():
			w.flushAndLog()
			return
		}
	}
}

// Flush writes every buffered outcome. On error the batch is counted as
// failed and not retried.
func (w *Writer) Flush() error {
	w.mutex.Lock()
	batch := w.pending
	w.pending = make([]attempt.Outcome, 0, w.batchSize)
	w.mutex.Unlock()

	if len(batch) == 0 {
		return nil
	}

	if err := w.store.AppendAttempts(w.runID, batch); err != nil {
		w.failed.Add(int64(len(batch)))
		return err
	}
	w.written.Add(int64(len(batch)))
	return nil
}

func (w *Writer) flushAndLog() {
	if err := w.Flush(); err != nil {
		w.logger.Error("Failed to write attempts",
			slog.String("run_id", w.runID),
			slog.Any("err", err))
	}
}

// Written returns how many outcomes reached the database.
// Done is closed once Run has returned, after its last flush.
func (w *Writer) Done() <-chan struct{} {
	return w.done
}

func (w *Writer) Written() int64 {
	return w.written.Load()
}

// Failed returns how many outcomes were lost to database errors.
func (w *Writer) Failed() int64 {
	return w.failed.Load()
}
