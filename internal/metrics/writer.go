package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const DefaultSnapshotInterval = 500 * time.Millisecond

// SnapshotWriter persists snapshots to a JSON file.
type SnapshotWriter struct {
	path     string
	interval time.Duration
	snapshot func() Snapshot
	logger   *slog.Logger
}

func NewSnapshotWriter(path string, interval time.Duration, snapshot func() Snapshot, logger *slog.Logger) *SnapshotWriter {
	if interval <= 0 {
		interval = DefaultSnapshotInterval
	}
	return &SnapshotWriter{
		path:     path,
		interval: interval,
		snapshot: snapshot,
		logger:   logger,
	}
}

// Run writes a snapshot every interval until ctx is done. It does not write a
// final snapshot; call WriteFile after the collector has drained.
func (w *SnapshotWriter) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.WriteFile(); err != nil {
				w.logger.Warn("Failed to write metrics snapshot",
					slog.String("path", w.path),
					slog.Any("err", err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// WriteFile replaces the snapshot file atomically.
func (w *SnapshotWriter) WriteFile() error {
	data, err := json.MarshalIndent(w.snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".metrics-*.json")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}

	if err := os.Rename(tmp.Name(), w.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}

	return nil
}
