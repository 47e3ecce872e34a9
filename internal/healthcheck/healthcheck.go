package healthcheck

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultInterval    = 250 * time.Millisecond
	defaultDialTimeout = time.Second
)

// Reachable reports whether a TCP connection to addr can be opened.
func Reachable(ctx context.Context, addr string) bool {
	dialer := net.Dialer{Timeout: defaultDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// WaitForBackends polls every address concurrently until all of them accept a
// TCP connection. It returns the context error, naming the first address that
// was still down, if ctx ends first.
func WaitForBackends(ctx context.Context, addrs []string, interval time.Duration, logger *slog.Logger) error {
	if interval <= 0 {
		interval = DefaultInterval
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, addr := range addrs {
		g.Go(func() error {
			return waitFor(gctx, addr, interval, logger)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("All backends reachable", slog.Int("count", len(addrs)))
	return nil
}

func waitFor(ctx context.Context, addr string, interval time.Duration, logger *slog.Logger) error {
	if Reachable(ctx, addr) {
		logger.Debug("Backend reachable", slog.String("server", addr))
		return nil
	}
	logger.Info("Waiting for backend", slog.String("server", addr))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("backend %s not reachable: %w", addr, ctx.Err())

		case <-ticker.C:
			if Reachable(ctx, addr) {
				logger.Info("Server is up", slog.String("server", addr))
				return nil
			}
		}
	}
}
