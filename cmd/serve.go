package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/angeloszaimis/adaptive-router/config"
	"github.com/angeloszaimis/adaptive-router/internal/attempt"
	"github.com/angeloszaimis/adaptive-router/internal/attemptlog"
	"github.com/angeloszaimis/adaptive-router/internal/downstream"
	"github.com/angeloszaimis/adaptive-router/internal/handler"
	"github.com/angeloszaimis/adaptive-router/internal/healthcheck"
	"github.com/angeloszaimis/adaptive-router/internal/httpserver"
	"github.com/angeloszaimis/adaptive-router/internal/metrics"
	"github.com/angeloszaimis/adaptive-router/internal/routing"
	"github.com/angeloszaimis/adaptive-router/pkg/logger"
)

type serveOptions struct {
	strategy     string
	waitBackends bool
	waitTimeout  time.Duration
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the load balancer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig(opts.strategy)
			if err != nil {
				slog.Error("failed to load config", slog.Any("err", err))
				return err
			}

			log := logger.New(cfg.Logging.Level, true, cfg.Server.Environment)

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return serve(ctx, cfg, log, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.strategy, "strategy", "s", "", "strategy selector, overrides strategy.type (v1..v8 or name)")
	cmd.Flags().BoolVar(&opts.waitBackends, "wait-backends", false, "wait until every backend port accepts connections before serving")
	cmd.Flags().DurationVar(&opts.waitTimeout, "wait-timeout", 30*time.Second, "how long --wait-backends waits")

	return cmd
}

// app is the wired router: engine, downstream client and the outcome sinks.
type app struct {
	cfg *config.Config
	log *slog.Logger

	engine      *routing.Engine
	client      *downstream.Client
	coordinator *routing.Coordinator
	collector   *metrics.Collector
	exporter    *metrics.Exporter
	snapshots   *metrics.SnapshotWriter

	// Attempt log; nil when attempt_log.path is empty.
	store  *attemptlog.Store
	run    attemptlog.Run
	writer *attemptlog.Writer

	cancelWorkers context.CancelFunc
}

func newApp(cfg *config.Config, log *slog.Logger) (*app, error) {
	engine, err := routing.NewEngine(cfg.Engine())
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	name := engine.Variant().Name

	a := &app{
		cfg:    cfg,
		log:    log,
		engine: engine,
		client: downstream.New(downstream.Config{
			Host:     cfg.Backends.Host,
			Ports:    cfg.Ports(),
			Timeout:  cfg.DownstreamTimeout(),
			MaxConns: cfg.Downstream.MaxConns,
		}),
	}

	a.exporter = metrics.NewExporter(name, engine.Backends)
	a.collector = metrics.NewCollector(cfg.Metrics.BufferSize, cfg.Metrics.LatencyWindow, logger.Component(log, "metrics")).
		WithExporter(a.exporter)
	sinks := attempt.MultiSink{a.collector}

	if cfg.Metrics.SnapshotPath != "" {
		a.snapshots = metrics.NewSnapshotWriter(cfg.Metrics.SnapshotPath, cfg.SnapshotInterval(), a.snapshot, log)
	}

	if cfg.AttemptLog.Path != "" {
		store, err := attemptlog.Open(cfg.AttemptLog.Path)
		if err != nil {
			return nil, fmt.Errorf("open attempt log: %w", err)
		}
		run, err := store.StartRun(name, cfg.AttemptLog.SessionID, time.Now())
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("start run: %w", err)
		}
		a.store = store
		a.run = run
		a.writer = attemptlog.NewWriter(store, run.ID, cfg.AttemptLog.BatchSize, cfg.FlushInterval(), logger.Component(log, "attemptlog"))
		sinks = append(sinks, a.writer)
	}

	a.coordinator = routing.NewCoordinator(logger.Component(log, "routing"), engine, a.client, sinks)

	return a, nil
}

func (a *app) snapshot() metrics.Snapshot {
	snap := a.collector.Snapshot(a.engine.Variant().Name)
	snap.Backends = a.engine.Backends()
	return snap
}

func (a *app) handler() http.Handler {
	h := routes{
		router:   handler.NewRouterHandler(logger.Component(a.log, "handler"), a.coordinator),
		snapshot: a.collector.Handler(a.engine.Variant().Name, a.engine.Backends),
		metrics:  a.exporter.Handler(),
	}
	if a.store != nil {
		h.runs = attemptlog.NewHandlers(a.store)
	}
	return setupRouter(h)
}

// startWorkers runs the outcome consumers. They outlive request handling and
// are stopped by close.
func (a *app) startWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancelWorkers = cancel

	a.collector.Start(ctx)
	if a.writer != nil {
		go a.writer.Run(ctx)
	}
	if a.snapshots != nil {
		go a.snapshots.Run(ctx)
	}
}

// close stops the workers once no more outcomes can arrive and persists
// everything that is still buffered.
func (a *app) close() error {
	var errs []error

	if a.cancelWorkers != nil {
		a.cancelWorkers()
		<-a.collector.Done()
		// The writer's last flush must finish before the store is closed.
		if a.writer != nil {
			<-a.writer.Done()
		}
	}

	if a.snapshots != nil {
		if err := a.snapshots.WriteFile(); err != nil {
			errs = append(errs, fmt.Errorf("write snapshot: %w", err))
		}
	}

	if a.store != nil {
		if err := a.writer.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("flush attempt log: %w", err))
		}
		if err := a.store.EndRun(a.run.ID, time.Now()); err != nil {
			errs = append(errs, fmt.Errorf("end run: %w", err))
		}
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close attempt log: %w", err))
		}
	}

	a.client.CloseIdle()

	return errors.Join(errs...)
}

func serve(ctx context.Context, cfg *config.Config, log *slog.Logger, opts serveOptions) error {
	if opts.waitBackends {
		addrs := make([]string, 0, len(cfg.Backends.Ports))
		for _, id := range cfg.Ports() {
			addrs = append(addrs, downstream.Addr(cfg.Backends.Host, id))
		}

		waitCtx, cancel := context.WithTimeout(ctx, opts.waitTimeout)
		err := healthcheck.WaitForBackends(waitCtx, addrs, healthcheck.DefaultInterval, log)
		cancel()
		if err != nil {
			log.Error("Backends not ready", slog.Any("err", err))
			return err
		}
	}

	a, err := newApp(cfg, log)
	if err != nil {
		log.Error("Failed to initialize router", slog.Any("err", err))
		return err
	}

	// A whole retry loop has to fit in one response.
	writeTimeout := time.Duration(cfg.Routing.MaxAttempts)*cfg.DownstreamTimeout() + 5*time.Second
	srv, err := httpserver.New(cfg.Server.Address, a.handler(),
		httpserver.WithTimeouts(httpserver.DefaultReadTimeout, writeTimeout),
	)
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		_ = a.close()
		return err
	}

	a.startWorkers()

	log.Info("Router started",
		slog.String("addr", cfg.Server.Address),
		slog.String("strategy", a.engine.Variant().Name),
		slog.Uint64("seed", a.engine.Seed()),
		slog.Int("backends", len(cfg.Backends.Ports)),
		slog.String("run_id", a.run.ID))

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Start()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
	case serveErr = <-srvErrCh:
		if serveErr != nil {
			log.Error("Error starting router", slog.Any("err", serveErr))
		}
	}

	if err := a.close(); err != nil {
		log.Error("Error flushing router state", slog.Any("err", err))
		return errors.Join(serveErr, err)
	}

	log.Info("Router stopped", slog.Int64("requests", a.coordinator.Requests()))
	return serveErr
}
