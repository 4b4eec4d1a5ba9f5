package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angeloszaimis/provider-router/config"
	"github.com/angeloszaimis/provider-router/internal/fallback"
	"github.com/angeloszaimis/provider-router/internal/httpserver"
	"github.com/angeloszaimis/provider-router/internal/metrics"
	"github.com/angeloszaimis/provider-router/internal/router"
	"github.com/angeloszaimis/provider-router/internal/telemetry"
	"github.com/angeloszaimis/provider-router/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, true, cfg.Server.Environment)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	collector := metrics.NewCollector(cfg.Metrics.BufferSize, promReg, log)
	collector.Start(ctx)

	breakers := newBreakers(cfg, collector, log)

	reg, err := initializeRegistry(ctx, cfg, collector, log)
	if err != nil {
		log.Error("Failed to initialize providers", slog.Any("err", err))
		os.Exit(1)
	}
	reg.StartHealthSweep(ctx)

	sink, closeSink, err := buildSink(ctx, cfg.Telemetry, log)
	if err != nil {
		log.Error("Failed to create telemetry sink",
			slog.String("sink", cfg.Telemetry.Sink),
			slog.Any("err", err))
		os.Exit(1)
	}

	forwarder := telemetry.NewForwarder(sink, cfg.Telemetry.BufferSize, cfg.Telemetry.FlushTimeout, log)
	forwarder.Start(ctx)

	executor := fallback.New(cfg.ExecutorConfig(), breakers, log)
	rt := router.New(reg, executor, collector, forwarder, router.Options{
		DefaultProvider: cfg.Routing.DefaultProvider,
	}, log)

	srv, err := httpserver.New(cfg.Server.Address, setupAdmin(cfg, log, reg, breakers, collector, promReg, rt), cfg.ServerOptions())
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		os.Exit(1)
	}
	if err := srv.Listen(); err != nil {
		log.Error("Failed to bind admin server", slog.Any("err", err))
		os.Exit(1)
	}

	log.Info("Provider router started",
		slog.String("address", srv.Addr()),
		slog.String("strategy", cfg.Routing.Strategy),
		slog.String("degradation_mode", cfg.Fallback.DegradationMode),
		slog.Int("providers", len(reg.Backends())))

	srvErrCh := make(chan error, 1)

	go func() {
		srvErrCh <- srv.Serve(ctx)
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-srvErrCh:
		if err != nil {
			log.Error("Error starting admin server", slog.Any("err", err))
			exitCode = 1
		}
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Error during shutdown", slog.Any("err", err))
	}
	reg.Shutdown(shutdownCtx)
	waitFor(shutdownCtx, log, "telemetry", forwarder.Done())
	waitFor(shutdownCtx, log, "metrics", collector.Done())

	closeSink()

	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

func waitFor(ctx context.Context, log *slog.Logger, name string, done <-chan struct{}) {
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn("Pipeline did not drain before shutdown deadline", slog.String("pipeline", name))
	}
}
