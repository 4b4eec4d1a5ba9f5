package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angeloszaimis/provider-router/config"
	"github.com/angeloszaimis/provider-router/internal/circuitbreaker"
	"github.com/angeloszaimis/provider-router/internal/handler"
	"github.com/angeloszaimis/provider-router/internal/metrics"
	"github.com/angeloszaimis/provider-router/internal/provider"
	"github.com/angeloszaimis/provider-router/internal/provider/stub"
	"github.com/angeloszaimis/provider-router/internal/registry"
	"github.com/angeloszaimis/provider-router/internal/strategy"
	"github.com/angeloszaimis/provider-router/internal/telemetry"
)

// builders lists the client kinds this binary can construct.
var builders = provider.Builders{
	stub.Kind: stub.Build,
}

func newBreakers(cfg *config.Config, events *metrics.Collector, log *slog.Logger) *circuitbreaker.Registry {
	settings := cfg.BreakerSettings()
	settings.OnStateChange = func(name string, from, to circuitbreaker.State) {
		log.Warn("Circuit breaker changed state",
			slog.String("provider", name),
			slog.String("from", from.String()),
			slog.String("to", to.String()))
		events.Emit(metrics.MetricEvent{
			Type:    metrics.EventBreakerChanged,
			Backend: name,
			State:   to.String(),
		})
	}
	return circuitbreaker.NewRegistry(settings)
}

func initializeRegistry(ctx context.Context, cfg *config.Config, events *metrics.Collector, log *slog.Logger) (*registry.Registry, error) {
	reg := registry.New(registry.Options{
		ProbeTimeout:   cfg.HealthCheck.ProbeTimeout,
		HealthInterval: cfg.HealthCheck.Interval,
		FallbackOrder:  cfg.Routing.FallbackChain,
		Strategy:       strategy.New(cfg.Routing.Strategy, log),
		OnHealthChange: func(b *provider.Backend, healthy bool) {
			events.Emit(metrics.MetricEvent{
				Type:    metrics.EventHealthChanged,
				Backend: b.ID(),
				Healthy: healthy,
			})
		},
	}, log)

	if err := reg.Initialize(ctx, cfg.ProviderSpecs(), builders); err != nil {
		return nil, err
	}
	return reg, nil
}

// buildSink returns the telemetry sink for cfg and a func releasing it.
func buildSink(ctx context.Context, cfg config.TelemetryConfig, log *slog.Logger) (telemetry.Sink, func(), error) {
	switch cfg.Sink {
	case config.SinkRedis:
		sink, err := telemetry.NewRedisSink(ctx, telemetry.RedisConfig{URL: cfg.RedisURL, Stream: cfg.Stream})
		if err != nil {
			log.Warn("Redis telemetry unavailable, logging traces instead", slog.Any("err", err))
			return telemetry.NewLogSink(log), func() {}, nil
		}
		log.Info("Telemetry streaming to Redis", slog.String("stream", sink.Stream()))
		return sink, func() {
			if err := sink.Close(); err != nil {
				log.Error("Failed to close Redis sink", slog.Any("err", err))
			}
		}, nil
	case config.SinkLog:
		return telemetry.NewLogSink(log), func() {}, nil
	case config.SinkNone:
		return telemetry.NopSink{}, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown telemetry sink %q", cfg.Sink)
	}
}

func setupAdmin(
	cfg *config.Config,
	log *slog.Logger,
	reg *registry.Registry,
	breakers *circuitbreaker.Registry,
	collector *metrics.Collector,
	gatherer prometheus.Gatherer,
	rt handler.Router,
) http.Handler {
	return handler.NewAdminHandler(log, reg, breakers, collector, gatherer, rt, cfg.Routing.Strategy).Routes()
}
