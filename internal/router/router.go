package router

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/angeloszaimis/provider-router/internal/fallback"
	"github.com/angeloszaimis/provider-router/internal/metrics"
	"github.com/angeloszaimis/provider-router/internal/provider"
	"github.com/angeloszaimis/provider-router/internal/registry"
)

var ErrEmptyPrompt = errors.New("request has an empty prompt")

// EventSink receives metric events. *metrics.Collector implements it.
type EventSink interface {
	Emit(event metrics.MetricEvent)
}

// TraceForwarder receives every terminal result. *telemetry.Forwarder
// implements it.
type TraceForwarder interface {
	Forward(res *fallback.Result) bool
}

type Options struct {
	// DefaultProvider serves requests that carry no tier, when it is healthy.
	DefaultProvider string
}

// Router turns one request into one routing decision and one execution.
// A request whose whole chain failed is not re-routed.
type Router struct {
	registry  *registry.Registry
	executor  *fallback.Executor
	events    EventSink
	forwarder TraceForwarder
	opts      Options
	logger    *slog.Logger
}

func New(
	reg *registry.Registry,
	executor *fallback.Executor,
	events EventSink,
	forwarder TraceForwarder,
	opts Options,
	logger *slog.Logger,
) *Router {
	return &Router{
		registry:  reg,
		executor:  executor,
		events:    events,
		forwarder: forwarder,
		opts:      opts,
		logger:    logger.With(slog.String("component", "router")),
	}
}

// Route serves req from the best provider for tier, falling back along the
// configured chain.
func (r *Router) Route(ctx context.Context, req *provider.Request, tier provider.Tier) (*fallback.Result, error) {
	return r.route(ctx, req, tier, r.executor.Execute)
}

// RouteStream is Route for streaming responses. The caller must close
// Result.Stream.
func (r *Router) RouteStream(ctx context.Context, req *provider.Request, tier provider.Tier) (*fallback.Result, error) {
	return r.route(ctx, req, tier, r.executor.ExecuteStream)
}

type executeFunc func(ctx context.Context, req *provider.Request, primary *provider.Backend, fallbacks []*provider.Backend) (*fallback.Result, error)

func (r *Router) route(ctx context.Context, req *provider.Request, tier provider.Tier, execute executeFunc) (*fallback.Result, error) {
	if req == nil || strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	preferred := ""
	if tier == provider.TierNone {
		preferred = r.opts.DefaultProvider
	}

	primary, chain, err := r.registry.Select(ctx, tier, preferred)
	switch {
	case errors.Is(err, registry.ErrNoHealthyBackends):
		r.logger.Warn("No healthy providers", slog.String("tier", tier.String()))
	case err != nil:
		return nil, err
	default:
		r.emit(metrics.MetricEvent{Type: metrics.EventBackendSelected, Backend: primary.ID()})
		r.logger.Debug("Provider selected",
			slog.String("provider", primary.ID()),
			slog.String("tier", tier.String()),
			slog.Int("fallbacks", len(chain)))
	}

	res, err := execute(ctx, req, primary, chain)

	var exhausted *fallback.ExhaustedError
	switch {
	case err == nil:
		r.record(res, false)
	case errors.As(err, &exhausted):
		r.record(exhausted.Trace(), true)
	}
	return res, err
}

func (r *Router) record(res *fallback.Result, failed bool) {
	for _, a := range res.Attempts {
		event := metrics.MetricEvent{
			Type:     metrics.EventAttemptCompleted,
			Backend:  a.Backend,
			Duration: a.Latency,
			Success:  a.Success,
		}
		if a.Error != nil {
			event.Kind = string(a.Error.Kind)
		}
		r.emit(event)
	}

	r.emit(metrics.MetricEvent{
		Type:          metrics.EventRequestCompleted,
		Backend:       res.FinalBackend,
		Duration:      res.Elapsed,
		FallbacksUsed: res.FallbacksUsed,
		Degraded:      res.Degraded,
		Failed:        failed,
	})

	if r.forwarder != nil && !r.forwarder.Forward(res) {
		r.logger.Debug("Telemetry dropped", slog.String("request_id", res.RequestID))
	}
}

func (r *Router) emit(event metrics.MetricEvent) {
	if r.events != nil {
		r.events.Emit(event)
	}
}
