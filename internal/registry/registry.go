package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/provider-router/internal/healthcheck"
	"github.com/angeloszaimis/provider-router/internal/metrics"
	"github.com/angeloszaimis/provider-router/internal/provider"
	"github.com/angeloszaimis/provider-router/internal/strategy"
)

var (
	ErrNoBackends        = errors.New("no providers could be initialised")
	ErrNoHealthyBackends = errors.New("no healthy providers")
)

const (
	DefaultProbeTimeout   = 5 * time.Second
	DefaultHealthInterval = 60 * time.Second
)

type Options struct {
	ProbeTimeout   time.Duration
	HealthInterval time.Duration
	// FallbackOrder is the configured priority for fallback chains. When
	// empty, registration order is used.
	FallbackOrder []string
	Strategy      strategy.Strategy
	// OnHealthChange is called for every flip the background sweep sees.
	OnHealthChange healthcheck.ChangeFunc
}

// Registry owns the configured providers and answers which of them are
// healthy and which should serve a request.
type Registry struct {
	opts   Options
	logger *slog.Logger

	mutex    sync.RWMutex
	backends []*provider.Backend
	byID     map[string]*provider.Backend

	// strategies may keep state between calls
	selectMutex sync.Mutex

	sweepMutex  sync.Mutex
	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

func New(opts Options, logger *slog.Logger) *Registry {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = DefaultHealthInterval
	}
	if opts.Strategy == nil {
		opts.Strategy = strategy.NewTierAffinityStrategy()
	}

	return &Registry{
		opts:   opts,
		logger: logger.With(slog.String("component", "registry")),
		byID:   make(map[string]*provider.Backend),
	}
}

// Initialize builds a client for every spec. A spec whose builder fails is
// logged and left out; only when nothing could be built is an error returned.
func (r *Registry) Initialize(ctx context.Context, specs []provider.Spec, builders provider.Builders) error {
	for _, spec := range specs {
		if err := ctx.Err(); err != nil {
			return err
		}

		client, err := builders.Build(spec)
		if err != nil {
			r.logger.Error("Failed to initialise provider",
				slog.String("provider", spec.ID),
				slog.String("kind", spec.Kind),
				slog.Any("err", err))
			continue
		}

		if err := r.Register(provider.NewBackend(spec, client)); err != nil {
			r.logger.Error("Skipping provider", slog.String("provider", spec.ID), slog.Any("err", err))
			continue
		}
		r.logger.Info("Provider initialised",
			slog.String("provider", spec.ID),
			slog.String("kind", spec.Kind),
			slog.String("tier", spec.Capability.PreferredTier.String()))
	}

	if len(r.Backends()) == 0 {
		return ErrNoBackends
	}
	return nil
}

// Register adds an already built backend.
func (r *Registry) Register(b *provider.Backend) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.byID[b.ID()]; exists {
		return fmt.Errorf("provider %q registered twice", b.ID())
	}
	r.byID[b.ID()] = b
	r.backends = append(r.backends, b)
	return nil
}

// Backends returns every registered backend in registration order.
func (r *Registry) Backends() []*provider.Backend {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return slices.Clone(r.backends)
}

func (r *Registry) Backend(id string) (*provider.Backend, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	b, ok := r.byID[id]
	return b, ok
}

// HealthyBackends probes every backend concurrently and returns those that
// answered available within the probe timeout, in registration order. A
// probe that fails excludes its backend from this answer only.
func (r *Registry) HealthyBackends(ctx context.Context) []*provider.Backend {
	backends := r.Backends()
	healthy := make([]bool, len(backends))

	var g errgroup.Group
	for i, b := range backends {
		g.Go(func() error {
			ok, err := healthcheck.Probe(ctx, b, r.opts.ProbeTimeout)
			if err != nil {
				r.logger.Debug("Availability probe failed",
					slog.String("provider", b.ID()),
					slog.Any("err", err))
				return nil
			}
			healthy[i] = ok
			return nil
		})
	}
	_ = g.Wait()

	result := make([]*provider.Backend, 0, len(backends))
	for i, b := range backends {
		if healthy[i] {
			result = append(result, b)
		}
	}
	return result
}

// BestBackend asks the strategy to pick among the healthy backends.
func (r *Registry) BestBackend(ctx context.Context, tier provider.Tier) (*provider.Backend, error) {
	return r.selectFrom(tier, r.HealthyBackends(ctx))
}

func (r *Registry) selectFrom(tier provider.Tier, healthy []*provider.Backend) (*provider.Backend, error) {
	if len(healthy) == 0 {
		return nil, ErrNoHealthyBackends
	}

	r.selectMutex.Lock()
	chosen := r.opts.Strategy.SelectBackend(tier, healthy)
	r.selectMutex.Unlock()

	if chosen == nil {
		return nil, fmt.Errorf("strategy returned no provider for tier %s", tier)
	}
	return chosen, nil
}

// Select is BestBackend with an optional preferred provider. The preferred
// provider wins when it is currently healthy. The fallback chain is built
// from the same probe so one routing decision probes each backend once.
func (r *Registry) Select(ctx context.Context, tier provider.Tier, preferred string) (*provider.Backend, []*provider.Backend, error) {
	healthy := r.HealthyBackends(ctx)

	var primary *provider.Backend
	if preferred != "" {
		for _, b := range healthy {
			if b.ID() == preferred {
				primary = b
				break
			}
		}
	}
	if primary == nil {
		var err error
		if primary, err = r.selectFrom(tier, healthy); err != nil {
			return nil, nil, err
		}
	}

	return primary, r.chainFrom(primary, healthy), nil
}

// FallbackChainFor lists the healthy backends other than primary, in
// configured fallback order.
func (r *Registry) FallbackChainFor(ctx context.Context, primary *provider.Backend) []*provider.Backend {
	return r.chainFrom(primary, r.HealthyBackends(ctx))
}

func (r *Registry) chainFrom(primary *provider.Backend, healthy []*provider.Backend) []*provider.Backend {
	up := make(map[string]bool, len(healthy))
	for _, b := range healthy {
		up[b.ID()] = true
	}

	chain := make([]*provider.Backend, 0, len(healthy))
	for _, b := range r.ordered() {
		if primary != nil && b.ID() == primary.ID() {
			continue
		}
		if up[b.ID()] {
			chain = append(chain, b)
		}
	}
	return chain
}

// ordered returns the backends in fallback priority. Configured ids come
// first; ids that are not registered are ignored.
func (r *Registry) ordered() []*provider.Backend {
	if len(r.opts.FallbackOrder) == 0 {
		return r.Backends()
	}

	r.mutex.RLock()
	defer r.mutex.RUnlock()

	ordered := make([]*provider.Backend, 0, len(r.opts.FallbackOrder))
	for _, id := range r.opts.FallbackOrder {
		if b, ok := r.byID[id]; ok {
			ordered = append(ordered, b)
		}
	}
	return ordered
}

// StartHealthSweep runs the background sweep until Shutdown or ctx ends.
// Calling it again while a sweep runs does nothing.
func (r *Registry) StartHealthSweep(ctx context.Context) {
	r.sweepMutex.Lock()
	defer r.sweepMutex.Unlock()

	if r.sweepCancel != nil {
		return
	}

	sctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.sweepCancel = cancel
	r.sweepDone = done

	backends := r.Backends()
	go func() {
		defer close(done)
		healthcheck.Sweep(sctx, backends, r.opts.HealthInterval, r.opts.ProbeTimeout, r.logger, r.opts.OnHealthChange)
	}()

	r.logger.Info("Health sweep started",
		slog.Duration("interval", r.opts.HealthInterval),
		slog.Int("providers", len(backends)))
}

// AggregatedMetrics reads every backend's counters concurrently and folds
// them. A backend whose counters cannot be read contributes nothing and is
// listed as unavailable.
func (r *Registry) AggregatedMetrics(ctx context.Context) metrics.Aggregated {
	backends := r.Backends()
	samples := make([]*metrics.Sample, len(backends))

	var g errgroup.Group
	for i, b := range backends {
		g.Go(func() error {
			counters, err := healthcheck.Call(ctx, r.opts.ProbeTimeout, b.Client().Metrics)
			if err != nil {
				r.logger.Warn("Failed to read provider metrics",
					slog.String("provider", b.ID()),
					slog.Any("err", err))
				return nil
			}
			samples[i] = &metrics.Sample{Backend: b.ID(), Counters: counters}
			return nil
		})
	}
	_ = g.Wait()

	collected := make([]metrics.Sample, 0, len(samples))
	var missing []string
	for i, s := range samples {
		if s == nil {
			missing = append(missing, backends[i].ID())
			continue
		}
		collected = append(collected, *s)
	}

	agg := metrics.Fold(collected)
	if len(missing) > 0 {
		agg.MarkUnavailable(missing...)
	}
	return agg
}

// BackendStatus is the registry's view of one provider for operators.
type BackendStatus struct {
	ID            string          `json:"id"`
	PreferredTier string          `json:"preferred_tier"`
	Timeout       time.Duration   `json:"timeout"`
	Healthy       bool            `json:"healthy"`
	HasCapacity   bool            `json:"has_capacity"`
	InFlight      int             `json:"in_flight"`
	EWMA          time.Duration   `json:"ewma_response_time"`
	LastStatus    provider.Status `json:"last_status"`
}

// Statuses reports what the last sweep recorded about each provider.
func (r *Registry) Statuses() []BackendStatus {
	backends := r.Backends()
	statuses := make([]BackendStatus, 0, len(backends))
	for _, b := range backends {
		statuses = append(statuses, BackendStatus{
			ID:            b.ID(),
			PreferredTier: b.PreferredTier().String(),
			Timeout:       b.Timeout(),
			Healthy:       b.IsHealthy(),
			HasCapacity:   b.HasCapacity(),
			InFlight:      b.InFlight(),
			EWMA:          b.EWMATime(),
			LastStatus:    b.LastStatus(),
		})
	}
	return statuses
}

// Shutdown stops the sweep and asks every backend to reset its counters.
// Each reset is bounded by the health-check timeout. Errors and panics are logged
// and swallowed.
func (r *Registry) Shutdown(ctx context.Context) {
	r.sweepMutex.Lock()
	cancel, done := r.sweepCancel, r.sweepDone
	r.sweepCancel, r.sweepDone = nil, nil
	r.sweepMutex.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
		}
	}

	for _, b := range r.Backends() {
		_, err := healthcheck.Call(ctx, r.opts.ProbeTimeout, func(cctx context.Context) (struct{}, error) {
			return struct{}{}, b.Client().ResetMetrics(cctx)
		})
		if err != nil {
			r.logger.Warn("Failed to reset provider metrics",
				slog.String("provider", b.ID()),
				slog.Any("err", err))
		}
	}
	r.logger.Info("Registry shut down")
}
