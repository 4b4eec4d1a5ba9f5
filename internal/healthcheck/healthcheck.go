package healthcheck

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/provider-router/internal/provider"
)

// ChangeFunc is told about every health flip a sweep observes.
type ChangeFunc func(b *provider.Backend, healthy bool)

// Sweep checks every backend once per interval until ctx is cancelled. It
// only records what it sees; request routing probes backends itself.
func Sweep(
	ctx context.Context,
	backends []*provider.Backend,
	interval time.Duration,
	probeTimeout time.Duration,
	logger *slog.Logger,
	onChange ChangeFunc,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Health sweep stopped", slog.Int("providers", len(backends)))
			return

		case <-ticker.C:
			CheckAll(ctx, backends, probeTimeout, logger, onChange)
		}
	}
}

// CheckAll checks the backends concurrently and waits for all of them. A
// slow or failing backend never holds up its siblings beyond probeTimeout.
func CheckAll(
	ctx context.Context,
	backends []*provider.Backend,
	probeTimeout time.Duration,
	logger *slog.Logger,
	onChange ChangeFunc,
) {
	var g errgroup.Group
	for _, b := range backends {
		g.Go(func() error {
			if Check(ctx, b, probeTimeout, logger) && onChange != nil {
				onChange(b, b.IsHealthy())
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Check runs IsAvailable, HasCapacity and Status against b and stores the
// outcome on it. Failures are logged, never returned. It reports whether the
// health flag flipped.
func Check(ctx context.Context, b *provider.Backend, probeTimeout time.Duration, logger *slog.Logger) (changed bool) {
	log := logger.With(slog.String("provider", b.ID()))

	available, err := Call(ctx, probeTimeout, b.Client().IsAvailable)
	if err != nil {
		log.Warn("Availability probe failed", slog.Any("err", err))
		available = false
	}

	hasCapacity, err := Call(ctx, probeTimeout, b.Client().HasCapacity)
	if err != nil {
		log.Warn("Capacity probe failed", slog.Any("err", err))
		hasCapacity = false
	}
	b.SetCapacity(hasCapacity)

	status, err := Call(ctx, probeTimeout, b.Client().Status)
	if err != nil {
		log.Warn("Status probe failed", slog.Any("err", err))
		status = provider.Status{Healthy: false, Message: err.Error(), CheckedAt: time.Now()}
	}
	b.SetStatus(status)

	changed = b.SetHealthy(available)
	if changed {
		if available {
			log.Info("Provider is back up")
		} else {
			log.Warn("Provider is down")
		}
	}
	return changed
}

// Call runs fn under its own deadline and turns a panic into an error. The
// registry uses it for every backend call made outside the request path.
func Call[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (result T, err error) {
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type reply struct {
		v   T
		err error
	}
	done := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- reply{err: fmt.Errorf("backend call panicked: %v", r)}
			}
		}()
		v, err := fn(pctx)
		done <- reply{v: v, err: err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-pctx.Done():
		return result, pctx.Err()
	}
}

// Probe is the single-call form used by request-path queries. It leaves no
// trace on the backend.
func Probe(ctx context.Context, b *provider.Backend, timeout time.Duration) (bool, error) {
	return Call(ctx, timeout, b.Client().IsAvailable)
}
