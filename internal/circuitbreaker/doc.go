// Package circuitbreaker implements the per-provider circuit breaker.
//
// A breaker stops traffic to a provider that keeps failing. It has three states:
//
//   - CLOSED: normal operation, calls pass through
//   - OPEN: provider assumed broken, calls fail fast with ErrOpen
//   - HALF-OPEN: recovery probing, one call in flight at a time
//
// OPEN moves to HALF-OPEN lazily, the first time the breaker is consulted
// after the recovery timeout. Every transition clears both counters.
//
// Usage:
//
//	registry := circuitbreaker.NewRegistry(circuitbreaker.Settings{})
//	err := registry.Get("openai").Execute(ctx, func(ctx context.Context) error {
//	    _, err := client.Generate(ctx, req)
//	    return err
//	})
//	if errors.Is(err, circuitbreaker.ErrOpen) {
//	    // try the next provider
//	}
package circuitbreaker
