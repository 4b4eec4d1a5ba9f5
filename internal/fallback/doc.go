// Package fallback executes one request against an ordered chain of
// providers. Each attempt runs through the provider's circuit breaker under
// a deadline; failures are recorded and the next provider is tried after a
// backoff. When nothing succeeds the configured degradation mode decides
// whether the caller gets an error, a generic reply or an explanation.
package fallback
