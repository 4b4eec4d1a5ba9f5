// Package handler implements the operator HTTP endpoints: liveness,
// provider status, circuit breaker inspection and reset, and metrics.
package handler
