// Package router is the entry point for callers: it picks a primary
// provider for a request's tier, asks the registry for the fallback chain,
// runs the fallback executor and reports the outcome to metrics and
// telemetry.
package router
