// Package healthcheck probes providers in the background. A sweep asks every
// provider for availability, capacity and status on a fixed interval and
// records the answers on the provider's Backend; Probe is the read-only
// variant used when routing.
package healthcheck
