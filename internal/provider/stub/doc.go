// Package stub provides an in-process provider.Client with scriptable
// latency, failure injection and token-bucket rate limiting. It backs local
// runs (provider kind "stub") and the router's tests.
package stub
