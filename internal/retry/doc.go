// Package retry holds the stateless backoff and retryability rules used
// between fallback attempts, plus named per-provider presets.
//
//	p, _ := retry.Preset("patient")
//	time.Sleep(retry.ComputeDelay(attempt, p))
package retry
