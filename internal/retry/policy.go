package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"sort"
	"time"
)

const jitterFraction = 0.25

// Policy shapes the backoff between attempts.
type Policy struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     bool
}

// DefaultPolicy is the standard preset.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:  time.Second,
		MaxDelay:   10 * time.Second,
		Multiplier: 2,
		Jitter:     true,
	}
}

var presets = map[string]Policy{
	"fast": {
		BaseDelay:  250 * time.Millisecond,
		MaxDelay:   2 * time.Second,
		Multiplier: 2,
		Jitter:     true,
	},
	"standard": DefaultPolicy(),
	"patient": {
		BaseDelay:  2 * time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.5,
		Jitter:     true,
	},
}

// Preset returns the named policy.
func Preset(name string) (Policy, bool) {
	p, ok := presets[name]
	return p, ok
}

// PresetNames lists the known presets in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Delay returns min(BaseDelay * Multiplier^(attempt-1), MaxDelay) without
// jitter. Attempts are 1-based; anything lower is treated as 1.
func Delay(attempt int, p Policy) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}

	d := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && (d > float64(p.MaxDelay) || math.IsInf(d, 0)) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// ComputeDelay is Delay with ±25% jitter when the policy asks for it.
// The result never exceeds MaxDelay.
func ComputeDelay(attempt int, p Policy) time.Duration {
	d := Delay(attempt, p)
	if !p.Jitter || d <= 0 {
		return d
	}

	factor := 1 - jitterFraction + rand.Float64()*2*jitterFraction
	jittered := time.Duration(float64(d) * factor)
	if p.MaxDelay > 0 && jittered > p.MaxDelay {
		return p.MaxDelay
	}
	return jittered
}

// Wait sleeps for d or until ctx is done, whichever comes first.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
