package main

import (
	"slices"
	"sync"
	"time"
)

// outcome is what one routed request reported back.
type outcome struct {
	Index     int
	Status    int
	Provider  string
	Fallbacks int
	Degraded  bool
	Latency   time.Duration
	Err       error
}

type providerStats struct {
	served    int
	fallbacks int
	latencies []time.Duration
}

type latencySummary struct {
	Samples int     `json:"samples"`
	Min     float64 `json:"min_ms"`
	Avg     float64 `json:"avg_ms"`
	Max     float64 `json:"max_ms"`
	P50     float64 `json:"p50_ms"`
	P90     float64 `json:"p90_ms"`
	P95     float64 `json:"p95_ms"`
	P99     float64 `json:"p99_ms"`
}

type report struct {
	Target      string                    `json:"target"`
	Requests    int                       `json:"requests"`
	Concurrency int                       `json:"concurrency"`
	Success     int                       `json:"success"`
	Degraded    int                       `json:"degraded"`
	Exhausted   int                       `json:"exhausted"`
	Errors      int                       `json:"errors"`
	Duration    time.Duration             `json:"duration"`
	Throughput  float64                   `json:"throughput_rps"`
	StatusCodes map[int]int               `json:"status_codes"`
	Providers   map[string]latencySummary `json:"providers"`
	Served      map[string]int            `json:"served"`
	Fallbacks   map[string]int            `json:"fallbacks"`
	Overall     latencySummary            `json:"overall"`
}

type tally struct {
	mutex       sync.Mutex
	success     int
	degraded    int
	exhausted   int
	errors      int
	statusCodes map[int]int
	providers   map[string]*providerStats
	latencies   []time.Duration
}

func newTally() *tally {
	return &tally{
		statusCodes: make(map[int]int),
		providers:   make(map[string]*providerStats),
	}
}

func (t *tally) add(o outcome) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.latencies = append(t.latencies, o.Latency)
	if o.Err != nil {
		t.errors++
		return
	}
	t.statusCodes[o.Status]++

	switch {
	case o.Status == 502:
		t.exhausted++
	case o.Status < 200 || o.Status > 299:
		t.errors++
	case o.Degraded:
		t.degraded++
	default:
		t.success++
	}

	if o.Provider == "" {
		return
	}
	ps, ok := t.providers[o.Provider]
	if !ok {
		ps = &providerStats{}
		t.providers[o.Provider] = ps
	}
	ps.served++
	ps.fallbacks += o.Fallbacks
	ps.latencies = append(ps.latencies, o.Latency)
}

func (t *tally) report(target string, requests, concurrency int, elapsed time.Duration) report {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	r := report{
		Target:      target,
		Requests:    requests,
		Concurrency: concurrency,
		Success:     t.success,
		Degraded:    t.degraded,
		Exhausted:   t.exhausted,
		Errors:      t.errors,
		Duration:    elapsed,
		StatusCodes: t.statusCodes,
		Providers:   make(map[string]latencySummary, len(t.providers)),
		Served:      make(map[string]int, len(t.providers)),
		Fallbacks:   make(map[string]int, len(t.providers)),
		Overall:     summarize(t.latencies),
	}
	if elapsed > 0 {
		r.Throughput = float64(len(t.latencies)) / elapsed.Seconds()
	}
	for id, ps := range t.providers {
		r.Providers[id] = summarize(ps.latencies)
		r.Served[id] = ps.served
		r.Fallbacks[id] = ps.fallbacks
	}
	return r
}

func summarize(latencies []time.Duration) latencySummary {
	if len(latencies) == 0 {
		return latencySummary{}
	}

	sorted := slices.Clone(latencies)
	slices.Sort(sorted)

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return latencySummary{
		Samples: len(sorted),
		Min:     ms(sorted[0]),
		Avg:     ms(sum / time.Duration(len(sorted))),
		Max:     ms(sorted[len(sorted)-1]),
		P50:     ms(pick(sorted, 0.50)),
		P90:     ms(pick(sorted, 0.90)),
		P95:     ms(pick(sorted, 0.95)),
		P99:     ms(pick(sorted, 0.99)),
	}
}

func pick(sorted []time.Duration, pct float64) time.Duration {
	idx := int(float64(len(sorted)-1) * pct)
	return sorted[max(0, min(idx, len(sorted)-1))]
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
