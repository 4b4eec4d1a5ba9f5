package metrics

import (
	"sort"
	"sync"
	"time"
)

// Metrics is the in-process store behind the JSON snapshot.
type Metrics struct {
	mutex         sync.RWMutex
	attempts      map[string]int64
	successes     map[string]int64
	failures      map[string]map[string]int64
	selections    map[string]int64
	responseTimes map[string][]time.Duration
	healthStatus  map[string]bool
	breakerState  map[string]string
	requests      int64
	degraded      int64
	exhausted     int64
	fallbacks     int64
	startTime     time.Time
}

type Snapshot struct {
	TotalRequests int64                     `json:"total_requests"`
	Degraded      int64                     `json:"degraded"`
	Exhausted     int64                     `json:"exhausted"`
	Fallbacks     int64                     `json:"fallbacks"`
	Uptime        time.Duration             `json:"uptime"`
	Backends      map[string]BackendMetrics `json:"backends"`
	Strategy      string                    `json:"strategy"`
}

type BackendMetrics struct {
	Attempts     int64            `json:"attempts"`
	Successes    int64            `json:"successes"`
	Failures     map[string]int64 `json:"failures,omitempty"`
	Selections   int64            `json:"selections"`
	Healthy      bool             `json:"healthy"`
	BreakerState string           `json:"breaker_state,omitempty"`
	AvgResponse  time.Duration    `json:"avg_response"`
	P50Response  time.Duration    `json:"p50_response"`
	P95Response  time.Duration    `json:"p95_response"`
	P99Response  time.Duration    `json:"p99_response"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		attempts:      make(map[string]int64),
		successes:     make(map[string]int64),
		failures:      make(map[string]map[string]int64),
		selections:    make(map[string]int64),
		responseTimes: make(map[string][]time.Duration),
		healthStatus:  make(map[string]bool),
		breakerState:  make(map[string]string),
		startTime:     time.Now(),
	}
}

func (m *Metrics) RecordBackendSelection(backend string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.selections[backend]++
}

// RecordAttempt counts one attempt. kind is empty for successes.
func (m *Metrics) RecordAttempt(backend string, duration time.Duration, success bool, kind string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.attempts[backend]++
	if !success {
		if m.failures[backend] == nil {
			m.failures[backend] = make(map[string]int64)
		}
		m.failures[backend][kind]++
		return
	}

	m.successes[backend]++
	m.responseTimes[backend] = append(m.responseTimes[backend], duration)
	if len(m.responseTimes[backend]) > 1000 {
		m.responseTimes[backend] = m.responseTimes[backend][1:]
	}
}

func (m *Metrics) RecordRequest(fallbacks int, degraded, exhausted bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.requests++
	m.fallbacks += int64(fallbacks)
	if degraded {
		m.degraded++
	}
	if exhausted {
		m.exhausted++
	}
}

func (m *Metrics) UpdateHealthStatus(backend string, healthy bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.healthStatus[backend] = healthy
}

func (m *Metrics) UpdateBreakerState(backend, state string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.breakerState[backend] = state
}

func (m *Metrics) Snapshot(strategy string) Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		TotalRequests: m.requests,
		Degraded:      m.degraded,
		Exhausted:     m.exhausted,
		Fallbacks:     m.fallbacks,
		Uptime:        time.Since(m.startTime),
		Backends:      make(map[string]BackendMetrics),
		Strategy:      strategy,
	}

	// Collect all unique backend ids
	allBackends := make(map[string]bool)
	for backend := range m.attempts {
		allBackends[backend] = true
	}
	for backend := range m.selections {
		allBackends[backend] = true
	}
	for backend := range m.healthStatus {
		allBackends[backend] = true
	}
	for backend := range m.breakerState {
		allBackends[backend] = true
	}

	for backend := range allBackends {
		bm := BackendMetrics{
			Attempts:     m.attempts[backend],
			Successes:    m.successes[backend],
			Selections:   m.selections[backend],
			Healthy:      m.healthStatus[backend],
			BreakerState: m.breakerState[backend],
		}
		if f := m.failures[backend]; len(f) > 0 {
			bm.Failures = make(map[string]int64, len(f))
			for k, v := range f {
				bm.Failures[k] = v
			}
		}

		durations := m.responseTimes[backend]
		if len(durations) > 0 {
			sorted := make([]time.Duration, len(durations))
			copy(sorted, durations)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			bm.AvgResponse = average(sorted)
			bm.P50Response = percentile(sorted, 0.50)
			bm.P95Response = percentile(sorted, 0.95)
			bm.P99Response = percentile(sorted, 0.99)
		}

		snap.Backends[backend] = bm
	}

	return snap
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
