package metrics

import (
	"sort"
	"time"

	"github.com/angeloszaimis/provider-router/internal/provider"
)

// Sample is one provider's self-reported counters.
type Sample struct {
	Backend  string
	Counters provider.Counters
}

type BackendSummary struct {
	Requests    int64         `json:"requests"`
	Successes   int64         `json:"successes"`
	Failures    int64         `json:"failures"`
	SuccessRate float64       `json:"success_rate"`
	AvgLatency  time.Duration `json:"avg_latency"`
	Tokens      int64         `json:"tokens"`
	CostUSD     float64       `json:"cost_usd"`
}

// Aggregated is the cross-provider view of the counters.
type Aggregated struct {
	TotalRequests  int64                     `json:"total_requests"`
	TotalSuccesses int64                     `json:"total_successes"`
	TotalFailures  int64                     `json:"total_failures"`
	SuccessRate    float64                   `json:"success_rate"`
	AvgLatency     time.Duration             `json:"avg_latency"`
	TotalTokens    int64                     `json:"total_tokens"`
	TotalCostUSD   float64                   `json:"total_cost_usd"`
	Backends       map[string]BackendSummary `json:"backends"`
	// Unavailable lists providers whose counters could not be read.
	Unavailable []string `json:"unavailable,omitempty"`
}

// Fold combines samples into one snapshot. The success rate is
// Σsuccess/Σrequests and the latency is weighted by request count; both
// are 0 when no requests were made.
func Fold(samples []Sample) Aggregated {
	agg := Aggregated{
		Backends: make(map[string]BackendSummary, len(samples)),
	}

	var weightedLatency float64
	for _, s := range samples {
		c := s.Counters

		agg.TotalRequests += c.RequestCount
		agg.TotalSuccesses += c.SuccessCount
		agg.TotalFailures += c.FailureCount
		agg.TotalTokens += c.TotalTokens
		agg.TotalCostUSD += c.TotalCostUSD
		weightedLatency += float64(c.AvgLatency) * float64(c.RequestCount)

		agg.Backends[s.Backend] = BackendSummary{
			Requests:    c.RequestCount,
			Successes:   c.SuccessCount,
			Failures:    c.FailureCount,
			SuccessRate: ratio(c.SuccessCount, c.RequestCount),
			AvgLatency:  c.AvgLatency,
			Tokens:      c.TotalTokens,
			CostUSD:     c.TotalCostUSD,
		}
	}

	agg.SuccessRate = ratio(agg.TotalSuccesses, agg.TotalRequests)
	if agg.TotalRequests > 0 {
		agg.AvgLatency = time.Duration(weightedLatency / float64(agg.TotalRequests))
	}

	return agg
}

// MarkUnavailable records providers that contributed nothing to the fold.
func (a *Aggregated) MarkUnavailable(ids ...string) {
	a.Unavailable = append(a.Unavailable, ids...)
	sort.Strings(a.Unavailable)
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
