package strategy

import (
	"time"

	"github.com/angeloszaimis/provider-router/internal/provider"
)

// leastConnStrategy picks the candidate with the fewest calls in flight.
// Ties go to the lower response-time average.
type leastConnStrategy struct{}

func NewLeastConnStrategy() Strategy {
	return leastConnStrategy{}
}

func (leastConnStrategy) SelectBackend(tier provider.Tier, backends []*provider.Backend) *provider.Backend {
	var chosen *provider.Backend
	for _, b := range candidates(tier, backends) {
		if chosen == nil {
			chosen = b
			continue
		}
		switch n, best := b.InFlight(), chosen.InFlight(); {
		case n < best:
			chosen = b
		case n == best && b.EWMATime() < chosen.EWMATime():
			chosen = b
		}
	}
	return chosen
}

// leastResponseStrategy scores each candidate by its EWMA response time
// scaled by in-flight calls. Unmeasured candidates are tried first.
type leastResponseStrategy struct{}

func NewLeastResponseStrategy() Strategy {
	return leastResponseStrategy{}
}

func (leastResponseStrategy) SelectBackend(tier provider.Tier, backends []*provider.Backend) *provider.Backend {
	var (
		chosen *provider.Backend
		best   time.Duration
	)
	for _, b := range candidates(tier, backends) {
		ewma := b.EWMATime()
		if ewma == 0 {
			return b
		}
		if score := ewma * time.Duration(b.InFlight()+1); chosen == nil || score < best {
			chosen, best = b, score
		}
	}
	return chosen
}
