package strategy

import (
	"github.com/angeloszaimis/provider-router/internal/provider"
)

type tierAffinityStrategy struct{}

// SelectBackend prefers an exact tier match, then the lower declared
// timeout, then registration order.
func (t *tierAffinityStrategy) SelectBackend(tier provider.Tier, backends []*provider.Backend) *provider.Backend {
	var chosen *provider.Backend
	for _, b := range candidates(tier, backends) {
		if chosen == nil || fasterTimeout(b, chosen) {
			chosen = b
		}
	}

	return chosen
}

// fasterTimeout treats an undeclared timeout as slower than any declared one.
func fasterTimeout(a, b *provider.Backend) bool {
	at, bt := a.Timeout(), b.Timeout()
	switch {
	case at == bt:
		return false
	case at == 0:
		return false
	case bt == 0:
		return true
	default:
		return at < bt
	}
}

func NewTierAffinityStrategy() Strategy {
	return &tierAffinityStrategy{}
}
