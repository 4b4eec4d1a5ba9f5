package strategy

import (
	"log/slog"
	"strings"

	"github.com/angeloszaimis/provider-router/internal/provider"
)

const (
	TierAffinity  = "tier-affinity"
	LeastResponse = "least-response"
	LeastConn     = "least-conn"
	RoundRobin    = "round-robin"
	Random        = "random"
)

// Names lists every strategy New understands.
var Names = []string{TierAffinity, LeastResponse, LeastConn, RoundRobin, Random}

// Strategy picks the primary provider for a request of the given tier from
// the currently healthy backends. It returns nil for an empty slice.
type Strategy interface {
	SelectBackend(tier provider.Tier, backends []*provider.Backend) *provider.Backend
}

// New returns the named strategy, defaulting to tier affinity.
func New(name string, logger *slog.Logger) Strategy {
	switch strings.ToLower(name) {
	case TierAffinity, "":
		return NewTierAffinityStrategy()
	case LeastResponse:
		return NewLeastResponseStrategy()
	case LeastConn:
		return NewLeastConnStrategy()
	case RoundRobin:
		return NewRoundRobinStrategy()
	case Random:
		return NewRandomStrategy()
	default:
		logger.Warn("Unknown strategy, defaulting to tier-affinity", slog.String("requested", name))
		return NewTierAffinityStrategy()
	}
}

// candidates narrows backends to those preferring tier. With no tier, or
// when nothing matches, every backend stays a candidate. Sweep capacity
// flags are not consulted.
func candidates(tier provider.Tier, backends []*provider.Backend) []*provider.Backend {
	if tier == provider.TierNone {
		return backends
	}

	var matched []*provider.Backend
	for _, b := range backends {
		if b.PreferredTier() == tier {
			matched = append(matched, b)
		}
	}
	if len(matched) == 0 {
		return backends
	}
	return matched
}
