package strategy

import (
	"math/rand/v2"
	"sync/atomic"

	"github.com/angeloszaimis/provider-router/internal/provider"
)

// roundRobinStrategy rotates through the candidates with one shared counter,
// so the rotation continues across tiers.
type roundRobinStrategy struct {
	next atomic.Uint64
}

func NewRoundRobinStrategy() Strategy {
	return &roundRobinStrategy{}
}

func (s *roundRobinStrategy) SelectBackend(tier provider.Tier, backends []*provider.Backend) *provider.Backend {
	pool := candidates(tier, backends)
	if len(pool) == 0 {
		return nil
	}
	n := s.next.Add(1) - 1
	return pool[n%uint64(len(pool))]
}

type randomStrategy struct{}

func NewRandomStrategy() Strategy {
	return randomStrategy{}
}

func (randomStrategy) SelectBackend(tier provider.Tier, backends []*provider.Backend) *provider.Backend {
	pool := candidates(tier, backends)
	if len(pool) == 0 {
		return nil
	}
	return pool[rand.IntN(len(pool))]
}
