package circuitbreaker

import (
	"sort"
	"sync"
)

// Registry owns one breaker per backend id. The map lock only guards the
// map itself; each breaker carries its own mutex.
type Registry struct {
	mutex    sync.RWMutex
	breakers map[string]*CircuitBreaker
	settings Settings
}

func NewRegistry(settings Settings) *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		settings: settings,
	}
}

// Get returns the breaker for id, creating it on first use.
func (r *Registry) Get(id string) *CircuitBreaker {
	r.mutex.RLock()
	cb, exists := r.breakers[id]
	r.mutex.RUnlock()

	if exists {
		return cb
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Double-check: another goroutine may have created it
	if cb, exists = r.breakers[id]; exists {
		return cb
	}

	cb = New(id, r.settings)
	r.breakers[id] = cb
	return cb
}

// Lookup returns the breaker for id without creating one.
func (r *Registry) Lookup(id string) (*CircuitBreaker, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	cb, ok := r.breakers[id]
	return cb, ok
}

// Reset closes the breaker for id. It reports false when no breaker exists.
func (r *Registry) Reset(id string) bool {
	cb, ok := r.Lookup(id)
	if !ok {
		return false
	}
	cb.Reset()
	return true
}

func (r *Registry) ResetAll() {
	for _, cb := range r.all() {
		cb.Reset()
	}
}

func (r *Registry) Stats() map[string]State {
	stats := make(map[string]State)
	for _, cb := range r.all() {
		stats[cb.Name()] = cb.State()
	}
	return stats
}

// Snapshots returns every breaker's bookkeeping sorted by name.
func (r *Registry) Snapshots() []Snapshot {
	breakers := r.all()
	snaps := make([]Snapshot, 0, len(breakers))
	for _, cb := range breakers {
		snaps = append(snaps, cb.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].Name < snaps[j].Name
	})
	return snaps
}

func (r *Registry) all() []*CircuitBreaker {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	return breakers
}
