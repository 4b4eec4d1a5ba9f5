package provider

import (
	"sync"
	"time"
)

// Backend is the registry's handle on one provider: its client, its declared
// capability and the health bookkeeping the registry maintains about it.
type Backend struct {
	id          string
	client      Client
	capability  Capability
	retryPreset string

	mutex            sync.Mutex
	isHealthy        bool
	hasCapacity      bool
	lastStatus       Status
	inFlight         int
	ewmaResponseTime time.Duration
	hasEWMA          bool
}

const ewmaAlpha = 0.2

// NewBackend wraps client with the attributes declared in spec.
// The backend starts healthy with capacity.
func NewBackend(spec Spec, client Client) *Backend {
	return &Backend{
		id:          spec.ID,
		client:      client,
		capability:  spec.Capability,
		retryPreset: spec.RetryPreset,
		isHealthy:   true,
		hasCapacity: true,
	}
}

// ID returns the backend identifier.
func (b *Backend) ID() string {
	return b.id
}

// Client returns the underlying generation client.
func (b *Backend) Client() Client {
	return b.client
}

// Capability returns the attributes the backend declared.
func (b *Backend) Capability() Capability {
	return b.capability
}

// PreferredTier returns the complexity tier this backend is best at.
func (b *Backend) PreferredTier() Tier {
	return b.capability.PreferredTier
}

// Timeout returns the declared per-call timeout, zero when unset.
func (b *Backend) Timeout() time.Duration {
	return b.capability.Timeout
}

// RetryPreset returns the name of the backoff preset used after this backend fails.
func (b *Backend) RetryPreset() string {
	return b.retryPreset
}

// IsHealthy returns the result of the last health sweep.
func (b *Backend) IsHealthy() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.isHealthy
}

// SetHealthy updates the backend's health status.
// Returns true if the status changed, false if it was already in that state.
func (b *Backend) SetHealthy(healthy bool) (changed bool) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.isHealthy == healthy {
		return false
	}

	b.isHealthy = healthy
	return true
}

// HasCapacity returns the capacity flag from the last health sweep.
func (b *Backend) HasCapacity() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.hasCapacity
}

// SetCapacity updates the capacity flag and reports whether it changed.
func (b *Backend) SetCapacity(capacity bool) (changed bool) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.hasCapacity == capacity {
		return false
	}

	b.hasCapacity = capacity
	return true
}

// LastStatus returns the status captured by the last health sweep.
func (b *Backend) LastStatus() Status {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.lastStatus
}

func (b *Backend) SetStatus(status Status) {
	b.mutex.Lock()
	b.lastStatus = status
	b.mutex.Unlock()
}

// Acquire marks one call in flight.
func (b *Backend) Acquire() {
	b.mutex.Lock()
	b.inFlight++
	b.mutex.Unlock()
}

// Release marks one call finished.
func (b *Backend) Release() {
	b.mutex.Lock()
	if b.inFlight > 0 {
		b.inFlight--
	}
	b.mutex.Unlock()
}

// InFlight returns the number of calls currently running against the backend.
func (b *Backend) InFlight() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.inFlight
}

// RecordResponse updates the exponentially weighted moving average (EWMA)
// latency using the latest successful call.
func (b *Backend) RecordResponse(duration time.Duration) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if !b.hasEWMA {
		b.ewmaResponseTime = duration
		b.hasEWMA = true
		return
	}
	//ewma = (1 - α) * ewma + α * latest
	b.ewmaResponseTime = time.Duration((1-ewmaAlpha)*float64(b.ewmaResponseTime) + ewmaAlpha*float64(duration))
}

// EWMATime returns the moving average latency, 0 before the first response.
func (b *Backend) EWMATime() time.Duration {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if !b.hasEWMA {
		return 0
	}

	return b.ewmaResponseTime
}
