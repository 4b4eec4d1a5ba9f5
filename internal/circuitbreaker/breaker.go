package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Execute when the breaker refuses the call.
var ErrOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Failing fast
	StateHalfOpen              // Probing recovery
)

const (
	DefaultFailureThreshold = 5
	DefaultSuccessThreshold = 3
	DefaultRecoveryTimeout  = 30 * time.Second
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

// MarshalText lets states render as names in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Settings configures a breaker. Zero values fall back to the defaults.
type Settings struct {
	FailureThreshold int
	SuccessThreshold int
	RecoveryTimeout  time.Duration
	// OnStateChange runs under the breaker lock and must not call back into it.
	OnStateChange func(name string, from, to State)
	Now           func() time.Time
}

func (s Settings) withDefaults() Settings {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = DefaultFailureThreshold
	}
	if s.SuccessThreshold <= 0 {
		s.SuccessThreshold = DefaultSuccessThreshold
	}
	if s.RecoveryTimeout <= 0 {
		s.RecoveryTimeout = DefaultRecoveryTimeout
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return s
}

// Snapshot is a point-in-time copy of a breaker's bookkeeping.
type Snapshot struct {
	Name                 string    `json:"name"`
	State                State     `json:"state"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	LastFailure          time.Time `json:"last_failure,omitempty"`
	LastSuccess          time.Time `json:"last_success,omitempty"`
	LastStateChange      time.Time `json:"last_state_change"`
}

type CircuitBreaker struct {
	name     string
	settings Settings

	mutex           sync.Mutex
	state           State
	failures        int
	successes       int
	probing         bool
	lastFailure     time.Time
	lastSuccess     time.Time
	lastStateChange time.Time
}

// New creates a closed breaker for the named backend.
func New(name string, settings Settings) *CircuitBreaker {
	settings = settings.withDefaults()
	return &CircuitBreaker{
		name:            name,
		settings:        settings,
		state:           StateClosed,
		lastStateChange: settings.Now(),
	}
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State reports the stored state. The lazy OPEN to HALF-OPEN move only
// happens when the breaker is consulted through Allow, ShouldFailFast or Execute.
func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// ShouldFailFast reports whether a call would be refused right now.
// It performs the recovery transition but does not reserve the probe slot.
func (cb *CircuitBreaker) ShouldFailFast() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.maybeHalfOpen()
	return cb.blocked()
}

// Allow admits a call. In HALF-OPEN only one probe may be in flight;
// the caller must report the outcome with OnSuccess or OnFailure.
func (cb *CircuitBreaker) Allow() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.maybeHalfOpen()
	if cb.blocked() {
		return false
	}
	if cb.state == StateHalfOpen {
		cb.probing = true
	}
	return true
}

func (cb *CircuitBreaker) OnSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := cb.settings.Now()
	cb.lastSuccess = now
	cb.probing = false

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.settings.SuccessThreshold {
			cb.setState(StateClosed, now)
		}
	}
}

func (cb *CircuitBreaker) OnFailure() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := cb.settings.Now()
	cb.lastFailure = now
	cb.probing = false

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.settings.FailureThreshold {
			cb.setState(StateOpen, now)
		}
	case StateHalfOpen:
		cb.setState(StateOpen, now)
	}
}

// Execute is the single entry point for guarded calls. It returns ErrOpen
// without invoking op when the breaker refuses the call. Once ctx is done,
// whether cancelled or past its deadline, the outcome belongs to the caller
// and is not held against the backend.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if !cb.Allow() {
		return ErrOpen
	}

	defer func() {
		if e := recover(); e != nil {
			cb.OnFailure()
			panic(e)
		}
	}()

	err := op(ctx)
	switch {
	case err == nil:
		cb.OnSuccess()
	case ctx.Err() != nil:
		cb.release()
	default:
		cb.OnFailure()
	}
	return err
}

// Reset forces the breaker back to CLOSED. Used for operator action.
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.state == StateClosed {
		cb.failures = 0
		cb.successes = 0
		cb.probing = false
		return
	}
	cb.setState(StateClosed, cb.settings.Now())
}

func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	return Snapshot{
		Name:                 cb.name,
		State:                cb.state,
		ConsecutiveFailures:  cb.failures,
		ConsecutiveSuccesses: cb.successes,
		LastFailure:          cb.lastFailure,
		LastSuccess:          cb.lastSuccess,
		LastStateChange:      cb.lastStateChange,
	}
}

func (cb *CircuitBreaker) release() {
	cb.mutex.Lock()
	cb.probing = false
	cb.mutex.Unlock()
}

func (cb *CircuitBreaker) blocked() bool {
	return cb.state == StateOpen || (cb.state == StateHalfOpen && cb.probing)
}

// caller holds the mutex
func (cb *CircuitBreaker) maybeHalfOpen() {
	if cb.state != StateOpen {
		return
	}
	now := cb.settings.Now()
	if !now.Before(cb.lastStateChange.Add(cb.settings.RecoveryTimeout)) {
		cb.setState(StateHalfOpen, now)
	}
}

// caller holds the mutex
func (cb *CircuitBreaker) setState(to State, now time.Time) {
	from := cb.state
	cb.state = to
	cb.failures = 0
	cb.successes = 0
	cb.probing = false
	cb.lastStateChange = now

	if cb.settings.OnStateChange != nil && from != to {
		cb.settings.OnStateChange(cb.name, from, to)
	}
}
