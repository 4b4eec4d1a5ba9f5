package fallback

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angeloszaimis/provider-router/internal/provider"
	"github.com/angeloszaimis/provider-router/internal/retry"
)

// Mode decides what a caller gets back once every provider in the chain failed.
type Mode string

const (
	ModeFailFast   Mode = "fail_fast"
	ModeBestEffort Mode = "best_effort"
	ModeGraceful   Mode = "graceful"
)

const (
	DefaultMaxAttempts = 3
	DefaultTimeout     = 30 * time.Second
)

// ErrChainExhausted is wrapped by ExhaustedError.
var ErrChainExhausted = errors.New("fallback chain exhausted")

// ParseMode validates a degradation mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(s)); m {
	case ModeFailFast, ModeBestEffort, ModeGraceful:
		return m, nil
	default:
		return "", fmt.Errorf("unknown degradation mode %q", s)
	}
}

type Config struct {
	// MaxAttempts caps the chain length, circuit-open skips included.
	MaxAttempts int
	// Timeout bounds one attempt when the provider declares none.
	Timeout time.Duration
	Mode    Mode
	// Backoff applies between attempts unless the failed provider names a preset.
	Backoff retry.Policy
	// RecoveryHint is quoted in graceful responses for circuit-open providers.
	RecoveryHint time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Mode == "" {
		c.Mode = ModeGraceful
	}
	if c.Backoff == (retry.Policy{}) {
		c.Backoff = retry.DefaultPolicy()
	}
	return c
}

type AttemptError struct {
	Kind      provider.Kind `json:"kind"`
	Message   string        `json:"message"`
	Retryable bool          `json:"retryable"`
}

// AttemptRecord is one try against one provider. Records are never
// modified after they are appended to a Result.
type AttemptRecord struct {
	RequestID string        `json:"request_id"`
	Backend   string        `json:"backend"`
	Ordinal   int           `json:"ordinal"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
	Latency   time.Duration `json:"latency"`
	Success   bool          `json:"success"`
	Error     *AttemptError `json:"error,omitempty"`
}

// Result is the single outcome of one Execute or ExecuteStream call.
type Result struct {
	RequestID string          `json:"request_id"`
	Attempts  []AttemptRecord `json:"attempts"`
	// FinalBackend is empty when no provider succeeded.
	FinalBackend  string             `json:"final_backend,omitempty"`
	Elapsed       time.Duration      `json:"elapsed"`
	FallbacksUsed int                `json:"fallbacks_used"`
	Degraded      bool               `json:"degraded"`
	Response      *provider.Response `json:"response,omitempty"`
	Stream        provider.Stream    `json:"-"`
}

// Tried lists the providers attempted, in order.
func (r *Result) Tried() []string {
	tried := make([]string, 0, len(r.Attempts))
	for _, a := range r.Attempts {
		tried = append(tried, a.Backend)
	}
	return tried
}

// ExhaustedError is returned in fail_fast mode when no provider succeeded.
type ExhaustedError struct {
	RequestID string
	Attempts  []AttemptRecord
	Elapsed   time.Duration
}

func (e *ExhaustedError) Error() string {
	if len(e.Attempts) == 0 {
		return "fallback chain exhausted: no providers to try"
	}

	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		kind := provider.KindUnknown
		if a.Error != nil {
			kind = a.Error.Kind
		}
		parts = append(parts, fmt.Sprintf("%s (%s)", a.Backend, kind))
	}
	return fmt.Sprintf("fallback chain exhausted after %d attempts: %s", len(e.Attempts), strings.Join(parts, ", "))
}

func (e *ExhaustedError) Unwrap() error {
	return ErrChainExhausted
}

// Trace returns the attempts as a Result without a payload.
func (e *ExhaustedError) Trace() *Result {
	return &Result{
		RequestID: e.RequestID,
		Attempts:  e.Attempts,
		Elapsed:   e.Elapsed,
	}
}
