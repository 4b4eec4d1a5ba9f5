package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// Kind is the failure category an attempt is filed under.
type Kind string

const (
	KindCircuitOpen  Kind = "CIRCUIT_BREAKER_OPEN"
	KindTimeout      Kind = "TIMEOUT_ERROR"
	KindRateLimit    Kind = "RATE_LIMIT_ERROR"
	KindAuth         Kind = "AUTH_ERROR"
	KindAvailability Kind = "AVAILABILITY_ERROR"
	KindCapacity     Kind = "CAPACITY_ERROR"
	KindNetwork      Kind = "NETWORK_ERROR"
	KindUnknown      Kind = "UNKNOWN_ERROR"
)

// Error is the structured error backends raise. Kind is attached at the
// point of failure so callers do not have to guess from the message.
type Error struct {
	Provider   string
	Kind       Kind
	StatusCode int
	Message    string
	// Retryable marks the error as safe to retry regardless of its kind.
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Provider, e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a structured error for provider.
func NewError(provider string, kind Kind, message string) *Error {
	return &Error{Provider: provider, Kind: kind, Message: message}
}

// Classify maps err onto the failure taxonomy. Structured kinds win, then
// status codes, then well-known Go error types. Message matching is the
// last resort for errors raised outside this module.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}

	var perr *Error
	if errors.As(err, &perr) {
		if perr.Kind != "" {
			return perr.Kind
		}
		if kind := KindForStatus(perr.StatusCode); kind != "" {
			return kind
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	if isNetworkError(err) {
		return KindNetwork
	}

	return classifyMessage(err.Error())
}

// KindForStatus maps an HTTP-like status code to a kind. It returns "" for
// codes that carry no failure meaning.
func KindForStatus(code int) Kind {
	switch {
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return KindTimeout
	case code == http.StatusTooManyRequests:
		return KindRateLimit
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuth
	case code == 529:
		return KindCapacity
	case code >= 500 && code <= 599:
		return KindAvailability
	case code >= 400 && code <= 499:
		return KindUnknown
	default:
		return ""
	}
}

func isNetworkError(err error) bool {
	var opErr *net.OpError
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &opErr), errors.As(err, &dnsErr):
		return true
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET):
		return true
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
		return true
	}
	return false
}

var messagePatterns = []struct {
	kind     Kind
	patterns []string
}{
	{KindTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{KindRateLimit, []string{"rate limit", "rate_limit", "too many requests", "429"}},
	{KindAuth, []string{"unauthorized", "forbidden", "api key", "invalid key", "authentication", "401", "403"}},
	{KindCapacity, []string{"capacity", "overloaded", "quota", "insufficient resources"}},
	{KindAvailability, []string{"unavailable", "not available", "service down", "503", "502", "500"}},
	{KindNetwork, []string{"network", "connection", "econnrefused", "econnreset", "dns", "no such host", "broken pipe"}},
}

func classifyMessage(msg string) Kind {
	msg = strings.ToLower(msg)
	for _, group := range messagePatterns {
		for _, p := range group.patterns {
			if strings.Contains(msg, p) {
				return group.kind
			}
		}
	}
	return KindUnknown
}
