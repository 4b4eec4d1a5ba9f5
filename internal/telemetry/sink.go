package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/angeloszaimis/provider-router/internal/fallback"
	"github.com/angeloszaimis/provider-router/internal/provider"
)

// Sink receives the trace of each terminal routing result. Implementations
// may buffer until Flush.
type Sink interface {
	RecordAttempt(ctx context.Context, attempt fallback.AttemptRecord) error
	RecordCost(ctx context.Context, cost CostRecord) error
	RecordError(ctx context.Context, trace ErrorTrace) error
	Flush(ctx context.Context) error
}

type CostRecord struct {
	RequestID string         `json:"request_id"`
	Backend   string         `json:"backend"`
	Usage     provider.Usage `json:"usage"`
	Timestamp time.Time      `json:"timestamp"`
}

// ErrorTrace summarises a request no provider could serve.
type ErrorTrace struct {
	RequestID string          `json:"request_id"`
	Timestamp time.Time       `json:"timestamp"`
	Tried     []string        `json:"tried"`
	Kinds     []provider.Kind `json:"kinds"`
	Degraded  bool            `json:"degraded"`
	Elapsed   time.Duration   `json:"elapsed"`
}

// NewErrorTrace builds the trace for a result that has no final backend.
func NewErrorTrace(res *fallback.Result) ErrorTrace {
	trace := ErrorTrace{
		RequestID: res.RequestID,
		Timestamp: time.Now(),
		Tried:     res.Tried(),
		Kinds:     make([]provider.Kind, 0, len(res.Attempts)),
		Degraded:  res.Degraded,
		Elapsed:   res.Elapsed,
	}
	for _, a := range res.Attempts {
		kind := provider.KindUnknown
		if a.Error != nil {
			kind = a.Error.Kind
		}
		trace.Kinds = append(trace.Kinds, kind)
	}
	return trace
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) RecordAttempt(context.Context, fallback.AttemptRecord) error { return nil }
func (NopSink) RecordCost(context.Context, CostRecord) error { return nil }
func (NopSink) RecordError(context.Context, ErrorTrace) error { return nil }
func (NopSink) Flush(context.Context) error { return nil }

// MultiSink fans out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) RecordAttempt(ctx context.Context, attempt fallback.AttemptRecord) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.RecordAttempt(ctx, attempt))
	}
	return errors.Join(errs...)
}

func (m MultiSink) RecordCost(ctx context.Context, cost CostRecord) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.RecordCost(ctx, cost))
	}
	return errors.Join(errs...)
}

func (m MultiSink) RecordError(ctx context.Context, trace ErrorTrace) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.RecordError(ctx, trace))
	}
	return errors.Join(errs...)
}

func (m MultiSink) Flush(ctx context.Context) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Flush(ctx))
	}
	return errors.Join(errs...)
}
