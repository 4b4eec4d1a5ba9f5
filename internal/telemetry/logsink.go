package telemetry

import (
	"context"
	"log/slog"

	"github.com/angeloszaimis/provider-router/internal/fallback"
)

// LogSink writes traces to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With(slog.String("component", "telemetry"))}
}

func (s *LogSink) RecordAttempt(ctx context.Context, a fallback.AttemptRecord) error {
	attrs := []slog.Attr{
		slog.String("request_id", a.RequestID),
		slog.String("provider", a.Backend),
		slog.Int("ordinal", a.Ordinal),
		slog.Bool("success", a.Success),
		slog.Duration("latency", a.Latency),
	}
	if a.Error != nil {
		attrs = append(attrs,
			slog.String("kind", string(a.Error.Kind)),
			slog.Bool("retryable", a.Error.Retryable))
	}
	s.logger.LogAttrs(ctx, slog.LevelDebug, "Attempt", attrs...)
	return nil
}

func (s *LogSink) RecordCost(ctx context.Context, c CostRecord) error {
	s.logger.LogAttrs(ctx, slog.LevelInfo, "Usage",
		slog.String("request_id", c.RequestID),
		slog.String("provider", c.Backend),
		slog.Int("input_tokens", c.Usage.InputTokens),
		slog.Int("output_tokens", c.Usage.OutputTokens),
		slog.Float64("cost_usd", c.Usage.CostUSD))
	return nil
}

func (s *LogSink) RecordError(ctx context.Context, t ErrorTrace) error {
	s.logger.LogAttrs(ctx, slog.LevelWarn, "Request failed on every provider",
		slog.String("request_id", t.RequestID),
		slog.Any("tried", t.Tried),
		slog.Any("kinds", t.Kinds),
		slog.Bool("degraded", t.Degraded),
		slog.Duration("elapsed", t.Elapsed))
	return nil
}

func (s *LogSink) Flush(context.Context) error {
	return nil
}
