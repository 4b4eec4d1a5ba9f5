package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/angeloszaimis/provider-router/internal/fallback"
)

const (
	DefaultStream       = "router:telemetry"
	DefaultStreamMaxLen = 10000
)

type RedisConfig struct {
	URL    string
	Stream string
	// MaxLen trims the stream approximately to this many entries.
	MaxLen int64
}

type entry struct {
	kind      string
	requestID string
	backend   string
	payload   any
}

// RedisSink appends traces to a Redis stream. Records are held in memory
// until Flush writes them in one pipeline.
type RedisSink struct {
	client *redis.Client
	stream string
	maxLen int64

	mutex   sync.Mutex
	pending []entry
}

// NewRedisSink connects to cfg.URL and checks the connection.
func NewRedisSink(ctx context.Context, cfg RedisConfig) (*RedisSink, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisSinkWithClient(client, cfg.Stream, cfg.MaxLen), nil
}

// NewRedisSinkWithClient wraps an existing client.
func NewRedisSinkWithClient(client *redis.Client, stream string, maxLen int64) *RedisSink {
	if stream == "" {
		stream = DefaultStream
	}
	if maxLen <= 0 {
		maxLen = DefaultStreamMaxLen
	}
	return &RedisSink{client: client, stream: stream, maxLen: maxLen}
}

func (s *RedisSink) Stream() string {
	return s.stream
}

func (s *RedisSink) RecordAttempt(_ context.Context, a fallback.AttemptRecord) error {
	s.add(entry{kind: "attempt", requestID: a.RequestID, backend: a.Backend, payload: a})
	return nil
}

func (s *RedisSink) RecordCost(_ context.Context, c CostRecord) error {
	s.add(entry{kind: "cost", requestID: c.RequestID, backend: c.Backend, payload: c})
	return nil
}

func (s *RedisSink) RecordError(_ context.Context, t ErrorTrace) error {
	s.add(entry{kind: "error", requestID: t.RequestID, payload: t})
	return nil
}

func (s *RedisSink) add(e entry) {
	s.mutex.Lock()
	s.pending = append(s.pending, e)
	s.mutex.Unlock()
}

// Flush writes every pending record. On failure the batch is dropped so a
// dead Redis cannot grow the buffer without bound. A record that cannot be
// encoded is skipped and reported without holding back the rest.
func (s *RedisSink) Flush(ctx context.Context) error {
	s.mutex.Lock()
	batch := s.pending
	s.pending = nil
	s.mutex.Unlock()

	if len(batch) == 0 {
		return nil
	}

	var skipped []error
	queued := 0
	pipe := s.client.Pipeline()
	for _, e := range batch {
		payload, err := json.Marshal(e.payload)
		if err != nil {
			skipped = append(skipped, fmt.Errorf("failed to marshal %s record %s: %w", e.kind, e.requestID, err))
			continue
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: s.stream,
			MaxLen: s.maxLen,
			Approx: true,
			Values: map[string]any{
				"type":       e.kind,
				"request_id": e.requestID,
				"backend":    e.backend,
				"payload":    string(payload),
			},
		})
		queued++
	}

	if queued > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to add %d records to stream %s: %w", queued, s.stream, err)
		}
	}
	return errors.Join(skipped...)
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
