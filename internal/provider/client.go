package provider

import (
	"context"
	"errors"
	"time"
)

// ErrUnknownBuilder is returned when no builder is registered for a provider kind.
var ErrUnknownBuilder = errors.New("no builder registered for provider kind")

// Client is the contract every generation backend implements.
type Client interface {
	// IsAvailable fails open: callers treat an error as "not available".
	IsAvailable(ctx context.Context) (bool, error)
	HasCapacity(ctx context.Context) (bool, error)
	Generate(ctx context.Context, req *Request) (*Response, error)
	GenerateStream(ctx context.Context, req *Request) (Stream, error)
	Status(ctx context.Context) (Status, error)
	Metrics(ctx context.Context) (Counters, error)
	ResetMetrics(ctx context.Context) error
}

// Stream yields chunks until Recv returns io.EOF.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

type Request struct {
	Prompt       string            `json:"prompt"`
	SystemPrompt string            `json:"system_prompt,omitempty"`
	MaxTokens    int               `json:"max_tokens,omitempty"`
	Temperature  float64           `json:"temperature,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

func (u Usage) TotalTokens() int {
	return u.InputTokens + u.OutputTokens
}

type Response struct {
	Content      string        `json:"content"`
	Provider     string        `json:"provider"`
	Model        string        `json:"model,omitempty"`
	FinishReason string        `json:"finish_reason,omitempty"`
	Usage        Usage         `json:"usage"`
	Latency      time.Duration `json:"latency"`
}

type Chunk struct {
	Content string `json:"content"`
	Done    bool   `json:"done"`
	Usage   *Usage `json:"usage,omitempty"`
}

// Status is the health summary a backend reports about itself.
type Status struct {
	Healthy   bool           `json:"healthy"`
	Message   string         `json:"message,omitempty"`
	CheckedAt time.Time      `json:"checked_at"`
	Details   map[string]any `json:"details,omitempty"`
}

// Counters are the cumulative numbers a backend keeps about its own traffic.
type Counters struct {
	RequestCount int64         `json:"request_count"`
	SuccessCount int64         `json:"success_count"`
	FailureCount int64         `json:"failure_count"`
	AvgLatency   time.Duration `json:"avg_latency"`
	TotalTokens  int64         `json:"total_tokens"`
	TotalCostUSD float64       `json:"total_cost_usd"`
}

// Capability holds the attributes a backend declares about itself.
type Capability struct {
	PreferredTier  Tier
	Timeout        time.Duration
	MaxConcurrency int
}

// Spec describes one configured backend.
type Spec struct {
	ID          string
	Kind        string
	Capability  Capability
	RetryPreset string
	Options     map[string]string
}

// Builder constructs the client for a Spec.
type Builder func(spec Spec) (Client, error)

// Builders maps a provider kind to its constructor.
type Builders map[string]Builder

// Build looks up the builder for spec.Kind and runs it.
func (b Builders) Build(spec Spec) (Client, error) {
	build, ok := b[spec.Kind]
	if !ok {
		return nil, ErrUnknownBuilder
	}
	return build(spec)
}
