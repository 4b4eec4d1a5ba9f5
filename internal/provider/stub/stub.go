package stub

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/angeloszaimis/provider-router/internal/provider"
)

// Kind is the provider kind stub clients register under.
const Kind = "stub"

// Config controls how a stub backend behaves.
type Config struct {
	ID      string
	Model   string
	Latency time.Duration
	// FailWith makes calls fail with this kind. FailureRate is the share of
	// calls that fail; it defaults to 1 when FailWith is set.
	FailWith    provider.Kind
	FailureRate float64
	// RateLimit in requests per second, zero disables limiting.
	RateLimit      float64
	Burst          int
	MaxConcurrency int
	Unavailable    bool
	// Stubborn backends keep sleeping after their context is cancelled.
	Stubborn     bool
	CostPerToken float64
	ChunkDelay   time.Duration
}

// Client is an in-process backend with scriptable latency and failures.
type Client struct {
	id      string
	model   string
	limiter *rate.Limiter

	mutex        sync.Mutex
	latency      time.Duration
	failWith     provider.Kind
	failureRate  float64
	unavailable  bool
	stubborn     bool
	costPerToken float64
	chunkDelay   time.Duration
	maxInFlight  int
	inFlight     int

	calls     atomic.Int64
	completed atomic.Int64

	statsMutex   sync.Mutex
	requests     int64
	successes    int64
	failures     int64
	latencySum   time.Duration
	totalTokens  int64
	totalCostUSD float64
}

// New creates a stub client from cfg.
func New(cfg Config) *Client {
	c := &Client{
		id:           cfg.ID,
		model:        cfg.Model,
		latency:      cfg.Latency,
		unavailable:  cfg.Unavailable,
		stubborn:     cfg.Stubborn,
		costPerToken: cfg.CostPerToken,
		chunkDelay:   cfg.ChunkDelay,
		maxInFlight:  cfg.MaxConcurrency,
	}
	if c.model == "" {
		c.model = cfg.ID + "-stub"
	}
	c.setFailure(cfg.FailWith, cfg.FailureRate)

	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return c
}

// Build is the provider.Builder for stub backends. Recognised options:
// model, latency, fail_with, failure_rate, rate_limit, burst, unavailable,
// stubborn, cost_per_token, chunk_delay.
func Build(spec provider.Spec) (provider.Client, error) {
	cfg := Config{
		ID:             spec.ID,
		Model:          spec.Options["model"],
		MaxConcurrency: spec.Capability.MaxConcurrency,
	}

	var err error
	if cfg.Latency, err = durationOption(spec.Options, "latency"); err != nil {
		return nil, err
	}
	if cfg.ChunkDelay, err = durationOption(spec.Options, "chunk_delay"); err != nil {
		return nil, err
	}
	if cfg.FailureRate, err = floatOption(spec.Options, "failure_rate"); err != nil {
		return nil, err
	}
	if cfg.RateLimit, err = floatOption(spec.Options, "rate_limit"); err != nil {
		return nil, err
	}
	if cfg.CostPerToken, err = floatOption(spec.Options, "cost_per_token"); err != nil {
		return nil, err
	}
	if v, ok := spec.Options["burst"]; ok {
		if cfg.Burst, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("stub %s: invalid burst %q: %w", spec.ID, v, err)
		}
	}
	if v, ok := spec.Options["unavailable"]; ok {
		if cfg.Unavailable, err = strconv.ParseBool(v); err != nil {
			return nil, fmt.Errorf("stub %s: invalid unavailable %q: %w", spec.ID, v, err)
		}
	}
	if v, ok := spec.Options["stubborn"]; ok {
		if cfg.Stubborn, err = strconv.ParseBool(v); err != nil {
			return nil, fmt.Errorf("stub %s: invalid stubborn %q: %w", spec.ID, v, err)
		}
	}
	if v := spec.Options["fail_with"]; v != "" {
		cfg.FailWith = provider.Kind(strings.ToUpper(v))
	}

	return New(cfg), nil
}

func durationOption(opts map[string]string, key string) (time.Duration, error) {
	v, ok := opts[key]
	if !ok || v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}

func floatOption(opts map[string]string, key string) (float64, error) {
	v, ok := opts[key]
	if !ok || v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return f, nil
}

// SetFailure makes every following call fail with kind. An empty kind heals the stub.
func (c *Client) SetFailure(kind provider.Kind) {
	c.setFailure(kind, 1)
}

func (c *Client) setFailure(kind provider.Kind, rate float64) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if kind != "" && rate <= 0 {
		rate = 1
	}
	c.failWith = kind
	c.failureRate = rate
}

func (c *Client) SetLatency(d time.Duration) {
	c.mutex.Lock()
	c.latency = d
	c.mutex.Unlock()
}

func (c *Client) SetAvailable(available bool) {
	c.mutex.Lock()
	c.unavailable = !available
	c.mutex.Unlock()
}

// Calls returns how many times Generate or GenerateStream was invoked.
func (c *Client) Calls() int64 {
	return c.calls.Load()
}

// Completed returns how many calls ran to the end of their simulated latency.
func (c *Client) Completed() int64 {
	return c.completed.Load()
}

func (c *Client) IsAvailable(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return !c.unavailable, nil
}

func (c *Client) HasCapacity(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.maxInFlight > 0 && c.inFlight >= c.maxInFlight {
		return false, nil
	}
	if c.limiter != nil && c.limiter.Tokens() < 1 {
		return false, nil
	}
	return true, nil
}

func (c *Client) Generate(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	start := time.Now()
	c.calls.Add(1)

	if err := c.begin(ctx); err != nil {
		c.record(false, time.Since(start), provider.Usage{})
		return nil, err
	}
	defer c.end()

	resp := c.respond(req)
	resp.Latency = time.Since(start)
	c.record(true, resp.Latency, resp.Usage)
	return resp, nil
}

func (c *Client) GenerateStream(ctx context.Context, req *provider.Request) (provider.Stream, error) {
	start := time.Now()
	c.calls.Add(1)

	if err := c.begin(ctx); err != nil {
		c.record(false, time.Since(start), provider.Usage{})
		return nil, err
	}

	resp := c.respond(req)
	c.record(true, time.Since(start), resp.Usage)

	c.mutex.Lock()
	delay := c.chunkDelay
	c.mutex.Unlock()

	return &stream{
		ctx:    ctx,
		words:  strings.Fields(resp.Content),
		usage:  resp.Usage,
		delay:  delay,
		onDone: c.end,
	}, nil
}

func (c *Client) Status(ctx context.Context) (provider.Status, error) {
	if err := ctx.Err(); err != nil {
		return provider.Status{}, err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	status := provider.Status{
		Healthy:   !c.unavailable,
		Message:   "ok",
		CheckedAt: time.Now(),
		Details: map[string]any{
			"model":     c.model,
			"in_flight": c.inFlight,
			"calls":     c.calls.Load(),
		},
	}
	if c.unavailable {
		status.Message = "stub marked unavailable"
	}
	if c.failWith != "" {
		status.Details["failing_with"] = string(c.failWith)
	}
	return status, nil
}

func (c *Client) Metrics(ctx context.Context) (provider.Counters, error) {
	if err := ctx.Err(); err != nil {
		return provider.Counters{}, err
	}

	c.statsMutex.Lock()
	defer c.statsMutex.Unlock()

	counters := provider.Counters{
		RequestCount: c.requests,
		SuccessCount: c.successes,
		FailureCount: c.failures,
		TotalTokens:  c.totalTokens,
		TotalCostUSD: c.totalCostUSD,
	}
	if c.requests > 0 {
		counters.AvgLatency = c.latencySum / time.Duration(c.requests)
	}
	return counters, nil
}

func (c *Client) ResetMetrics(ctx context.Context) error {
	c.statsMutex.Lock()
	defer c.statsMutex.Unlock()

	c.requests = 0
	c.successes = 0
	c.failures = 0
	c.latencySum = 0
	c.totalTokens = 0
	c.totalCostUSD = 0
	return nil
}

// begin simulates the call up to the point a response is ready.
func (c *Client) begin(ctx context.Context) error {
	c.mutex.Lock()
	latency := c.latency
	stubborn := c.stubborn
	failWith := c.failWith
	failureRate := c.failureRate
	unavailable := c.unavailable
	c.inFlight++
	c.mutex.Unlock()

	fail := func(err error) error {
		c.end()
		return err
	}

	if latency > 0 {
		if stubborn {
			time.Sleep(latency)
		} else {
			timer := time.NewTimer(latency)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fail(ctx.Err())
			case <-timer.C:
			}
		}
	}
	c.completed.Add(1)

	if unavailable {
		return fail(&provider.Error{
			Provider:   c.id,
			Kind:       provider.KindAvailability,
			StatusCode: http.StatusServiceUnavailable,
			Message:    "service unavailable",
		})
	}

	if c.limiter != nil && !c.limiter.Allow() {
		return fail(&provider.Error{
			Provider:   c.id,
			Kind:       provider.KindRateLimit,
			StatusCode: http.StatusTooManyRequests,
			Message:    "rate limit exceeded",
			Retryable:  true,
		})
	}

	if failWith != "" && (failureRate >= 1 || rand.Float64() < failureRate) {
		return fail(&provider.Error{
			Provider: c.id,
			Kind:     failWith,
			Message:  "injected failure",
		})
	}

	return nil
}

func (c *Client) end() {
	c.mutex.Lock()
	if c.inFlight > 0 {
		c.inFlight--
	}
	c.mutex.Unlock()
}

func (c *Client) respond(req *provider.Request) *provider.Response {
	content := fmt.Sprintf("[%s] %s", c.id, req.Prompt)
	usage := provider.Usage{
		InputTokens:  len(strings.Fields(req.Prompt)) + len(strings.Fields(req.SystemPrompt)),
		OutputTokens: len(strings.Fields(content)),
	}

	c.mutex.Lock()
	usage.CostUSD = float64(usage.TotalTokens()) * c.costPerToken
	c.mutex.Unlock()

	return &provider.Response{
		Content:      content,
		Provider:     c.id,
		Model:        c.model,
		FinishReason: "stop",
		Usage:        usage,
	}
}

func (c *Client) record(success bool, latency time.Duration, usage provider.Usage) {
	c.statsMutex.Lock()
	defer c.statsMutex.Unlock()

	c.requests++
	c.latencySum += latency
	if success {
		c.successes++
		c.totalTokens += int64(usage.TotalTokens())
		c.totalCostUSD += usage.CostUSD
	} else {
		c.failures++
	}
}

type stream struct {
	ctx    context.Context
	words  []string
	usage  provider.Usage
	delay  time.Duration
	pos    int
	once   sync.Once
	onDone func()
}

func (s *stream) Recv() (provider.Chunk, error) {
	if err := s.ctx.Err(); err != nil {
		s.Close()
		return provider.Chunk{}, err
	}
	if s.pos > len(s.words) {
		return provider.Chunk{}, io.EOF
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	if s.pos == len(s.words) {
		s.pos++
		usage := s.usage
		s.Close()
		return provider.Chunk{Done: true, Usage: &usage}, nil
	}

	word := s.words[s.pos]
	s.pos++
	if s.pos < len(s.words) {
		word += " "
	}
	return provider.Chunk{Content: word}, nil
}

func (s *stream) Close() error {
	s.once.Do(s.onDone)
	return nil
}
