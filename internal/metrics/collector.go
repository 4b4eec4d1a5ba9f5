package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type EventType string

const (
	EventBackendSelected  EventType = "backend_selected"
	EventAttemptCompleted EventType = "attempt_completed"
	EventRequestCompleted EventType = "request_completed"
	EventHealthChanged    EventType = "health_changed"
	EventBreakerChanged   EventType = "breaker_changed"
)

type MetricEvent struct {
	Type      EventType
	Timestamp time.Time
	Backend   string
	Duration  time.Duration
	Success   bool
	// Kind is the failure kind of an unsuccessful attempt.
	Kind          string
	Healthy       bool
	State         string
	FallbacksUsed int
	Degraded      bool
	Failed        bool
}

type Collector struct {
	eventCh chan MetricEvent
	metrics *Metrics
	prom    *promMetrics
	logger  *slog.Logger
	done    chan struct{}
	once    sync.Once
}

// NewCollector registers the Prometheus series on reg and returns a
// collector with a buffer of bufferSize events.
func NewCollector(bufferSize int, reg prometheus.Registerer, logger *slog.Logger) *Collector {
	return &Collector{
		eventCh: make(chan MetricEvent, bufferSize),
		metrics: NewMetrics(),
		prom:    newPromMetrics(reg),
		logger:  logger,
		done:    make(chan struct{}),
	}
}

func (c *Collector) EventChannel() chan<- MetricEvent {
	return c.eventCh
}

// Emit queues event without blocking. Events are dropped when the buffer is full.
func (c *Collector) Emit(event MetricEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case c.eventCh <- event:
	default:
		c.prom.dropped.Inc()
	}
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

// Done is closed once the collector has drained after cancellation.
func (c *Collector) Done() <-chan struct{} {
	return c.done
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")
	defer c.once.Do(func() { close(c.done) })

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventBackendSelected:
		c.metrics.RecordBackendSelection(event.Backend)
		c.prom.selections.WithLabelValues(event.Backend).Inc()

	case EventAttemptCompleted:
		c.metrics.RecordAttempt(event.Backend, event.Duration, event.Success, event.Kind)
		outcome := "success"
		if !event.Success {
			outcome = event.Kind
		}
		c.prom.attempts.WithLabelValues(event.Backend, outcome).Inc()
		c.prom.attemptDuration.WithLabelValues(event.Backend).Observe(event.Duration.Seconds())

	case EventRequestCompleted:
		c.metrics.RecordRequest(event.FallbacksUsed, event.Degraded, event.Failed)
		switch {
		case event.Failed:
			c.prom.requests.WithLabelValues("failed").Inc()
		case event.Degraded:
			c.prom.requests.WithLabelValues("degraded").Inc()
		default:
			c.prom.requests.WithLabelValues("served").Inc()
			c.prom.fallbacksUsed.Observe(float64(event.FallbacksUsed))
		}

	case EventHealthChanged:
		c.metrics.UpdateHealthStatus(event.Backend, event.Healthy)
		c.prom.healthy.WithLabelValues(event.Backend).Set(boolGaugeValue(event.Healthy))

	case EventBreakerChanged:
		c.metrics.UpdateBreakerState(event.Backend, event.State)
		c.prom.breakerState.WithLabelValues(event.Backend).Set(breakerGaugeValue(event.State))

	default:
		c.logger.Debug("Unknown metric event", slog.String("type", string(event.Type)))
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot(strategy string) Snapshot {
	return c.metrics.Snapshot(strategy)
}
