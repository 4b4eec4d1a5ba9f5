package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/angeloszaimis/provider-router/internal/fallback"
)

const DefaultFlushTimeout = 2 * time.Second

// Forwarder hands terminal results to a Sink off the request path. Sink
// failures are logged and never reach the caller.
type Forwarder struct {
	sink         Sink
	resultCh     chan *fallback.Result
	flushTimeout time.Duration
	logger       *slog.Logger
	dropped      atomic.Int64
	done         chan struct{}
	once         sync.Once
}

func NewForwarder(sink Sink, bufferSize int, flushTimeout time.Duration, logger *slog.Logger) *Forwarder {
	if flushTimeout <= 0 {
		flushTimeout = DefaultFlushTimeout
	}
	return &Forwarder{
		sink:         sink,
		resultCh:     make(chan *fallback.Result, bufferSize),
		flushTimeout: flushTimeout,
		logger:       logger.With(slog.String("component", "telemetry")),
		done:         make(chan struct{}),
	}
}

// Forward queues res without blocking and reports whether it was accepted.
func (f *Forwarder) Forward(res *fallback.Result) bool {
	if res == nil {
		return false
	}

	select {
	case f.resultCh <- res:
		return true
	default:
		if n := f.dropped.Add(1); n == 1 || n%100 == 0 {
			f.logger.Warn("Telemetry buffer full, dropping results", slog.Int64("dropped", n))
		}
		return false
	}
}

// Dropped returns how many results were discarded because the buffer was full.
func (f *Forwarder) Dropped() int64 {
	return f.dropped.Load()
}

func (f *Forwarder) Start(ctx context.Context) {
	go f.run(ctx)
}

// Done is closed once the forwarder has drained after cancellation.
func (f *Forwarder) Done() <-chan struct{} {
	return f.done
}

func (f *Forwarder) run(ctx context.Context) {
	defer f.once.Do(func() { close(f.done) })

	for {
		select {
		case res := <-f.resultCh:
			f.process(res)
		case <-ctx.Done():
			f.drain()
			return
		}
	}
}

func (f *Forwarder) drain() {
	for {
		select {
		case res := <-f.resultCh:
			f.process(res)
		default:
			return
		}
	}
}

func (f *Forwarder) process(res *fallback.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), f.flushTimeout)
	defer cancel()

	log := f.logger.With(slog.String("request_id", res.RequestID))

	for _, a := range res.Attempts {
		if err := f.sink.RecordAttempt(ctx, a); err != nil {
			log.Warn("Failed to record attempt", slog.Any("err", err))
		}
	}

	switch {
	case res.FinalBackend == "":
		if err := f.sink.RecordError(ctx, NewErrorTrace(res)); err != nil {
			log.Warn("Failed to record error trace", slog.Any("err", err))
		}
	case res.Response != nil && res.Response.Usage.TotalTokens() > 0:
		cost := CostRecord{
			RequestID: res.RequestID,
			Backend:   res.FinalBackend,
			Usage:     res.Response.Usage,
			Timestamp: time.Now(),
		}
		if err := f.sink.RecordCost(ctx, cost); err != nil {
			log.Warn("Failed to record cost", slog.Any("err", err))
		}
	}

	if err := f.sink.Flush(ctx); err != nil {
		log.Warn("Failed to flush telemetry", slog.Any("err", err))
	}
}
