package fallback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/angeloszaimis/provider-router/internal/circuitbreaker"
	"github.com/angeloszaimis/provider-router/internal/provider"
	"github.com/angeloszaimis/provider-router/internal/retry"
)

// Executor walks a fallback chain one provider at a time.
type Executor struct {
	cfg      Config
	breakers *circuitbreaker.Registry
	logger   *slog.Logger
}

func New(cfg Config, breakers *circuitbreaker.Registry, logger *slog.Logger) *Executor {
	return &Executor{
		cfg:      cfg.withDefaults(),
		breakers: breakers,
		logger:   logger.With(slog.String("component", "fallback")),
	}
}

// Config returns the effective configuration.
func (e *Executor) Config() Config {
	return e.cfg
}

type outcome struct {
	resp   *provider.Response
	stream provider.Stream
	err    error
}

type invokeFunc func(ctx context.Context, b *provider.Backend, req *provider.Request, timeout time.Duration) outcome

// Execute tries primary and then each fallback until one succeeds. Attempt
// failures never escape; once the chain is exhausted the configured Mode
// decides between an ExhaustedError and a degraded Result. Cancelling ctx
// stops the walk and returns ctx.Err().
func (e *Executor) Execute(ctx context.Context, req *provider.Request, primary *provider.Backend, fallbacks []*provider.Backend) (*Result, error) {
	return e.run(ctx, req, e.chain(primary, fallbacks), e.generate, false)
}

// ExecuteStream is Execute for streaming calls. The timeout only bounds
// stream establishment; an established stream is returned as-is and never
// falls back mid-stream.
func (e *Executor) ExecuteStream(ctx context.Context, req *provider.Request, primary *provider.Backend, fallbacks []*provider.Backend) (*Result, error) {
	return e.run(ctx, req, e.chain(primary, fallbacks), e.openStream, true)
}

func (e *Executor) chain(primary *provider.Backend, fallbacks []*provider.Backend) []*provider.Backend {
	chain := make([]*provider.Backend, 0, len(fallbacks)+1)
	if primary != nil {
		chain = append(chain, primary)
	}
	for _, b := range fallbacks {
		if b != nil {
			chain = append(chain, b)
		}
	}

	if len(chain) > e.cfg.MaxAttempts {
		chain = chain[:e.cfg.MaxAttempts]
	}
	return chain
}

func (e *Executor) run(ctx context.Context, req *provider.Request, chain []*provider.Backend, invoke invokeFunc, streaming bool) (*Result, error) {
	start := time.Now()
	res := &Result{
		RequestID: uuid.NewString(),
		Attempts:  make([]AttemptRecord, 0, len(chain)),
	}
	log := e.logger.With(slog.String("request_id", res.RequestID))

	for i, b := range chain {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rec := AttemptRecord{
			RequestID: res.RequestID,
			Backend:   b.ID(),
			Ordinal:   i + 1,
			StartedAt: time.Now(),
		}

		var out outcome
		err := e.breakers.Get(b.ID()).Execute(ctx, func(ctx context.Context) error {
			out = invoke(ctx, b, req, e.timeoutFor(b))
			return out.err
		})

		rec.EndedAt = time.Now()
		rec.Latency = rec.EndedAt.Sub(rec.StartedAt)

		if err == nil {
			rec.Success = true
			res.Attempts = append(res.Attempts, rec)
			res.FinalBackend = b.ID()
			res.FallbacksUsed = i
			res.Response = out.resp
			res.Stream = out.stream
			res.Elapsed = time.Since(start)
			b.RecordResponse(rec.Latency)

			if i > 0 {
				log.Info("Served by fallback provider",
					slog.String("provider", b.ID()),
					slog.Int("fallbacks_used", i))
			}
			return res, nil
		}

		if errors.Is(err, circuitbreaker.ErrOpen) {
			rec.Error = &AttemptError{
				Kind:    provider.KindCircuitOpen,
				Message: fmt.Sprintf("circuit breaker open for %s", b.ID()),
			}
			res.Attempts = append(res.Attempts, rec)
			log.Debug("Skipping provider with open circuit", slog.String("provider", b.ID()))
			continue
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		rec.Error = &AttemptError{
			Kind:      provider.Classify(err),
			Message:   err.Error(),
			Retryable: retry.IsRetryable(err),
		}
		res.Attempts = append(res.Attempts, rec)

		log.Warn("Provider attempt failed",
			slog.String("provider", b.ID()),
			slog.Int("attempt", rec.Ordinal),
			slog.String("kind", string(rec.Error.Kind)),
			slog.Duration("latency", rec.Latency),
			slog.Any("err", err))

		if i == len(chain)-1 {
			break
		}
		if err := retry.Wait(ctx, retry.ComputeDelay(rec.Ordinal, e.policyFor(b))); err != nil {
			return nil, err
		}
	}

	res.Elapsed = time.Since(start)
	return e.degrade(req, res, streaming, log)
}

func (e *Executor) degrade(req *provider.Request, res *Result, streaming bool, log *slog.Logger) (*Result, error) {
	log.Error("Fallback chain exhausted",
		slog.Any("tried", res.Tried()),
		slog.String("mode", string(e.cfg.Mode)))

	switch e.cfg.Mode {
	case ModeFailFast:
		return nil, &ExhaustedError{
			RequestID: res.RequestID,
			Attempts:  res.Attempts,
			Elapsed:   res.Elapsed,
		}
	case ModeBestEffort:
		res.Response = bestEffortResponse()
	default:
		res.Response = gracefulResponse(req, res.Attempts, e.cfg.RecoveryHint)
	}

	res.Degraded = true
	if streaming {
		res.Stream = newStaticStream(res.Response)
	}
	return res, nil
}

func (e *Executor) timeoutFor(b *provider.Backend) time.Duration {
	if t := b.Timeout(); t > 0 {
		return t
	}
	return e.cfg.Timeout
}

func (e *Executor) policyFor(b *provider.Backend) retry.Policy {
	if p, ok := retry.Preset(b.RetryPreset()); ok {
		return p
	}
	return e.cfg.Backoff
}

// generate runs one call under a deadline. A call that outlives the deadline
// has its context cancelled and its eventual result dropped.
func (e *Executor) generate(ctx context.Context, b *provider.Backend, req *provider.Request, timeout time.Duration) outcome {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan outcome, 1)
	b.Acquire()
	go func() {
		defer b.Release()
		defer e.recoverCall(b, done)
		resp, err := b.Client().Generate(actx, req)
		done <- outcome{resp: resp, err: err}
	}()

	select {
	case out := <-done:
		if out.err == nil && out.resp == nil {
			out.err = provider.NewError(b.ID(), provider.KindUnknown, "empty response")
		}
		return out
	case <-actx.Done():
		return outcome{err: e.deadlineError(ctx, b, timeout)}
	}
}

// openStream bounds only stream establishment. The returned stream keeps a
// live context until it is closed.
func (e *Executor) openStream(ctx context.Context, b *provider.Backend, req *provider.Request, timeout time.Duration) outcome {
	sctx, cancel := context.WithCancel(ctx)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	done := make(chan outcome, 1)
	b.Acquire()
	go func() {
		defer e.recoverCall(b, done)
		st, err := b.Client().GenerateStream(sctx, req)
		done <- outcome{stream: st, err: err}
	}()

	abandon := func() {
		cancel()
		go func() {
			if out := <-done; out.stream != nil {
				_ = out.stream.Close()
			}
			b.Release()
		}()
	}

	select {
	case out := <-done:
		if out.err == nil && out.stream == nil {
			out.err = provider.NewError(b.ID(), provider.KindUnknown, "empty stream")
		}
		if out.err != nil {
			cancel()
			b.Release()
			return out
		}
		out.stream = &ownedStream{Stream: out.stream, cancel: cancel, release: b.Release}
		return out
	case <-timer.C:
		abandon()
		return outcome{err: e.deadlineError(ctx, b, timeout)}
	case <-ctx.Done():
		abandon()
		return outcome{err: ctx.Err()}
	}
}

// recoverCall turns a panicking client into an ordinary failed attempt. done
// must have room for the one outcome the call never sent.
func (e *Executor) recoverCall(b *provider.Backend, done chan<- outcome) {
	r := recover()
	if r == nil {
		return
	}
	e.logger.Error("Provider call panicked",
		slog.String("provider", b.ID()),
		slog.Any("panic", r))
	done <- outcome{err: provider.NewError(b.ID(), provider.KindUnknown, fmt.Sprintf("panic: %v", r))}
}

// deadlineError reports an expired attempt. When the caller's own context is
// done, its error wins so the attempt is neither classified nor counted.
func (e *Executor) deadlineError(parent context.Context, b *provider.Backend, timeout time.Duration) error {
	if err := parent.Err(); err != nil {
		return err
	}
	return &provider.Error{
		Provider: b.ID(),
		Kind:     provider.KindTimeout,
		Message:  fmt.Sprintf("no response within %s", timeout),
		Err:      context.DeadlineExceeded,
	}
}

// ownedStream ties the attempt context and the in-flight slot to the stream.
type ownedStream struct {
	provider.Stream
	cancel  context.CancelFunc
	release func()
	once    sync.Once
}

func (s *ownedStream) Close() error {
	err := s.Stream.Close()
	s.once.Do(func() {
		s.cancel()
		s.release()
	})
	return err
}
