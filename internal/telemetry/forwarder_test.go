package telemetry_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/provider-router/internal/fallback"
	"github.com/angeloszaimis/provider-router/internal/provider"
	"github.com/angeloszaimis/provider-router/internal/telemetry"
)

func servedResult() *fallback.Result {
	return &fallback.Result{
		RequestID: "req-1",
		Attempts: []fallback.AttemptRecord{
			{RequestID: "req-1", Backend: "openai", Ordinal: 1, Error: &fallback.AttemptError{Kind: provider.KindTimeout}},
			{RequestID: "req-1", Backend: "anthropic", Ordinal: 2, Success: true},
		},
		FinalBackend:  "anthropic",
		FallbacksUsed: 1,
		Response: &provider.Response{
			Provider: "anthropic",
			Usage:    provider.Usage{InputTokens: 12, OutputTokens: 30, CostUSD: 0.004},
		},
	}
}

func exhaustedResult() *fallback.Result {
	return &fallback.Result{
		RequestID: "req-2",
		Attempts: []fallback.AttemptRecord{
			{RequestID: "req-2", Backend: "openai", Ordinal: 1, Error: &fallback.AttemptError{Kind: provider.KindCircuitOpen}},
			{RequestID: "req-2", Backend: "gemini", Ordinal: 2, Error: &fallback.AttemptError{Kind: provider.KindRateLimit}},
		},
		Degraded: true,
	}
}

var _ = Describe("Forwarder", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		sink   *recordingSink
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		sink = &recordingSink{}
	})

	AfterEach(func() {
		cancel()
	})

	It("should record attempts and cost for a served request", func() {
		f := telemetry.NewForwarder(sink, 10, time.Second, discard)
		f.Start(ctx)

		Expect(f.Forward(servedResult())).To(BeTrue())

		Eventually(func() int {
			_, _, _, flushes := sink.counts()
			return flushes
		}).Should(Equal(1))

		attempts, costs, errs, _ := sink.counts()
		Expect(attempts).To(Equal(2))
		Expect(costs).To(Equal(1))
		Expect(errs).To(BeZero())
		Expect(sink.costs[0].Backend).To(Equal("anthropic"))
		Expect(sink.costs[0].Usage.TotalTokens()).To(Equal(42))
	})

	It("should record an error trace when nobody served the request", func() {
		f := telemetry.NewForwarder(sink, 10, time.Second, discard)
		f.Start(ctx)

		f.Forward(exhaustedResult())

		Eventually(func() int {
			_, _, errs, _ := sink.counts()
			return errs
		}).Should(Equal(1))

		trace := sink.errors[0]
		Expect(trace.Tried).To(Equal([]string{"openai", "gemini"}))
		Expect(trace.Kinds).To(Equal([]provider.Kind{provider.KindCircuitOpen, provider.KindRateLimit}))
		Expect(trace.Degraded).To(BeTrue())
	})

	It("should swallow sink failures", func() {
		sink.fail = errors.New("sink offline")
		f := telemetry.NewForwarder(sink, 10, time.Second, discard)
		f.Start(ctx)

		Expect(f.Forward(servedResult())).To(BeTrue())
		Expect(f.Forward(exhaustedResult())).To(BeTrue())

		Eventually(func() int {
			_, _, _, flushes := sink.counts()
			return flushes
		}).Should(Equal(2))
	})

	It("should drop results instead of blocking when the buffer is full", func() {
		sink.block = make(chan struct{})
		f := telemetry.NewForwarder(sink, 1, time.Second, discard)
		f.Start(ctx)

		f.Forward(servedResult())
		Eventually(func() bool { return f.Forward(servedResult()) }).Should(BeTrue())

		start := time.Now()
		Expect(f.Forward(servedResult())).To(BeFalse())
		Expect(time.Since(start)).To(BeNumerically("<", 100*time.Millisecond))
		Expect(f.Dropped()).To(BeNumerically(">=", 1))

		close(sink.block)
	})

	It("should drain queued results on shutdown", func() {
		f := telemetry.NewForwarder(sink, 10, time.Second, discard)
		for i := 0; i < 3; i++ {
			f.Forward(servedResult())
		}

		f.Start(ctx)
		cancel()
		Eventually(f.Done()).Should(BeClosed())

		_, _, _, flushes := sink.counts()
		Expect(flushes).To(Equal(3))
	})

	It("should ignore nil results", func() {
		f := telemetry.NewForwarder(sink, 1, time.Second, discard)
		Expect(f.Forward(nil)).To(BeFalse())
		Expect(f.Dropped()).To(BeZero())
	})
})

var _ = Describe("MultiSink", func() {
	It("should fan out and join errors", func() {
		good := &recordingSink{}
		bad := &recordingSink{fail: errors.New("boom")}
		multi := telemetry.MultiSink{good, bad, telemetry.NopSink{}}

		err := multi.RecordAttempt(context.Background(), fallback.AttemptRecord{Backend: "openai"})
		Expect(err).To(MatchError(ContainSubstring("boom")))
		Expect(multi.Flush(context.Background())).To(HaveOccurred())

		attempts, _, _, flushes := good.counts()
		Expect(attempts).To(Equal(1))
		Expect(flushes).To(Equal(1))
	})

	It("should succeed when every sink does", func() {
		multi := telemetry.MultiSink{telemetry.NopSink{}, telemetry.NewLogSink(discard)}
		Expect(multi.RecordError(context.Background(), telemetry.ErrorTrace{RequestID: "r"})).To(Succeed())
		Expect(multi.RecordCost(context.Background(), telemetry.CostRecord{Backend: "x"})).To(Succeed())
	})
})
