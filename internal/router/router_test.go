package router_test

import (
	"context"
	"errors"
	"io"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/provider-router/internal/circuitbreaker"
	"github.com/angeloszaimis/provider-router/internal/fallback"
	"github.com/angeloszaimis/provider-router/internal/metrics"
	"github.com/angeloszaimis/provider-router/internal/provider"
	"github.com/angeloszaimis/provider-router/internal/provider/stub"
	"github.com/angeloszaimis/provider-router/internal/registry"
	"github.com/angeloszaimis/provider-router/internal/retry"
	"github.com/angeloszaimis/provider-router/internal/router"
)

var _ = Describe("Router", func() {
	var (
		ctx     context.Context
		reg     *registry.Registry
		clients map[string]*stub.Client
		rec     *recorder
		cfg     fallback.Config
		opts    router.Options
	)

	register := func(id string, tier provider.Tier, timeout time.Duration) {
		client := stub.New(stub.Config{ID: id})
		clients[id] = client
		spec := provider.Spec{
			ID:         id,
			Kind:       stub.Kind,
			Capability: provider.Capability{PreferredTier: tier, Timeout: timeout},
		}
		Expect(reg.Register(provider.NewBackend(spec, client))).To(Succeed())
	}

	newRouter := func() *router.Router {
		breakers := circuitbreaker.NewRegistry(circuitbreaker.Settings{})
		exec := fallback.New(cfg, breakers, discard)
		return router.New(reg, exec, rec, rec, opts, discard)
	}

	BeforeEach(func() {
		ctx = context.Background()
		clients = make(map[string]*stub.Client)
		rec = &recorder{}
		opts = router.Options{}
		cfg = fallback.Config{
			MaxAttempts: 3,
			Timeout:     time.Second,
			Mode:        fallback.ModeGraceful,
			Backoff:     retry.Policy{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
		}
		reg = registry.New(registry.Options{
			ProbeTimeout:  100 * time.Millisecond,
			FallbackOrder: []string{"anthropic", "openai", "gemini"},
		}, discard)

		register("openai", provider.TierComplex, 20*time.Second)
		register("anthropic", provider.TierComplex, 30*time.Second)
		register("gemini", provider.TierSimple, 5*time.Second)
	})

	It("should serve from the best provider for the tier", func() {
		res, err := newRouter().Route(ctx, &provider.Request{Prompt: "explain monads"}, provider.TierComplex)
		Expect(err).NotTo(HaveOccurred())

		Expect(res.FinalBackend).To(Equal("openai"))
		Expect(res.FallbacksUsed).To(BeZero())
		Expect(res.Response.Content).To(ContainSubstring("explain monads"))

		selected := rec.ofType(metrics.EventBackendSelected)
		Expect(selected).To(HaveLen(1))
		Expect(selected[0].Backend).To(Equal("openai"))
		Expect(rec.ofType(metrics.EventAttemptCompleted)).To(HaveLen(1))
		Expect(rec.results).To(HaveLen(1))
	})

	It("should fall back in configured order", func() {
		clients["openai"].SetFailure(provider.KindRateLimit)

		res, err := newRouter().Route(ctx, &provider.Request{Prompt: "hi"}, provider.TierComplex)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Tried()).To(Equal([]string{"openai", "anthropic"}))
		Expect(res.FinalBackend).To(Equal("anthropic"))

		attempts := rec.ofType(metrics.EventAttemptCompleted)
		Expect(attempts).To(HaveLen(2))
		Expect(attempts[0].Kind).To(Equal(string(provider.KindRateLimit)))

		done := rec.ofType(metrics.EventRequestCompleted)
		Expect(done).To(HaveLen(1))
		Expect(done[0].FallbacksUsed).To(Equal(1))
	})

	It("should use the default provider for requests without a tier", func() {
		opts.DefaultProvider = "anthropic"

		res, err := newRouter().Route(ctx, &provider.Request{Prompt: "hi"}, provider.TierNone)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.FinalBackend).To(Equal("anthropic"))
	})

	It("should ignore the default provider when a tier is given", func() {
		opts.DefaultProvider = "anthropic"

		res, err := newRouter().Route(ctx, &provider.Request{Prompt: "hi"}, provider.TierSimple)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.FinalBackend).To(Equal("gemini"))
	})

	It("should degrade when no provider is healthy", func() {
		for _, c := range clients {
			c.SetAvailable(false)
		}

		res, err := newRouter().Route(ctx, &provider.Request{Prompt: "hi"}, provider.TierComplex)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Degraded).To(BeTrue())
		Expect(res.Attempts).To(BeEmpty())
		Expect(rec.ofType(metrics.EventBackendSelected)).To(BeEmpty())
	})

	It("should report an exhausted chain in fail fast mode without re-routing", func() {
		cfg.Mode = fallback.ModeFailFast
		for _, c := range clients {
			c.SetFailure(provider.KindNetwork)
		}

		res, err := newRouter().Route(ctx, &provider.Request{Prompt: "hi"}, provider.TierComplex)
		Expect(res).To(BeNil())
		Expect(errors.Is(err, fallback.ErrChainExhausted)).To(BeTrue())

		for id, c := range clients {
			Expect(c.Calls()).To(BeNumerically("<=", 1), id)
		}

		done := rec.ofType(metrics.EventRequestCompleted)
		Expect(done).To(HaveLen(1))
		Expect(done[0].Failed).To(BeTrue())
		Expect(rec.results).To(HaveLen(1))
		Expect(rec.results[0].Attempts).To(HaveLen(3))
	})

	It("should reject an empty prompt", func() {
		_, err := newRouter().Route(ctx, &provider.Request{Prompt: "  "}, provider.TierSimple)
		Expect(err).To(MatchError(router.ErrEmptyPrompt))
	})

	It("should stream from the chosen provider", func() {
		res, err := newRouter().RouteStream(ctx, &provider.Request{Prompt: "stream me"}, provider.TierSimple)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.FinalBackend).To(Equal("gemini"))
		defer res.Stream.Close()

		var last provider.Chunk
		for {
			chunk, err := res.Stream.Recv()
			if err == io.EOF {
				break
			}
			Expect(err).NotTo(HaveOccurred())
			last = chunk
		}
		Expect(last.Done).To(BeTrue())
	})
})
