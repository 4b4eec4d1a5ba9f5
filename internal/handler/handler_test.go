package handler_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angeloszaimis/provider-router/internal/circuitbreaker"
	"github.com/angeloszaimis/provider-router/internal/fallback"
	"github.com/angeloszaimis/provider-router/internal/handler"
	"github.com/angeloszaimis/provider-router/internal/metrics"
	"github.com/angeloszaimis/provider-router/internal/provider"
	"github.com/angeloszaimis/provider-router/internal/provider/stub"
	"github.com/angeloszaimis/provider-router/internal/registry"
	"github.com/angeloszaimis/provider-router/internal/retry"
	"github.com/angeloszaimis/provider-router/internal/router"
)

var _ = Describe("AdminHandler", func() {
	var (
		log       *slog.Logger
		reg       *registry.Registry
		breakers  *circuitbreaker.Registry
		collector *metrics.Collector
		promReg   *prometheus.Registry
		routes    http.Handler
		cancel    context.CancelFunc
	)

	serveBody := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		rr := httptest.NewRecorder()
		routes.ServeHTTP(rr, req)
		return rr
	}

	serve := func(method, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		rr := httptest.NewRecorder()
		routes.ServeHTTP(rr, req)
		return rr
	}

	BeforeEach(func() {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
		reg = registry.New(registry.Options{ProbeTimeout: time.Second}, log)
		breakers = circuitbreaker.NewRegistry(circuitbreaker.Settings{FailureThreshold: 2})
		promReg = prometheus.NewRegistry()
		collector = metrics.NewCollector(16, promReg, log)

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		collector.Start(ctx)

		for _, id := range []string{"openai", "gemini"} {
			b := provider.NewBackend(provider.Spec{ID: id, Kind: stub.Kind}, stub.New(stub.Config{ID: id}))
			Expect(reg.Register(b)).To(Succeed())
		}

		executor := fallback.New(fallback.Config{
			Mode:    fallback.ModeFailFast,
			Timeout: time.Second,
			Backoff: retry.Policy{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
		}, breakers, log)
		rt := router.New(reg, executor, collector, nil, router.Options{}, log)

		routes = handler.NewAdminHandler(log, reg, breakers, collector, promReg, rt, "tier-affinity").Routes()
	})

	AfterEach(func() {
		cancel()
	})

	Describe("GET /healthz", func() {
		It("should be ok while a provider is healthy", func() {
			rr := serve(http.MethodGet, "/healthz")
			Expect(rr.Code).To(Equal(http.StatusOK))

			var body map[string]any
			Expect(json.Unmarshal(rr.Body.Bytes(), &body)).To(Succeed())
			Expect(body["status"]).To(Equal("ok"))
			Expect(body["healthy_providers"]).To(BeEquivalentTo(2))
		})

		It("should be unavailable when no provider is healthy", func() {
			for _, b := range reg.Backends() {
				b.SetHealthy(false)
			}
			rr := serve(http.MethodGet, "/healthz")
			Expect(rr.Code).To(Equal(http.StatusServiceUnavailable))
		})
	})

	Describe("GET /status", func() {
		It("should list every provider", func() {
			rr := serve(http.MethodGet, "/status")
			Expect(rr.Code).To(Equal(http.StatusOK))
			Expect(rr.Header().Get("Content-Type")).To(Equal("application/json"))

			var body struct {
				Strategy  string                   `json:"strategy"`
				Providers []registry.BackendStatus `json:"providers"`
			}
			Expect(json.Unmarshal(rr.Body.Bytes(), &body)).To(Succeed())
			Expect(body.Strategy).To(Equal("tier-affinity"))
			Expect(body.Providers).To(HaveLen(2))
			Expect(body.Providers[0].ID).To(Equal("openai"))
		})
	})

	Describe("breakers", func() {
		BeforeEach(func() {
			cb := breakers.Get("openai")
			cb.OnFailure()
			cb.OnFailure()
			Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
		})

		It("should list breaker snapshots", func() {
			rr := serve(http.MethodGet, "/breakers")
			Expect(rr.Code).To(Equal(http.StatusOK))
			Expect(rr.Body.String()).To(ContainSubstring(`"state":"OPEN"`))
		})

		It("should reset one breaker", func() {
			rr := serve(http.MethodPost, "/breakers/openai/reset")
			Expect(rr.Code).To(Equal(http.StatusOK))
			Expect(breakers.Get("openai").State()).To(Equal(circuitbreaker.StateClosed))
		})

		It("should 404 for an unknown breaker", func() {
			rr := serve(http.MethodPost, "/breakers/nobody/reset")
			Expect(rr.Code).To(Equal(http.StatusNotFound))
			Expect(rr.Body.String()).To(ContainSubstring("not_found"))
		})

		It("should reset every breaker", func() {
			breakers.Get("gemini").OnFailure()
			rr := serve(http.MethodPost, "/breakers/reset")
			Expect(rr.Code).To(Equal(http.StatusOK))
			Expect(breakers.Stats()).To(HaveKeyWithValue("openai", circuitbreaker.StateClosed))
			Expect(breakers.Get("gemini").Snapshot().ConsecutiveFailures).To(BeZero())
		})

		It("should reject the wrong method", func() {
			rr := serve(http.MethodGet, "/breakers/openai/reset")
			Expect(rr.Code).To(Equal(http.StatusMethodNotAllowed))
		})
	})

	Describe("metrics", func() {
		It("should serve the aggregated provider counters", func() {
			b, _ := reg.Backend("openai")
			_, err := b.Client().Generate(context.Background(), &provider.Request{Prompt: "count me"})
			Expect(err).NotTo(HaveOccurred())

			rr := serve(http.MethodGet, "/metrics/summary")
			Expect(rr.Code).To(Equal(http.StatusOK))

			var agg metrics.Aggregated
			Expect(json.Unmarshal(rr.Body.Bytes(), &agg)).To(Succeed())
			Expect(agg.TotalRequests).To(BeEquivalentTo(1))
			Expect(agg.Backends).To(HaveKey("openai"))
		})

		It("should serve the event snapshot", func() {
			collector.Emit(metrics.MetricEvent{Type: metrics.EventBackendSelected, Backend: "gemini"})

			Eventually(func() int64 {
				return collector.Snapshot("").Backends["gemini"].Selections
			}).Should(BeEquivalentTo(1))

			rr := serve(http.MethodGet, "/metrics/events")
			Expect(rr.Code).To(Equal(http.StatusOK))
			Expect(rr.Body.String()).To(ContainSubstring(`"gemini"`))
		})

		It("should expose Prometheus series", func() {
			collector.Emit(metrics.MetricEvent{Type: metrics.EventBackendSelected, Backend: "openai"})
			Eventually(func() int64 {
				return collector.Snapshot("").Backends["openai"].Selections
			}).Should(BeEquivalentTo(1))

			rr := serve(http.MethodGet, "/metrics")
			Expect(rr.Code).To(Equal(http.StatusOK))
			Expect(rr.Body.String()).To(ContainSubstring("router_primary_selections_total"))
		})
	})

	Describe("POST /route", func() {
		failAll := func(kind provider.Kind) {
			for _, b := range reg.Backends() {
				b.Client().(*stub.Client).SetFailure(kind)
			}
		}

		It("should return the served response and its trace", func() {
			rr := serveBody(http.MethodPost, "/route", `{"prompt":"hello","tier":"simple"}`)
			Expect(rr.Code).To(Equal(http.StatusOK))

			var res fallback.Result
			Expect(json.Unmarshal(rr.Body.Bytes(), &res)).To(Succeed())
			Expect(res.RequestID).NotTo(BeEmpty())
			Expect(res.FinalBackend).NotTo(BeEmpty())
			Expect(res.Attempts).To(HaveLen(1))
			Expect(res.Response).NotTo(BeNil())
		})

		It("should reject an empty prompt", func() {
			rr := serveBody(http.MethodPost, "/route", `{"prompt":"  "}`)
			Expect(rr.Code).To(Equal(http.StatusBadRequest))
		})

		It("should reject malformed JSON", func() {
			rr := serveBody(http.MethodPost, "/route", `{"prompt":`)
			Expect(rr.Code).To(Equal(http.StatusBadRequest))
			Expect(rr.Body.String()).To(ContainSubstring("invalid_request"))
		})

		It("should answer 502 with the trace when every provider fails", func() {
			failAll(provider.KindNetwork)

			rr := serveBody(http.MethodPost, "/route", `{"prompt":"hello"}`)
			Expect(rr.Code).To(Equal(http.StatusBadGateway))

			var body struct {
				Error string          `json:"error"`
				Trace fallback.Result `json:"trace"`
			}
			Expect(json.Unmarshal(rr.Body.Bytes(), &body)).To(Succeed())
			Expect(body.Error).To(ContainSubstring("fallback chain exhausted"))
			Expect(body.Trace.Tried()).To(ConsistOf("openai", "gemini"))
		})
	})
})
