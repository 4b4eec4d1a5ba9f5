package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angeloszaimis/provider-router/internal/circuitbreaker"
	"github.com/angeloszaimis/provider-router/internal/fallback"
	"github.com/angeloszaimis/provider-router/internal/metrics"
	"github.com/angeloszaimis/provider-router/internal/provider"
	"github.com/angeloszaimis/provider-router/internal/registry"
	"github.com/angeloszaimis/provider-router/internal/router"
)

// Router is the routing entry point behind POST /route.
type Router interface {
	Route(ctx context.Context, req *provider.Request, tier provider.Tier) (*fallback.Result, error)
}

// AdminHandler serves the operator endpoints.
type AdminHandler struct {
	logger    *slog.Logger
	registry  *registry.Registry
	breakers  *circuitbreaker.Registry
	collector *metrics.Collector
	gatherer  prometheus.Gatherer
	router    Router
	strategy  string
}

type routeRequest struct {
	provider.Request
	Tier string `json:"tier,omitempty"`
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func NewAdminHandler(
	logger *slog.Logger,
	reg *registry.Registry,
	breakers *circuitbreaker.Registry,
	collector *metrics.Collector,
	gatherer prometheus.Gatherer,
	rt Router,
	strategy string,
) *AdminHandler {
	return &AdminHandler{
		logger:    logger.With(slog.String("component", "admin")),
		registry:  reg,
		breakers:  breakers,
		collector: collector,
		gatherer:  gatherer,
		router:    rt,
		strategy:  strategy,
	}
}

// Routes builds the admin router.
func (h *AdminHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/healthz", h.Healthz)
	r.Get("/status", h.Status)

	r.Route("/breakers", func(r chi.Router) {
		r.Get("/", h.Breakers)
		r.Post("/reset", h.ResetAllBreakers)
		r.Post("/{id}/reset", h.ResetBreaker)
	})

	if h.router != nil {
		r.Post("/route", h.Route)
	}

	r.Route("/metrics", func(r chi.Router) {
		r.Get("/summary", h.MetricsSummary)
		r.Get("/events", h.collector.Handler(h.strategy))
		if h.gatherer != nil {
			r.Method(http.MethodGet, "/", metrics.PrometheusHandler(h.gatherer))
		}
	})

	return r
}

// Healthz reports 200 while the last sweep saw at least one healthy provider.
func (h *AdminHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	statuses := h.registry.Statuses()
	healthy := 0
	for _, s := range statuses {
		if s.Healthy {
			healthy++
		}
	}

	status, code := "ok", http.StatusOK
	if healthy == 0 {
		status, code = "unavailable", http.StatusServiceUnavailable
	}

	respondJSON(w, code, map[string]any{
		"status":            status,
		"providers":         len(statuses),
		"healthy_providers": healthy,
	})
}

func (h *AdminHandler) Status(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"strategy":  h.strategy,
		"providers": h.registry.Statuses(),
	})
}

func (h *AdminHandler) Breakers(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.breakers.Snapshots())
}

func (h *AdminHandler) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.breakers.Reset(id) {
		respondError(w, http.StatusNotFound, "not_found", "no circuit breaker for "+id)
		return
	}

	h.logger.Info("Circuit breaker reset by operator", slog.String("provider", id))
	cb, _ := h.breakers.Lookup(id)
	respondJSON(w, http.StatusOK, cb.Snapshot())
}

func (h *AdminHandler) ResetAllBreakers(w http.ResponseWriter, r *http.Request) {
	h.breakers.ResetAll()
	h.logger.Info("All circuit breakers reset by operator")
	respondJSON(w, http.StatusOK, h.breakers.Snapshots())
}

func (h *AdminHandler) MetricsSummary(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.registry.AggregatedMetrics(r.Context()))
}

// Route sends a test prompt through the router and returns the full attempt
// trace. Exhaustion under fail_fast answers 502 with the trace attached.
func (h *AdminHandler) Route(w http.ResponseWriter, r *http.Request) {
	var body routeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	res, err := h.router.Route(r.Context(), &body.Request, provider.ParseTier(body.Tier))

	var exhausted *fallback.ExhaustedError
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, res)
	case errors.Is(err, router.ErrEmptyPrompt):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.As(err, &exhausted):
		respondJSON(w, http.StatusBadGateway, map[string]any{
			"error": err.Error(),
			"trace": exhausted.Trace(),
		})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "timeout", err.Error())
	default:
		h.logger.Error("Route failed", slog.Any("err", err))
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func (h *AdminHandler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		h.logger.Debug("Admin request",
			slog.String("from", extractClientIP(r)),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", wrapped.statusCode),
			slog.Duration("latency", time.Since(start)))
	})
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, statusCode int, err string, message string) {
	respondJSON(w, statusCode, errorResponse{Error: err, Message: message})
}
