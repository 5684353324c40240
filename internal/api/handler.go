// Package api is the HTTP surface the dashboard backend calls: the
// completion endpoint plus management and query routes.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/replydesk/aigateway/internal/domain"
	"github.com/replydesk/aigateway/internal/gateway"
	"github.com/replydesk/aigateway/internal/metrics"
	"github.com/replydesk/aigateway/internal/ratelimit"
)

type HandlerConfig struct {
	Gateway      *gateway.Gateway
	RateLimiter  ratelimit.Limiter
	RateLimitRPM int
	Admin        *AdminHandler
	Health       HealthCheckConfig
}

type Handler struct {
	gateway      *gateway.Gateway
	rateLimiter  ratelimit.Limiter
	rateLimitRPM int
	mux          *http.ServeMux
}

func NewHandler(cfg HandlerConfig) *Handler {
	rpm := cfg.RateLimitRPM
	if rpm == 0 {
		rpm = 300
	}

	h := &Handler{
		gateway:      cfg.Gateway,
		rateLimiter:  cfg.RateLimiter,
		rateLimitRPM: rpm,
		mux:          http.NewServeMux(),
	}

	h.mux.HandleFunc("POST /v1/completions", h.handleCompletions)
	h.mux.HandleFunc("GET /health", h.handleHealthLive)
	h.mux.HandleFunc("GET /health/live", h.handleHealthLive)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	timeout := cfg.Health.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	h.mux.HandleFunc("GET /health/ready", handleHealthReady(cfg.Health.Checkers, timeout))

	if cfg.Admin != nil {
		h.mux.Handle("/v1/tenants/", cfg.Admin)
		h.mux.Handle("GET /v1/cache/stats", cfg.Admin)
	}

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// CompletionRequest is the wire shape of POST /v1/completions. The dashboard
// backend is a trusted internal caller, so the tenant is named in the body
// rather than authenticated. Cacheable opts the request into the response
// cache; conversational turns that depend on non-repeatable context leave it
// unset.
type CompletionRequest struct {
	TenantID  string           `json:"tenant_id"`
	Messages  []domain.Message `json:"messages"`
	Model     *domain.ModelRef `json:"model,omitempty"`
	Cacheable bool             `json:"cacheable,omitempty"`
}

func (h *Handler) handleCompletions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	requestID := r.Header.Get("X-Request-ID")

	var req CompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if h.rateLimiter != nil && req.TenantID != "" {
		allowed, remaining, resetAt, err := h.rateLimiter.Allow(ctx, req.TenantID, h.rateLimitRPM)
		if err != nil {
			slog.Error("rate limiter error", "error", err, "tenant_id", req.TenantID)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(h.rateLimitRPM))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", resetAt.Format(time.RFC3339))

		if !allowed {
			metrics.RecordRateLimitHit(req.TenantID)
			slog.Warn("rate limit exceeded", "tenant_id", req.TenantID)
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
	}

	result, err := h.gateway.Execute(ctx, gateway.Request{
		TenantID:      req.TenantID,
		RequestID:     requestID,
		Messages:      req.Messages,
		ModelOverride: req.Model,
		Cacheable:     req.Cacheable,
	})
	if err != nil {
		writeGatewayError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", result.RequestID)
	if result.CacheHit {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	json.NewEncoder(w).Encode(result)
}

func (h *Handler) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func writeGatewayError(w http.ResponseWriter, err error) {
	var exhausted *domain.ExhaustedError
	var budgetErr *domain.BudgetExceededError
	var providerErr *domain.ProviderError

	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrTenantNotFound):
		writeError(w, http.StatusNotFound, "tenant not found")
	case errors.Is(err, domain.ErrTenantInactive):
		writeError(w, http.StatusForbidden, "tenant inactive")
	case errors.As(err, &budgetErr):
		writeError(w, http.StatusPaymentRequired, budgetErr.Error())
	case errors.As(err, &exhausted):
		writeExhausted(w, exhausted)
	case errors.As(err, &providerErr) && providerErr.Class == domain.ClassInvalidRequest:
		writeError(w, http.StatusBadRequest, providerErr.Error())
	default:
		slog.Error("completion failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeExhausted(w http.ResponseWriter, exhausted *domain.ExhaustedError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": "all providers exhausted",
			"type":    "exhausted",
			"code":    http.StatusBadGateway,
		},
		"attempts": exhausted.Attempts,
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "error",
			"code":    status,
		},
	})
}
