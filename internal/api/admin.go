package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/replydesk/aigateway/internal/budget"
	"github.com/replydesk/aigateway/internal/cache"
	"github.com/replydesk/aigateway/internal/domain"
	"github.com/replydesk/aigateway/internal/tenantcfg"
	"github.com/replydesk/aigateway/internal/usage"
)

// AdminHandler serves the management and query routes the dashboard backend
// uses: budget policies and status, usage summaries, cache activity and
// invalidation, config cache invalidation.
type AdminHandler struct {
	ledger   *budget.Ledger
	policies budget.PolicyStore
	usage    usage.Store
	cache    cache.Cache
	tenants  tenantcfg.Store
	mux      *http.ServeMux
}

func NewAdminHandler(ledger *budget.Ledger, policies budget.PolicyStore, usageStore usage.Store, responseCache cache.Cache, tenants tenantcfg.Store) *AdminHandler {
	h := &AdminHandler{
		ledger:   ledger,
		policies: policies,
		usage:    usageStore,
		cache:    responseCache,
		tenants:  tenants,
		mux:      http.NewServeMux(),
	}

	h.mux.HandleFunc("GET /v1/tenants/{id}/budget", h.getBudget)
	h.mux.HandleFunc("PUT /v1/tenants/{id}/budget", h.putBudget)
	h.mux.HandleFunc("GET /v1/tenants/{id}/usage", h.getUsage)
	h.mux.HandleFunc("GET /v1/tenants/{id}/cache/activity", h.getCacheActivity)
	h.mux.HandleFunc("DELETE /v1/tenants/{id}/cache", h.deleteCache)
	h.mux.HandleFunc("POST /v1/tenants/{id}/config/invalidate", h.invalidateConfig)
	h.mux.HandleFunc("GET /v1/cache/stats", h.getCacheStats)

	return h
}

func (h *AdminHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *AdminHandler) getBudget(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	status, err := h.ledger.Status(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrTenantNotFound) {
			writeError(w, http.StatusNotFound, "no budget policy for tenant")
			return
		}
		slog.Error("failed to read budget status", "error", err, "tenant_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

type putBudgetRequest struct {
	Unit       domain.BudgetUnit   `json:"unit"`
	Limit      float64             `json:"limit"`
	Period     domain.BudgetPeriod `json:"period"`
	HardPause  bool                `json:"hard_pause"`
	Thresholds []float64           `json:"thresholds,omitempty"`
}

func (h *AdminHandler) putBudget(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	var req putBudgetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch req.Unit {
	case domain.BudgetUnitTokens, domain.BudgetUnitUSD:
	default:
		writeError(w, http.StatusBadRequest, "unit must be tokens or usd")
		return
	}
	switch req.Period {
	case domain.BudgetPeriodDaily, domain.BudgetPeriodWeekly, domain.BudgetPeriodMonthly:
	default:
		writeError(w, http.StatusBadRequest, "period must be daily, weekly or monthly")
		return
	}
	if req.Limit <= 0 {
		writeError(w, http.StatusBadRequest, "limit must be positive")
		return
	}

	policy := &domain.BudgetPolicy{
		TenantID:   id,
		Unit:       req.Unit,
		Limit:      req.Limit,
		Period:     req.Period,
		HardPause:  req.HardPause,
		Thresholds: req.Thresholds,
		UpdatedAt:  time.Now().UTC(),
	}

	if err := h.policies.SetPolicy(ctx, policy); err != nil {
		slog.Error("failed to set budget policy", "error", err, "tenant_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("budget policy updated",
		"tenant_id", id,
		"unit", policy.Unit,
		"limit", policy.Limit,
		"period", policy.Period,
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(policy)
}

func (h *AdminHandler) getUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	summary, err := h.usage.Summary(ctx, id, sinceParam(r))
	if err != nil {
		slog.Error("failed to query usage summary", "error", err, "tenant_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

func (h *AdminHandler) getCacheActivity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	activity, err := h.usage.CacheActivity(ctx, id, sinceParam(r))
	if err != nil {
		slog.Error("failed to query cache activity", "error", err, "tenant_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if activity == nil {
		activity = []domain.CacheActivity{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"tenant_id": id,
		"activity":  activity,
	})
}

func (h *AdminHandler) deleteCache(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	if err := h.cache.InvalidateTenant(ctx, id); err != nil {
		slog.Error("failed to invalidate tenant cache", "error", err, "tenant_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("tenant cache invalidated", "tenant_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) invalidateConfig(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	h.tenants.Invalidate(id)

	slog.Info("tenant config invalidated", "tenant_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) getCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.cache.Stats(r.Context())
	if err != nil {
		slog.Error("failed to read cache stats", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// sinceParam parses the window start for query routes; ?since=RFC3339 or
// ?hours=N, defaulting to the last 24 hours.
func sinceParam(r *http.Request) time.Time {
	if raw := r.URL.Query().Get("since"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t
		}
	}
	if raw := r.URL.Query().Get("hours"); raw != "" {
		if hours, err := time.ParseDuration(raw + "h"); err == nil {
			return time.Now().UTC().Add(-hours)
		}
	}
	return time.Now().UTC().Add(-24 * time.Hour)
}
