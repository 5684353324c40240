package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/replydesk/aigateway/internal/cache"
	"github.com/replydesk/aigateway/internal/domain"
)

func adminRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPutAndGetBudget(t *testing.T) {
	env := newAPIEnv(t, 300)

	rec := adminRequest(t, env.handler, http.MethodPut, "/v1/tenants/t1/budget",
		`{"unit":"tokens","limit":50000,"period":"monthly","hard_pause":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, want 200, body: %s", rec.Code, rec.Body.String())
	}

	rec = adminRequest(t, env.handler, http.MethodGet, "/v1/tenants/t1/budget", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET status = %d, want 200, body: %s", rec.Code, rec.Body.String())
	}

	var status domain.BudgetStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if status.Policy.Limit != 50000 {
		t.Errorf("Limit = %v, want 50000", status.Policy.Limit)
	}
	if status.Policy.Unit != domain.BudgetUnitTokens {
		t.Errorf("Unit = %q, want tokens", status.Policy.Unit)
	}
	if status.CurrentUsage != 0 {
		t.Errorf("CurrentUsage = %v, want 0", status.CurrentUsage)
	}
}

func TestGetBudgetNoPolicy(t *testing.T) {
	env := newAPIEnv(t, 300)

	rec := adminRequest(t, env.handler, http.MethodGet, "/v1/tenants/ghost/budget", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestPutBudgetValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad unit", `{"unit":"euros","limit":100,"period":"monthly"}`},
		{"bad period", `{"unit":"usd","limit":100,"period":"hourly"}`},
		{"zero limit", `{"unit":"usd","limit":0,"period":"monthly"}`},
		{"negative limit", `{"unit":"usd","limit":-5,"period":"monthly"}`},
		{"malformed body", `{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newAPIEnv(t, 300)
			rec := adminRequest(t, env.handler, http.MethodPut, "/v1/tenants/t1/budget", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestGetUsageSummary(t *testing.T) {
	env := newAPIEnv(t, 300)
	now := time.Now().UTC()
	env.store.Append(context.Background(), domain.UsageRecord{
		TenantID: "t1", Provider: "openai", Model: "gpt-4o",
		InputTokens: 100, OutputTokens: 50, CostUSD: 0.5,
		Success: true, Timestamp: now,
	})

	rec := adminRequest(t, env.handler, http.MethodGet, "/v1/tenants/t1/usage?hours=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var summary domain.UsageSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if summary.Requests != 1 {
		t.Errorf("Requests = %d, want 1", summary.Requests)
	}
	if summary.CostUSD != 0.5 {
		t.Errorf("CostUSD = %v, want 0.5", summary.CostUSD)
	}
}

func TestGetCacheActivity(t *testing.T) {
	env := newAPIEnv(t, 300)
	env.store.Append(context.Background(), domain.UsageRecord{
		TenantID: "t1", Provider: "openai", Model: "gpt-4o",
		InputTokens: 100, OutputTokens: 100,
		Cached: true, SavedCostUSD: 0.25, Success: true,
		Timestamp: time.Now().UTC(),
	})

	rec := adminRequest(t, env.handler, http.MethodGet, "/v1/tenants/t1/cache/activity", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		TenantID string                 `json:"tenant_id"`
		Activity []domain.CacheActivity `json:"activity"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Activity) != 1 {
		t.Fatalf("len(activity) = %d, want 1", len(body.Activity))
	}
	if body.Activity[0].Hits != 1 {
		t.Errorf("Hits = %d, want 1", body.Activity[0].Hits)
	}
}

func TestGetCacheActivityEmpty(t *testing.T) {
	env := newAPIEnv(t, 300)

	rec := adminRequest(t, env.handler, http.MethodGet, "/v1/tenants/t1/cache/activity", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"activity":[]`) {
		t.Errorf("body = %s, want empty activity array", rec.Body.String())
	}
}

func TestDeleteTenantCache(t *testing.T) {
	env := newAPIEnv(t, 300)
	ctx := context.Background()

	key := cache.Fingerprint("t1", domain.ModelRef{Provider: "openai", Model: "gpt-4o"},
		[]domain.Message{{Role: "user", Content: "hi"}}, domain.GenerationParams{})
	env.cache.Store(ctx, "t1", key, &cache.Entry{Text: "cached"}, time.Minute)

	rec := adminRequest(t, env.handler, http.MethodDelete, "/v1/tenants/t1/cache", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}

	if _, ok := env.cache.Lookup(ctx, "t1", key); ok {
		t.Error("cache entry survived tenant invalidation")
	}
}

func TestInvalidateTenantConfig(t *testing.T) {
	env := newAPIEnv(t, 300)

	rec := adminRequest(t, env.handler, http.MethodPost, "/v1/tenants/t1/config/invalidate", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
}

func TestGetCacheStats(t *testing.T) {
	env := newAPIEnv(t, 300)

	rec := adminRequest(t, env.handler, http.MethodGet, "/v1/cache/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var stats cache.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}
