package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/replydesk/aigateway/internal/budget"
	"github.com/replydesk/aigateway/internal/cache"
	"github.com/replydesk/aigateway/internal/circuitbreaker"
	"github.com/replydesk/aigateway/internal/domain"
	"github.com/replydesk/aigateway/internal/gateway"
	"github.com/replydesk/aigateway/internal/metrics"
	"github.com/replydesk/aigateway/internal/pricing"
	"github.com/replydesk/aigateway/internal/provider"
	"github.com/replydesk/aigateway/internal/ratelimit"
	"github.com/replydesk/aigateway/internal/secrets"
	"github.com/replydesk/aigateway/internal/tenantcfg"
	"github.com/replydesk/aigateway/internal/usage"
)

type stubProvider struct {
	name       string
	completion *domain.Completion
	err        error
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Complete(ctx context.Context, call provider.CompletionCall) (*domain.Completion, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.completion, nil
}

type apiEnv struct {
	handler  *Handler
	tenants  *tenantcfg.InMemoryStore
	resolver *secrets.InMemoryResolver
	registry *provider.Registry
	policies *budget.InMemoryPolicyStore
	ledger   *budget.Ledger
	cache    cache.Cache
	store    *usage.InMemoryStore
}

func newAPIEnv(t *testing.T, rpm int) *apiEnv {
	t.Helper()

	tenants := tenantcfg.NewInMemoryStore()
	resolver := secrets.NewInMemoryResolver()
	registry := provider.NewRegistry()
	policies := budget.NewInMemoryPolicyStore()
	ledger := budget.NewLedger(policies, budget.NewMemoryCounter(), nil)
	memCache := cache.NewInMemoryCache()
	t.Cleanup(memCache.Close)
	store := usage.NewInMemoryStore()
	recorder := usage.NewRecorder(store, ledger)
	t.Cleanup(recorder.Close)

	gw := gateway.New(gateway.Config{
		Tenants:         tenants,
		Secrets:         resolver,
		Ledger:          ledger,
		Cache:           memCache,
		Registry:        registry,
		Breakers:        circuitbreaker.NewManager(circuitbreaker.DefaultConfig()),
		Pricing:         pricing.NewTable(),
		Recorder:        recorder,
		CacheTTL:        time.Minute,
		ProviderTimeout: 5 * time.Second,
	})

	admin := NewAdminHandler(ledger, policies, store, memCache, tenants)
	handler := NewHandler(HandlerConfig{
		Gateway:      gw,
		RateLimiter:  ratelimit.NewInMemoryLimiter(),
		RateLimitRPM: rpm,
		Admin:        admin,
	})

	return &apiEnv{
		handler:  handler,
		tenants:  tenants,
		resolver: resolver,
		registry: registry,
		policies: policies,
		ledger:   ledger,
		cache:    memCache,
		store:    store,
	}
}

func (env *apiEnv) setTenant(tenantID string, primary domain.ModelRef) {
	env.resolver.Set("key-"+primary.Provider, "sk-"+primary.Provider)
	env.tenants.Set(&domain.TenantConfig{
		TenantID:   tenantID,
		Active:     true,
		Primary:    primary,
		SecretRefs: map[string]string{primary.Provider: "key-" + primary.Provider},
	})
}

func postCompletion(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCompletionsSuccess(t *testing.T) {
	env := newAPIEnv(t, 300)
	env.setTenant("t1", domain.ModelRef{Provider: "openai", Model: "gpt-4o"})
	env.registry.Register("openai", func(string) provider.Provider {
		return &stubProvider{name: "openai", completion: &domain.Completion{
			Text:  "hello",
			Model: "gpt-4o",
			Usage: domain.TokenUsage{InputTokens: 10, OutputTokens: 5},
		}}
	})

	rec := postCompletion(t, env.handler, `{"tenant_id":"t1","messages":[{"role":"user","content":"hi"}]}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("X-Cache"); got != "MISS" {
		t.Errorf("X-Cache = %q, want MISS", got)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}

	var result domain.FallbackResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.Text != "hello" {
		t.Errorf("Text = %q, want hello", result.Text)
	}
	if result.Provider != "openai" {
		t.Errorf("Provider = %q, want openai", result.Provider)
	}
}

func TestCompletionsCacheHitHeader(t *testing.T) {
	env := newAPIEnv(t, 300)
	env.setTenant("t1", domain.ModelRef{Provider: "openai", Model: "gpt-4o"})
	env.registry.Register("openai", func(string) provider.Provider {
		return &stubProvider{name: "openai", completion: &domain.Completion{
			Text:  "hello",
			Model: "gpt-4o",
			Usage: domain.TokenUsage{InputTokens: 10, OutputTokens: 5},
		}}
	})

	body := `{"tenant_id":"t1","messages":[{"role":"user","content":"hi"}],"cacheable":true}`
	postCompletion(t, env.handler, body)
	rec := postCompletion(t, env.handler, body)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("X-Cache"); got != "HIT" {
		t.Errorf("X-Cache = %q, want HIT", got)
	}
}

func TestCompletionsNotCacheableByDefault(t *testing.T) {
	env := newAPIEnv(t, 300)
	env.setTenant("t1", domain.ModelRef{Provider: "openai", Model: "gpt-4o"})
	env.registry.Register("openai", func(string) provider.Provider {
		return &stubProvider{name: "openai", completion: &domain.Completion{
			Text:  "hello",
			Model: "gpt-4o",
			Usage: domain.TokenUsage{InputTokens: 10, OutputTokens: 5},
		}}
	})

	body := `{"tenant_id":"t1","messages":[{"role":"user","content":"hi"}]}`
	postCompletion(t, env.handler, body)
	rec := postCompletion(t, env.handler, body)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("X-Cache"); got != "MISS" {
		t.Errorf("X-Cache = %q, want MISS for request not marked cacheable", got)
	}
}

func TestCompletionsErrorStatus(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(env *apiEnv)
		body       string
		wantStatus int
	}{
		{
			name:       "malformed body",
			setup:      func(env *apiEnv) {},
			body:       `{not json`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing messages",
			setup:      func(env *apiEnv) { env.setTenant("t1", domain.ModelRef{Provider: "openai", Model: "gpt-4o"}) },
			body:       `{"tenant_id":"t1"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown tenant",
			setup:      func(env *apiEnv) {},
			body:       `{"tenant_id":"ghost","messages":[{"role":"user","content":"hi"}]}`,
			wantStatus: http.StatusNotFound,
		},
		{
			name: "inactive tenant",
			setup: func(env *apiEnv) {
				env.tenants.Set(&domain.TenantConfig{TenantID: "t1", Active: false})
			},
			body:       `{"tenant_id":"t1","messages":[{"role":"user","content":"hi"}]}`,
			wantStatus: http.StatusForbidden,
		},
		{
			name: "budget exceeded",
			setup: func(env *apiEnv) {
				env.setTenant("t1", domain.ModelRef{Provider: "openai", Model: "gpt-4o"})
				env.policies.SetPolicy(context.Background(), &domain.BudgetPolicy{
					TenantID: "t1", Unit: domain.BudgetUnitTokens, Limit: 100,
					Period: domain.BudgetPeriodMonthly, HardPause: true,
				})
				env.ledger.RecordSpend(context.Background(), "t1",
					domain.TokenUsage{InputTokens: 100}, 0)
			},
			body:       `{"tenant_id":"t1","messages":[{"role":"user","content":"hi"}]}`,
			wantStatus: http.StatusPaymentRequired,
		},
		{
			name: "all providers exhausted",
			setup: func(env *apiEnv) {
				env.setTenant("t1", domain.ModelRef{Provider: "openai", Model: "gpt-4o"})
				env.registry.Register("openai", func(string) provider.Provider {
					return &stubProvider{name: "openai", err: &domain.ProviderError{
						Provider: "openai", Model: "gpt-4o", Class: domain.ClassTransport, Status: 500,
					}}
				})
			},
			body:       `{"tenant_id":"t1","messages":[{"role":"user","content":"hi"}]}`,
			wantStatus: http.StatusBadGateway,
		},
		{
			name: "provider rejects request",
			setup: func(env *apiEnv) {
				env.setTenant("t1", domain.ModelRef{Provider: "openai", Model: "gpt-4o"})
				env.registry.Register("openai", func(string) provider.Provider {
					return &stubProvider{name: "openai", err: &domain.ProviderError{
						Provider: "openai", Model: "gpt-4o", Class: domain.ClassInvalidRequest, Status: 400,
					}}
				})
			},
			body:       `{"tenant_id":"t1","messages":[{"role":"user","content":"hi"}]}`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newAPIEnv(t, 300)
			tt.setup(env)

			rec := postCompletion(t, env.handler, tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d, body: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestCompletionsExhaustedIncludesAttempts(t *testing.T) {
	env := newAPIEnv(t, 300)
	env.setTenant("t1", domain.ModelRef{Provider: "openai", Model: "gpt-4o"})
	env.registry.Register("openai", func(string) provider.Provider {
		return &stubProvider{name: "openai", err: &domain.ProviderError{
			Provider: "openai", Model: "gpt-4o", Class: domain.ClassRateLimited, Status: 429,
		}}
	})

	rec := postCompletion(t, env.handler, `{"tenant_id":"t1","messages":[{"role":"user","content":"hi"}]}`)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}

	var body struct {
		Attempts []domain.Attempt `json:"attempts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Attempts) != 1 {
		t.Fatalf("len(attempts) = %d, want 1", len(body.Attempts))
	}
	if body.Attempts[0].ErrorClass != domain.ClassRateLimited {
		t.Errorf("ErrorClass = %q, want rate_limited", body.Attempts[0].ErrorClass)
	}
}

func TestCompletionsRateLimited(t *testing.T) {
	env := newAPIEnv(t, 2)
	env.setTenant("rl-tenant", domain.ModelRef{Provider: "openai", Model: "gpt-4o"})
	env.registry.Register("openai", func(string) provider.Provider {
		return &stubProvider{name: "openai", completion: &domain.Completion{
			Text: "ok", Model: "gpt-4o",
		}}
	})

	body := `{"tenant_id":"rl-tenant","messages":[{"role":"user","content":"hi"}]}`
	for i := 0; i < 2; i++ {
		if rec := postCompletion(t, env.handler, body); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, rec.Code)
		}
	}

	before := testutil.ToFloat64(metrics.RateLimitHits.WithLabelValues("rl-tenant"))

	rec := postCompletion(t, env.handler, body)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "2" {
		t.Errorf("X-RateLimit-Limit = %q, want 2", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", got)
	}
	if rec.Header().Get("X-RateLimit-Reset") == "" {
		t.Error("X-RateLimit-Reset header missing")
	}

	after := testutil.ToFloat64(metrics.RateLimitHits.WithLabelValues("rl-tenant"))
	if after != before+1 {
		t.Errorf("rate limit hits = %v, want %v", after, before+1)
	}
}

func TestHealthLive(t *testing.T) {
	env := newAPIEnv(t, 300)

	for _, path := range []string{"/health", "/health/live"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, rec.Code)
		}
	}
}
