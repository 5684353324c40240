// Package gateway runs a completion request end to end: tenant config and
// credential resolution, budget admission, cache lookup, the primary provider
// call with its fallback chain, and usage recording.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/replydesk/aigateway/internal/budget"
	"github.com/replydesk/aigateway/internal/cache"
	"github.com/replydesk/aigateway/internal/circuitbreaker"
	"github.com/replydesk/aigateway/internal/domain"
	"github.com/replydesk/aigateway/internal/metrics"
	"github.com/replydesk/aigateway/internal/pricing"
	"github.com/replydesk/aigateway/internal/provider"
	"github.com/replydesk/aigateway/internal/secrets"
	"github.com/replydesk/aigateway/internal/telemetry"
	"github.com/replydesk/aigateway/internal/tenantcfg"
	"github.com/replydesk/aigateway/internal/usage"
)

// Request is one completion request on behalf of a tenant. ModelOverride, when
// set, replaces the tenant's configured primary; the fallback chain is
// unchanged. Caching is opt-in: only requests marked Cacheable are looked up
// and stored, since conversational turns are not deterministic in general.
type Request struct {
	TenantID      string
	RequestID     string
	Messages      []domain.Message
	ModelOverride *domain.ModelRef
	Cacheable     bool
}

type Config struct {
	Tenants         tenantcfg.Store
	Secrets         secrets.Resolver
	Ledger          *budget.Ledger
	Cache           cache.Cache
	Registry        *provider.Registry
	Breakers        *circuitbreaker.Manager
	Pricing         *pricing.Table
	Recorder        *usage.Recorder
	CacheTTL        time.Duration
	ProviderTimeout time.Duration
}

type Gateway struct {
	tenants         tenantcfg.Store
	secrets         secrets.Resolver
	ledger          *budget.Ledger
	cache           cache.Cache
	registry        *provider.Registry
	breakers        *circuitbreaker.Manager
	pricing         *pricing.Table
	recorder        *usage.Recorder
	cacheTTL        time.Duration
	providerTimeout time.Duration
}

func New(cfg Config) *Gateway {
	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = 10 * time.Minute
	}
	providerTimeout := cfg.ProviderTimeout
	if providerTimeout == 0 {
		providerTimeout = 60 * time.Second
	}

	return &Gateway{
		tenants:         cfg.Tenants,
		secrets:         cfg.Secrets,
		ledger:          cfg.Ledger,
		cache:           cfg.Cache,
		registry:        cfg.Registry,
		breakers:        cfg.Breakers,
		pricing:         cfg.Pricing,
		recorder:        cfg.Recorder,
		cacheTTL:        cacheTTL,
		providerTimeout: providerTimeout,
	}
}

// Execute runs the request through the full pipeline. The returned result
// always names the provider that produced the text and whether it was a
// fallback; on total failure the error is a *domain.ExhaustedError carrying
// every classified attempt.
func (g *Gateway) Execute(ctx context.Context, req Request) (*domain.FallbackResult, error) {
	start := time.Now()

	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}

	ctx, span := telemetry.StartSpan(ctx, "gateway.execute")
	defer span.End()

	if err := validate(req); err != nil {
		return nil, err
	}

	cfg, err := g.tenants.Get(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}

	primary := cfg.Primary
	if req.ModelOverride != nil {
		primary = *req.ModelOverride
	}
	chain := append([]domain.ModelRef{primary}, cfg.Fallbacks...)

	telemetry.AddRequestAttributes(span, req.TenantID, primary.Provider, primary.Model, req.RequestID)

	// the fingerprint keys on the requested model, not whichever provider
	// ends up answering, so a fallback response still serves later retries
	// of the same request
	var fingerprint string
	if g.cache != nil && req.Cacheable {
		fingerprint = cache.Fingerprint(req.TenantID, primary, req.Messages, cfg.Params)
		if entry, ok := g.cache.Lookup(ctx, req.TenantID, fingerprint); ok {
			telemetry.AddCacheAttribute(span, true)
			return g.cacheHit(req, primary, entry, start), nil
		}
		telemetry.AddCacheAttribute(span, false)
		metrics.RecordCacheMiss(req.TenantID)
	}

	admission, err := g.ledger.CheckAdmission(ctx, req.TenantID)
	if err != nil {
		return nil, fmt.Errorf("budget admission: %w", err)
	}
	metrics.SetBudgetUsage(req.TenantID, admission.Percentage/100)
	if !admission.Allowed {
		metrics.RecordBudgetDenial(req.TenantID)
		slog.Warn("request denied at budget admission",
			"tenant_id", req.TenantID,
			"request_id", req.RequestID,
			"percentage", admission.Percentage,
		)
		return nil, &domain.BudgetExceededError{TenantID: req.TenantID, Percentage: admission.Percentage}
	}

	attempts := make([]domain.Attempt, 0, len(chain))

	for i, ref := range chain {
		if ctx.Err() != nil {
			break
		}

		completion, attempt := g.attempt(ctx, cfg, req, ref, i > 0)
		attempts = append(attempts, attempt)

		if completion == nil {
			g.recordFailedAttempt(req, attempt)
			class := attempt.ErrorClass
			if class == domain.ClassInvalidRequest {
				// a malformed request fails identically everywhere
				return nil, &domain.ProviderError{
					Provider: ref.Provider,
					Model:    ref.Model,
					Class:    class,
					Err:      errors.New(attempt.Error),
				}
			}
			continue
		}

		result := g.success(ctx, req, primary, ref, completion, attempts, fingerprint, start)
		telemetry.AddFallbackAttributes(span, result.WasFallback, string(result.FallbackReason))
		telemetry.AddTokenAttributes(span, result.Usage.InputTokens, result.Usage.OutputTokens)
		telemetry.AddCostAttribute(span, result.CostUSD)
		return result, nil
	}

	err = &domain.ExhaustedError{Attempts: attempts}
	telemetry.AddErrorAttribute(span, err)
	metrics.RecordRequest(req.TenantID, primary.Provider, primary.Model, "exhausted", time.Since(start).Seconds())
	slog.Error("all providers exhausted",
		"tenant_id", req.TenantID,
		"request_id", req.RequestID,
		"attempts", len(attempts),
	)
	return nil, err
}

func validate(req Request) error {
	if req.TenantID == "" {
		return fmt.Errorf("%w: missing tenant id", domain.ErrInvalidRequest)
	}
	if len(req.Messages) == 0 {
		return fmt.Errorf("%w: empty message list", domain.ErrInvalidRequest)
	}
	for i, m := range req.Messages {
		if m.Role == "" || m.Content == "" {
			return fmt.Errorf("%w: message %d missing role or content", domain.ErrInvalidRequest, i)
		}
	}
	return nil
}

// attempt runs one provider call, classified. A nil completion means the
// attempt failed and the returned Attempt carries the class.
func (g *Gateway) attempt(ctx context.Context, cfg *domain.TenantConfig, req Request, ref domain.ModelRef, fallback bool) (*domain.Completion, domain.Attempt) {
	attemptStart := time.Now()
	attempt := domain.Attempt{
		Provider: ref.Provider,
		Model:    ref.Model,
		Fallback: fallback,
	}

	fail := func(class domain.ErrorClass, err error) (*domain.Completion, domain.Attempt) {
		attempt.ErrorClass = class
		attempt.Error = err.Error()
		attempt.LatencyMs = time.Since(attemptStart).Milliseconds()
		metrics.RecordProviderError(ref.Provider, string(class))
		slog.Warn("provider attempt failed",
			"tenant_id", req.TenantID,
			"request_id", req.RequestID,
			"provider", ref.Provider,
			"model", ref.Model,
			"class", class,
			"error", err,
		)
		return nil, attempt
	}

	breaker := g.breakers.Get(ref.Provider)
	defer func() {
		metrics.SetCircuitBreakerState(ref.Provider, int(breaker.State(ctx)))
	}()
	if err := breaker.Allow(ctx); err != nil {
		return fail(domain.ClassTransport, err)
	}

	var credential string
	if secretRef, ok := cfg.SecretRefs[ref.Provider]; ok {
		resolved, err := g.secrets.Resolve(ctx, secretRef)
		if err != nil {
			breaker.RecordFailure(ctx)
			return fail(domain.ClassAuth, fmt.Errorf("resolve credential: %w", err))
		}
		credential = resolved
	} else if g.registry.NeedsCredential(ref.Provider) {
		breaker.RecordFailure(ctx)
		return fail(domain.ClassAuth, fmt.Errorf("%w: no credential for provider %s", domain.ErrSecretNotFound, ref.Provider))
	}

	p, err := g.registry.Build(ref.Provider, credential)
	if err != nil {
		breaker.RecordFailure(ctx)
		return fail(domain.ClassModelNotFound, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.providerTimeout)
	defer cancel()

	callCtx, span := telemetry.StartSpan(callCtx, "provider.complete")
	defer span.End()
	telemetry.AddRequestAttributes(span, req.TenantID, ref.Provider, ref.Model, req.RequestID)

	completion, err := p.Complete(callCtx, provider.CompletionCall{
		Model:        ref.Model,
		Messages:     req.Messages,
		SystemPrompt: cfg.SystemPrompt,
		Params:       cfg.Params,
	})
	if err != nil {
		breaker.RecordFailure(ctx)
		telemetry.AddErrorAttribute(span, err)
		return fail(domain.Classify(err), err)
	}

	breaker.RecordSuccess(ctx)

	attempt.Usage = completion.Usage
	attempt.CostUSD = g.pricing.Cost(ref.Model, completion.Usage)
	attempt.LatencyMs = time.Since(attemptStart).Milliseconds()
	telemetry.AddTokenAttributes(span, completion.Usage.InputTokens, completion.Usage.OutputTokens)
	telemetry.AddCostAttribute(span, attempt.CostUSD)

	return completion, attempt
}

func (g *Gateway) success(ctx context.Context, req Request, primary, served domain.ModelRef, completion *domain.Completion, attempts []domain.Attempt, fingerprint string, start time.Time) *domain.FallbackResult {
	last := attempts[len(attempts)-1]

	result := &domain.FallbackResult{
		RequestID:      req.RequestID,
		Text:           completion.Text,
		Usage:          completion.Usage,
		CostUSD:        last.CostUSD,
		Provider:       served.Provider,
		Model:          served.Model,
		RequestedModel: primary,
		WasFallback:    last.Fallback,
		CacheHit:       false,
		LatencyMs:      time.Since(start).Milliseconds(),
		Attempts:       attempts,
	}
	if last.Fallback && len(attempts) > 1 {
		result.FallbackReason = attempts[0].ErrorClass
	}

	if g.cache != nil && fingerprint != "" {
		entry := &cache.Entry{
			Text:      completion.Text,
			Provider:  served.Provider,
			Model:     served.Model,
			Usage:     completion.Usage,
			CostUSD:   last.CostUSD,
			CreatedAt: time.Now().UTC(),
		}
		if err := g.cache.Store(ctx, req.TenantID, fingerprint, entry, g.cacheTTL); err != nil {
			slog.Warn("failed to store cache entry",
				"error", err,
				"tenant_id", req.TenantID,
				"request_id", req.RequestID,
			)
		}
	}

	if g.recorder != nil {
		g.recorder.Record(domain.UsageRecord{
			TenantID:     req.TenantID,
			RequestID:    req.RequestID,
			Provider:     served.Provider,
			Model:        served.Model,
			InputTokens:  completion.Usage.InputTokens,
			OutputTokens: completion.Usage.OutputTokens,
			CostUSD:      last.CostUSD,
			Fallback:     last.Fallback,
			Success:      true,
			LatencyMs:    result.LatencyMs,
		})
	}

	if last.Fallback {
		metrics.RecordFallback(req.TenantID, served.Provider, string(result.FallbackReason))
	}
	metrics.RecordRequest(req.TenantID, served.Provider, served.Model, "success", time.Since(start).Seconds())
	metrics.RecordTokens(req.TenantID, served.Provider, served.Model, completion.Usage.InputTokens, completion.Usage.OutputTokens)
	metrics.RecordCost(req.TenantID, served.Provider, served.Model, last.CostUSD)

	slog.Info("request completed",
		"tenant_id", req.TenantID,
		"request_id", req.RequestID,
		"provider", served.Provider,
		"model", served.Model,
		"fallback", last.Fallback,
		"tokens", completion.Usage.Total(),
		"cost_usd", last.CostUSD,
		"latency_ms", result.LatencyMs,
	)

	return result
}

func (g *Gateway) cacheHit(req Request, primary domain.ModelRef, entry *cache.Entry, start time.Time) *domain.FallbackResult {
	result := &domain.FallbackResult{
		RequestID:      req.RequestID,
		Text:           entry.Text,
		Usage:          entry.Usage,
		CostUSD:        0,
		Provider:       entry.Provider,
		Model:          entry.Model,
		RequestedModel: primary,
		CacheHit:       true,
		LatencyMs:      time.Since(start).Milliseconds(),
	}

	if g.recorder != nil {
		g.recorder.Record(domain.UsageRecord{
			TenantID:     req.TenantID,
			RequestID:    req.RequestID,
			Provider:     entry.Provider,
			Model:        entry.Model,
			InputTokens:  entry.Usage.InputTokens,
			OutputTokens: entry.Usage.OutputTokens,
			CostUSD:      0,
			SavedCostUSD: entry.CostUSD,
			Cached:       true,
			Success:      true,
			LatencyMs:    result.LatencyMs,
		})
	}

	metrics.RecordCacheHit(req.TenantID, entry.CostUSD)
	metrics.RecordRequest(req.TenantID, entry.Provider, entry.Model, "cache_hit", time.Since(start).Seconds())

	slog.Info("cache hit",
		"tenant_id", req.TenantID,
		"request_id", req.RequestID,
		"provider", entry.Provider,
		"model", entry.Model,
		"latency_ms", result.LatencyMs,
	)

	return result
}

// recordFailedAttempt appends a usage row for an attempt that produced no
// completion, so the error rate the dashboard shows includes them.
func (g *Gateway) recordFailedAttempt(req Request, attempt domain.Attempt) {
	if g.recorder == nil {
		return
	}
	g.recorder.Record(domain.UsageRecord{
		TenantID:   req.TenantID,
		RequestID:  req.RequestID,
		Provider:   attempt.Provider,
		Model:      attempt.Model,
		Fallback:   attempt.Fallback,
		Success:    false,
		ErrorClass: attempt.ErrorClass,
		LatencyMs:  attempt.LatencyMs,
	})
}
