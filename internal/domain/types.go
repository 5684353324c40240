package domain

import "time"

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams are the request parameters that affect model output.
// They are part of the cache fingerprint.
type GenerationParams struct {
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
}

// ModelRef names one (provider, model) pair in a tenant's routing chain.
type ModelRef struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// TenantConfig is a tenant's routing configuration as served by the config
// store. It is immutable for the duration of one request. SecretRefs maps a
// provider name to an opaque secret reference; the plaintext credential is
// resolved separately and never stored here.
type TenantConfig struct {
	TenantID     string
	Active       bool
	Primary      ModelRef
	Fallbacks    []ModelRef
	SystemPrompt string
	Params       GenerationParams
	SecretRefs   map[string]string
	UpdatedAt    time.Time
}

type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (u TokenUsage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Completion is the uniform provider response shape all adapters map into.
type Completion struct {
	Text         string     `json:"text"`
	Model        string     `json:"model"`
	FinishReason string     `json:"finish_reason,omitempty"`
	Usage        TokenUsage `json:"usage"`
}

type BudgetUnit string

const (
	BudgetUnitTokens BudgetUnit = "tokens"
	BudgetUnitUSD    BudgetUnit = "usd"
)

type BudgetPeriod string

const (
	BudgetPeriodDaily   BudgetPeriod = "daily"
	BudgetPeriodWeekly  BudgetPeriod = "weekly"
	BudgetPeriodMonthly BudgetPeriod = "monthly"
)

// BudgetPolicy is a tenant's configured spend limit. Thresholds are fractions
// of the limit at which alerts fire (e.g. 0.8, 0.9, 1.0).
type BudgetPolicy struct {
	TenantID   string       `json:"tenant_id"`
	Unit       BudgetUnit   `json:"unit"`
	Limit      float64      `json:"limit"`
	Period     BudgetPeriod `json:"period"`
	HardPause  bool         `json:"hard_pause"`
	Thresholds []float64    `json:"thresholds,omitempty"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// PeriodStart truncates now to the start of the policy's current period (UTC).
func (p BudgetPolicy) PeriodStart(now time.Time) time.Time {
	now = now.UTC()
	switch p.Period {
	case BudgetPeriodDaily:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	case BudgetPeriodWeekly:
		day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7 // weeks start on Monday
		return day.AddDate(0, 0, -offset)
	default:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
}

// NextReset returns the first instant of the period after the one containing now.
func (p BudgetPolicy) NextReset(now time.Time) time.Time {
	start := p.PeriodStart(now)
	switch p.Period {
	case BudgetPeriodDaily:
		return start.AddDate(0, 0, 1)
	case BudgetPeriodWeekly:
		return start.AddDate(0, 0, 7)
	default:
		return start.AddDate(0, 1, 0)
	}
}

// BudgetStatus is the ledger's view of a tenant at a point in time.
type BudgetStatus struct {
	Policy       BudgetPolicy `json:"policy"`
	PeriodStart  time.Time    `json:"period_start"`
	NextResetAt  time.Time    `json:"next_reset_at"`
	CurrentUsage float64      `json:"current_usage"`
	Percentage   float64      `json:"percentage"`
	Paused       bool         `json:"paused"`
}

// Attempt is one classified provider call, successful or not.
type Attempt struct {
	Provider   string     `json:"provider"`
	Model      string     `json:"model"`
	Fallback   bool       `json:"fallback"`
	Usage      TokenUsage `json:"usage"`
	CostUSD    float64    `json:"cost_usd"`
	LatencyMs  int64      `json:"latency_ms"`
	ErrorClass ErrorClass `json:"error_class,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// FallbackResult is the gateway's response envelope: the generated text plus
// full provenance of how it was produced.
type FallbackResult struct {
	RequestID      string     `json:"request_id"`
	Text           string     `json:"text"`
	Usage          TokenUsage `json:"usage"`
	CostUSD        float64    `json:"cost_usd"`
	Provider       string     `json:"provider"`
	Model          string     `json:"model"`
	RequestedModel ModelRef   `json:"requested_model"`
	WasFallback    bool       `json:"was_fallback"`
	FallbackReason ErrorClass `json:"fallback_reason,omitempty"`
	CacheHit       bool       `json:"cache_hit"`
	LatencyMs      int64      `json:"latency_ms"`
	Attempts       []Attempt  `json:"attempts,omitempty"`
}

// UsageRecord is one append-only row per completed attempt. Cache hits are
// recorded with Cached=true, zero CostUSD, and the avoided spend in
// SavedCostUSD; their token counts are the tokens the hit avoided.
type UsageRecord struct {
	TenantID     string     `json:"tenant_id"`
	RequestID    string     `json:"request_id"`
	Provider     string     `json:"provider"`
	Model        string     `json:"model"`
	InputTokens  int        `json:"input_tokens"`
	OutputTokens int        `json:"output_tokens"`
	CostUSD      float64    `json:"cost_usd"`
	SavedCostUSD float64    `json:"saved_cost_usd,omitempty"`
	Cached       bool       `json:"cached"`
	Fallback     bool       `json:"fallback"`
	Success      bool       `json:"success"`
	ErrorClass   ErrorClass `json:"error_class,omitempty"`
	LatencyMs    int64      `json:"latency_ms"`
	Timestamp    time.Time  `json:"timestamp"`
}

// UsageSummary aggregates usage records over a time window.
type UsageSummary struct {
	TenantID     string  `json:"tenant_id"`
	Requests     int64   `json:"requests"`
	CacheHits    int64   `json:"cache_hits"`
	CacheHitRate float64 `json:"cache_hit_rate"`
	Errors       int64   `json:"errors"`
	ErrorRate    float64 `json:"error_rate"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// CacheActivity aggregates cache hits by provider and model, with the spend
// those hits avoided.
type CacheActivity struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	Hits        int64   `json:"hits"`
	TokensSaved int64   `json:"tokens_saved"`
	CostSaved   float64 `json:"cost_saved"`
}
