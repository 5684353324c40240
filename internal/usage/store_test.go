package usage

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/replydesk/aigateway/internal/domain"
)

func TestInMemoryStoreSummary(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	records := []domain.UsageRecord{
		{TenantID: "t1", Provider: "openai", Model: "gpt-4o", InputTokens: 100, OutputTokens: 50, CostUSD: 0.5, Success: true, LatencyMs: 200, Timestamp: now},
		{TenantID: "t1", Provider: "openai", Model: "gpt-4o", InputTokens: 100, OutputTokens: 50, Cached: true, SavedCostUSD: 0.5, Success: true, LatencyMs: 10, Timestamp: now},
		{TenantID: "t1", Provider: "groq", Model: "llama-3.1-70b-versatile", Success: false, ErrorClass: domain.ClassTimeout, LatencyMs: 90, Timestamp: now},
		{TenantID: "t2", Provider: "openai", Model: "gpt-4o", InputTokens: 999, Success: true, Timestamp: now},
		{TenantID: "t1", Provider: "openai", Model: "gpt-4o", InputTokens: 5, Success: true, Timestamp: now.Add(-48 * time.Hour)},
	}
	for _, r := range records {
		if err := s.Append(ctx, r); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	summary, err := s.Summary(ctx, "t1", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}

	if summary.Requests != 3 {
		t.Errorf("Requests = %d, want 3", summary.Requests)
	}
	if summary.CacheHits != 1 {
		t.Errorf("CacheHits = %d, want 1", summary.CacheHits)
	}
	if summary.Errors != 1 {
		t.Errorf("Errors = %d, want 1", summary.Errors)
	}
	if math.Abs(summary.CacheHitRate-1.0/3) > 1e-9 {
		t.Errorf("CacheHitRate = %v, want 1/3", summary.CacheHitRate)
	}
	if summary.InputTokens != 200 {
		t.Errorf("InputTokens = %d, want 200", summary.InputTokens)
	}
	if summary.CostUSD != 0.5 {
		t.Errorf("CostUSD = %v, want 0.5", summary.CostUSD)
	}
	if math.Abs(summary.AvgLatencyMs-100) > 1e-9 {
		t.Errorf("AvgLatencyMs = %v, want 100", summary.AvgLatencyMs)
	}
}

func TestInMemoryStoreCacheActivity(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		s.Append(ctx, domain.UsageRecord{
			TenantID: "t1", Provider: "openai", Model: "gpt-4o",
			InputTokens: 100, OutputTokens: 100,
			Cached: true, SavedCostUSD: 0.25, Success: true, Timestamp: now,
		})
	}
	s.Append(ctx, domain.UsageRecord{
		TenantID: "t1", Provider: "groq", Model: "llama-3.1-8b-instant",
		InputTokens: 10, OutputTokens: 10,
		Cached: true, SavedCostUSD: 0.01, Success: true, Timestamp: now,
	})
	s.Append(ctx, domain.UsageRecord{
		TenantID: "t1", Provider: "openai", Model: "gpt-4o",
		InputTokens: 100, Success: true, Timestamp: now, // not cached
	})

	activity, err := s.CacheActivity(ctx, "t1", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("CacheActivity() error = %v", err)
	}
	if len(activity) != 2 {
		t.Fatalf("len(activity) = %d, want 2", len(activity))
	}

	byModel := make(map[string]domain.CacheActivity)
	for _, a := range activity {
		byModel[a.Model] = a
	}

	gpt := byModel["gpt-4o"]
	if gpt.Hits != 3 {
		t.Errorf("gpt-4o Hits = %d, want 3", gpt.Hits)
	}
	if gpt.TokensSaved != 600 {
		t.Errorf("gpt-4o TokensSaved = %d, want 600", gpt.TokensSaved)
	}
	if math.Abs(gpt.CostSaved-0.75) > 1e-9 {
		t.Errorf("gpt-4o CostSaved = %v, want 0.75", gpt.CostSaved)
	}
}
