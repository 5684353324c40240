// Package budget tracks per-tenant usage against configured spend limits.
// Counters are period-scoped and incremented atomically at the storage layer:
// the counter key embeds the period start, so a rollover lands on a fresh
// zero-valued key and reset-then-add needs no coordination between writers.
package budget

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/replydesk/aigateway/internal/domain"
	"github.com/replydesk/aigateway/internal/pricing"
)

// PolicyStore serves tenant budget policies. A missing policy means the
// tenant is not budgeted and every request is admitted.
type PolicyStore interface {
	GetPolicy(ctx context.Context, tenantID string) (*domain.BudgetPolicy, error)
	SetPolicy(ctx context.Context, policy *domain.BudgetPolicy) error
}

// Admission is the ledger's answer to "may this tenant spend now".
// Allowed is false only under hard pause at or past the limit; otherwise the
// percentage is surfaced for alerting and the request proceeds.
type Admission struct {
	Allowed    bool
	Percentage float64
	Reason     string
}

type Ledger struct {
	policies PolicyStore
	counter  Counter
	monitor  *Monitor
	now      func() time.Time
}

func NewLedger(policies PolicyStore, counter Counter, monitor *Monitor) *Ledger {
	return &Ledger{
		policies: policies,
		counter:  counter,
		monitor:  monitor,
		now:      time.Now,
	}
}

func counterKey(tenantID string, unit domain.BudgetUnit, periodStart time.Time) string {
	return fmt.Sprintf("budget:%s:%s:%d", tenantID, unit, periodStart.Unix())
}

// counter keys outlive their period by a day so late writes near a boundary
// still land on the period they belong to.
func counterTTL(policy *domain.BudgetPolicy, now time.Time) time.Duration {
	return policy.NextReset(now).Sub(now) + 24*time.Hour
}

func (l *Ledger) CheckAdmission(ctx context.Context, tenantID string) (*Admission, error) {
	policy, err := l.policies.GetPolicy(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("get budget policy: %w", err)
	}
	if policy == nil || policy.Limit <= 0 {
		return &Admission{Allowed: true}, nil
	}

	now := l.now()
	current, err := l.counter.Get(ctx, counterKey(tenantID, policy.Unit, policy.PeriodStart(now)))
	if err != nil {
		return nil, fmt.Errorf("read budget counter: %w", err)
	}

	percentage := current / policy.Limit * 100

	if policy.HardPause && current >= policy.Limit {
		return &Admission{
			Allowed:    false,
			Percentage: percentage,
			Reason:     "budget limit reached",
		}, nil
	}

	return &Admission{Allowed: true, Percentage: percentage}, nil
}

// RecordUsage atomically adds amount to the tenant's counter for the current
// period. Threshold alerts fire as a side effect and never return an error to
// the caller.
func (l *Ledger) RecordUsage(ctx context.Context, tenantID string, amount float64, unit domain.BudgetUnit) error {
	policy, err := l.policies.GetPolicy(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("get budget policy: %w", err)
	}
	if policy == nil || policy.Limit <= 0 {
		return nil
	}
	if unit != policy.Unit {
		slog.Warn("usage unit does not match budget unit, skipping increment",
			"tenant_id", tenantID,
			"unit", unit,
			"budget_unit", policy.Unit,
		)
		return nil
	}

	return l.record(ctx, policy, amount)
}

// RecordSpend converts an attempt's token usage and cost into the tenant's
// configured budget unit before incrementing.
func (l *Ledger) RecordSpend(ctx context.Context, tenantID string, usage domain.TokenUsage, costUSD float64) error {
	policy, err := l.policies.GetPolicy(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("get budget policy: %w", err)
	}
	if policy == nil || policy.Limit <= 0 {
		return nil
	}

	return l.record(ctx, policy, pricing.Amount(policy.Unit, usage, costUSD))
}

func (l *Ledger) record(ctx context.Context, policy *domain.BudgetPolicy, amount float64) error {
	now := l.now()
	key := counterKey(policy.TenantID, policy.Unit, policy.PeriodStart(now))

	total, err := l.counter.Add(ctx, key, amount, counterTTL(policy, now))
	if err != nil {
		return fmt.Errorf("increment budget counter: %w", err)
	}

	if l.monitor != nil {
		l.monitor.Observe(ctx, policy, total)
	}

	return nil
}

func (l *Ledger) Status(ctx context.Context, tenantID string) (*domain.BudgetStatus, error) {
	policy, err := l.policies.GetPolicy(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("get budget policy: %w", err)
	}
	if policy == nil {
		return nil, domain.ErrTenantNotFound
	}

	now := l.now()
	periodStart := policy.PeriodStart(now)

	current, err := l.counter.Get(ctx, counterKey(tenantID, policy.Unit, periodStart))
	if err != nil {
		return nil, fmt.Errorf("read budget counter: %w", err)
	}

	status := &domain.BudgetStatus{
		Policy:       *policy,
		PeriodStart:  periodStart,
		NextResetAt:  policy.NextReset(now),
		CurrentUsage: current,
		Paused:       policy.HardPause && policy.Limit > 0 && current >= policy.Limit,
	}
	if policy.Limit > 0 {
		status.Percentage = current / policy.Limit * 100
	}

	return status, nil
}
