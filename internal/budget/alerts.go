package budget

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/replydesk/aigateway/internal/domain"
)

type AlertLevel string

const (
	AlertLevelWarning  AlertLevel = "warning"
	AlertLevelCritical AlertLevel = "critical"
	AlertLevelExceeded AlertLevel = "exceeded"
)

type Alert struct {
	TenantID   string
	Level      AlertLevel
	Unit       domain.BudgetUnit
	Limit      float64
	CurrentUse float64
	Percentage float64
	Timestamp  time.Time
}

type AlertHandler func(alert Alert)

type Thresholds struct {
	Warning  float64
	Critical float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Warning:  0.8,
		Critical: 0.9,
	}
}

// Monitor turns counter totals into threshold alerts. Alerting is purely a
// side effect of RecordUsage: handlers run inline but their failures are
// their own problem, never the request's.
type Monitor struct {
	mu         sync.RWMutex
	thresholds Thresholds
	dedup      Deduplicator
	handlers   []AlertHandler
}

func NewMonitor(thresholds Thresholds, dedup Deduplicator) *Monitor {
	return &Monitor{
		thresholds: thresholds,
		dedup:      dedup,
	}
}

func (m *Monitor) OnAlert(handler AlertHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
}

func (m *Monitor) Observe(ctx context.Context, policy *domain.BudgetPolicy, currentUse float64) {
	if policy.Limit <= 0 {
		return
	}

	thresholds := m.thresholds
	if len(policy.Thresholds) >= 2 {
		thresholds = Thresholds{Warning: policy.Thresholds[0], Critical: policy.Thresholds[1]}
	}

	fraction := currentUse / policy.Limit

	var level AlertLevel
	switch {
	case fraction >= 1.0:
		level = AlertLevelExceeded
	case fraction >= thresholds.Critical:
		level = AlertLevelCritical
	case fraction >= thresholds.Warning:
		level = AlertLevelWarning
	default:
		m.dedup.Clear(ctx, policy.TenantID)
		return
	}

	if !m.dedup.ShouldAlert(ctx, policy.TenantID, level) {
		return
	}

	alert := Alert{
		TenantID:   policy.TenantID,
		Level:      level,
		Unit:       policy.Unit,
		Limit:      policy.Limit,
		CurrentUse: currentUse,
		Percentage: fraction * 100,
		Timestamp:  time.Now(),
	}

	m.mu.RLock()
	handlers := make([]AlertHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.RUnlock()

	for _, handler := range handlers {
		handler(alert)
	}
}

func LogAlertHandler(alert Alert) {
	slog.Warn("budget alert",
		"tenant_id", alert.TenantID,
		"level", alert.Level,
		"unit", alert.Unit,
		"limit", alert.Limit,
		"current_use", alert.CurrentUse,
		"percentage", alert.Percentage,
	)
}
