package pricing

import (
	"sync"

	"github.com/replydesk/aigateway/internal/domain"
)

type ModelPrice struct {
	InputPer1K  float64
	OutputPer1K float64
}

var defaultPrices = map[string]ModelPrice{
	"gpt-4o":                     {InputPer1K: 0.0025, OutputPer1K: 0.01},
	"gpt-4o-mini":                {InputPer1K: 0.00015, OutputPer1K: 0.0006},
	"gpt-4-turbo":                {InputPer1K: 0.01, OutputPer1K: 0.03},
	"gpt-3.5-turbo":              {InputPer1K: 0.0005, OutputPer1K: 0.0015},
	"claude-3-5-sonnet-20241022": {InputPer1K: 0.003, OutputPer1K: 0.015},
	"claude-3-5-haiku-20241022":  {InputPer1K: 0.001, OutputPer1K: 0.005},
	"claude-3-haiku-20240307":    {InputPer1K: 0.00025, OutputPer1K: 0.00125},
	"llama-3.1-70b-versatile":    {InputPer1K: 0.00059, OutputPer1K: 0.00079},
	"llama-3.1-8b-instant":       {InputPer1K: 0.00005, OutputPer1K: 0.00008},
	"mixtral-8x7b-32768":         {InputPer1K: 0.00024, OutputPer1K: 0.00024},
}

// Table maps model identifiers to per-1K-token prices. Unknown models cost
// zero; the dashboard seeds prices for every model a tenant can select.
type Table struct {
	mu     sync.RWMutex
	prices map[string]ModelPrice
}

func NewTable() *Table {
	prices := make(map[string]ModelPrice, len(defaultPrices))
	for model, p := range defaultPrices {
		prices[model] = p
	}
	return &Table{prices: prices}
}

func (t *Table) Cost(model string, usage domain.TokenUsage) float64 {
	t.mu.RLock()
	price, ok := t.prices[model]
	t.mu.RUnlock()
	if !ok {
		return 0
	}

	inputCost := float64(usage.InputTokens) / 1000 * price.InputPer1K
	outputCost := float64(usage.OutputTokens) / 1000 * price.OutputPer1K

	return inputCost + outputCost
}

func (t *Table) SetPrice(model string, price ModelPrice) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prices[model] = price
}

// Amount converts an attempt's spend into the unit a tenant budgets in.
func Amount(unit domain.BudgetUnit, usage domain.TokenUsage, costUSD float64) float64 {
	if unit == domain.BudgetUnitTokens {
		return float64(usage.Total())
	}
	return costUSD
}
