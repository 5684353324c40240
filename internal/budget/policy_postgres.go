package budget

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/replydesk/aigateway/internal/domain"
)

type PostgresPolicyStore struct {
	db *sql.DB
}

func NewPostgresPolicyStore(db *sql.DB) *PostgresPolicyStore {
	return &PostgresPolicyStore{db: db}
}

func (s *PostgresPolicyStore) GetPolicy(ctx context.Context, tenantID string) (*domain.BudgetPolicy, error) {
	query := `
		SELECT tenant_id, unit, budget_limit, period, hard_pause, thresholds, updated_at
		FROM budget_policies
		WHERE tenant_id = $1
	`

	var policy domain.BudgetPolicy
	var thresholds pq.Float64Array

	err := s.db.QueryRowContext(ctx, query, tenantID).Scan(
		&policy.TenantID,
		&policy.Unit,
		&policy.Limit,
		&policy.Period,
		&policy.HardPause,
		&thresholds,
		&policy.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query budget policy: %w", err)
	}

	policy.Thresholds = []float64(thresholds)

	return &policy, nil
}

func (s *PostgresPolicyStore) SetPolicy(ctx context.Context, policy *domain.BudgetPolicy) error {
	query := `
		INSERT INTO budget_policies (tenant_id, unit, budget_limit, period, hard_pause, thresholds, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id) DO UPDATE
		SET unit = EXCLUDED.unit,
		    budget_limit = EXCLUDED.budget_limit,
		    period = EXCLUDED.period,
		    hard_pause = EXCLUDED.hard_pause,
		    thresholds = EXCLUDED.thresholds,
		    updated_at = EXCLUDED.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		policy.TenantID,
		policy.Unit,
		policy.Limit,
		policy.Period,
		policy.HardPause,
		pq.Array(policy.Thresholds),
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("upsert budget policy: %w", err)
	}

	return nil
}
