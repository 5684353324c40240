package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/replydesk/aigateway/internal/domain"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, record domain.UsageRecord) error {
	query := `
		INSERT INTO usage_records
			(tenant_id, request_id, provider, model, input_tokens, output_tokens,
			 cost_usd, saved_cost_usd, cached, fallback, success, error_class, latency_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := s.db.ExecContext(ctx, query,
		record.TenantID,
		record.RequestID,
		record.Provider,
		record.Model,
		record.InputTokens,
		record.OutputTokens,
		record.CostUSD,
		record.SavedCostUSD,
		record.Cached,
		record.Fallback,
		record.Success,
		string(record.ErrorClass),
		record.LatencyMs,
		record.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}

	return nil
}

func (s *PostgresStore) Summary(ctx context.Context, tenantID string, since time.Time) (*domain.UsageSummary, error) {
	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE cached),
		       COUNT(*) FILTER (WHERE NOT success),
		       COALESCE(SUM(input_tokens), 0),
		       COALESCE(SUM(output_tokens), 0),
		       COALESCE(SUM(cost_usd), 0),
		       COALESCE(AVG(latency_ms), 0)
		FROM usage_records
		WHERE tenant_id = $1 AND created_at >= $2
	`

	summary := &domain.UsageSummary{TenantID: tenantID}
	err := s.db.QueryRowContext(ctx, query, tenantID, since).Scan(
		&summary.Requests,
		&summary.CacheHits,
		&summary.Errors,
		&summary.InputTokens,
		&summary.OutputTokens,
		&summary.CostUSD,
		&summary.AvgLatencyMs,
	)
	if err != nil {
		return nil, fmt.Errorf("query usage summary: %w", err)
	}

	if summary.Requests > 0 {
		summary.CacheHitRate = float64(summary.CacheHits) / float64(summary.Requests)
		summary.ErrorRate = float64(summary.Errors) / float64(summary.Requests)
	}

	return summary, nil
}

func (s *PostgresStore) CacheActivity(ctx context.Context, tenantID string, since time.Time) ([]domain.CacheActivity, error) {
	query := `
		SELECT provider, model, COUNT(*),
		       COALESCE(SUM(input_tokens + output_tokens), 0),
		       COALESCE(SUM(saved_cost_usd), 0)
		FROM usage_records
		WHERE tenant_id = $1 AND created_at >= $2 AND cached
		GROUP BY provider, model
		ORDER BY COUNT(*) DESC
	`

	rows, err := s.db.QueryContext(ctx, query, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("query cache activity: %w", err)
	}
	defer rows.Close()

	var result []domain.CacheActivity
	for rows.Next() {
		var activity domain.CacheActivity
		if err := rows.Scan(&activity.Provider, &activity.Model, &activity.Hits, &activity.TokensSaved, &activity.CostSaved); err != nil {
			return nil, fmt.Errorf("scan cache activity: %w", err)
		}
		result = append(result, activity)
	}

	return result, rows.Err()
}
