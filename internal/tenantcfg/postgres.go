package tenantcfg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/replydesk/aigateway/internal/domain"
)

// PostgresStore reads tenant routing configuration from the dashboard's
// relational store. The gateway never writes these rows.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, tenantID string) (*domain.TenantConfig, error) {
	query := `
		SELECT id, active, primary_provider, primary_model,
		       fallback_providers, fallback_models,
		       system_prompt, temperature, max_tokens, top_p, updated_at
		FROM tenant_ai_configs
		WHERE id = $1
	`

	var cfg domain.TenantConfig
	var fallbackProviders, fallbackModels pq.StringArray
	var systemPrompt sql.NullString
	var temperature, topP sql.NullFloat64
	var maxTokens sql.NullInt64

	err := s.db.QueryRowContext(ctx, query, tenantID).Scan(
		&cfg.TenantID,
		&cfg.Active,
		&cfg.Primary.Provider,
		&cfg.Primary.Model,
		&fallbackProviders,
		&fallbackModels,
		&systemPrompt,
		&temperature,
		&maxTokens,
		&topP,
		&cfg.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, domain.ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query tenant config: %w", err)
	}

	if !cfg.Active {
		return nil, domain.ErrTenantInactive
	}

	if systemPrompt.Valid {
		cfg.SystemPrompt = systemPrompt.String
	}
	if temperature.Valid {
		v := temperature.Float64
		cfg.Params.Temperature = &v
	}
	if maxTokens.Valid {
		v := int(maxTokens.Int64)
		cfg.Params.MaxTokens = &v
	}
	if topP.Valid {
		v := topP.Float64
		cfg.Params.TopP = &v
	}

	for i := range fallbackProviders {
		if i >= len(fallbackModels) {
			break
		}
		cfg.Fallbacks = append(cfg.Fallbacks, domain.ModelRef{
			Provider: fallbackProviders[i],
			Model:    fallbackModels[i],
		})
	}

	cfg.SecretRefs, err = s.secretRefs(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (s *PostgresStore) secretRefs(ctx context.Context, tenantID string) (map[string]string, error) {
	query := `
		SELECT provider, secret_ref
		FROM tenant_provider_secrets
		WHERE tenant_id = $1
	`

	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query tenant secrets: %w", err)
	}
	defer rows.Close()

	refs := make(map[string]string)
	for rows.Next() {
		var provider, ref string
		if err := rows.Scan(&provider, &ref); err != nil {
			return nil, fmt.Errorf("scan tenant secret: %w", err)
		}
		refs[provider] = ref
	}

	return refs, rows.Err()
}

func (s *PostgresStore) Invalidate(tenantID string) {}
