package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dunamismax/stylegen/internal/domain"
	_ "github.com/lib/pq"
)

const usageSchemaSQL = `
CREATE TABLE IF NOT EXISTS generation_usage (
	id BIGSERIAL PRIMARY KEY,
	job_id TEXT NOT NULL,
	template_id TEXT NOT NULL,
	model TEXT NOT NULL,
	input_bytes BIGINT NOT NULL,
	output_bytes BIGINT NOT NULL,
	prompt_tokens BIGINT NOT NULL,
	output_tokens BIGINT NOT NULL,
	estimated_cost_usd DOUBLE PRECISION NOT NULL,
	compute_time_ms BIGINT NOT NULL,
	attempt INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS generation_usage_created_at_idx ON generation_usage (created_at);
`

type PostgresUsageStore struct {
	db *sql.DB
}

func NewPostgresUsageStore(ctx context.Context, dsn string) (*PostgresUsageStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresUsageStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresUsageStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, usageSchemaSQL); err != nil {
		return fmt.Errorf("ensure usage schema: %w", err)
	}
	return nil
}

func (s *PostgresUsageStore) Close() error {
	return s.db.Close()
}

func (s *PostgresUsageStore) CreateUsageLog(ctx context.Context, log domain.UsageLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO generation_usage (
			job_id, template_id, model, input_bytes, output_bytes, prompt_tokens,
			output_tokens, estimated_cost_usd, compute_time_ms, attempt, created_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		log.JobID,
		log.TemplateID,
		log.Model,
		log.InputBytes,
		log.OutputBytes,
		log.PromptTokens,
		log.OutputTokens,
		log.EstimatedCost,
		log.ComputeTimeMS,
		log.Attempt,
		log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	return nil
}

func (s *PostgresUsageStore) Summary(ctx context.Context) (domain.UsageSummary, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(*), COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(output_tokens), 0),
		        COALESCE(SUM(estimated_cost_usd), 0)
		 FROM generation_usage`,
	)

	var sum domain.UsageSummary
	if err := row.Scan(&sum.Jobs, &sum.PromptTokens, &sum.OutputTokens, &sum.EstimatedCost); err != nil {
		return domain.UsageSummary{}, fmt.Errorf("query usage summary: %w", err)
	}
	return sum, nil
}
