package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dunamismax/facefilter/internal/domain"
	_ "github.com/lib/pq"
)

const runSchemaSQL = `
CREATE TABLE IF NOT EXISTS transform_runs (
	id BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL,
	filter_id TEXT NOT NULL DEFAULT '',
	outcome TEXT NOT NULL,
	error_kind TEXT NOT NULL DEFAULT '',
	face_count INTEGER NOT NULL,
	low_clarity BOOLEAN NOT NULL DEFAULT FALSE,
	duration_ms BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS transform_runs_created_at_idx ON transform_runs (created_at DESC);
`

type PostgresRunStore struct {
	db *sql.DB
}

func NewPostgresRunStore(ctx context.Context, dsn string) (*PostgresRunStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresRunStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresRunStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, runSchemaSQL); err != nil {
		return fmt.Errorf("ensure transform_runs schema: %w", err)
	}
	return nil
}

func (s *PostgresRunStore) Close() error {
	return s.db.Close()
}

func (s *PostgresRunStore) Record(ctx context.Context, run domain.RunLog) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO transform_runs (session_id, filter_id, outcome, error_kind, face_count, low_clarity, duration_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.SessionID,
		run.FilterID,
		run.Outcome,
		run.ErrorKind,
		run.FaceCount,
		run.LowClarity,
		run.DurationMS,
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transform run: %w", err)
	}
	return nil
}

func (s *PostgresRunStore) Recent(ctx context.Context, limit int) ([]domain.RunLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT session_id, filter_id, outcome, error_kind, face_count, low_clarity, duration_ms, created_at
		 FROM transform_runs
		 ORDER BY created_at DESC, id DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query transform runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.RunLog
	for rows.Next() {
		var run domain.RunLog
		if err := rows.Scan(
			&run.SessionID,
			&run.FilterID,
			&run.Outcome,
			&run.ErrorKind,
			&run.FaceCount,
			&run.LowClarity,
			&run.DurationMS,
			&run.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan transform run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transform runs: %w", err)
	}
	return runs, nil
}
