package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aluiziolira/go-scrape-icorating/models"
)

const createProjectsTable = `
CREATE TABLE IF NOT EXISTS ico_projects (
	dedupe_key    TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	symbol        TEXT,
	url           TEXT,
	start_date    DATE,
	end_date      DATE,
	hype_score    DOUBLE PRECISION,
	risk_score    DOUBLE PRECISION,
	expert_review BOOLEAN NOT NULL DEFAULT FALSE,
	review_url    TEXT,
	rating        TEXT,
	industry      TEXT,
	scraped_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const upsertProject = `
INSERT INTO ico_projects (
	dedupe_key, name, symbol, url, start_date, end_date,
	hype_score, risk_score, expert_review, review_url, rating, industry
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (dedupe_key) DO UPDATE SET
	name = EXCLUDED.name,
	symbol = EXCLUDED.symbol,
	url = EXCLUDED.url,
	start_date = EXCLUDED.start_date,
	end_date = EXCLUDED.end_date,
	hype_score = EXCLUDED.hype_score,
	risk_score = EXCLUDED.risk_score,
	expert_review = EXCLUDED.expert_review,
	review_url = EXCLUDED.review_url,
	rating = EXCLUDED.rating,
	industry = EXCLUDED.industry,
	scraped_at = NOW()`

// pgxConn is the part of *pgxpool.Pool the writer needs.
type pgxConn interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// PostgresWriter upserts records into the ico_projects table.
type PostgresWriter struct {
	ctx  context.Context
	conn pgxConn
	mu   sync.Mutex
}

// NewPostgresWriter connects to dsn and ensures the schema exists.
func NewPostgresWriter(ctx context.Context, dsn string) (*PostgresWriter, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	pw, err := newPostgresWriter(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return pw, nil
}

func newPostgresWriter(ctx context.Context, conn pgxConn) (*PostgresWriter, error) {
	if _, err := conn.Exec(ctx, createProjectsTable); err != nil {
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return &PostgresWriter{ctx: ctx, conn: conn}, nil
}

// Write upserts one batch inside a single transaction.
func (pw *PostgresWriter) Write(records []*models.ProjectRecord) error {
	pw.mu.Lock()
	defer pw.mu.Unlock()

	tx, err := pw.conn.Begin(pw.ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}

	for _, r := range records {
		if _, err := tx.Exec(pw.ctx, upsertProject, projectArgs(r)...); err != nil {
			_ = tx.Rollback(pw.ctx)
			return fmt.Errorf("postgres: upsert %q: %w", r.Name, err)
		}
	}
	if err := tx.Commit(pw.ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (pw *PostgresWriter) Close() error {
	pw.conn.Close()
	return nil
}

// Validate checks the database is still reachable.
func (pw *PostgresWriter) Validate() error {
	if _, err := pw.conn.Exec(pw.ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("postgres: validate: %w", err)
	}
	return nil
}

func projectArgs(r *models.ProjectRecord) []any {
	return []any{
		r.DedupeKey(),
		r.Name,
		nullable(r.Symbol),
		nullable(r.URL),
		nullableDate(r.StartDate),
		nullableDate(r.EndDate),
		nullable(r.HypeScore),
		nullable(r.RiskScore),
		r.ExpertReview,
		nullable(r.ReviewURL),
		nullable(r.Rating),
		nullable(r.Industry),
	}
}

func nullable[T any](v *T) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableDate(d *models.Date) any {
	if d == nil {
		return nil
	}
	return d.Time
}
