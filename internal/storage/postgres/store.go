// Package postgres provides the Postgres-backed paper store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paperlens/paperlens/internal/assessment"
	"github.com/paperlens/paperlens/internal/paper"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Store implements paper.Store on a pgx connection pool.
type Store struct {
	pool pgxPool
}

// New creates a Store connected per cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(pool pgxPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	s.pool.Close()
}

// EnsureSchema creates the tables and indexes when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS papers (
			arxiv_id          TEXT PRIMARY KEY,
			title             TEXT NOT NULL,
			authors           TEXT NOT NULL DEFAULT '',
			abstract          TEXT NOT NULL DEFAULT '',
			categories        TEXT NOT NULL DEFAULT '',
			published_date    TEXT NOT NULL DEFAULT '',
			evaluation_status TEXT NOT NULL DEFAULT 'not_started',
			evaluation_result JSONB,
			overall_score     DOUBLE PRECISION,
			evaluated_at      TIMESTAMPTZ,
			created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS papers_status_idx ON papers (evaluation_status);
		CREATE TABLE IF NOT EXISTS daily_cache (
			cache_date TEXT PRIMARY KEY,
			cards      JSONB NOT NULL,
			fetched_at TIMESTAMPTZ NOT NULL
		);
	`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const recordColumns = `arxiv_id, title, authors, abstract, categories, published_date,
		evaluation_status, evaluation_result, overall_score, evaluated_at, created_at, updated_at`

// Insert adds crawl metadata for an unseen id. Existing rows, including
// their evaluation state, are left untouched.
func (s *Store) Insert(ctx context.Context, rec paper.Record) error {
	status := rec.EvaluationStatus
	if status == "" {
		status = paper.StatusNotStarted
	}
	const query = `
		INSERT INTO papers (arxiv_id, title, authors, abstract, categories, published_date, evaluation_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (arxiv_id) DO NOTHING;
	`
	_, err := s.pool.Exec(ctx, query,
		rec.ArxivID, rec.Title, rec.Authors, rec.Abstract, rec.Categories, rec.PublishedDate, status)
	if err != nil {
		return fmt.Errorf("insert paper: %w", err)
	}
	return nil
}

// Get returns the record for an id or paper.ErrNotFound.
func (s *Store) Get(ctx context.Context, arxivID string) (paper.Record, error) {
	const query = `SELECT ` + recordColumns + ` FROM papers WHERE arxiv_id = $1;`
	rec, err := scanRecord(s.pool.QueryRow(ctx, query, arxivID))
	if errors.Is(err, pgx.ErrNoRows) {
		return paper.Record{}, paper.ErrNotFound
	}
	if err != nil {
		return paper.Record{}, fmt.Errorf("get paper: %w", err)
	}
	return rec, nil
}

// SetStatus moves a record between states without touching the stored result.
func (s *Store) SetStatus(ctx context.Context, arxivID string, status paper.EvaluationStatus) error {
	const query = `UPDATE papers SET evaluation_status = $2, updated_at = now() WHERE arxiv_id = $1;`
	tag, err := s.pool.Exec(ctx, query, arxivID, status)
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return paper.ErrNotFound
	}
	return nil
}

// SaveEvaluation writes the result, the derived score and the timestamp and
// marks the record completed, in one statement.
func (s *Store) SaveEvaluation(ctx context.Context, arxivID string, result *assessment.Result, overall float64, at time.Time) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal evaluation result: %w", err)
	}
	const query = `
		UPDATE papers
		SET evaluation_status = 'completed',
		    evaluation_result = $2,
		    overall_score = $3,
		    evaluated_at = $4,
		    updated_at = now()
		WHERE arxiv_id = $1;
	`
	tag, err := s.pool.Exec(ctx, query, arxivID, payload, overall, at)
	if err != nil {
		return fmt.Errorf("save evaluation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return paper.ErrNotFound
	}
	return nil
}

// MarkFailed flips a record to failed unless it already holds a result, in
// which case the record reverts to completed and the result is preserved.
func (s *Store) MarkFailed(ctx context.Context, arxivID string) error {
	const query = `
		UPDATE papers
		SET evaluation_status = CASE WHEN evaluation_result IS NULL THEN 'failed' ELSE 'completed' END,
		    updated_at = now()
		WHERE arxiv_id = $1;
	`
	tag, err := s.pool.Exec(ctx, query, arxivID)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return paper.ErrNotFound
	}
	return nil
}

// ReconcileStale repairs records stuck at evaluating since before the cutoff.
func (s *Store) ReconcileStale(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `
		UPDATE papers
		SET evaluation_status = CASE WHEN evaluation_result IS NULL THEN 'failed' ELSE 'completed' END,
		    updated_at = now()
		WHERE evaluation_status = 'evaluating' AND updated_at < $1;
	`
	tag, err := s.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reconcile stale: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListEvaluated returns completed records, most recently evaluated first.
func (s *Store) ListEvaluated(ctx context.Context, limit int) ([]paper.Record, error) {
	query := `SELECT ` + recordColumns + `
		FROM papers
		WHERE evaluation_status = 'completed' AND evaluation_result IS NOT NULL
		ORDER BY evaluated_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query+";", args...)
	if err != nil {
		return nil, fmt.Errorf("list evaluated: %w", err)
	}
	defer rows.Close()

	var out []paper.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("list evaluated: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list evaluated: %w", err)
	}
	return out, nil
}

// Count returns the number of known papers.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM papers;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count papers: %w", err)
	}
	return n, nil
}

// GetDay returns the cached feed page for a date or paper.ErrNotFound.
func (s *Store) GetDay(ctx context.Context, date string) (paper.Day, error) {
	const query = `SELECT cards, fetched_at FROM daily_cache WHERE cache_date = $1;`
	var (
		cardsJSON []byte
		fetchedAt time.Time
	)
	err := s.pool.QueryRow(ctx, query, date).Scan(&cardsJSON, &fetchedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return paper.Day{}, paper.ErrNotFound
	}
	if err != nil {
		return paper.Day{}, fmt.Errorf("get cached day: %w", err)
	}
	var cards []paper.Summary
	if err := json.Unmarshal(cardsJSON, &cards); err != nil {
		return paper.Day{}, fmt.Errorf("decode cached cards: %w", err)
	}
	return paper.Day{Date: date, Cards: cards, FetchedAt: fetchedAt}, nil
}

// SaveDay replaces the cached feed page for a date.
func (s *Store) SaveDay(ctx context.Context, day paper.Day) error {
	payload, err := json.Marshal(day.Cards)
	if err != nil {
		return fmt.Errorf("marshal cached cards: %w", err)
	}
	const query = `
		INSERT INTO daily_cache (cache_date, cards, fetched_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (cache_date) DO UPDATE
		SET cards = EXCLUDED.cards, fetched_at = EXCLUDED.fetched_at;
	`
	if _, err := s.pool.Exec(ctx, query, day.Date, payload, day.FetchedAt); err != nil {
		return fmt.Errorf("save cached day: %w", err)
	}
	return nil
}

// ListDays returns cached dates, newest first.
func (s *Store) ListDays(ctx context.Context, limit int) ([]string, error) {
	query := `SELECT cache_date FROM daily_cache ORDER BY cache_date DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query+";", args...)
	if err != nil {
		return nil, fmt.Errorf("list cached days: %w", err)
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var date string
		if err := rows.Scan(&date); err != nil {
			return nil, fmt.Errorf("list cached days: %w", err)
		}
		dates = append(dates, date)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list cached days: %w", err)
	}
	return dates, nil
}

// PurgeDays drops the whole daily cache.
func (s *Store) PurgeDays(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM daily_cache;`); err != nil {
		return fmt.Errorf("purge cached days: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func scanRecord(row pgx.Row) (paper.Record, error) {
	var (
		rec        paper.Record
		resultJSON []byte
	)
	err := row.Scan(
		&rec.ArxivID,
		&rec.Title,
		&rec.Authors,
		&rec.Abstract,
		&rec.Categories,
		&rec.PublishedDate,
		&rec.EvaluationStatus,
		&resultJSON,
		&rec.OverallScore,
		&rec.EvaluatedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return paper.Record{}, err
	}
	if len(resultJSON) > 0 {
		var result assessment.Result
		if err := json.Unmarshal(resultJSON, &result); err != nil {
			return paper.Record{}, fmt.Errorf("decode evaluation result: %w", err)
		}
		rec.EvaluationResult = &result
	}
	return rec, nil
}
