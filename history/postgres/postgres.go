// Package postgres implements tiller.HistoryStore using PostgreSQL via pgx.
// Suited to shared deployments where several steering processes append to
// one transcript.
//
// The store accepts an externally-owned *pgxpool.Pool via constructor
// injection; the caller creates and closes the pool.
package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	tiller "github.com/tillerhq/tiller"
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithTable overrides the table name (default "directives"). Only simple
// identifiers are accepted.
func WithTable(name string) Option {
	return func(s *Store) {
		if validIdent(name) {
			s.table = name
		}
	}
}

// Store implements tiller.HistoryStore backed by PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	table  string
	logger *slog.Logger
}

var _ tiller.HistoryStore = (*Store)(nil)

// New creates a Store over an existing pool.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool, table: "directives", logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Init creates the directives table.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id BIGSERIAL PRIMARY KEY,
		input TEXT NOT NULL,
		output TEXT NOT NULL,
		ts BIGINT NOT NULL,
		tokens INT NOT NULL DEFAULT 0
	)`, s.table))
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	return nil
}

// Append stores one completed directive.
func (s *Store) Append(ctx context.Context, item tiller.MemoryItem) error {
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (input, output, ts, tokens) VALUES ($1, $2, $3, $4)`, s.table),
		item.Input, item.Output, item.TS, item.Tokens)
	if err != nil {
		return fmt.Errorf("append: %w", err)
	}
	return nil
}

// Recent returns up to limit directives, oldest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]tiller.MemoryItem, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT input, output, ts, tokens FROM (
		SELECT input, output, ts, tokens, id FROM %s ORDER BY id DESC LIMIT $1
	) recent ORDER BY id ASC`, s.table), limit)
	if err != nil {
		return nil, fmt.Errorf("recent: %w", err)
	}
	defer rows.Close()

	var items []tiller.MemoryItem
	for rows.Next() {
		var it tiller.MemoryItem
		if err := rows.Scan(&it.Input, &it.Output, &it.TS, &it.Tokens); err != nil {
			return nil, fmt.Errorf("recent scan: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// Stats summarizes the stored transcript.
func (s *Store) Stats(ctx context.Context) (tiller.HistoryStats, error) {
	var st tiller.HistoryStats
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT COUNT(*), COALESCE(SUM(tokens), 0) FROM %s`, s.table)).
		Scan(&st.Items, &st.Tokens)
	if err != nil {
		return tiller.HistoryStats{}, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}

// Clear drops all stored directives.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s`, s.table)); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

// validIdent accepts [a-zA-Z_][a-zA-Z0-9_]*.
func validIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
