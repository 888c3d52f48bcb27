// Package sqlite implements tiller.HistoryStore using pure-Go SQLite.
// Zero CGO required; suited to single-binary deployments.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	tiller "github.com/tillerhq/tiller"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a structured logger. When set, the store logs open and
// append at debug level and the schema init duration at info level.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements tiller.HistoryStore backed by a local SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ tiller.HistoryStore = (*Store)(nil)

// nopLogger discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store at dbPath. A single shared connection serialises all
// goroutines through one writer, eliminating SQLITE_BUSY under concurrent
// appends.
func New(dbPath string, opts ...Option) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: history store opened", "path", dbPath)
	return s
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Init creates the directives table.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS directives (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		input TEXT NOT NULL,
		output TEXT NOT NULL,
		ts INTEGER NOT NULL,
		tokens INTEGER NOT NULL DEFAULT 0
	)`)
	if err != nil {
		s.logger.Error("sqlite: init failed", "error", err)
		return fmt.Errorf("init: %w", err)
	}
	s.logger.Info("sqlite: history init completed", "duration", time.Since(start))
	return nil
}

// Append stores one completed directive.
func (s *Store) Append(ctx context.Context, item tiller.MemoryItem) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO directives (input, output, ts, tokens) VALUES (?, ?, ?, ?)`,
		item.Input, item.Output, item.TS, item.Tokens)
	if err != nil {
		return fmt.Errorf("append: %w", err)
	}
	s.logger.Debug("sqlite: directive appended", "ts", item.TS, "tokens", item.Tokens)
	return nil
}

// Recent returns up to limit directives, oldest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]tiller.MemoryItem, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT input, output, ts, tokens FROM (
			SELECT input, output, ts, tokens FROM directives ORDER BY id DESC LIMIT ?
		) ORDER BY ts ASC`, limit)
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
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(tokens), 0) FROM directives`).Scan(&st.Items, &st.Tokens)
	if err != nil {
		return tiller.HistoryStats{}, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}

// Clear drops all stored directives.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM directives`); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}
