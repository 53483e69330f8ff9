// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package history persists answered queries in a local SQLite database.
//
// Every completed submission, successful or failed, becomes one Entry.
// The store keeps the newest MaxEntries rows, serves recency listings and
// full-text search over questions and answers, and exports the log as a
// Markdown document.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrDatabase = errors.New("history database error")
	ErrNotFound = errors.New("history entry not found")
)

// =============================================================================
// ENTRY
// =============================================================================

// Entry is one recorded question and its outcome.
type Entry struct {
	ID          int64
	Question    string
	Answer      string // failure description when OK is false
	Model       string
	Temperature float64
	Dataset     string // CSV path the query was grounded on, empty when none
	OK          bool
	Duration    time.Duration
	CreatedAt   time.Time
}

// =============================================================================
// STORE
// =============================================================================

// DefaultRecentLimit is used when Recent is called with a non-positive limit.
const DefaultRecentLimit = 10

// Config holds store configuration.
type Config struct {
	// Path is the SQLite database file location.
	Path string

	// MaxEntries caps the stored rows; the oldest are pruned past it.
	// Zero disables pruning.
	MaxEntries int
}

// Store is a SQLite-backed query log.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	path   string
	max    int
}

// Open opens (creating if needed) the history database at cfg.Path.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: empty database path", ErrDatabase)
	}
	if logger == nil {
		logger = slog.Default()
	}

	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer at a time; run everything through one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if _, err := db.Exec(InitMetadata); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize metadata: %w", err)
	}

	// Refuse databases written by a newer build.
	var stored string
	if err := db.QueryRow(`SELECT value FROM metadata WHERE key = 'schema_version'`).Scan(&stored); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read schema version: %w", err)
	}
	if v, err := strconv.Atoi(stored); err != nil || v > SchemaVersion {
		db.Close()
		return nil, fmt.Errorf("%w: unsupported schema version %q", ErrDatabase, stored)
	}

	logger.Debug("history opened", "path", cfg.Path, "max_entries", cfg.MaxEntries)

	return &Store{
		db:     db,
		logger: logger,
		path:   cfg.Path,
		max:    cfg.MaxEntries,
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// =============================================================================
// RECORDING
// =============================================================================

// Record inserts one entry and returns its row ID. A zero CreatedAt is
// filled with the current time. When the store has a cap, the oldest rows
// past it are pruned afterwards.
func (s *Store) Record(ctx context.Context, e Entry) (int64, error) {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	ok := 0
	if e.OK {
		ok = 1
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO queries (question, answer, model, temperature, dataset, ok, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.Question, e.Answer, e.Model, e.Temperature, e.Dataset, ok,
		e.Duration.Milliseconds(), createdAt.Unix())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	if s.max > 0 {
		if err := s.prune(ctx); err != nil {
			// The insert already landed; a failed prune only delays cleanup.
			s.logger.Warn("history prune failed", "error", err)
		}
	}

	return id, nil
}

// prune deletes everything but the newest max rows.
func (s *Store) prune(ctx context.Context) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM queries WHERE id NOT IN (
			SELECT id FROM queries ORDER BY created_at DESC, id DESC LIMIT ?
		)
	`, s.max)
	if err != nil {
		return err
	}
	if removed, err := result.RowsAffected(); err == nil && removed > 0 {
		s.logger.Debug("history pruned", "removed", removed, "kept", s.max)
	}
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

const selectColumns = `id, question, answer, model, temperature, dataset, ok, duration_ms, created_at`

// Recent returns up to limit entries, newest first. A non-positive limit
// uses DefaultRecentLimit.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectColumns+`
		FROM queries
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// Get returns a single entry by row ID.
func (s *Store) Get(ctx context.Context, id int64) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+selectColumns+`
		FROM queries
		WHERE id = ?
	`, id)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return e, nil
}

// Search finds entries whose question or answer matches term, newest first.
// A blank term returns no results.
func (s *Store) Search(ctx context.Context, term string, limit int) ([]Entry, error) {
	match := buildMatch(term)
	if match == "" {
		return []Entry{}, nil
	}
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT q.id, q.question, q.answer, q.model, q.temperature, q.dataset, q.ok, q.duration_ms, q.created_at
		FROM queries_fts fts
		JOIN queries q ON q.id = fts.rowid
		WHERE queries_fts MATCH ?
		ORDER BY q.created_at DESC, q.id DESC
		LIMIT ?
	`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// buildMatch turns user input into an FTS5 query. Each word becomes a quoted
// prefix token so punctuation in questions cannot break the match syntax.
func buildMatch(term string) string {
	words := strings.Fields(term)
	if len(words) == 0 {
		return ""
	}
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = `"` + strings.ReplaceAll(w, `"`, `""`) + `"*`
	}
	return strings.Join(quoted, " ")
}

// Count returns the number of stored entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM queries").Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return n, nil
}

// Clear deletes all entries.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM queries"); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	s.logger.Debug("history cleared")
	return nil
}

// =============================================================================
// SCANNING
// =============================================================================

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		e          Entry
		ok         int
		durationMs int64
		createdAt  int64
	)
	err := row.Scan(&e.ID, &e.Question, &e.Answer, &e.Model, &e.Temperature,
		&e.Dataset, &ok, &durationMs, &createdAt)
	if err != nil {
		return nil, err
	}
	e.OK = ok != 0
	e.Duration = time.Duration(durationMs) * time.Millisecond
	e.CreatedAt = time.Unix(createdAt, 0)
	return &e, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return entries, nil
}
