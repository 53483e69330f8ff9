// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dataset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver
)

// tableName is the fixed table the loaded CSV lives in. A reload replaces it.
const tableName = "dataset"

// DefaultPreviewRows is how many rows previews and summaries show.
const DefaultPreviewRows = 5

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotLoaded indicates no CSV has been loaded yet.
	ErrNotLoaded = errors.New("no dataset loaded")

	// ErrUnknownColumn indicates a column name not present in the table.
	ErrUnknownColumn = errors.New("unknown column")
)

// =============================================================================
// SOURCE
// =============================================================================

// Column describes one column of the loaded table.
type Column struct {
	Name    string
	Type    string
	Numeric bool
}

// Source owns an embedded in-memory DuckDB database holding the loaded CSV.
// DuckDB does the parsing, typing, and statistics; Source exposes the digests
// the rest of the application consumes. Safe for concurrent use.
type Source struct {
	db     *sql.DB
	logger *slog.Logger

	mu      sync.RWMutex
	path    string
	rows    int
	columns []Column
}

// Open creates an in-memory DuckDB-backed source. A nil logger falls back to
// slog.Default().
func Open(logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// An empty DSN opens an in-memory database. go-duckdb v1.8.2 rejects
	// the ":memory:" spelling (url.Parse fails); newer versions strip it
	// to "" internally, so the two are equivalent.
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb connection: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping duckdb: %w", err)
	}

	return &Source{db: db, logger: logger}, nil
}

// Close releases the database connection.
func (s *Source) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Load replaces the current table with the CSV at path. DuckDB infers the
// schema from the file, so no column configuration is needed.
func (s *Source) Load(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	query := fmt.Sprintf(
		"CREATE OR REPLACE TABLE %s AS SELECT * FROM read_csv_auto('%s', header=true)",
		tableName,
		strings.ReplaceAll(absPath, "'", "''"),
	)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to load CSV: %w", err)
	}

	rows, columns, err := s.tableMetadata(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.path = absPath
	s.rows = rows
	s.columns = columns
	s.mu.Unlock()

	s.logger.Debug("dataset loaded", "path", absPath, "rows", rows, "cols", len(columns))
	return nil
}

// tableMetadata reads the loaded table's row count and column information.
func (s *Source) tableMetadata(ctx context.Context) (int, []Column, error) {
	query := `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = 'main' AND table_name = ?
		ORDER BY ordinal_position
	`

	rows, err := s.db.QueryContext(ctx, query, tableName)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to query column metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var columns []Column
	for rows.Next() {
		var col Column
		if err := rows.Scan(&col.Name, &col.Type); err != nil {
			return 0, nil, fmt.Errorf("failed to scan column metadata: %w", err)
		}
		col.Numeric = isNumericType(col.Type)
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("error iterating column metadata: %w", err)
	}
	if len(columns) == 0 {
		return 0, nil, fmt.Errorf("table %s not found", tableName)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+tableName).Scan(&count); err != nil {
		// Non-fatal error, just set to 0
		count = 0
	}

	return count, columns, nil
}

// isNumericType reports whether a DuckDB data type holds numbers.
func isNumericType(dataType string) bool {
	t := strings.ToUpper(dataType)
	if strings.HasPrefix(t, "DECIMAL") {
		return true
	}
	switch t {
	case "TINYINT", "SMALLINT", "INTEGER", "BIGINT", "HUGEINT",
		"UTINYINT", "USMALLINT", "UINTEGER", "UBIGINT",
		"FLOAT", "DOUBLE", "REAL":
		return true
	}
	return false
}

// =============================================================================
// ACCESSORS
// =============================================================================

// Loaded reports whether a CSV is currently loaded.
func (s *Source) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path != ""
}

// Path returns the absolute path of the loaded CSV, or "" if none.
func (s *Source) Path() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path
}

// Shape returns the row and column counts of the loaded table.
func (s *Source) Shape() (rows, cols int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rows, len(s.columns)
}

// Columns returns the loaded table's columns in order.
func (s *Source) Columns() []Column {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Column, len(s.columns))
	copy(out, s.columns)
	return out
}

// ColumnNames returns the column names in table order.
func (s *Source) ColumnNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, len(s.columns))
	for i, c := range s.columns {
		names[i] = c.Name
	}
	return names
}

// NumericColumns returns the names of numeric columns, for chart axes.
func (s *Source) NumericColumns() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var names []string
	for _, c := range s.columns {
		if c.Numeric {
			names = append(names, c.Name)
		}
	}
	return names
}

// hasColumn reports whether name is a column of the loaded table.
func (s *Source) hasColumn(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

// =============================================================================
// DIGESTS
// =============================================================================

// Head renders the first n rows as a text table. n <= 0 uses the default.
func (s *Source) Head(ctx context.Context, n int) (string, error) {
	if !s.Loaded() {
		return "", ErrNotLoaded
	}
	if n <= 0 {
		n = DefaultPreviewRows
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", tableName, n))
	if err != nil {
		return "", fmt.Errorf("failed to query preview rows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return renderRows(rows)
}

// Describe renders descriptive statistics, one row per column, using
// DuckDB's SUMMARIZE.
func (s *Source) Describe(ctx context.Context) (string, error) {
	if !s.Loaded() {
		return "", ErrNotLoaded
	}

	rows, err := s.db.QueryContext(ctx, "SUMMARIZE "+tableName)
	if err != nil {
		return "", fmt.Errorf("failed to summarize: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return renderRows(rows)
}

// BuildSummary captures the current table as a Summary for prompt grounding.
func (s *Source) BuildSummary(ctx context.Context, previewRows int) (*Summary, error) {
	s.mu.RLock()
	loaded := s.path != ""
	rowCount := s.rows
	names := make([]string, len(s.columns))
	for i, c := range s.columns {
		names[i] = c.Name
	}
	s.mu.RUnlock()

	if !loaded {
		return nil, ErrNotLoaded
	}

	preview, err := s.Head(ctx, previewRows)
	if err != nil {
		return nil, err
	}
	stats, err := s.Describe(ctx)
	if err != nil {
		return nil, err
	}

	return &Summary{
		Rows:    rowCount,
		Cols:    len(names),
		Columns: names,
		Preview: preview,
		Stats:   stats,
	}, nil
}

// Overview renders the digest shown to the user after a successful load:
// shape, column list, and the first rows.
func (s *Source) Overview(ctx context.Context, previewRows int) (string, error) {
	s.mu.RLock()
	loaded := s.path != ""
	rowCount := s.rows
	names := make([]string, len(s.columns))
	for i, c := range s.columns {
		names[i] = c.Name
	}
	s.mu.RUnlock()

	if !loaded {
		return "", ErrNotLoaded
	}

	head, err := s.Head(ctx, previewRows)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Shape: %d rows x %d columns\n", rowCount, len(names))
	fmt.Fprintf(&b, "Columns: %s\n\n", strings.Join(names, ", "))
	b.WriteString("First few rows:\n")
	b.WriteString(head)
	return b.String(), nil
}

// =============================================================================
// CHART VALUES
// =============================================================================

// ColumnValues returns the x column rendered as labels and the y column as
// numbers, in row order. Rows whose y value does not parse as a number are
// skipped.
func (s *Source) ColumnValues(ctx context.Context, xCol, yCol string) ([]string, []float64, error) {
	if !s.Loaded() {
		return nil, nil, ErrNotLoaded
	}
	if !s.hasColumn(xCol) {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownColumn, xCol)
	}
	if !s.hasColumn(yCol) {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownColumn, yCol)
	}

	query := fmt.Sprintf(
		"SELECT CAST(%s AS VARCHAR), TRY_CAST(%s AS DOUBLE) FROM %s",
		quoteIdent(xCol), quoteIdent(yCol), tableName,
	)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query chart values: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var labels []string
	var values []float64
	for rows.Next() {
		var label sql.NullString
		var value sql.NullFloat64
		if err := rows.Scan(&label, &value); err != nil {
			return nil, nil, fmt.Errorf("failed to scan chart values: %w", err)
		}
		if !value.Valid {
			continue
		}
		labels = append(labels, label.String)
		values = append(values, value.Float64)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating chart values: %w", err)
	}

	return labels, values, nil
}

// quoteIdent quotes a column name for interpolation into SQL. CSV headers
// can contain spaces and punctuation, so every identifier is quoted.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
