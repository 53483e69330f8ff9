// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package history

// SchemaVersion is stored in the metadata table and checked on open.
// Bump it when the table layout changes.
const SchemaVersion = 1

// Schema creates the query log tables and the FTS index over them.
const Schema = `
-- Schema version plus store bookkeeping
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
) WITHOUT ROWID;

-- Queries table: one row per completed submission
CREATE TABLE IF NOT EXISTS queries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    question TEXT NOT NULL,
    answer TEXT NOT NULL,        -- failure description when ok = 0
    model TEXT NOT NULL,
    temperature REAL NOT NULL,
    dataset TEXT,                -- CSV path, NULL/empty when ungrounded
    ok INTEGER NOT NULL,         -- 1 = finished, 0 = failed
    duration_ms INTEGER NOT NULL,
    created_at INTEGER NOT NULL  -- Unix timestamp
);

CREATE INDEX IF NOT EXISTS idx_queries_created_at ON queries(created_at);
CREATE INDEX IF NOT EXISTS idx_queries_model ON queries(model);

-- Full-text search over questions and answers
CREATE VIRTUAL TABLE IF NOT EXISTS queries_fts USING fts5(
    question,
    answer,
    content='queries',
    content_rowid='id',
    tokenize='porter unicode61'
);

-- Triggers to keep FTS table in sync; external-content tables need the
-- special 'delete' command form rather than a plain DELETE
CREATE TRIGGER IF NOT EXISTS queries_ai AFTER INSERT ON queries BEGIN
    INSERT INTO queries_fts(rowid, question, answer)
    VALUES (new.id, new.question, new.answer);
END;

CREATE TRIGGER IF NOT EXISTS queries_ad AFTER DELETE ON queries BEGIN
    INSERT INTO queries_fts(queries_fts, rowid, question, answer)
    VALUES ('delete', old.id, old.question, old.answer);
END;

CREATE TRIGGER IF NOT EXISTS queries_au AFTER UPDATE ON queries BEGIN
    INSERT INTO queries_fts(queries_fts, rowid, question, answer)
    VALUES ('delete', old.id, old.question, old.answer);
    INSERT INTO queries_fts(rowid, question, answer)
    VALUES (new.id, new.question, new.answer);
END;
`

// InitMetadata seeds the metadata table on first open. INSERT OR IGNORE
// leaves existing values alone on every open after that.
const InitMetadata = `
INSERT OR IGNORE INTO metadata (key, value) VALUES ('schema_version', '1');
INSERT OR IGNORE INTO metadata (key, value) VALUES ('created_at', strftime('%s', 'now'));
`
