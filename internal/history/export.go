// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/tabletalk/internal/util"
)

// =============================================================================
// MARKDOWN EXPORT
// =============================================================================

// ExportMarkdown renders every stored entry, oldest first, into a Markdown
// document at path. The file is written atomically so readers never observe
// a partial export.
func (s *Store) ExportMarkdown(ctx context.Context, path string) error {
	entries, err := s.allChronological(ctx)
	if err != nil {
		return err
	}

	data := renderMarkdown(entries, time.Now())
	if err := util.AtomicWriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}

	s.logger.Debug("history exported", "path", path, "entries", len(entries))
	return nil
}

// allChronological returns every entry in ask order.
func (s *Store) allChronological(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectColumns+`
		FROM queries
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func renderMarkdown(entries []Entry, exportedAt time.Time) []byte {
	var sb strings.Builder

	sb.WriteString("# tabletalk query log\n\n")
	sb.WriteString(fmt.Sprintf("- **Entries**: %d\n", len(entries)))
	sb.WriteString(fmt.Sprintf("- **Exported**: %s\n\n", exportedAt.Format("January 2, 2006 at 3:04 PM")))

	if len(entries) == 0 {
		sb.WriteString("_No queries recorded._\n")
		return []byte(sb.String())
	}

	sb.WriteString("---\n\n")

	for i, e := range entries {
		sb.WriteString(fmt.Sprintf("## %d. %s\n\n", i+1, escapeMarkdown(e.Question)))

		sb.WriteString(fmt.Sprintf("- **Model**: %s (temperature %.1f)\n", e.Model, e.Temperature))
		sb.WriteString(fmt.Sprintf("- **Asked**: %s\n", e.CreatedAt.Format("2006-01-02 15:04:05")))
		if e.Dataset != "" {
			sb.WriteString(fmt.Sprintf("- **Dataset**: `%s`\n", e.Dataset))
		}
		if e.Duration > 0 {
			sb.WriteString(fmt.Sprintf("- **Duration**: %s\n", formatDuration(e.Duration)))
		}
		status := "[OK]"
		if !e.OK {
			status = "[FAIL]"
		}
		sb.WriteString(fmt.Sprintf("- **Status**: %s\n\n", status))

		sb.WriteString(strings.TrimSpace(e.Answer))
		sb.WriteString("\n\n")

		if i < len(entries)-1 {
			sb.WriteString("---\n\n")
		}
	}

	return []byte(sb.String())
}

// escapeMarkdown escapes characters that would break formatting in headings.
func escapeMarkdown(s string) string {
	s = strings.ReplaceAll(s, "#", "\\#")
	s = strings.ReplaceAll(s, "*", "\\*")
	s = strings.ReplaceAll(s, "_", "\\_")
	s = strings.ReplaceAll(s, "[", "\\[")
	s = strings.ReplaceAll(s, "]", "\\]")
	return s
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
