// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dataset

// Summary is a digest of the loaded dataset: shape, column names, a rendered
// preview of the first rows, and rendered descriptive statistics. It is the
// grounding context embedded into model prompts. Treat it as immutable once
// built; holders that need an independent copy use Clone.
type Summary struct {
	// Rows is the number of data rows in the table.
	Rows int

	// Cols is the number of columns.
	Cols int

	// Columns holds the column names in table order.
	Columns []string

	// Preview is the first rows rendered as a text table.
	Preview string

	// Stats is per-column descriptive statistics rendered as a text table.
	Stats string
}

// Clone returns a deep copy of the summary, safe to hand to another
// goroutine. Clone of nil is nil.
func (s *Summary) Clone() *Summary {
	if s == nil {
		return nil
	}
	out := *s
	out.Columns = make([]string, len(s.Columns))
	copy(out.Columns, s.Columns)
	return &out
}
