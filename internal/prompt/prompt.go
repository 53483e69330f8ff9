// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package prompt renders the text prompts sent to the language model.
package prompt

import (
	"fmt"
	"strings"

	"github.com/jeranaias/tabletalk/internal/dataset"
)

// Build renders the prompt for a question, grounded in the dataset summary
// when one is present. Pure and deterministic: identical inputs produce
// identical output. Summary fields are rendered verbatim, whatever they
// hold; validating them is the caller's business.
func Build(question string, summary *dataset.Summary) string {
	if summary == nil {
		return "Question: " + question + "\nDetailed Answer:"
	}

	var b strings.Builder
	b.WriteString("CSV Data Context:\n")
	b.WriteString(datasetContext(summary))
	b.WriteString("\n\nQuestion about the data: ")
	b.WriteString(question)
	b.WriteString("\n\nProvide a clear and detailed answer based on the CSV data above:")
	return b.String()
}

// datasetContext renders the grounding block: shape, column names, preview
// rows, and summary statistics, in that order.
func datasetContext(summary *dataset.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The CSV file has %d rows and %d columns.\n", summary.Rows, summary.Cols)
	fmt.Fprintf(&b, "Column names: %s\n\n", strings.Join(summary.Columns, ", "))
	b.WriteString("First few rows of the data:\n")
	b.WriteString(summary.Preview)
	b.WriteString("\n\nSummary statistics:\n")
	b.WriteString(summary.Stats)
	return b.String()
}
