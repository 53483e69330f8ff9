// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package dataset loads CSV files into an embedded DuckDB database and
// derives the digests the rest of the application consumes.
//
// # Key Types
//
//   - Source: owns the DuckDB connection and the loaded table
//   - Summary: immutable shape/preview/statistics digest for prompt grounding
//   - Watcher: reloads the source when the CSV changes on disk
//
// # Usage
//
// Load a CSV and build a summary:
//
//	src, err := dataset.Open(logger)
//	if err != nil { ... }
//	defer src.Close()
//
//	if err := src.Load(ctx, "sales.csv"); err != nil { ... }
//	summary, err := src.BuildSummary(ctx, dataset.DefaultPreviewRows)
//
// DuckDB infers column types from the file; parsing and statistics never
// happen in Go code.
package dataset
