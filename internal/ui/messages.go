// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"github.com/jeranaias/tabletalk/internal/dataset"
	"github.com/jeranaias/tabletalk/internal/history"
	"github.com/jeranaias/tabletalk/internal/ollama"
	"github.com/jeranaias/tabletalk/internal/query"
)

// =============================================================================
// MESSAGE TYPES
// =============================================================================

// QueryEventMsg carries an executor event into the update loop. The
// executor sink wraps each event in one of these and delivers it through
// program.Send, so events from worker goroutines arrive on the UI thread.
type QueryEventMsg struct {
	Event query.Event
}

// OllamaStatusMsg reports the result of an Ollama reachability check.
type OllamaStatusMsg struct {
	Running bool
	Err     error
}

// ModelsLoadedMsg carries the installed model list from Ollama.
type ModelsLoadedMsg struct {
	Models []ollama.ModelInfo
	Err    error
}

// DatasetLoadedMsg reports the outcome of loading a CSV file.
type DatasetLoadedMsg struct {
	Path     string
	Summary  *dataset.Summary
	Overview string
	Err      error
}

// DatasetReloadedMsg reports a watcher-triggered summary refresh after
// the loaded file changed on disk.
type DatasetReloadedMsg struct {
	Summary *dataset.Summary
	Err     error
}

// DatasetInfoMsg carries overview or stats text for display.
type DatasetInfoMsg struct {
	Body string
	Err  error
}

// ChartReadyMsg reports a chart written to disk and opened in the browser.
type ChartReadyMsg struct {
	Path string
	Err  error
}

// HistoryEntriesMsg carries query history entries for display.
type HistoryEntriesMsg struct {
	Entries []history.Entry
	Err     error
}

// HistoryClearedMsg reports the outcome of wiping the history store.
type HistoryClearedMsg struct {
	Err error
}

// ExportDoneMsg reports a finished history export.
type ExportDoneMsg struct {
	Path string
	Err  error
}

// HistoryRecordedMsg reports a background history write. Failures are
// logged but never interrupt the conversation.
type HistoryRecordedMsg struct {
	Err error
}
