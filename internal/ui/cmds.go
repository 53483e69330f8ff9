// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/tabletalk/internal/chart"
	"github.com/jeranaias/tabletalk/internal/dataset"
	"github.com/jeranaias/tabletalk/internal/history"
	"github.com/jeranaias/tabletalk/internal/ollama"
)

// =============================================================================
// COMMANDS
// =============================================================================

// checkOllamaCmd verifies the Ollama daemon is reachable.
func checkOllamaCmd(client *ollama.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := client.CheckRunning(ctx); err != nil {
			return OllamaStatusMsg{Running: false, Err: err}
		}
		return OllamaStatusMsg{Running: true}
	}
}

// listModelsCmd fetches the installed model list.
func listModelsCmd(client *ollama.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		models, err := client.ListModels(ctx)
		return ModelsLoadedMsg{Models: models, Err: err}
	}
}

// loadDatasetCmd loads a CSV and builds its summary and overview text.
func loadDatasetCmd(source *dataset.Source, path string, previewRows int) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		if err := source.Load(ctx, path); err != nil {
			return DatasetLoadedMsg{Path: path, Err: err}
		}
		sum, err := source.BuildSummary(ctx, previewRows)
		if err != nil {
			return DatasetLoadedMsg{Path: path, Err: err}
		}
		overview, err := source.Overview(ctx, previewRows)
		if err != nil {
			return DatasetLoadedMsg{Path: path, Err: err}
		}
		return DatasetLoadedMsg{Path: path, Summary: sum, Overview: overview}
	}
}

// refreshSummaryCmd rebuilds the summary for an already loaded dataset.
func refreshSummaryCmd(source *dataset.Source, previewRows int) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		sum, err := source.BuildSummary(ctx, previewRows)
		return DatasetReloadedMsg{Summary: sum, Err: err}
	}
}

// overviewCmd fetches the dataset shape, schema, and preview rows as a
// rendered block.
func overviewCmd(source *dataset.Source, previewRows int) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		body, err := source.Overview(ctx, previewRows)
		return DatasetInfoMsg{Body: body, Err: err}
	}
}

// statsCmd fetches descriptive statistics for the numeric columns.
func statsCmd(source *dataset.Source) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		body, err := source.Describe(ctx)
		return DatasetInfoMsg{Body: body, Err: err}
	}
}

// chartCmd pulls column values, renders the chart to a temp file and
// opens it in the default browser.
func chartCmd(source *dataset.Source, kind chart.Kind, xCol, yCol string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		labels, values, err := source.ColumnValues(ctx, xCol, yCol)
		if err != nil {
			return ChartReadyMsg{Err: err}
		}
		path, err := chart.Show(&chart.Spec{
			Kind:   kind,
			X:      xCol,
			Y:      yCol,
			Labels: labels,
			Values: values,
		})
		return ChartReadyMsg{Path: path, Err: err}
	}
}

// recentHistoryCmd fetches the most recent history entries.
func recentHistoryCmd(store *history.Store, limit int) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		entries, err := store.Recent(ctx, limit)
		return HistoryEntriesMsg{Entries: entries, Err: err}
	}
}

// searchHistoryCmd runs a full-text search over past queries.
func searchHistoryCmd(store *history.Store, term string, limit int) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		entries, err := store.Search(ctx, term, limit)
		return HistoryEntriesMsg{Entries: entries, Err: err}
	}
}

// clearHistoryCmd wipes the history store.
func clearHistoryCmd(store *history.Store) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return HistoryClearedMsg{Err: store.Clear(ctx)}
	}
}

// exportHistoryCmd writes the history to a Markdown file.
func exportHistoryCmd(store *history.Store, path string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := store.ExportMarkdown(ctx, path); err != nil {
			return ExportDoneMsg{Path: path, Err: err}
		}
		return ExportDoneMsg{Path: path}
	}
}

// recordHistoryCmd persists a finished query in the background.
func recordHistoryCmd(store *history.Store, e history.Entry) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		_, err := store.Record(ctx, e)
		return HistoryRecordedMsg{Err: err}
	}
}

// switchModelCmd verifies a model exists locally before reporting the
// switch. The switch itself happens in the update loop.
func switchModelCmd(client *ollama.Client, name string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if !client.ModelExists(ctx, name) {
			return DatasetInfoMsg{
				Body: fmt.Sprintf("%s Model %q is not installed locally. "+
					"Pull it with: ollama pull %s", StatusIndicators.Warning, name, name),
			}
		}
		return DatasetInfoMsg{
			Body: fmt.Sprintf("%s Model %q is installed and ready.", StatusIndicators.Success, name),
		}
	}
}
