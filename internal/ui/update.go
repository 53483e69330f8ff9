// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/tabletalk/internal/history"
	"github.com/jeranaias/tabletalk/internal/ollama"
	"github.com/jeranaias/tabletalk/internal/query"
	"github.com/jeranaias/tabletalk/internal/util"
)

// =============================================================================
// UPDATE
// =============================================================================

// Update processes messages and returns the updated model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.resize()
		m.syncViewport()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		if !m.running {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case QueryEventMsg:
		return m.handleQueryEvent(msg.Event)

	case OllamaStatusMsg:
		m.ollamaUp = msg.Running
		if msg.Running {
			m.setIdleStatus("Ready")
		} else {
			m.setIdleStatus("Ollama is not reachable. Start it with: ollama serve")
			m.logger.Warn("ollama not reachable", "error", msg.Err)
		}
		return m, nil

	case ModelsLoadedMsg:
		if msg.Err != nil {
			m.appendError("Error: " + msg.Err.Error())
			m.setIdleStatus("Error occurred")
			return m, nil
		}
		m.appendInfo(formatModels(msg.Models, m.modelName))
		m.setIdleStatus("Ready")
		return m, nil

	case DatasetLoadedMsg:
		return m.handleDatasetLoaded(msg)

	case DatasetReloadedMsg:
		if msg.Err != nil {
			m.logger.Warn("dataset reload failed", "error", msg.Err)
			return m, nil
		}
		m.summary = msg.Summary
		if msg.Summary != nil {
			m.setIdleStatus(fmt.Sprintf("Dataset reloaded: %s", m.shapeText()))
		}
		return m, nil

	case DatasetInfoMsg:
		if msg.Err != nil {
			m.appendError("Error: " + msg.Err.Error())
			m.setIdleStatus("Error occurred")
			return m, nil
		}
		m.appendInfo(msg.Body)
		m.setIdleStatus("Ready")
		return m, nil

	case ChartReadyMsg:
		if msg.Err != nil {
			m.appendError("Error: " + msg.Err.Error())
			m.setIdleStatus("Error occurred")
			return m, nil
		}
		m.appendInfo("Chart opened in your browser: " + msg.Path)
		m.setIdleStatus("Ready")
		return m, nil

	case HistoryEntriesMsg:
		if msg.Err != nil {
			m.appendError("Error: " + msg.Err.Error())
			m.setIdleStatus("Error occurred")
			return m, nil
		}
		m.appendInfo(formatHistoryEntries(msg.Entries))
		m.setIdleStatus("Ready")
		return m, nil

	case HistoryClearedMsg:
		if msg.Err != nil {
			m.appendError("Error: " + msg.Err.Error())
		} else {
			m.appendInfo("History cleared.")
		}
		m.setIdleStatus("Ready")
		return m, nil

	case ExportDoneMsg:
		if msg.Err != nil {
			m.appendError("Error: " + msg.Err.Error())
			m.setIdleStatus("Error occurred")
			return m, nil
		}
		m.appendInfo("History exported to " + msg.Path)
		m.setIdleStatus("Ready")
		return m, nil

	case HistoryRecordedMsg:
		if msg.Err != nil {
			m.logger.Warn("failed to record history entry", "error", msg.Err)
		}
		return m, nil
	}

	// Everything else (cursor blinks and such) flows to the input.
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// =============================================================================
// KEYS
// =============================================================================

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		if m.running {
			m.cancelRunning()
			return m, nil
		}
		return m, tea.Quit

	case "esc":
		if m.running {
			m.cancelRunning()
		}
		return m, nil

	case "enter":
		return m.submitInput()

	case "pgup", "pgdown", "ctrl+u", "ctrl+d":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// =============================================================================
// SUBMISSION
// =============================================================================

// submitInput routes the input line: empty lines are ignored, slash
// commands go to the registry, anything else becomes a query.
func (m Model) submitInput() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}
	if strings.HasPrefix(text, "/") {
		return m.handleCommand(text)
	}
	return m.submitQuestion(text)
}

func (m Model) submitQuestion(text string) (tea.Model, tea.Cmd) {
	if m.executor == nil {
		m.appendError("Error: query execution is not available")
		return m, nil
	}

	// Under the reject policy a running query blocks new submissions.
	// The executor enforces this too; checking here keeps the typed
	// question in the input box instead of discarding it.
	if m.running && m.executor.Policy() == query.PolicyReject {
		m.status = "A query is already running. Press Esc to cancel it."
		return m, nil
	}

	handle, err := m.executor.Submit(query.Request{
		Question: text,
		Config: query.ModelConfig{
			Model:       m.modelName,
			Temperature: m.temperature,
		},
		Summary: m.summary,
	})
	if err != nil {
		if query.IsBusy(err) {
			m.status = "A query is already running. Press Esc to cancel it."
			return m, nil
		}
		m.appendError("Error: " + err.Error())
		return m, nil
	}

	m.currentHandleID = handle.ID
	m.pendingQuestion = text
	m.running = true
	m.startedAt = time.Now()
	m.status = query.ProgressInitializing

	m.appendEntry(entry{kind: entryQuestion, text: text})
	m.input.Reset()
	m.syncViewport()
	return m, m.spinner.Tick
}

// cancelRunning aborts the in-flight query. The executor suppresses any
// late terminal event for a canceled handle, so no completion arrives.
func (m *Model) cancelRunning() {
	if !m.running {
		return
	}
	if m.executor != nil {
		m.executor.Cancel()
	}
	m.running = false
	m.currentHandleID = ""
	m.pendingQuestion = ""
	m.status = "Canceled"
	m.appendInfo("Query canceled.")
}

// =============================================================================
// QUERY EVENTS
// =============================================================================

// handleQueryEvent applies an executor event. Events from any handle
// other than the current one are stale echoes of a superseded or
// canceled query and are dropped.
func (m Model) handleQueryEvent(ev query.Event) (tea.Model, tea.Cmd) {
	if ev.HandleID != m.currentHandleID {
		return m, nil
	}

	switch ev.Kind {
	case query.EventProgress:
		m.status = ev.Message
		return m, nil

	case query.EventFinished:
		m.running = false
		m.currentHandleID = ""
		m.status = "Response complete"
		m.appendEntry(entry{
			kind:    entryAnswer,
			text:    ev.Response,
			elapsed: ev.Elapsed,
		})
		cmd := m.recordOutcome(ev.Response, true, ev.Elapsed)
		m.pendingQuestion = ""
		m.syncViewport()
		return m, cmd

	case query.EventFailed:
		m.running = false
		m.currentHandleID = ""
		m.status = "Error occurred"
		desc := ev.Message
		if desc == "" && ev.Err != nil {
			desc = ev.Err.Error()
		}
		m.appendEntry(entry{kind: entryError, text: "Error: " + desc})
		cmd := m.recordOutcome(desc, false, ev.Elapsed)
		m.pendingQuestion = ""
		m.syncViewport()
		return m, cmd
	}
	return m, nil
}

// recordOutcome queues a background history write for a finished query.
func (m *Model) recordOutcome(answer string, ok bool, elapsed time.Duration) tea.Cmd {
	if m.history == nil {
		return nil
	}
	datasetPath := ""
	if m.source != nil {
		datasetPath = m.source.Path()
	}
	return recordHistoryCmd(m.history, history.Entry{
		Question:    m.pendingQuestion,
		Answer:      answer,
		Model:       m.modelName,
		Temperature: m.temperature,
		Dataset:     datasetPath,
		OK:          ok,
		Duration:    elapsed,
	})
}

// =============================================================================
// DATASET EVENTS
// =============================================================================

func (m Model) handleDatasetLoaded(msg DatasetLoadedMsg) (tea.Model, tea.Cmd) {
	if msg.Err != nil {
		m.appendError("Error: " + msg.Err.Error())
		m.setIdleStatus("Error occurred")
		return m, nil
	}

	m.summary = msg.Summary
	m.appendInfo(msg.Overview)
	m.setIdleStatus(fmt.Sprintf("Loaded %s: %s", msg.Path, m.shapeText()))
	m.restartWatcher()
	return m, nil
}

// =============================================================================
// STATUS HELPERS
// =============================================================================

// setIdleStatus updates the status line unless a query is in flight, in
// which case progress messages own it.
func (m *Model) setIdleStatus(s string) {
	if m.running {
		return
	}
	m.status = s
}

// shapeText formats the loaded dataset's dimensions with thousands
// separators.
func (m *Model) shapeText() string {
	if m.summary == nil {
		return "no dataset"
	}
	return m.printer.Sprintf("%d rows x %d cols", m.summary.Rows, m.summary.Cols)
}

// =============================================================================
// FORMATTING
// =============================================================================

// formatModels renders the installed model list, marking the active one.
func formatModels(models []ollama.ModelInfo, active string) string {
	if len(models) == 0 {
		return "No models installed. Pull one with: ollama pull <name>"
	}

	var b strings.Builder
	b.WriteString("Installed models:\n")
	for _, mi := range models {
		marker := "  "
		if mi.Name == active {
			marker = "* "
		}
		fmt.Fprintf(&b, "  %s%-30s %10s\n", marker, mi.Name, formatBytes(mi.Size))
	}
	b.WriteString("\nSwitch with /model <name>")
	return b.String()
}

// formatBytes renders a byte count in human units.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}

// formatHistoryEntries renders history rows for the transcript.
func formatHistoryEntries(entries []history.Entry) string {
	if len(entries) == 0 {
		return "No history entries."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "History (%d):\n", len(entries))
	for _, e := range entries {
		outcome := StatusIndicators.Success
		if !e.OK {
			outcome = StatusIndicators.Error
		}
		fmt.Fprintf(&b, "  %s #%d %s  [%s, %.1fs]\n",
			outcome, e.ID, util.TruncateRunes(e.Question, 60), e.Model, e.Duration.Seconds())
	}
	return strings.TrimRight(b.String(), "\n")
}
