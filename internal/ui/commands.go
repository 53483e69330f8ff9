// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/tabletalk/internal/chart"
	"github.com/jeranaias/tabletalk/internal/history"
)

// =============================================================================
// COMMAND REGISTRY
// =============================================================================

// CommandHandler processes a slash command with its arguments.
type CommandHandler func(m *Model, args []string) (tea.Model, tea.Cmd)

// commandHandlers maps command names (and aliases) to handlers.
var commandHandlers = map[string]CommandHandler{
	"load":    cmdLoad,
	"data":    cmdData,
	"stats":   cmdStats,
	"models":  cmdModels,
	"model":   cmdModel,
	"temp":    cmdTemp,
	"chart":   cmdChart,
	"history": cmdHistory,
	"export":  cmdExport,
	"clear":   cmdClear,
	"help":    cmdHelp,
	"quit":    cmdQuit,

	// Aliases
	"h":    cmdHelp,
	"?":    cmdHelp,
	"q":    cmdQuit,
	"exit": cmdQuit,
}

// handleCommand parses and dispatches a slash command.
func (m Model) handleCommand(input string) (tea.Model, tea.Cmd) {
	m.input.Reset()

	parts := strings.Fields(input)
	if len(parts) == 0 {
		return m, nil
	}

	cmd := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	args := parts[1:]

	if handler, ok := commandHandlers[cmd]; ok {
		return handler(&m, args)
	}

	m.appendEntry(entry{
		kind: entryError,
		text: fmt.Sprintf("Error: Unknown command '%s'\nType /help for available commands", parts[0]),
	})
	m.syncViewport()
	return m, nil
}

// =============================================================================
// DATASET COMMANDS
// =============================================================================

func cmdLoad(m *Model, args []string) (tea.Model, tea.Cmd) {
	if len(args) == 0 {
		m.appendInfo("Usage: /load <path-to-csv>")
		return *m, nil
	}
	if m.source == nil {
		m.appendError("Error: dataset support is not available")
		return *m, nil
	}

	// Paths may contain spaces.
	path := strings.Join(args, " ")
	m.status = "Loading " + path + "..."
	return *m, loadDatasetCmd(m.source, path, m.previewRows())
}

func cmdData(m *Model, args []string) (tea.Model, tea.Cmd) {
	if m.source == nil || !m.source.Loaded() {
		m.appendInfo("No dataset loaded. Use /load <path> first.")
		return *m, nil
	}
	m.status = "Reading dataset..."
	return *m, overviewCmd(m.source, m.previewRows())
}

func cmdStats(m *Model, args []string) (tea.Model, tea.Cmd) {
	if m.source == nil || !m.source.Loaded() {
		m.appendInfo("No dataset loaded. Use /load <path> first.")
		return *m, nil
	}
	m.status = "Computing statistics..."
	return *m, statsCmd(m.source)
}

func cmdChart(m *Model, args []string) (tea.Model, tea.Cmd) {
	if m.source == nil || !m.source.Loaded() {
		m.appendInfo("No dataset loaded. Use /load <path> first.")
		return *m, nil
	}
	if len(args) < 3 {
		m.appendInfo("Usage: /chart <bar|scatter|line|box> <x-column> <y-column>")
		return *m, nil
	}

	kind, err := chart.ParseKind(args[0])
	if err != nil {
		m.appendError("Error: " + err.Error())
		return *m, nil
	}

	xCol, yCol := args[1], args[2]
	if err := m.checkColumns(xCol, yCol); err != nil {
		m.appendError("Error: " + err.Error())
		return *m, nil
	}

	m.status = "Rendering chart..."
	return *m, chartCmd(m.source, kind, xCol, yCol)
}

// checkColumns validates chart columns against the loaded schema so typos
// fail fast instead of surfacing as SQL errors.
func (m *Model) checkColumns(xCol, yCol string) error {
	names := m.source.ColumnNames()
	have := make(map[string]bool, len(names))
	for _, n := range names {
		have[n] = true
	}
	if !have[xCol] {
		return fmt.Errorf("column %q not found (have: %s)", xCol, strings.Join(names, ", "))
	}
	if !have[yCol] {
		return fmt.Errorf("column %q not found (have: %s)", yCol, strings.Join(names, ", "))
	}

	numeric := m.source.NumericColumns()
	for _, n := range numeric {
		if n == yCol {
			return nil
		}
	}
	return fmt.Errorf("column %q is not numeric (numeric columns: %s)",
		yCol, strings.Join(numeric, ", "))
}

// =============================================================================
// MODEL COMMANDS
// =============================================================================

func cmdModels(m *Model, args []string) (tea.Model, tea.Cmd) {
	if m.client == nil {
		m.appendError("Error: Ollama client is not available")
		return *m, nil
	}
	m.status = "Listing models..."
	return *m, listModelsCmd(m.client)
}

func cmdModel(m *Model, args []string) (tea.Model, tea.Cmd) {
	if len(args) == 0 {
		var b strings.Builder
		fmt.Fprintf(&b, "Current model: %s\n", m.modelName)
		if m.cfg != nil && len(m.cfg.Models) > 0 {
			b.WriteString("Configured models:\n")
			for _, name := range m.cfg.Models {
				marker := "  "
				if name == m.modelName {
					marker = "* "
				}
				b.WriteString("  " + marker + name + "\n")
			}
		}
		b.WriteString("Switch with /model <name>")
		m.appendInfo(b.String())
		return *m, nil
	}

	name := args[0]
	if name == m.modelName {
		m.appendInfo("Already using " + name)
		return *m, nil
	}

	m.modelName = name
	m.appendInfo("Switched model to " + name)
	if m.client != nil {
		return *m, switchModelCmd(m.client, name)
	}
	return *m, nil
}

func cmdTemp(m *Model, args []string) (tea.Model, tea.Cmd) {
	if len(args) == 0 {
		m.appendInfo(fmt.Sprintf("Temperature: %.1f\nSet with /temp <0.0-1.0>", m.temperature))
		return *m, nil
	}

	v, err := strconv.ParseFloat(args[0], 64)
	if err != nil || v < 0 || v > 1 {
		m.appendError("Error: temperature must be a number between 0.0 and 1.0")
		return *m, nil
	}

	m.temperature = v
	m.appendInfo(fmt.Sprintf("Temperature set to %.1f", v))
	return *m, nil
}

// =============================================================================
// HISTORY COMMANDS
// =============================================================================

func cmdHistory(m *Model, args []string) (tea.Model, tea.Cmd) {
	if m.history == nil {
		m.appendInfo("History is disabled in the configuration.")
		return *m, nil
	}

	if len(args) == 0 {
		m.status = "Loading history..."
		return *m, recentHistoryCmd(m.history, history.DefaultRecentLimit)
	}

	switch strings.ToLower(args[0]) {
	case "search":
		if len(args) < 2 {
			m.appendInfo("Usage: /history search <term>")
			return *m, nil
		}
		m.status = "Searching history..."
		term := strings.Join(args[1:], " ")
		return *m, searchHistoryCmd(m.history, term, history.DefaultRecentLimit)

	case "clear":
		m.status = "Clearing history..."
		return *m, clearHistoryCmd(m.history)
	}

	if n, err := strconv.Atoi(args[0]); err == nil && n > 0 {
		m.status = "Loading history..."
		return *m, recentHistoryCmd(m.history, n)
	}

	m.appendInfo("Usage: /history [n] | /history search <term> | /history clear")
	return *m, nil
}

func cmdExport(m *Model, args []string) (tea.Model, tea.Cmd) {
	if m.history == nil {
		m.appendInfo("History is disabled in the configuration.")
		return *m, nil
	}

	path := defaultExportPath(time.Now())
	if len(args) > 0 {
		path = strings.Join(args, " ")
	}

	m.status = "Exporting history..."
	return *m, exportHistoryCmd(m.history, path)
}

// defaultExportPath names the export file by date in the working directory.
func defaultExportPath(now time.Time) string {
	return "tabletalk-history-" + now.Format("20060102") + ".md"
}

// =============================================================================
// SESSION COMMANDS
// =============================================================================

func cmdClear(m *Model, args []string) (tea.Model, tea.Cmd) {
	m.entries = nil
	m.appendEntry(entry{kind: entryInfo, text: m.welcomeText()})
	m.syncViewport()
	return *m, nil
}

func cmdHelp(m *Model, args []string) (tea.Model, tea.Cmd) {
	m.appendInfo(helpText())
	return *m, nil
}

func cmdQuit(m *Model, args []string) (tea.Model, tea.Cmd) {
	return *m, tea.Quit
}

// helpText lists all commands, aligned for readability.
func helpText() string {
	rows := []struct{ cmd, desc string }{
		{"/load <path>", "Load a CSV dataset"},
		{"/data", "Show dataset shape, columns, and preview"},
		{"/stats", "Show descriptive statistics"},
		{"/chart <kind> <x> <y>", "Render a bar, scatter, line, or box chart"},
		{"/models", "List installed Ollama models"},
		{"/model [name]", "Show or switch the active model"},
		{"/temp [value]", "Show or set sampling temperature (0.0-1.0)"},
		{"/history [n|search|clear]", "Browse, search, or clear query history"},
		{"/export [path]", "Export history to a Markdown file"},
		{"/clear", "Clear the conversation"},
		{"/help", "Show this help"},
		{"/quit", "Exit"},
	}

	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "  %-26s %s\n", r.cmd, r.desc)
	}
	b.WriteString("\nAnything else is sent to the model as a question. ")
	b.WriteString("Esc cancels a running query; Ctrl+C quits.")
	return b.String()
}

// commandNames returns every registered command name, sorted. Used by
// tests to keep help text and the registry in sync.
func commandNames() []string {
	names := make([]string, 0, len(commandHandlers))
	for name := range commandHandlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
