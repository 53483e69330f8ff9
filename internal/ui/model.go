// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ui implements the interactive terminal interface. It is a
// Bubble Tea program: a single Model updated by messages, rendered by
// View. Query execution happens off the UI thread; executor events
// re-enter the update loop through the Send bridge as QueryEventMsg.
package ui

import (
	"log/slog"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/jeranaias/tabletalk/internal/config"
	"github.com/jeranaias/tabletalk/internal/dataset"
	"github.com/jeranaias/tabletalk/internal/history"
	"github.com/jeranaias/tabletalk/internal/ollama"
	"github.com/jeranaias/tabletalk/internal/query"
)

// =============================================================================
// TRANSCRIPT
// =============================================================================

// entryKind classifies a transcript entry for rendering.
type entryKind int

const (
	entryQuestion entryKind = iota
	entryAnswer
	entryInfo
	entryError
)

// entry is one block in the conversation transcript.
type entry struct {
	kind    entryKind
	text    string
	elapsed time.Duration // set on answers when timings are shown
}

// =============================================================================
// MODEL
// =============================================================================

// Deps carries the wired application services into the TUI.
type Deps struct {
	Config   *config.Config
	Executor *query.Executor
	Client   *ollama.Client
	Source   *dataset.Source
	History  *history.Store // nil when history is disabled
	Logger   *slog.Logger

	// Send delivers a message to the running program from outside the
	// update loop. Wired to program.Send by the caller; nil in tests.
	Send func(tea.Msg)
}

// Model is the root Bubble Tea model.
type Model struct {
	// Services
	cfg      *config.Config
	executor *query.Executor
	client   *ollama.Client
	source   *dataset.Source
	history  *history.Store
	logger   *slog.Logger
	send     func(tea.Msg)

	// Components
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	// Layout
	width  int
	height int
	ready  bool

	// Conversation
	entries []entry

	// Query state. currentHandleID identifies the submission whose
	// events we accept; everything else is a stale echo and dropped.
	currentHandleID string
	pendingQuestion string
	running         bool
	startedAt       time.Time

	// Session settings
	modelName   string
	temperature float64

	// Dataset state
	summary *dataset.Summary
	watcher *dataset.Watcher

	// Status line
	status   string
	ollamaUp bool

	// Rendering
	theme    *Theme
	markdown *glamour.TermRenderer
	printer  *message.Printer
}

// New creates the TUI model from wired dependencies.
func New(deps Deps) Model {
	input := textinput.New()
	input.Placeholder = "Ask a question about your data, or type /help"
	input.Prompt = "> "
	input.CharLimit = 4096
	input.Focus()

	vp := viewport.New(80, 20)

	sp := spinner.New()
	sp.Spinner = spinner.Spinner{
		Frames: []string{"|", "/", "-", "\\"},
		FPS:    time.Second / 12,
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := Model{
		cfg:      deps.Config,
		executor: deps.Executor,
		client:   deps.Client,
		source:   deps.Source,
		history:  deps.History,
		logger:   logger,
		send:     deps.Send,
		input:    input,
		viewport: vp,
		spinner:  sp,
		status:   "Checking Ollama...",
		theme:    NewTheme(),
		printer:  message.NewPrinter(language.English),
	}
	m.spinner.Style = m.theme.Spinner

	if deps.Config != nil {
		m.modelName = deps.Config.DefaultModel
		m.temperature = deps.Config.Query.Temperature
		if deps.Config.UI.Markdown {
			// Renderer failure falls back to plain text output.
			if r, err := glamour.NewTermRenderer(
				glamour.WithAutoStyle(),
				glamour.WithWordWrap(80),
			); err == nil {
				m.markdown = r
			}
		}
	}

	if deps.Source != nil && deps.Source.Loaded() {
		rows, cols := deps.Source.Shape()
		m.summary = &dataset.Summary{Rows: rows, Cols: cols}
	}

	m.appendEntry(entry{kind: entryInfo, text: m.welcomeText()})
	return m
}

// Init starts the Ollama reachability check.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink}
	if m.client != nil {
		cmds = append(cmds, checkOllamaCmd(m.client))
	}
	if m.source != nil && m.source.Loaded() {
		cmds = append(cmds, refreshSummaryCmd(m.source, m.previewRows()))
	}
	return tea.Batch(cmds...)
}

// Close releases resources the model holds. Call after the program exits.
func (m Model) Close() {
	if m.watcher != nil {
		m.watcher.Close()
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func (m *Model) appendEntry(e entry) {
	m.entries = append(m.entries, e)
}

func (m *Model) appendInfo(text string) {
	m.appendEntry(entry{kind: entryInfo, text: text})
	m.syncViewport()
}

func (m *Model) appendError(text string) {
	m.appendEntry(entry{kind: entryError, text: text})
	m.syncViewport()
}

func (m *Model) previewRows() int {
	if m.cfg != nil && m.cfg.Dataset.PreviewRows > 0 {
		return m.cfg.Dataset.PreviewRows
	}
	return dataset.DefaultPreviewRows
}

func (m *Model) showTimings() bool {
	return m.cfg != nil && m.cfg.UI.ShowTimings
}

func (m *Model) welcomeText() string {
	return "Welcome to TableTalk. Load a CSV with /load <path>, then ask " +
		"questions about it in plain English. Type /help for all commands."
}

// restartWatcher replaces the file watcher after a successful load. The
// callback runs on the watcher goroutine, so it re-enters the program
// through the Send bridge.
func (m *Model) restartWatcher() {
	if m.watcher != nil {
		m.watcher.Close()
		m.watcher = nil
	}
	if m.cfg == nil || !m.cfg.Dataset.Watch || m.source == nil || m.send == nil {
		return
	}

	send := m.send
	w, err := dataset.NewWatcher(m.source, m.previewRows(), func(sum *dataset.Summary, err error) {
		send(DatasetReloadedMsg{Summary: sum, Err: err})
	})
	if err != nil {
		m.logger.Warn("dataset watch unavailable", "error", err)
		return
	}
	if err := w.Watch(); err != nil {
		m.logger.Warn("dataset watch failed to start", "error", err)
		w.Close()
		return
	}
	m.watcher = w
}
