// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/tabletalk/internal/util"
)

// =============================================================================
// VIEW
// =============================================================================

// View renders the full screen: header, transcript, input, status bar.
func (m Model) View() string {
	if !m.ready || m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	header := m.renderHeader()
	input := m.renderInput()
	status := m.renderStatusBar()

	headerHeight := lipgloss.Height(header)
	inputHeight := lipgloss.Height(input)
	statusHeight := lipgloss.Height(status)
	availableHeight := m.height - headerHeight - inputHeight - statusHeight
	if availableHeight < 1 {
		availableHeight = 1
	}

	messages := m.viewport.View()
	if m.viewport.Height != availableHeight {
		// The viewport was sized for a different layout. Rebuild the
		// transcript region at the right dimensions.
		messages = lipgloss.NewStyle().
			Height(availableHeight).
			MaxHeight(availableHeight).
			Width(m.width).
			Render(m.renderTranscript())
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, messages, input, status)
}

// resize recomputes component dimensions after a window size change.
func (m *Model) resize() {
	header := m.renderHeader()
	input := m.renderInput()
	status := m.renderStatusBar()

	availableHeight := m.height - lipgloss.Height(header) - lipgloss.Height(input) - lipgloss.Height(status)
	if availableHeight < 1 {
		availableHeight = 1
	}

	m.viewport.Width = m.width
	m.viewport.Height = availableHeight
	m.input.Width = m.width - 8
}

// syncViewport refreshes the transcript content and scrolls to the end.
func (m *Model) syncViewport() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

// =============================================================================
// CHROME
// =============================================================================

func (m *Model) renderHeader() string {
	title := m.theme.Header.Render("TableTalk")

	right := ""
	if m.source != nil && m.source.Loaded() {
		path := util.TruncateWidth(m.source.Path(), max(10, m.width-24))
		right = m.theme.Muted.Render(path)
	}
	if right == "" {
		return title
	}
	return title + " " + right
}

func (m *Model) renderInput() string {
	width := m.width - 2
	if width < 10 {
		width = 10
	}
	return m.theme.InputBox.Width(width).Render(m.input.View())
}

// renderStatusBar composes the one-line footer: activity on the left,
// session facts on the right.
func (m *Model) renderStatusBar() string {
	ollamaMark := m.theme.Success.Render(StatusIndicators.Success)
	if !m.ollamaUp {
		ollamaMark = m.theme.ErrorText.Render(StatusIndicators.Error)
	}

	sep := m.theme.Separator.Render("  |  ")
	facts := strings.Join([]string{
		m.theme.StatusVal.Render(m.modelName),
		m.theme.StatusKey.Render(fmt.Sprintf("temp=%.1f", m.temperature)),
		m.theme.StatusKey.Render(m.shapeText()),
		ollamaMark,
	}, sep)

	// Truncate the activity text, never the styled segments: the width
	// helpers count runes and would mangle escape sequences.
	left := m.status
	if m.running {
		left = fmt.Sprintf("%s (%ds)", m.status, int(time.Since(m.startedAt).Seconds()))
	}
	if m.width > 0 {
		budget := m.width - lipgloss.Width(facts) - lipgloss.Width(sep) - 6
		left = util.TruncateWidth(left, max(10, budget))
	}
	if m.running {
		left = m.spinner.View() + " " + left
	}

	return m.theme.StatusBar.Render(left + sep + facts)
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

func (m *Model) renderTranscript() string {
	if len(m.entries) == 0 {
		return m.theme.Muted.Render("No conversation yet.")
	}

	wrap := m.viewport.Width - 2
	if wrap < 20 {
		wrap = 78
	}

	blocks := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		blocks = append(blocks, m.renderEntry(e, wrap))
	}
	return strings.Join(blocks, "\n\n")
}

func (m *Model) renderEntry(e entry, wrap int) string {
	switch e.kind {
	case entryQuestion:
		prefix := m.theme.QuestionPrefix.Render("You:")
		body := m.theme.QuestionText.Width(wrap - 5).Render(e.text)
		return prefix + " " + body

	case entryAnswer:
		body := m.renderAnswer(e.text, wrap)
		if m.showTimings() && e.elapsed > 0 {
			body += "\n" + m.theme.TimingText.Render(fmt.Sprintf("(%.1fs)", e.elapsed.Seconds()))
		}
		return body

	case entryError:
		return m.theme.ErrorText.Width(wrap).Render(e.text)
	}
	return m.theme.InfoText.Width(wrap).Render(e.text)
}

// renderAnswer formats a model response, through glamour when Markdown
// rendering is on.
func (m *Model) renderAnswer(text string, wrap int) string {
	if m.markdown != nil {
		if out, err := m.markdown.Render(text); err == nil {
			return strings.TrimRight(out, "\n")
		}
	}
	return m.theme.AnswerText.Width(wrap).Render(text)
}
