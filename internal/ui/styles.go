// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// =============================================================================
// COLOR PALETTE
// =============================================================================

// Adaptive colors pick the right variant for light and dark terminals.
var (
	// Purple is the primary brand color.
	Purple = lipgloss.AdaptiveColor{Light: "#7C3AED", Dark: "#A78BFA"}

	// Cyan is the secondary accent.
	Cyan = lipgloss.AdaptiveColor{Light: "#0891B2", Dark: "#22D3EE"}

	// Emerald marks success states.
	Emerald = lipgloss.AdaptiveColor{Light: "#059669", Dark: "#34D399"}

	// Rose marks errors and failures.
	Rose = lipgloss.AdaptiveColor{Light: "#E11D48", Dark: "#FB7185"}

	// Amber marks warnings and in-flight work.
	Amber = lipgloss.AdaptiveColor{Light: "#D97706", Dark: "#FBBF24"}

	// TextPrimary is the main text color.
	TextPrimary = lipgloss.AdaptiveColor{Light: "#1F2937", Dark: "#F9FAFB"}

	// TextSecondary is for supporting text.
	TextSecondary = lipgloss.AdaptiveColor{Light: "#4B5563", Dark: "#D1D5DB"}

	// TextMuted is for hints and de-emphasized text.
	TextMuted = lipgloss.AdaptiveColor{Light: "#9CA3AF", Dark: "#6B7280"}

	// Overlay is for borders and separators.
	Overlay = lipgloss.AdaptiveColor{Light: "#E5E7EB", Dark: "#313244"}
)

// StatusIndicators are ASCII status markers, safe on terminals without
// good Unicode support.
var StatusIndicators = struct {
	Success string
	Error   string
	Warning string
	Info    string
}{
	Success: "[OK]",
	Error:   "[X]",
	Warning: "[!]",
	Info:    "[i]",
}

// =============================================================================
// THEME
// =============================================================================

// Theme holds all the styles used by the TUI.
type Theme struct {
	// Terminal capabilities
	Profile     termenv.Profile
	IsDarkTheme bool

	// Chrome
	Header    lipgloss.Style
	StatusBar lipgloss.Style
	StatusKey lipgloss.Style
	StatusVal lipgloss.Style
	Separator lipgloss.Style

	// Transcript
	QuestionPrefix lipgloss.Style
	QuestionText   lipgloss.Style
	AnswerText     lipgloss.Style
	InfoText       lipgloss.Style
	ErrorText      lipgloss.Style
	TimingText     lipgloss.Style

	// Input
	InputBox lipgloss.Style

	// States
	Success lipgloss.Style
	Warning lipgloss.Style
	Muted   lipgloss.Style
	Spinner lipgloss.Style
}

// NewTheme creates a theme based on detected terminal capabilities.
func NewTheme() *Theme {
	t := &Theme{
		Profile:     termenv.ColorProfile(),
		IsDarkTheme: termenv.HasDarkBackground(),
	}
	t.initStyles()
	return t
}

func (t *Theme) initStyles() {
	t.Header = lipgloss.NewStyle().
		Bold(true).
		Foreground(Purple).
		Padding(0, 1)

	t.StatusBar = lipgloss.NewStyle().
		Foreground(TextSecondary).
		Padding(0, 1)

	t.StatusKey = lipgloss.NewStyle().
		Foreground(TextMuted)

	t.StatusVal = lipgloss.NewStyle().
		Foreground(Cyan)

	t.Separator = lipgloss.NewStyle().
		Foreground(Overlay)

	t.QuestionPrefix = lipgloss.NewStyle().
		Bold(true).
		Foreground(Cyan)

	t.QuestionText = lipgloss.NewStyle().
		Foreground(TextPrimary)

	t.AnswerText = lipgloss.NewStyle().
		Foreground(TextPrimary)

	t.InfoText = lipgloss.NewStyle().
		Foreground(TextSecondary)

	t.ErrorText = lipgloss.NewStyle().
		Foreground(Rose)

	t.TimingText = lipgloss.NewStyle().
		Foreground(TextMuted).
		Italic(true)

	t.InputBox = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(Overlay).
		Padding(0, 1)

	t.Success = lipgloss.NewStyle().
		Foreground(Emerald)

	t.Warning = lipgloss.NewStyle().
		Foreground(Amber)

	t.Muted = lipgloss.NewStyle().
		Foreground(TextMuted)

	t.Spinner = lipgloss.NewStyle().
		Foreground(Amber)
}
