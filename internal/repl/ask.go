// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package repl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/jeranaias/tabletalk/internal/query"
)

// =============================================================================
// ONE-SHOT MODE
// =============================================================================

// Ask submits a single question and prints the answer. The returned
// error is non-nil when the query failed, so callers can exit non-zero.
func (r *REPL) Ask(ctx context.Context, question string) error {
	question = strings.TrimSpace(question)
	if question == "" {
		return query.ErrEmptyQuestion
	}

	summary, err := r.currentSummary(ctx)
	if err != nil {
		r.logger.Warn("summary unavailable, answering without dataset context", "error", err)
	}

	handle, err := r.executor.Submit(query.Request{
		Question: question,
		Config: query.ModelConfig{
			Model:       r.modelName,
			Temperature: r.temperature,
		},
		Summary: summary,
	})
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			r.executor.Cancel()
			return ctx.Err()

		case ev := <-r.events:
			if ev.HandleID != handle.ID {
				continue
			}
			switch ev.Kind {
			case query.EventProgress:
				if isStderrTTY() {
					printProgress(ev.Message)
				}

			case query.EventFinished:
				printAnswer(ev.Response, r.renderMarkdown())
				r.record(ctx, question, ev.Response, true, ev.Elapsed)
				return nil

			case query.EventFailed:
				desc := ev.Message
				if desc == "" && ev.Err != nil {
					desc = ev.Err.Error()
				}
				r.record(ctx, question, desc, false, ev.Elapsed)
				if ev.Err != nil {
					return fmt.Errorf("%s: %w", desc, ev.Err)
				}
				return errors.New(desc)
			}
		}
	}
}

// =============================================================================
// OUTPUT
// =============================================================================

var (
	headingStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#7C3AED", Dark: "#A78BFA"})
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#E11D48", Dark: "#FB7185"})
	warningStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#D97706", Dark: "#FBBF24"})
	infoStyle      = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#4B5563", Dark: "#D1D5DB"})
	mutedStyle     = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#9CA3AF", Dark: "#6B7280"})
	separatorStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#E5E7EB", Dark: "#313244"})
)

// markdownRenderer formats answers when stdout is a terminal. A nil
// renderer means plain passthrough.
var markdownRenderer *glamour.TermRenderer

func init() {
	if !isStdoutTTY() {
		return
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err == nil {
		markdownRenderer = r
	}
}

func isStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func isStderrTTY() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

// printAnswer writes a model response, through glamour when possible.
func printAnswer(text string, markdown bool) {
	if markdown && markdownRenderer != nil {
		if out, err := markdownRenderer.Render(text); err == nil {
			fmt.Print(strings.TrimLeft(out, "\n"))
			return
		}
	}
	fmt.Println(text)
}

func printHeading(s string) {
	fmt.Println(headingStyle.Render(s))
	fmt.Println(separatorStyle.Render(strings.Repeat("─", 45)))
}

func printBlock(s string) {
	fmt.Println(s)
}

func printInfo(s string) {
	fmt.Println(infoStyle.Render(s))
}

func printMuted(s string) {
	fmt.Println(mutedStyle.Render(s))
}

func printWarning(s string) {
	fmt.Println(warningStyle.Render("[!] " + s))
}

func printError(s string) {
	fmt.Fprintln(os.Stderr, errorStyle.Render("[X] Error: "+s))
}

// printProgress shows transient query state on stderr, keeping stdout
// clean for answers.
func printProgress(s string) {
	fmt.Fprintln(os.Stderr, mutedStyle.Render("... "+s))
}

func clearScreen() {
	termenv.DefaultOutput().ClearScreen()
}
