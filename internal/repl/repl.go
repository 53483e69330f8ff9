// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package repl implements the line-based interface: an interactive
// readline loop for terminals where the TUI is unwanted (-plain) and a
// one-shot mode for scripting (-ask). Both drive the same executor as
// the TUI; events come back over a channel instead of program.Send.
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/peterh/liner"

	"github.com/jeranaias/tabletalk/internal/chart"
	"github.com/jeranaias/tabletalk/internal/config"
	"github.com/jeranaias/tabletalk/internal/dataset"
	"github.com/jeranaias/tabletalk/internal/history"
	"github.com/jeranaias/tabletalk/internal/ollama"
	"github.com/jeranaias/tabletalk/internal/query"
	"github.com/jeranaias/tabletalk/internal/util"
)

const linerHistoryFile = "repl_history"

// errCanceled marks a query interrupted by the user.
var errCanceled = errors.New("query canceled")

// =============================================================================
// REPL
// =============================================================================

// Deps carries the wired application services into the REPL.
type Deps struct {
	Config  *config.Config
	Client  *ollama.Client
	Source  *dataset.Source
	History *history.Store // nil when history is disabled
	Logger  *slog.Logger

	// NewExecutor builds the query executor over this session's event
	// sink. Called once during New.
	NewExecutor func(query.Sink) *query.Executor
}

// REPL is the interactive line-based session.
type REPL struct {
	cfg      *config.Config
	executor *query.Executor
	client   *ollama.Client
	source   *dataset.Source
	store    *history.Store
	logger   *slog.Logger

	line     *liner.State
	histFile string
	events   chan query.Event

	modelName   string
	temperature float64
	queries     int
	startedAt   time.Time
}

// New creates a REPL session. Call Close when done.
func New(deps Deps) *REPL {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &REPL{
		cfg:       deps.Config,
		client:    deps.Client,
		source:    deps.Source,
		store:     deps.History,
		logger:    logger,
		events:    make(chan query.Event, 16),
		startedAt: time.Now(),
	}
	if deps.Config != nil {
		r.modelName = deps.Config.DefaultModel
		r.temperature = deps.Config.Query.Temperature
	}
	if deps.NewExecutor != nil {
		r.executor = deps.NewExecutor(r.Sink())
	}
	return r
}

// Sink returns the executor sink that feeds this session. Wire it into
// query.New before submitting anything.
func (r *REPL) Sink() query.Sink {
	return func(ev query.Event) {
		r.events <- ev
	}
}

// Run starts the interactive loop and blocks until the user exits.
func (r *REPL) Run(ctx context.Context) error {
	r.line = liner.NewLiner()
	r.line.SetCtrlCAborts(true)
	defer r.Close()

	if dir, err := config.ConfigDir(); err == nil {
		r.histFile = filepath.Join(dir, linerHistoryFile)
		if f, err := os.Open(r.histFile); err == nil {
			r.line.ReadHistory(f)
			f.Close()
		}
	}

	// Interrupts during a query cancel it instead of killing the
	// process. At the prompt, liner turns Ctrl+C into ErrPromptAborted.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	r.printWelcome()

	for {
		input, err := r.line.Prompt("tabletalk> ")
		if err != nil {
			// Ctrl+C at the prompt and Ctrl+D both end the session.
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("read input: %w", err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		r.line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			cont, err := r.handleSlashCommand(ctx, input)
			if err != nil {
				printError(err.Error())
			}
			if !cont {
				break
			}
			continue
		}

		if err := r.runQuery(ctx, sigCh, input); err != nil && !errors.Is(err, errCanceled) {
			// Failure detail was already printed; keep the loop alive.
			r.logger.Debug("query failed", "error", err)
		}
	}

	r.printExitSummary()
	return nil
}

// Close persists readline history and releases the terminal.
func (r *REPL) Close() {
	if r.line == nil {
		return
	}
	if r.histFile != "" {
		if f, err := os.OpenFile(r.histFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			r.line.WriteHistory(f)
			f.Close()
		}
	}
	r.line.Close()
	r.line = nil
}

// =============================================================================
// QUERY EXECUTION
// =============================================================================

// runQuery submits a question and blocks until its terminal event.
func (r *REPL) runQuery(ctx context.Context, sigCh <-chan os.Signal, question string) error {
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
		printError(err.Error())
		return err
	}

	ev, err := r.waitForResult(ctx, sigCh, handle.ID)
	if err != nil {
		if errors.Is(err, errCanceled) {
			printInfo("Canceled.")
		}
		return err
	}

	r.queries++
	switch ev.Kind {
	case query.EventFinished:
		printAnswer(ev.Response, r.renderMarkdown())
		if r.cfg != nil && r.cfg.UI.ShowTimings {
			printMuted(fmt.Sprintf("(%.1fs)", ev.Elapsed.Seconds()))
		}
		r.record(ctx, question, ev.Response, true, ev.Elapsed)
		return nil

	case query.EventFailed:
		desc := ev.Message
		if desc == "" && ev.Err != nil {
			desc = ev.Err.Error()
		}
		printError(desc)
		r.record(ctx, question, desc, false, ev.Elapsed)
		if ev.Err != nil {
			return ev.Err
		}
		return errors.New(desc)
	}
	return nil
}

// waitForResult drains events until the terminal one for this handle.
// Events carrying another handle ID are stale leftovers and skipped.
func (r *REPL) waitForResult(ctx context.Context, sigCh <-chan os.Signal, handleID string) (query.Event, error) {
	for {
		select {
		case <-ctx.Done():
			r.executor.Cancel()
			return query.Event{}, ctx.Err()

		case <-sigCh:
			r.executor.Cancel()
			return query.Event{}, errCanceled

		case ev := <-r.events:
			if ev.HandleID != handleID {
				continue
			}
			switch ev.Kind {
			case query.EventProgress:
				printProgress(ev.Message)
			default:
				return ev, nil
			}
		}
	}
}

// currentSummary rebuilds the dataset summary for prompt grounding.
func (r *REPL) currentSummary(ctx context.Context) (*dataset.Summary, error) {
	if r.source == nil || !r.source.Loaded() {
		return nil, nil
	}
	return r.source.BuildSummary(ctx, r.previewRows())
}

func (r *REPL) previewRows() int {
	if r.cfg != nil && r.cfg.Dataset.PreviewRows > 0 {
		return r.cfg.Dataset.PreviewRows
	}
	return dataset.DefaultPreviewRows
}

func (r *REPL) renderMarkdown() bool {
	return r.cfg == nil || r.cfg.UI.Markdown
}

// record persists the outcome; failures only warn.
func (r *REPL) record(ctx context.Context, question, answer string, ok bool, elapsed time.Duration) {
	if r.store == nil {
		return
	}
	datasetPath := ""
	if r.source != nil {
		datasetPath = r.source.Path()
	}
	_, err := r.store.Record(ctx, history.Entry{
		Question:    question,
		Answer:      answer,
		Model:       r.modelName,
		Temperature: r.temperature,
		Dataset:     datasetPath,
		OK:          ok,
		Duration:    elapsed,
	})
	if err != nil {
		r.logger.Warn("failed to record history entry", "error", err)
	}
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleSlashCommand executes one command. The bool reports whether the
// loop should continue.
func (r *REPL) handleSlashCommand(ctx context.Context, input string) (bool, error) {
	parts := strings.Fields(input)
	cmd := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	args := parts[1:]

	switch cmd {
	case "quit", "q", "exit":
		return false, nil

	case "help", "h", "?":
		r.printHelp()
		return true, nil

	case "status":
		r.printStatus(ctx)
		return true, nil

	case "load":
		if len(args) == 0 {
			printInfo("Usage: /load <path-to-csv>")
			return true, nil
		}
		return true, r.loadDataset(ctx, strings.Join(args, " "))

	case "data":
		return true, r.showData(ctx)

	case "stats":
		return true, r.showStats(ctx)

	case "chart":
		return true, r.showChart(ctx, args)

	case "models":
		return true, r.listModels(ctx)

	case "model":
		r.switchModel(ctx, args)
		return true, nil

	case "temp":
		r.setTemperature(args)
		return true, nil

	case "history":
		return true, r.showHistory(ctx, args)

	case "export":
		return true, r.exportHistory(ctx, args)

	case "clear":
		clearScreen()
		return true, nil
	}

	printError(fmt.Sprintf("Unknown command '%s'. Type /help for available commands.", parts[0]))
	return true, nil
}

func (r *REPL) loadDataset(ctx context.Context, path string) error {
	if r.source == nil {
		return errors.New("dataset support is not available")
	}
	if err := r.source.Load(ctx, path); err != nil {
		return err
	}
	overview, err := r.source.Overview(ctx, r.previewRows())
	if err != nil {
		return err
	}
	printBlock(overview)
	return nil
}

func (r *REPL) showData(ctx context.Context) error {
	if r.source == nil || !r.source.Loaded() {
		printInfo("No dataset loaded. Use /load <path> first.")
		return nil
	}
	overview, err := r.source.Overview(ctx, r.previewRows())
	if err != nil {
		return err
	}
	printBlock(overview)
	return nil
}

func (r *REPL) showStats(ctx context.Context) error {
	if r.source == nil || !r.source.Loaded() {
		printInfo("No dataset loaded. Use /load <path> first.")
		return nil
	}
	stats, err := r.source.Describe(ctx)
	if err != nil {
		return err
	}
	printBlock(stats)
	return nil
}

func (r *REPL) showChart(ctx context.Context, args []string) error {
	if r.source == nil || !r.source.Loaded() {
		printInfo("No dataset loaded. Use /load <path> first.")
		return nil
	}
	if len(args) < 3 {
		printInfo("Usage: /chart <bar|scatter|line|box> <x-column> <y-column>")
		return nil
	}

	kind, err := chart.ParseKind(args[0])
	if err != nil {
		return err
	}
	labels, values, err := r.source.ColumnValues(ctx, args[1], args[2])
	if err != nil {
		return err
	}
	path, err := chart.Show(&chart.Spec{
		Kind:   kind,
		X:      args[1],
		Y:      args[2],
		Labels: labels,
		Values: values,
	})
	if err != nil {
		return err
	}
	printInfo("Chart opened in your browser: " + path)
	return nil
}

func (r *REPL) listModels(ctx context.Context) error {
	if r.client == nil {
		return errors.New("Ollama client is not available")
	}
	lctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	models, err := r.client.ListModels(lctx)
	if err != nil {
		return err
	}
	if len(models) == 0 {
		printInfo("No models installed. Pull one with: ollama pull <name>")
		return nil
	}
	for _, mi := range models {
		marker := "  "
		if mi.Name == r.modelName {
			marker = "* "
		}
		fmt.Printf("%s%-30s %10s\n", marker, mi.Name, mi.FormatSize())
	}
	return nil
}

func (r *REPL) switchModel(ctx context.Context, args []string) {
	if len(args) == 0 {
		printInfo("Current model: " + r.modelName)
		return
	}
	name := args[0]
	r.modelName = name
	printInfo("Switched model to " + name)

	if r.client != nil {
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if !r.client.ModelExists(cctx, name) {
			printWarning(fmt.Sprintf("Model %q is not installed locally. Pull it with: ollama pull %s", name, name))
		}
	}
}

func (r *REPL) setTemperature(args []string) {
	if len(args) == 0 {
		printInfo(fmt.Sprintf("Temperature: %.1f", r.temperature))
		return
	}
	v, err := strconv.ParseFloat(args[0], 64)
	if err != nil || v < 0 || v > 1 {
		printError("temperature must be a number between 0.0 and 1.0")
		return
	}
	r.temperature = v
	printInfo(fmt.Sprintf("Temperature set to %.1f", v))
}

func (r *REPL) showHistory(ctx context.Context, args []string) error {
	if r.store == nil {
		printInfo("History is disabled in the configuration.")
		return nil
	}

	limit := history.DefaultRecentLimit
	var entries []history.Entry
	var err error

	switch {
	case len(args) == 0:
		entries, err = r.store.Recent(ctx, limit)
	case strings.EqualFold(args[0], "clear"):
		if err := r.store.Clear(ctx); err != nil {
			return err
		}
		printInfo("History cleared.")
		return nil
	case strings.EqualFold(args[0], "search"):
		if len(args) < 2 {
			printInfo("Usage: /history search <term>")
			return nil
		}
		entries, err = r.store.Search(ctx, strings.Join(args[1:], " "), limit)
	default:
		n, aerr := strconv.Atoi(args[0])
		if aerr != nil || n <= 0 {
			printInfo("Usage: /history [n] | /history search <term> | /history clear")
			return nil
		}
		entries, err = r.store.Recent(ctx, n)
	}
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		printInfo("No history entries.")
		return nil
	}
	for _, e := range entries {
		outcome := "[OK]"
		if !e.OK {
			outcome = "[X]"
		}
		fmt.Printf("%s #%d %s  [%s, %.1fs]\n", outcome, e.ID, util.TruncateRunes(e.Question, 60), e.Model, e.Duration.Seconds())
	}
	return nil
}

func (r *REPL) exportHistory(ctx context.Context, args []string) error {
	if r.store == nil {
		printInfo("History is disabled in the configuration.")
		return nil
	}

	path := "tabletalk-history-" + time.Now().Format("20060102") + ".md"
	if len(args) > 0 {
		path = strings.Join(args, " ")
	}
	if err := r.store.ExportMarkdown(ctx, path); err != nil {
		return err
	}
	printInfo("History exported to " + path)
	return nil
}

// =============================================================================
// SESSION OUTPUT
// =============================================================================

func (r *REPL) printWelcome() {
	printHeading("TableTalk")
	printInfo("Ask questions about your data in plain English.")
	if r.source != nil && r.source.Loaded() {
		rows, cols := r.source.Shape()
		printInfo(fmt.Sprintf("Dataset: %s (%d rows, %d cols)", r.source.Path(), rows, cols))
	} else {
		printInfo("No dataset loaded. Load one with /load <path>.")
	}
	printMuted("Type /help for commands, /quit to exit.")
	fmt.Println()
}

func (r *REPL) printHelp() {
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
		{"/status", "Show session status"},
		{"/clear", "Clear the screen"},
		{"/help", "Show this help"},
		{"/quit", "Exit"},
	}
	for _, row := range rows {
		fmt.Printf("  %-26s %s\n", row.cmd, row.desc)
	}
}

func (r *REPL) printStatus(ctx context.Context) {
	printHeading("Session")
	fmt.Printf("  %-12s %s\n", "Model:", r.modelName)
	fmt.Printf("  %-12s %.1f\n", "Temperature:", r.temperature)

	if r.source != nil && r.source.Loaded() {
		rows, cols := r.source.Shape()
		fmt.Printf("  %-12s %s (%d rows, %d cols)\n", "Dataset:", r.source.Path(), rows, cols)
	} else {
		fmt.Printf("  %-12s none\n", "Dataset:")
	}

	if r.client != nil {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := r.client.CheckRunning(cctx); err != nil {
			fmt.Printf("  %-12s not reachable\n", "Ollama:")
		} else {
			fmt.Printf("  %-12s running\n", "Ollama:")
		}
	}
	fmt.Printf("  %-12s %d\n", "Queries:", r.queries)
}

func (r *REPL) printExitSummary() {
	elapsed := time.Since(r.startedAt).Round(time.Second)
	printMuted(fmt.Sprintf("Session: %d queries in %s. Goodbye.", r.queries, elapsed))
}
