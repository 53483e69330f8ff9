// TableTalk - ask your CSV questions in plain English, answered locally.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/jeranaias/tabletalk/internal/config"
	"github.com/jeranaias/tabletalk/internal/dataset"
	"github.com/jeranaias/tabletalk/internal/history"
	"github.com/jeranaias/tabletalk/internal/ollama"
	"github.com/jeranaias/tabletalk/internal/query"
	"github.com/jeranaias/tabletalk/internal/repl"
	"github.com/jeranaias/tabletalk/internal/ui"
)

// Overridden through -ldflags at release build time.
var (
	Version   = "1.0.0"
	GitCommit = "unknown"
)

// =============================================================================
// PROGRAM BRIDGE
// =============================================================================

// programRef lets worker goroutines deliver messages into the running
// Bubble Tea program. Guarded by programMu: the executor can emit
// before the program has started or after it has exited.
var (
	programMu  sync.Mutex
	programRef *tea.Program
)

func sendToProgram(msg tea.Msg) {
	programMu.Lock()
	p := programRef
	programMu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// =============================================================================
// ENTRY POINT
// =============================================================================

func main() {
	var (
		configPath  = flag.String("config", "", "path to a config file (TOML or JSON)")
		dataPath    = flag.String("data", "", "CSV file to load at startup")
		askQuestion = flag.String("ask", "", "ask one question, print the answer, and exit")
		plain       = flag.Bool("plain", false, "use the line-based interface instead of the TUI")
		verbose     = flag.Bool("v", false, "enable debug logging")
		showVersion = flag.Bool("version", false, "print the version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("tabletalk %s (%s)\n", Version, GitCommit)
		return
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(*configPath, *dataPath, *askQuestion, *plain, logger); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(configPath, dataPath, askQuestion string, plain bool, logger *slog.Logger) error {
	cfg, err := loadConfig(configPath, logger)
	if err != nil {
		return err
	}
	config.SetGlobal(cfg)

	client := ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL:      cfg.Ollama.URL,
		Timeout:      time.Duration(cfg.Ollama.TimeoutSeconds) * time.Second,
		DefaultModel: cfg.DefaultModel,
		MaxRetries:   cfg.Ollama.MaxRetries,
	})

	// The breaker wraps only inference. Health checks and model listing
	// use the raw client, untouched by breaker state.
	var backend query.Backend = client
	if cfg.Ollama.BreakerEnabled {
		backend = ollama.NewBreakerClient(client, ollama.DefaultBreakerConfig(), logger)
	}

	source, err := dataset.Open(logger)
	if err != nil {
		return fmt.Errorf("start dataset engine: %w", err)
	}
	defer source.Close()

	if dataPath != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		err := source.Load(ctx, dataPath)
		cancel()
		if err != nil {
			return fmt.Errorf("load %s: %w", dataPath, err)
		}
		rows, cols := source.Shape()
		logger.Info("dataset loaded", "path", dataPath, "rows", rows, "cols", cols)
	}

	store := openHistory(cfg, logger)
	if store != nil {
		defer store.Close()
	}

	policy, err := query.ParsePolicy(cfg.Query.Policy)
	if err != nil {
		logger.Warn("invalid query policy, using supersede", "policy", cfg.Query.Policy)
		policy = query.PolicySupersede
	}
	opts := &query.Options{
		Policy:  policy,
		Timeout: cfg.Query.Timeout(),
		Logger:  logger,
	}

	switch {
	case askQuestion != "":
		return runAsk(cfg, backend, opts, client, source, store, logger, askQuestion)
	case plain || !term.IsTerminal(int(os.Stdout.Fd())):
		return runREPL(cfg, backend, opts, client, source, store, logger)
	default:
		return runTUI(cfg, backend, opts, client, source, store, logger)
	}
}

// =============================================================================
// WIRING
// =============================================================================

func loadConfig(path string, logger *slog.Logger) (*config.Config, error) {
	if path != "" {
		cfg, err := config.LoadFromPath(path)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		return cfg, nil
	}

	cfg, err := config.Load()
	if cfg == nil {
		return nil, err
	}
	if err != nil {
		logger.Warn("config file unreadable, using defaults", "error", err)
	}
	return cfg, nil
}

// openHistory opens the query history store. Any failure downgrades to
// running without history rather than refusing to start.
func openHistory(cfg *config.Config, logger *slog.Logger) *history.Store {
	if !cfg.History.Enabled {
		return nil
	}
	path, err := cfg.HistoryPath()
	if err != nil {
		logger.Warn("history disabled", "error", err)
		return nil
	}
	store, err := history.Open(history.Config{Path: path, MaxEntries: cfg.History.MaxEntries}, logger)
	if err != nil {
		logger.Warn("history disabled", "error", err)
		return nil
	}
	return store
}

func newREPL(cfg *config.Config, backend query.Backend, opts *query.Options,
	client *ollama.Client, source *dataset.Source, store *history.Store,
	logger *slog.Logger) *repl.REPL {

	return repl.New(repl.Deps{
		Config:  cfg,
		Client:  client,
		Source:  source,
		History: store,
		Logger:  logger,
		NewExecutor: func(sink query.Sink) *query.Executor {
			return query.New(backend, sink, opts)
		},
	})
}

// =============================================================================
// MODES
// =============================================================================

func runAsk(cfg *config.Config, backend query.Backend, opts *query.Options,
	client *ollama.Client, source *dataset.Source, store *history.Store,
	logger *slog.Logger, question string) error {

	r := newREPL(cfg, backend, opts, client, source, store, logger)
	defer r.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return r.Ask(ctx, question)
}

func runREPL(cfg *config.Config, backend query.Backend, opts *query.Options,
	client *ollama.Client, source *dataset.Source, store *history.Store,
	logger *slog.Logger) error {

	r := newREPL(cfg, backend, opts, client, source, store, logger)
	return r.Run(context.Background())
}

func runTUI(cfg *config.Config, backend query.Backend, opts *query.Options,
	client *ollama.Client, source *dataset.Source, store *history.Store,
	logger *slog.Logger) error {

	exec := query.New(backend, func(ev query.Event) {
		sendToProgram(ui.QueryEventMsg{Event: ev})
	}, opts)

	m := ui.New(ui.Deps{
		Config:   cfg,
		Executor: exec,
		Client:   client,
		Source:   source,
		History:  store,
		Logger:   logger,
		Send:     sendToProgram,
	})

	p := tea.NewProgram(m, tea.WithAltScreen())
	programMu.Lock()
	programRef = p
	programMu.Unlock()

	final, err := p.Run()

	programMu.Lock()
	programRef = nil
	programMu.Unlock()
	exec.Cancel()

	if fm, ok := final.(ui.Model); ok {
		fm.Close()
	}
	if err != nil {
		return fmt.Errorf("terminal interface: %w", err)
	}
	return nil
}
