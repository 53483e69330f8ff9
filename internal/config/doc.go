// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads and validates tabletalk settings.
//
// Settings live in ~/.tabletalk/config.toml (or config.json; TOML wins
// when both exist) and divide into sections mirroring the subsystems:
// OllamaConfig for the daemon connection, QueryConfig for the executor's
// policy, timeout, and sampling defaults, DatasetConfig for CSV loading
// and the file watcher, HistoryConfig for the query log, and UIConfig for
// rendering.
//
// Load starts from Default, layers the config file on top, then applies
// TABLETALK_* environment overrides, so every field always has a value.
// A broken file degrades to defaults with the parse error returned
// alongside the usable Config. Validate reports all problems at once as
// ValidateErrors rather than stopping at the first.
//
//	cfg, err := config.Load()
//	if err != nil {
//	    slog.Warn("config", "err", err)
//	}
//	timeout := cfg.Query.Timeout()
//
// The process-wide instance is held behind Global/SetGlobal for code
// paths without access to the wired dependencies.
package config
