// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util holds small helpers shared across packages: terminal-width
// string truncation and crash-safe file writes.
//
// TruncateRunes and TruncateWidth shorten text for display without
// splitting UTF-8 sequences; the width variant counts CJK and other wide
// characters as two columns. Both take plain text, not styled strings.
//
// AtomicWriteFile is the write path for everything persisted to disk
// (config, exports): temp file in the target directory, fsync, rename.
package util
