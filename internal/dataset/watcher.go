// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dataset

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"
)

// =============================================================================
// CSV WATCHER
// =============================================================================

// ReloadFunc receives the refreshed summary after the watched CSV changes on
// disk, or the error that prevented the reload.
type ReloadFunc func(*Summary, error)

// Watcher reloads the source when the loaded CSV file changes. Editors save
// in bursts of events, so changes are debounced and reloads rate-limited.
type Watcher struct {
	source      *Source
	watcher     *fsnotify.Watcher
	limiter     *rate.Limiter
	onReload    ReloadFunc
	previewRows int
	debounce    time.Duration

	mu      sync.Mutex
	pending time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWatcher creates a watcher for the source's loaded CSV. The callback runs
// on the watcher's goroutine.
func NewWatcher(source *Source, previewRows int, onReload ReloadFunc) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Watcher{
		source:      source,
		watcher:     fsw,
		limiter:     rate.NewLimiter(rate.Every(2*time.Second), 1),
		onReload:    onReload,
		previewRows: previewRows,
		debounce:    500 * time.Millisecond,
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Watch starts watching the loaded CSV for changes.
func (w *Watcher) Watch() error {
	path := w.source.Path()
	if path == "" {
		return ErrNotLoaded
	}

	// Watch the parent directory: editors replace files on save, which
	// silently drops a watch added on the file itself.
	if err := w.watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	go w.processEvents(path)
	go w.processPending()

	return nil
}

// processEvents marks the file pending on every relevant event.
func (w *Watcher) processEvents(path string) {
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			w.mu.Lock()
			w.pending = time.Now()
			w.mu.Unlock()

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// processPending reloads once a change has settled, at most one reload per
// limiter window.
func (w *Watcher) processPending() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case <-ticker.C:
			w.mu.Lock()
			ready := !w.pending.IsZero() && time.Since(w.pending) >= w.debounce
			w.mu.Unlock()

			if !ready || !w.limiter.Allow() {
				continue
			}

			w.mu.Lock()
			w.pending = time.Time{}
			w.mu.Unlock()

			w.reload()
		}
	}
}

// reload re-imports the CSV and rebuilds the summary.
func (w *Watcher) reload() {
	path := w.source.Path()
	if err := w.source.Load(w.ctx, path); err != nil {
		w.onReload(nil, err)
		return
	}

	summary, err := w.source.BuildSummary(w.ctx, w.previewRows)
	w.onReload(summary, err)
}

// Close stops watching and releases resources.
func (w *Watcher) Close() error {
	w.cancel()
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
