// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dataset

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

type reloadResult struct {
	summary *Summary
	err     error
}

func TestWatcherRequiresLoadedSource(t *testing.T) {
	src := openSource(t)

	w, err := NewWatcher(src, 5, func(*Summary, error) {})
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Close()

	if err := w.Watch(); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Watch() error = %v, want ErrNotLoaded", err)
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	src := openSource(t)
	path := writeCSV(t, sampleCSV)
	if err := src.Load(context.Background(), path); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	results := make(chan reloadResult, 8)
	w, err := NewWatcher(src, 5, func(s *Summary, err error) {
		select {
		case results <- reloadResult{s, err}:
		default:
		}
	})
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Close()

	// Shorten the settle window so the test does not sit on defaults.
	w.debounce = 50 * time.Millisecond
	w.limiter = rate.NewLimiter(rate.Inf, 1)

	if err := w.Watch(); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	// Give the watcher goroutines a moment to start.
	time.Sleep(100 * time.Millisecond)

	updated := sampleCSV + "dave,28,88.0\n"
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		t.Fatalf("rewrite csv: %v", err)
	}

	deadline := time.After(10 * time.Second)
	for {
		select {
		case res := <-results:
			if res.err != nil {
				continue
			}
			if res.summary.Rows == 4 {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for reload")
		}
	}
}
