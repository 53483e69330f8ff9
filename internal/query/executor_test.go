// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package query

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jeranaias/tabletalk/internal/dataset"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

// fakeBackend is a controllable Backend: fixed response or error, optional
// latency, optional blocking until the test releases it.
type fakeBackend struct {
	mu      sync.Mutex
	calls   int
	prompts []string
	models  []string
	temps   []float64

	response string
	err      error
	delay    time.Duration
	blockC   chan struct{}
}

func (f *fakeBackend) Complete(ctx context.Context, model string, temperature float64, promptText string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.prompts = append(f.prompts, promptText)
	f.models = append(f.models, model)
	f.temps = append(f.temps, temperature)
	response, failure, delay, blockC := f.response, f.err, f.delay, f.blockC
	f.mu.Unlock()

	if blockC != nil {
		select {
		case <-blockC:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if failure != nil {
		return "", failure
	}
	return response, nil
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeBackend) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

func waitForCalls(t *testing.T, f *fakeBackend, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.callCount() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d backend calls (got %d)", want, f.callCount())
}

// recorder captures sink events and signals terminals.
type recorder struct {
	mu     sync.Mutex
	events []Event
	term   chan Event
}

func newRecorder() *recorder {
	return &recorder{term: make(chan Event, 16)}
}

func (r *recorder) sink(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	if ev.Kind != EventProgress {
		r.term <- ev
	}
}

func (r *recorder) waitTerminal(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-r.term:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for terminal event")
		return Event{}
	}
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) terminalCount() int {
	count := 0
	for _, ev := range r.snapshot() {
		if ev.Kind != EventProgress {
			count++
		}
	}
	return count
}

func newTestExecutor(backend Backend, sink Sink, opts *Options) *Executor {
	if opts == nil {
		opts = DefaultOptions()
	}
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(backend, sink, opts)
}

func testConfig() ModelConfig {
	return ModelConfig{Model: "deepseek-r1:7b", Temperature: 0.7}
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestSubmitEmptyQuestion(t *testing.T) {
	tests := []struct {
		name     string
		question string
	}{
		{"empty", ""},
		{"spaces", "   "},
		{"whitespace", " \t\n "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{response: "T"}
			rec := newRecorder()
			exec := newTestExecutor(backend, rec.sink, nil)

			handle, err := exec.Submit(Request{Question: tt.question, Config: testConfig()})
			if handle != nil {
				t.Errorf("Submit(%q) handle = %v, want nil", tt.question, handle)
			}
			if !IsValidation(err) {
				t.Errorf("Submit(%q) error = %v, want validation error", tt.question, err)
			}
			if got := backend.callCount(); got != 0 {
				t.Errorf("backend called %d times, want 0", got)
			}
			if got := len(rec.snapshot()); got != 0 {
				t.Errorf("%d events delivered, want 0", got)
			}
		})
	}
}

func TestSubmitTemperatureOutOfRange(t *testing.T) {
	backend := &fakeBackend{response: "T"}
	exec := newTestExecutor(backend, nil, nil)

	for _, temp := range []float64{-0.1, 1.5} {
		handle, err := exec.Submit(Request{
			Question: "Q",
			Config:   ModelConfig{Model: "m", Temperature: temp},
		})
		if handle != nil || !IsValidation(err) {
			t.Errorf("Submit(temp=%v) = (%v, %v), want validation rejection", temp, handle, err)
		}
	}
	if got := backend.callCount(); got != 0 {
		t.Errorf("backend called %d times, want 0", got)
	}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestSubmitSuccess(t *testing.T) {
	backend := &fakeBackend{response: "T"}
	rec := newRecorder()
	exec := newTestExecutor(backend, rec.sink, nil)

	handle, err := exec.Submit(Request{Question: "Q", Config: testConfig()})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if handle == nil || handle.ID == "" {
		t.Fatalf("Submit() handle = %+v, want non-empty ID", handle)
	}

	ev := rec.waitTerminal(t)
	if ev.Kind != EventFinished {
		t.Fatalf("terminal kind = %v, want finished", ev.Kind)
	}
	if ev.Response != "T" {
		t.Errorf("Response = %q, want %q", ev.Response, "T")
	}
	if ev.HandleID != handle.ID {
		t.Errorf("HandleID = %q, want %q", ev.HandleID, handle.ID)
	}

	// Strict order: initializing progress first, then the terminal, and
	// nothing after it.
	time.Sleep(100 * time.Millisecond)
	events := rec.snapshot()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(events), events)
	}
	if events[0].Kind != EventProgress || events[0].Message != ProgressInitializing {
		t.Errorf("first event = %+v, want progress %q", events[0], ProgressInitializing)
	}
	if events[1].Kind != EventFinished {
		t.Errorf("second event = %+v, want finished", events[1])
	}
	for i, ev := range events {
		if ev.HandleID != handle.ID {
			t.Errorf("event %d HandleID = %q, want %q", i, ev.HandleID, handle.ID)
		}
	}

	if exec.Running() {
		t.Error("Running() = true after terminal event")
	}
	if got := backend.callCount(); got != 1 {
		t.Errorf("backend called %d times, want 1", got)
	}
}

func TestSubmitBackendFailure(t *testing.T) {
	backend := &fakeBackend{err: errors.New("connection refused")}
	rec := newRecorder()
	exec := newTestExecutor(backend, rec.sink, nil)

	if _, err := exec.Submit(Request{Question: "Q", Config: testConfig()}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	ev := rec.waitTerminal(t)
	if ev.Kind != EventFailed {
		t.Fatalf("terminal kind = %v, want failed", ev.Kind)
	}
	if !strings.Contains(ev.Message, "connection refused") {
		t.Errorf("Message = %q, want fault description", ev.Message)
	}
	if !IsBackend(ev.Err) {
		t.Errorf("Err = %v, want backend kind", ev.Err)
	}

	time.Sleep(100 * time.Millisecond)
	if got := rec.terminalCount(); got != 1 {
		t.Errorf("%d terminal events, want exactly 1", got)
	}
}

func TestSubmitTimeout(t *testing.T) {
	backend := &fakeBackend{response: "T", delay: 5 * time.Second}
	rec := newRecorder()
	exec := newTestExecutor(backend, rec.sink, &Options{Timeout: 50 * time.Millisecond})

	if _, err := exec.Submit(Request{Question: "Q", Config: testConfig()}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	ev := rec.waitTerminal(t)
	if ev.Kind != EventFailed {
		t.Fatalf("terminal kind = %v, want failed", ev.Kind)
	}
	if !IsTimeout(ev.Err) {
		t.Errorf("Err = %v, want timeout kind", ev.Err)
	}
	if !strings.Contains(ev.Message, "timed out") {
		t.Errorf("Message = %q, want timeout description", ev.Message)
	}
}

func TestQuestionTrimmed(t *testing.T) {
	backend := &fakeBackend{response: "T"}
	rec := newRecorder()
	exec := newTestExecutor(backend, rec.sink, nil)

	handle, err := exec.Submit(Request{Question: "  Q  ", Config: testConfig()})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if handle.Question != "Q" {
		t.Errorf("handle.Question = %q, want %q", handle.Question, "Q")
	}

	rec.waitTerminal(t)
	if got := backend.lastPrompt(); got != "Question: Q\nDetailed Answer:" {
		t.Errorf("prompt = %q, want trimmed question", got)
	}
}

// =============================================================================
// PROMPT CONSTRUCTION
// =============================================================================

func TestPromptPlain(t *testing.T) {
	backend := &fakeBackend{response: "T"}
	rec := newRecorder()
	exec := newTestExecutor(backend, rec.sink, nil)

	if _, err := exec.Submit(Request{Question: "What is Go?", Config: testConfig()}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	rec.waitTerminal(t)

	want := "Question: What is Go?\nDetailed Answer:"
	if got := backend.lastPrompt(); got != want {
		t.Errorf("prompt = %q, want %q", got, want)
	}
}

func TestPromptGrounded(t *testing.T) {
	backend := &fakeBackend{response: "T"}
	rec := newRecorder()
	exec := newTestExecutor(backend, rec.sink, nil)

	summary := &dataset.Summary{
		Rows:    10,
		Cols:    2,
		Columns: []string{"a", "b"},
		Preview: "a b\n1 2",
		Stats:   "count 10",
	}
	question := "Which column is larger?"

	if _, err := exec.Submit(Request{Question: question, Config: testConfig(), Summary: summary}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	rec.waitTerminal(t)

	got := backend.lastPrompt()
	for _, want := range []string{"10 rows", "a, b", question} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}
}

func TestPromptModelConfigPassthrough(t *testing.T) {
	backend := &fakeBackend{response: "T"}
	rec := newRecorder()
	exec := newTestExecutor(backend, rec.sink, nil)

	if _, err := exec.Submit(Request{
		Question: "Q",
		Config:   ModelConfig{Model: "codellama:7b", Temperature: 0.2},
	}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	rec.waitTerminal(t)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if backend.models[0] != "codellama:7b" {
		t.Errorf("model = %q, want codellama:7b", backend.models[0])
	}
	if backend.temps[0] != 0.2 {
		t.Errorf("temperature = %v, want 0.2", backend.temps[0])
	}
}

func TestSummarySnapshotAtSubmit(t *testing.T) {
	backend := &fakeBackend{response: "T"}
	rec := newRecorder()
	exec := newTestExecutor(backend, rec.sink, nil)

	summary := &dataset.Summary{
		Rows:    3,
		Cols:    1,
		Columns: []string{"original"},
		Preview: "original preview",
		Stats:   "original stats",
	}

	if _, err := exec.Submit(Request{Question: "Q", Config: testConfig(), Summary: summary}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	// Mutating the caller's copy after Submit must not reach the worker.
	summary.Columns[0] = "mutated"
	summary.Preview = "mutated preview"

	rec.waitTerminal(t)

	got := backend.lastPrompt()
	if !strings.Contains(got, "original") {
		t.Errorf("prompt lost snapshot values:\n%s", got)
	}
	if strings.Contains(got, "mutated") {
		t.Errorf("prompt observed caller mutation:\n%s", got)
	}
}

// =============================================================================
// SINGLE-FLIGHT
// =============================================================================

func TestSupersedeDiscardsPriorEvents(t *testing.T) {
	blockC := make(chan struct{})
	backend := &fakeBackend{response: "B", blockC: blockC}
	rec := newRecorder()
	exec := newTestExecutor(backend, rec.sink, &Options{Policy: PolicySupersede})

	first, err := exec.Submit(Request{Question: "first", Config: testConfig()})
	if err != nil {
		t.Fatalf("Submit(first) error = %v", err)
	}
	waitForCalls(t, backend, 1)

	second, err := exec.Submit(Request{Question: "second", Config: testConfig()})
	if err != nil {
		t.Fatalf("Submit(second) error = %v", err)
	}
	waitForCalls(t, backend, 2)
	close(blockC)

	ev := rec.waitTerminal(t)
	if ev.HandleID != second.ID {
		t.Errorf("terminal HandleID = %q, want second submission %q", ev.HandleID, second.ID)
	}
	if ev.Kind != EventFinished || ev.Response != "B" {
		t.Errorf("terminal = %+v, want finished %q", ev, "B")
	}

	// The superseded worker returns a canceled-context failure internally;
	// none of it may reach the sink.
	time.Sleep(100 * time.Millisecond)
	for _, ev := range rec.snapshot() {
		if ev.HandleID == first.ID && ev.Kind != EventProgress {
			t.Errorf("superseded handle delivered terminal event: %+v", ev)
		}
	}
	if got := rec.terminalCount(); got != 1 {
		t.Errorf("%d terminal events, want exactly 1", got)
	}
}

func TestRejectWhileRunning(t *testing.T) {
	blockC := make(chan struct{})
	backend := &fakeBackend{response: "A", blockC: blockC}
	rec := newRecorder()
	exec := newTestExecutor(backend, rec.sink, &Options{Policy: PolicyReject})

	first, err := exec.Submit(Request{Question: "first", Config: testConfig()})
	if err != nil {
		t.Fatalf("Submit(first) error = %v", err)
	}
	waitForCalls(t, backend, 1)

	handle, err := exec.Submit(Request{Question: "second", Config: testConfig()})
	if handle != nil {
		t.Errorf("Submit(second) handle = %v, want nil", handle)
	}
	if !IsBusy(err) {
		t.Errorf("Submit(second) error = %v, want busy", err)
	}
	if got := backend.callCount(); got != 1 {
		t.Errorf("backend called %d times, want 1", got)
	}

	close(blockC)
	ev := rec.waitTerminal(t)
	if ev.HandleID != first.ID || ev.Kind != EventFinished {
		t.Errorf("terminal = %+v, want finished for first submission", ev)
	}
}

func TestCancelSuppressesTerminal(t *testing.T) {
	blockC := make(chan struct{})
	backend := &fakeBackend{response: "T", blockC: blockC}
	rec := newRecorder()
	exec := newTestExecutor(backend, rec.sink, nil)

	if _, err := exec.Submit(Request{Question: "Q", Config: testConfig()}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	waitForCalls(t, backend, 1)

	if !exec.Cancel() {
		t.Fatal("Cancel() = false, want true while running")
	}
	if exec.Running() {
		t.Error("Running() = true after Cancel()")
	}
	if exec.Cancel() {
		t.Error("second Cancel() = true, want false")
	}

	// The canceled worker's failure event must be dropped.
	select {
	case ev := <-rec.term:
		t.Fatalf("terminal event after cancel: %+v", ev)
	case <-time.After(300 * time.Millisecond):
	}

	// The executor accepts a fresh submission afterwards.
	close(blockC)
	if _, err := exec.Submit(Request{Question: "again", Config: testConfig()}); err != nil {
		t.Fatalf("Submit() after cancel error = %v", err)
	}
	ev := rec.waitTerminal(t)
	if ev.Kind != EventFinished {
		t.Errorf("terminal after cancel = %+v, want finished", ev)
	}
}

func TestRunningAndCurrentHandle(t *testing.T) {
	blockC := make(chan struct{})
	backend := &fakeBackend{response: "T", blockC: blockC}
	rec := newRecorder()
	exec := newTestExecutor(backend, rec.sink, nil)

	if exec.Running() {
		t.Error("Running() = true before any submission")
	}
	if exec.CurrentHandle() != nil {
		t.Error("CurrentHandle() non-nil before any submission")
	}

	handle, err := exec.Submit(Request{Question: "Q", Config: testConfig()})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if !exec.Running() {
		t.Error("Running() = false while in flight")
	}
	if cur := exec.CurrentHandle(); cur == nil || cur.ID != handle.ID {
		t.Errorf("CurrentHandle() = %+v, want %q", cur, handle.ID)
	}

	close(blockC)
	rec.waitTerminal(t)
	if exec.Running() {
		t.Error("Running() = true after terminal")
	}
	if exec.CurrentHandle() != nil {
		t.Error("CurrentHandle() non-nil after terminal")
	}
}

func TestNilSink(t *testing.T) {
	backend := &fakeBackend{response: "T"}
	exec := newTestExecutor(backend, nil, nil)

	if _, err := exec.Submit(Request{Question: "Q", Config: testConfig()}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for exec.Running() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if exec.Running() {
		t.Error("Running() = true, worker never finished")
	}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"", PolicySupersede, false},
		{"supersede", PolicySupersede, false},
		{"SUPERSEDE", PolicySupersede, false},
		{"reject", PolicyReject, false},
		{" reject ", PolicyReject, false},
		{"queue", PolicySupersede, true},
	}

	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePolicy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParsePolicy(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// =============================================================================
// STRESS
// =============================================================================

func TestConcurrentSubmitStress(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stress test in short mode")
	}

	const (
		raceConcurrency = 50
		raceIterations  = 10
	)

	backend := &fakeBackend{response: "ok", delay: time.Millisecond}

	var mu sync.Mutex
	kindsByHandle := make(map[string][]EventKind)
	sink := func(ev Event) {
		mu.Lock()
		kindsByHandle[ev.HandleID] = append(kindsByHandle[ev.HandleID], ev.Kind)
		mu.Unlock()
	}
	exec := newTestExecutor(backend, sink, &Options{Policy: PolicySupersede, Timeout: 5 * time.Second})

	var accepted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < raceConcurrency; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < raceIterations; j++ {
				req := Request{
					Question: fmt.Sprintf("question %d-%d", n, j),
					Config:   testConfig(),
				}
				if _, err := exec.Submit(req); err == nil {
					accepted.Add(1)
				}
			}
		}(i)
	}
	wg.Wait()

	// Drain the last in-flight worker.
	deadline := time.Now().Add(5 * time.Second)
	for exec.Running() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	terminals := 0
	for id, kinds := range kindsByHandle {
		handleTerminals := 0
		for i, kind := range kinds {
			if kind == EventProgress {
				continue
			}
			handleTerminals++
			if i != len(kinds)-1 {
				t.Errorf("handle %s delivered events after terminal: %v", id, kinds)
			}
		}
		if handleTerminals > 1 {
			t.Errorf("handle %s delivered %d terminal events", id, handleTerminals)
		}
		terminals += handleTerminals
	}
	if int64(terminals) > accepted.Load() {
		t.Errorf("terminals (%d) exceed accepted submissions (%d)", terminals, accepted.Load())
	}
	t.Logf("accepted=%d delivered_terminals=%d handles_seen=%d",
		accepted.Load(), terminals, len(kindsByHandle))
}
