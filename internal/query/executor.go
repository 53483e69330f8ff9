// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package query

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/tabletalk/internal/dataset"
	"github.com/jeranaias/tabletalk/internal/prompt"
)

// ProgressInitializing is the first progress message after a submission is
// accepted, before the backend is called.
const ProgressInitializing = "Initializing LLM..."

// DefaultTimeout bounds one backend call. Model inference can legitimately
// take minutes on CPU-only hosts.
const DefaultTimeout = 120 * time.Second

// =============================================================================
// BACKEND
// =============================================================================

// Backend is the language-model surface the executor calls. The call blocks
// for the full duration of inference; the executor only ever invokes it from
// a worker goroutine. *ollama.Client and *ollama.BreakerClient satisfy it.
type Backend interface {
	Complete(ctx context.Context, model string, temperature float64, prompt string) (string, error)
}

// =============================================================================
// EVENTS
// =============================================================================

// EventKind identifies a lifecycle notification.
type EventKind int

const (
	EventProgress EventKind = iota
	EventFinished
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventProgress:
		return "progress"
	case EventFinished:
		return "finished"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is one lifecycle notification. HandleID names the submission the
// event belongs to; consumers that track a current handle drop events
// carrying any other ID.
type Event struct {
	HandleID string
	Kind     EventKind

	// Message holds progress text, or the failure description for
	// EventFailed.
	Message string

	// Response holds the model's answer. EventFinished only.
	Response string

	// Err holds the categorized failure. EventFailed only.
	Err error

	// Elapsed is the backend call duration. Terminal events only.
	Elapsed time.Duration
}

// Sink receives lifecycle events. It is called from worker goroutines, and
// may be called concurrently around a supersession, so implementations must
// be safe for concurrent use and key off Event.HandleID.
type Sink func(Event)

// =============================================================================
// REQUESTS AND HANDLES
// =============================================================================

// ModelConfig selects the model and sampling temperature for one query.
type ModelConfig struct {
	Model       string
	Temperature float64
}

// Request is one query submission. Summary is optional; when present the
// prompt is grounded in it. The executor snapshots Summary at submit time,
// so the caller may keep mutating its own copy.
type Request struct {
	Question string
	Config   ModelConfig
	Summary  *dataset.Summary
}

// Handle identifies one accepted submission for the span of its lifecycle.
// It is retired once a terminal event has been delivered.
type Handle struct {
	ID        string
	Question  string
	CreatedAt time.Time
}

// =============================================================================
// SINGLE-FLIGHT POLICY
// =============================================================================

// Policy controls what Submit does while another query is running.
type Policy int

const (
	// PolicySupersede cancels the running query and discards its
	// undelivered events.
	PolicySupersede Policy = iota

	// PolicyReject refuses the new submission with a busy error.
	PolicyReject
)

func (p Policy) String() string {
	switch p {
	case PolicyReject:
		return "reject"
	default:
		return "supersede"
	}
}

// ParsePolicy maps a configuration string to a Policy. The empty string
// selects the default, supersede.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "supersede":
		return PolicySupersede, nil
	case "reject":
		return PolicyReject, nil
	}
	return PolicySupersede, fmt.Errorf("unknown single-flight policy %q", s)
}

// =============================================================================
// EXECUTOR
// =============================================================================

// Options configures an Executor.
type Options struct {
	// Policy is the single-flight policy (default: supersede).
	Policy Policy

	// Timeout bounds one backend call. Zero means no deadline.
	Timeout time.Duration

	// Logger receives debug lines around submissions (default:
	// slog.Default()).
	Logger *slog.Logger
}

// DefaultOptions returns the default executor options.
func DefaultOptions() *Options {
	return &Options{
		Policy:  PolicySupersede,
		Timeout: DefaultTimeout,
	}
}

// Executor runs queries against a language-model backend off the caller's
// path. Each accepted submission gets one worker goroutine that emits
// progress events followed by exactly one terminal event to the sink; a
// superseded or canceled submission emits nothing further.
type Executor struct {
	backend Backend
	sink    Sink
	logger  *slog.Logger
	policy  Policy
	timeout time.Duration

	mu      sync.Mutex
	current *running
}

// running tracks the one in-flight submission.
type running struct {
	handle *Handle
	cancel context.CancelFunc
}

// New creates an executor delivering events to sink. A nil opts uses
// DefaultOptions.
func New(backend Backend, sink Sink, opts *Options) *Executor {
	if opts == nil {
		opts = DefaultOptions()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Executor{
		backend: backend,
		sink:    sink,
		logger:  logger,
		policy:  opts.Policy,
		timeout: opts.Timeout,
	}
}

// Submit validates and dispatches one query. On acceptance it returns the
// new handle and starts a worker; the first event delivered is an
// initializing progress notification. On rejection it returns the error
// synchronously, no handle exists, and no backend work is started.
func (x *Executor) Submit(req Request) (*Handle, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	if req.Config.Temperature < 0 || req.Config.Temperature > 1 {
		return nil, &QueryError{
			Kind:    ErrKindValidation,
			Message: fmt.Sprintf("temperature %.2f outside [0.0, 1.0]", req.Config.Temperature),
		}
	}

	handle := &Handle{
		ID:        uuid.NewString(),
		Question:  question,
		CreatedAt: time.Now(),
	}

	ctx := context.Background()
	var cancel context.CancelFunc
	if x.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, x.timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	x.mu.Lock()
	if x.current != nil {
		if x.policy == PolicyReject {
			x.mu.Unlock()
			cancel()
			return nil, ErrBusy
		}
		prior := x.current
		prior.cancel()
		x.logger.Debug("query.superseded", "handle_id", prior.handle.ID, "by", handle.ID)
	}
	x.current = &running{handle: handle, cancel: cancel}
	x.mu.Unlock()

	// Snapshot before the goroutine starts; the caller keeps its copy.
	cfg := req.Config
	summary := req.Summary.Clone()

	x.logger.Debug("query.submit",
		"handle_id", handle.ID,
		"model", cfg.Model,
		"temperature", cfg.Temperature,
		"grounded", summary != nil,
	)

	go x.run(ctx, cancel, handle, question, cfg, summary)

	return handle, nil
}

// run is the worker for one submission. All backend faults terminate here
// as a failed event; none escape the goroutine.
func (x *Executor) run(ctx context.Context, cancel context.CancelFunc, handle *Handle, question string, cfg ModelConfig, summary *dataset.Summary) {
	defer cancel()

	x.emit(Event{HandleID: handle.ID, Kind: EventProgress, Message: ProgressInitializing})

	text := prompt.Build(question, summary)

	start := time.Now()
	response, err := x.backend.Complete(ctx, cfg.Model, cfg.Temperature, text)
	elapsed := time.Since(start)

	if err != nil {
		x.fail(ctx, handle, err, elapsed)
		return
	}

	x.logger.Debug("query.finished", "handle_id", handle.ID, "duration", elapsed)
	x.emit(Event{
		HandleID: handle.ID,
		Kind:     EventFinished,
		Response: response,
		Elapsed:  elapsed,
	})
}

// fail converts a backend fault into a failed event with a human-readable
// description.
func (x *Executor) fail(ctx context.Context, handle *Handle, err error, elapsed time.Duration) {
	qerr := &QueryError{Kind: ErrKindBackend, Message: err.Error(), Cause: err}
	if ctx.Err() == context.DeadlineExceeded {
		qerr = &QueryError{
			Kind:    ErrKindTimeout,
			Message: fmt.Sprintf("query timed out after %s", x.timeout),
			Cause:   err,
		}
	}

	x.logger.Warn("query.failed", "handle_id", handle.ID, "duration", elapsed, "error", err)
	x.emit(Event{
		HandleID: handle.ID,
		Kind:     EventFailed,
		Message:  qerr.Message,
		Err:      qerr,
		Elapsed:  elapsed,
	})
}

// emit delivers an event if its handle is still current. A terminal event
// retires the handle, so anything arriving afterwards is dropped, as is
// everything from a superseded or canceled handle.
func (x *Executor) emit(ev Event) {
	x.mu.Lock()
	cur := x.current
	if cur == nil || cur.handle.ID != ev.HandleID {
		x.mu.Unlock()
		x.logger.Debug("query.event_dropped", "handle_id", ev.HandleID, "kind", ev.Kind.String())
		return
	}
	if ev.Kind != EventProgress {
		x.current = nil
	}
	sink := x.sink
	x.mu.Unlock()

	if sink != nil {
		sink(ev)
	}
}

// Cancel stops the in-flight query, if any, and reports whether one was
// running. The canceled handle's remaining events are discarded; no
// terminal notification is delivered for it.
func (x *Executor) Cancel() bool {
	x.mu.Lock()
	cur := x.current
	x.current = nil
	x.mu.Unlock()

	if cur == nil {
		return false
	}
	cur.cancel()
	x.logger.Debug("query.canceled", "handle_id", cur.handle.ID)
	return true
}

// Running reports whether a query is in flight.
func (x *Executor) Running() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.current != nil
}

// CurrentHandle returns the in-flight handle, or nil when idle.
func (x *Executor) CurrentHandle() *Handle {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.current == nil {
		return nil
	}
	return x.current.handle
}

// Policy returns the configured single-flight policy.
func (x *Executor) Policy() Policy {
	return x.policy
}
