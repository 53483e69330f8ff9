// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package query runs natural-language questions against a language-model
// backend without blocking the caller.
//
// # Lifecycle
//
// Submit validates the question, snapshots the request, and starts one
// worker goroutine. The worker emits events to the injected Sink in strict
// order: one or more progress events, then exactly one terminal event,
// finished or failed. Nothing is emitted after the terminal event, and a
// superseded or canceled submission emits nothing further at all.
//
//	Idle -> Running -> Finished
//	                -> Failed
//
// # Single-flight
//
// At most one submission is in flight per Executor. While one is running, a
// new Submit either supersedes it (PolicySupersede, the default: the prior
// worker is canceled and its undelivered events dropped) or is rejected
// with a busy error (PolicyReject).
//
// Suppression of stale events is keyed by handle identity twice: the
// executor drops events whose handle is no longer current, and consumers
// compare Event.HandleID against the handle they last submitted.
//
// # Usage
//
//	exec := query.New(client, func(ev query.Event) {
//	    // deliver to the UI loop
//	}, nil)
//
//	handle, err := exec.Submit(query.Request{
//	    Question: "Which region had the highest sales?",
//	    Config:   query.ModelConfig{Model: "deepseek-r1:7b", Temperature: 0.7},
//	    Summary:  summary,
//	})
//
// Backend faults never escape the worker; they arrive as the failed event's
// description.
package query
