// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama talks to a locally running Ollama daemon over HTTP.
//
// Client covers the calls the rest of the application needs: CheckRunning
// probes the daemon root, ListModels reads /api/tags, ModelExists checks
// one name against that list, and Complete runs a non-streaming
// /api/generate and hands back the final response text once generation
// ends. Connection-level faults inside Complete are retried up to
// ClientConfig.MaxRetries with a fixed delay between attempts.
//
// Failures surface as *ClientError values carrying an ErrorType; callers
// branch with IsNotRunning, IsModelNotFound, and IsTimeout instead of
// matching message strings.
//
// BreakerClient decorates Complete with a gobreaker circuit: after
// repeated failures the circuit opens and calls fail immediately with a
// not-running error until the daemon recovers. CheckRunning and
// ListModels go straight to the daemon, untouched by breaker state.
//
//	client := ollama.NewClient()
//	if err := client.CheckRunning(ctx); err != nil {
//	    // daemon not reachable
//	}
//	text, err := client.Complete(ctx, "deepseek-r1:7b", 0.7, prompt)
package ollama
