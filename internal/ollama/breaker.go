// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// =============================================================================
// CIRCUIT BREAKER CONFIGURATION
// =============================================================================

// BreakerConfig defines circuit breaker behavior for generation requests.
type BreakerConfig struct {
	// MaxRequests allowed through while half-open (default: 1)
	MaxRequests uint32

	// Interval over which failures are counted (default: 60s)
	Interval time.Duration

	// Timeout the circuit stays open before probing recovery (default: 30s)
	Timeout time.Duration
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
	}
}

// =============================================================================
// BREAKER CLIENT
// =============================================================================

// BreakerClient decorates a Client with a circuit breaker on the generation
// path. CheckRunning and ListModels go straight to the underlying client
// regardless of breaker state.
type BreakerClient struct {
	client  *Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewBreakerClient wraps client with a circuit breaker.
func NewBreakerClient(client *Client, cfg BreakerConfig, logger *slog.Logger) *BreakerClient {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if cfg.Interval == 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	bc := &BreakerClient{client: client, logger: logger}
	bc.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ollama",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Trip on a run of failures or a mostly-failing window.
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures >= 3 || (counts.Requests >= 5 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// Count only unreachability and timeouts as breaker failures.
			// A 404 for a bad model name is a healthy service.
			return !IsNotRunning(err) && !IsTimeout(err)
		},
	})

	return bc
}

// Complete runs a prompt through the circuit breaker. When the circuit is
// open the call fails immediately instead of contacting the backend.
func (b *BreakerClient) Complete(ctx context.Context, model string, temperature float64, prompt string) (string, error) {
	result, err := b.breaker.Execute(func() (interface{}, error) {
		return b.client.Complete(ctx, model, temperature, prompt)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return "", &ClientError{
				Type:    ErrTypeNotRunning,
				Message: "Ollama is unavailable (circuit open, backing off)",
				Cause:   err,
			}
		}
		return "", err
	}

	return result.(string), nil
}

// CheckRunning passes through to the underlying client.
func (b *BreakerClient) CheckRunning(ctx context.Context) error {
	return b.client.CheckRunning(ctx)
}

// ListModels passes through to the underlying client.
func (b *BreakerClient) ListModels(ctx context.Context) ([]ModelInfo, error) {
	return b.client.ListModels(ctx)
}

// State returns the current breaker state.
func (b *BreakerClient) State() gobreaker.State {
	return b.breaker.State()
}
