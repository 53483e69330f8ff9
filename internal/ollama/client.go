// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ClientError is the error type for every daemon interaction. Type carries
// the category so callers branch on it rather than on Message text.
type ClientError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// ErrorType partitions failures into the cases callers treat differently.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeNotRunning
	ErrTypeTimeout
	ErrTypeModelNotFound
	ErrTypeConnection
	ErrTypeInvalidResponse
)

// Sentinels for the common failure modes.
var (
	ErrNotRunning    = &ClientError{Type: ErrTypeNotRunning, Message: "Ollama is not running"}
	ErrTimeout       = &ClientError{Type: ErrTypeTimeout, Message: "request timed out"}
	ErrModelNotFound = &ClientError{Type: ErrTypeModelNotFound, Message: "model not found"}
	ErrEmptyResponse = &ClientError{Type: ErrTypeInvalidResponse, Message: "model returned an empty response"}
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig controls how the client reaches the daemon.
type ClientConfig struct {
	// BaseURL of the daemon. The default uses 127.0.0.1 rather than
	// localhost, which can resolve to IPv6 first on Windows.
	BaseURL string

	// Timeout for one generation request. Inference on CPU-only hosts
	// can legitimately take minutes, hence the 120s default.
	Timeout time.Duration

	// DefaultModel substitutes for an empty model name.
	DefaultModel string

	// MaxRetries for connection-level failures on generation.
	MaxRetries int

	// RetryDelay is the pause between those attempts.
	RetryDelay time.Duration
}

// DefaultConfig returns the stock client settings.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:      "http://127.0.0.1:11434",
		Timeout:      120 * time.Second,
		DefaultModel: "deepseek-r1:7b",
		MaxRetries:   3,
		RetryDelay:   1 * time.Second,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is the HTTP client for a local Ollama daemon. Safe for
// concurrent use.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
}

// NewClient returns a client with DefaultConfig.
func NewClient() *Client {
	return NewClientWithConfig(DefaultConfig())
}

// NewClientWithConfig returns a client using the given settings. Zero
// fields fall back to their DefaultConfig values, so partial configs work.
func NewClientWithConfig(config *ClientConfig) *Client {
	def := DefaultConfig()
	if config == nil {
		config = def
	}
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.DefaultModel == "" {
		config.DefaultModel = def.DefaultModel
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = def.MaxRetries
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = def.RetryDelay
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// doGet issues a GET and maps transport failures onto the sentinels.
func (c *Client) doGet(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ErrNotRunning
	}
	return resp, nil
}

// =============================================================================
// HEALTH CHECK
// =============================================================================

// CheckRunning probes the daemon root and reports whether Ollama answers.
func (c *Client) CheckRunning(ctx context.Context) error {
	resp, err := c.doGet(ctx, c.config.BaseURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &ClientError{
			Type:    ErrTypeConnection,
			Message: "unexpected status from Ollama: " + resp.Status,
		}
	}

	return nil
}

// =============================================================================
// MODEL OPERATIONS
// =============================================================================

// ListModels returns the models installed in the local daemon.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	resp, err := c.doGet(ctx, c.config.BaseURL+"/api/tags")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ClientError{
			Type:    ErrTypeInvalidResponse,
			Message: "failed to list models: " + resp.Status,
		}
	}

	var result ListModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}

	return result.Models, nil
}

// ModelExists reports whether the named model is installed. Lookup
// failures count as absent.
func (c *Client) ModelExists(ctx context.Context, model string) bool {
	models, err := c.ListModels(ctx)
	if err != nil {
		return false
	}
	for _, m := range models {
		if m.Name == model {
			return true
		}
	}
	return false
}

// =============================================================================
// GENERATION
// =============================================================================

// Generate sends a completion request and returns the full response.
// The request is non-streaming: the call blocks until the model has
// produced its entire answer or the context is cancelled.
func (c *Client) Generate(ctx context.Context, model string, prompt string, opts *Options) (*GenerateResponse, error) {
	if model == "" {
		model = c.config.DefaultModel
	}

	reqBody := GenerateRequest{
		Model:   model,
		Prompt:  prompt,
		Stream:  false,
		Options: opts,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}

	resp, err := c.postWithRetry(ctx, c.config.BaseURL+"/api/generate", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrModelNotFound
	}

	if resp.StatusCode != http.StatusOK {
		// Try to read the error message Ollama put in the body
		var ollamaErr OllamaError
		if err := json.NewDecoder(resp.Body).Decode(&ollamaErr); err == nil && ollamaErr.Error != "" {
			return nil, &ClientError{
				Type:    ErrTypeInvalidResponse,
				Message: ollamaErr.Error,
			}
		}
		return nil, &ClientError{
			Type:    ErrTypeInvalidResponse,
			Message: "generate request failed: " + resp.Status,
		}
	}

	var result GenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}

	return &result, nil
}

// Complete runs a single prompt with the given model and temperature and
// returns the generated text. A whitespace-only response is treated as a
// fault so callers never have to special-case blank answers.
func (c *Client) Complete(ctx context.Context, model string, temperature float64, prompt string) (string, error) {
	resp, err := c.Generate(ctx, model, prompt, &Options{Temperature: temperature})
	if err != nil {
		return "", err
	}

	if strings.TrimSpace(resp.Response) == "" {
		return "", ErrEmptyResponse
	}

	return resp.Response, nil
}

// postWithRetry issues a POST, retrying only connection-level failures.
// Timeouts and cancellations return immediately, as does any response
// that actually reached the server.
func (c *Client) postWithRetry(ctx context.Context, url string, body []byte) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return nil, ErrTimeout
				}
				return nil, &ClientError{Type: ErrTypeConnection, Message: "request cancelled", Cause: ctx.Err()}
			case <-time.After(c.config.RetryDelay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err == nil {
			return resp, nil
		}

		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		if errors.Is(err, context.Canceled) {
			return nil, &ClientError{Type: ErrTypeConnection, Message: "request cancelled", Cause: err}
		}

		lastErr = err
	}

	return nil, &ClientError{Type: ErrTypeNotRunning, Message: "Ollama is not running", Cause: lastErr}
}

// =============================================================================
// UTILITY METHODS
// =============================================================================

// GetConfig exposes the active client settings.
func (c *Client) GetConfig() *ClientConfig {
	return c.config
}

// DefaultModel returns the model used when requests leave it blank.
func (c *Client) DefaultModel() string {
	return c.config.DefaultModel
}

// IsModelNotFound reports whether err says the requested model is absent.
func IsModelNotFound(err error) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type == ErrTypeModelNotFound
	}
	return errors.Is(err, ErrModelNotFound)
}

// IsNotRunning reports whether err says the daemon is unreachable.
func IsNotRunning(err error) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type == ErrTypeNotRunning
	}
	return errors.Is(err, ErrNotRunning)
}

// IsTimeout reports whether err came from a deadline expiring.
func IsTimeout(err error) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type == ErrTypeTimeout
	}
	return errors.Is(err, ErrTimeout)
}
