// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"fmt"
	"time"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// Options carries the model parameters of a generation request. Field
// names follow Ollama's options object.
type Options struct {
	// Temperature is always serialized: 0.0 is a deliberate setting
	// (deterministic output), not an unset value.
	Temperature float64 `json:"temperature"`

	TopK          int     `json:"top_k,omitempty"`
	TopP          float64 `json:"top_p,omitempty"`
	RepeatPenalty float64 `json:"repeat_penalty,omitempty"`

	// NumCtx is the context window, NumPredict caps generated tokens
	// (-1 for unlimited).
	NumCtx     int `json:"num_ctx,omitempty"`
	NumPredict int `json:"num_predict,omitempty"`

	Stop []string `json:"stop,omitempty"`
	Seed int      `json:"seed,omitempty"`
}

// GenerateRequest is the /api/generate request body.
type GenerateRequest struct {
	Model   string   `json:"model"`
	Prompt  string   `json:"prompt"`
	Stream  bool     `json:"stream"`
	System  string   `json:"system,omitempty"`
	Options *Options `json:"options,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// GenerateResponse is the final /api/generate reply, including the timing
// counters Ollama reports in nanoseconds.
type GenerateResponse struct {
	Model              string    `json:"model"`
	CreatedAt          time.Time `json:"created_at"`
	Response           string    `json:"response"`
	Done               bool      `json:"done"`
	DoneReason         string    `json:"done_reason,omitempty"`
	TotalDuration      int64     `json:"total_duration,omitempty"`
	LoadDuration       int64     `json:"load_duration,omitempty"`
	PromptEvalCount    int       `json:"prompt_eval_count,omitempty"`
	PromptEvalDuration int64     `json:"prompt_eval_duration,omitempty"`
	EvalCount          int       `json:"eval_count,omitempty"`
	EvalDuration       int64     `json:"eval_duration,omitempty"`
}

// TokensPerSecond reports generation speed, 0 when no timing came back.
func (r *GenerateResponse) TokensPerSecond() float64 {
	if r.EvalDuration == 0 {
		return 0
	}
	seconds := float64(r.EvalDuration) / float64(time.Second)
	return float64(r.EvalCount) / seconds
}

// TotalTime converts the total_duration counter to a time.Duration.
func (r *GenerateResponse) TotalTime() time.Duration {
	return time.Duration(r.TotalDuration)
}

// =============================================================================
// MODEL TYPES
// =============================================================================

// ModelInfo is one entry from the /api/tags model list.
type ModelInfo struct {
	Name       string       `json:"name"`
	ModifiedAt time.Time    `json:"modified_at"`
	Size       int64        `json:"size"`
	Digest     string       `json:"digest"`
	Details    ModelDetails `json:"details,omitempty"`
}

// ModelDetails holds the format and quantization metadata per model.
type ModelDetails struct {
	Format            string   `json:"format"`
	Family            string   `json:"family"`
	Families          []string `json:"families"`
	ParameterSize     string   `json:"parameter_size"`
	QuantizationLevel string   `json:"quantization_level"`
}

// FormatSize renders the model size like "4.7 GB" or "512 B", dropping
// the decimal for whole values.
func (m *ModelInfo) FormatSize() string {
	const (
		kb = int64(1024)
		mb = kb * 1024
		gb = mb * 1024
	)

	unit, suffix := int64(1), "B"
	switch {
	case m.Size >= gb:
		unit, suffix = gb, "GB"
	case m.Size >= mb:
		unit, suffix = mb, "MB"
	case m.Size >= kb:
		unit, suffix = kb, "KB"
	}

	whole := m.Size / unit
	if frac := m.Size % unit * 10 / unit; frac > 0 {
		return fmt.Sprintf("%d.%d %s", whole, frac, suffix)
	}
	return fmt.Sprintf("%d %s", whole, suffix)
}

// ListModelsResponse is the /api/tags reply.
type ListModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

// =============================================================================
// ERROR TYPES
// =============================================================================

// OllamaError is the error body Ollama returns on non-200 statuses.
type OllamaError struct {
	Error string `json:"error"`
}
