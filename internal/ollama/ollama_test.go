// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// newTestClient returns a client pointed at a stub Ollama server.
func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	client := NewClientWithConfig(&ClientConfig{
		BaseURL:    server.URL,
		Timeout:    5 * time.Second,
		MaxRetries: 1,
		RetryDelay: 10 * time.Millisecond,
	})
	return client, server
}

// =============================================================================
// HEALTH CHECK TESTS
// =============================================================================

func TestCheckRunning_OK(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	defer server.Close()

	if err := client.CheckRunning(context.Background()); err != nil {
		t.Errorf("CheckRunning() = %v, want nil", err)
	}
}

func TestCheckRunning_Down(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {})
	server.Close() // refuse connections

	err := client.CheckRunning(context.Background())
	if !IsNotRunning(err) {
		t.Errorf("CheckRunning() = %v, want not-running error", err)
	}
}

// =============================================================================
// GENERATE TESTS
// =============================================================================

func TestGenerate_Success(t *testing.T) {
	var gotReq GenerateRequest
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path = %q, want /api/generate", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(GenerateResponse{
			Model:     gotReq.Model,
			Response:  "42 rows match",
			Done:      true,
			EvalCount: 5,
		})
	})
	defer server.Close()

	resp, err := client.Generate(context.Background(), "deepseek-r1:7b", "How many rows?", &Options{Temperature: 0.7})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if resp.Response != "42 rows match" {
		t.Errorf("Response = %q", resp.Response)
	}

	if gotReq.Stream {
		t.Error("Stream should be false for blocking generation")
	}

	if gotReq.Options == nil || gotReq.Options.Temperature != 0.7 {
		t.Errorf("Options = %+v, want temperature 0.7", gotReq.Options)
	}
}

func TestGenerate_ModelNotFound(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	defer server.Close()

	_, err := client.Generate(context.Background(), "nope:1b", "hi", nil)
	if !IsModelNotFound(err) {
		t.Errorf("Generate() = %v, want model-not-found", err)
	}
}

func TestGenerate_ErrorBody(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(OllamaError{Error: "model requires more system memory"})
	})
	defer server.Close()

	_, err := client.Generate(context.Background(), "deepseek-r1:7b", "hi", nil)
	if err == nil || !strings.Contains(err.Error(), "more system memory") {
		t.Errorf("Generate() = %v, want Ollama's error message surfaced", err)
	}
}

func TestGenerate_DefaultModel(t *testing.T) {
	var gotModel string
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		var req GenerateRequest
		json.NewDecoder(r.Body).Decode(&req)
		gotModel = req.Model
		json.NewEncoder(w).Encode(GenerateResponse{Response: "ok", Done: true})
	})
	defer server.Close()

	if _, err := client.Generate(context.Background(), "", "hi", nil); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if gotModel != "deepseek-r1:7b" {
		t.Errorf("model = %q, want default deepseek-r1:7b", gotModel)
	}
}

// =============================================================================
// COMPLETE TESTS
// =============================================================================

func TestComplete_Success(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(GenerateResponse{Response: "The mean is 4.2.", Done: true})
	})
	defer server.Close()

	text, err := client.Complete(context.Background(), "deepseek-r1:7b", 0.0, "mean of col a?")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if text != "The mean is 4.2." {
		t.Errorf("Complete() = %q", text)
	}
}

func TestComplete_EmptyResponse(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(GenerateResponse{Response: "   \n", Done: true})
	})
	defer server.Close()

	_, err := client.Complete(context.Background(), "deepseek-r1:7b", 0.7, "hi")
	if err == nil {
		t.Fatal("Complete() should reject whitespace-only responses")
	}

	var clientErr *ClientError
	if !errors.As(err, &clientErr) || clientErr.Type != ErrTypeInvalidResponse {
		t.Errorf("Complete() = %v, want invalid-response error", err)
	}
}

func TestComplete_TemperatureZeroSerialized(t *testing.T) {
	var raw map[string]json.RawMessage
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&raw)
		json.NewEncoder(w).Encode(GenerateResponse{Response: "ok", Done: true})
	})
	defer server.Close()

	if _, err := client.Complete(context.Background(), "m", 0.0, "hi"); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	opts, ok := raw["options"]
	if !ok {
		t.Fatal("options missing from request body")
	}
	if !strings.Contains(string(opts), `"temperature":0`) {
		t.Errorf("options = %s, want explicit temperature 0", opts)
	}
}

// =============================================================================
// MODEL LIST TESTS
// =============================================================================

func TestListModels(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("path = %q, want /api/tags", r.URL.Path)
		}
		json.NewEncoder(w).Encode(ListModelsResponse{
			Models: []ModelInfo{
				{Name: "deepseek-r1:7b", Size: 4_700_000_000},
				{Name: "codellama:7b", Size: 3_800_000_000},
			},
		})
	})
	defer server.Close()

	models, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}

	if len(models) != 2 {
		t.Fatalf("len(models) = %d, want 2", len(models))
	}

	if models[0].Name != "deepseek-r1:7b" {
		t.Errorf("models[0].Name = %q", models[0].Name)
	}
}

func TestModelExists(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ListModelsResponse{
			Models: []ModelInfo{{Name: "codellama:7b"}},
		})
	})
	defer server.Close()

	if !client.ModelExists(context.Background(), "codellama:7b") {
		t.Error("ModelExists should find codellama:7b")
	}
	if client.ModelExists(context.Background(), "missing:1b") {
		t.Error("ModelExists should not find missing:1b")
	}
}

// =============================================================================
// TIMEOUT TESTS
// =============================================================================

func TestGenerate_ContextTimeout(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		json.NewEncoder(w).Encode(GenerateResponse{Response: "late", Done: true})
	})
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.Generate(ctx, "m", "hi", nil)
	if !IsTimeout(err) {
		t.Errorf("Generate() = %v, want timeout error", err)
	}
}

// =============================================================================
// TYPE TESTS
// =============================================================================

func TestGenerateResponse_TokensPerSecond(t *testing.T) {
	tests := []struct {
		name         string
		evalCount    int
		evalDuration int64
		want         float64
	}{
		{"normal", 100, int64(time.Second), 100.0},
		{"zero duration", 100, 0, 0.0},
		{"fast", 1000, int64(100 * time.Millisecond), 10000.0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := &GenerateResponse{
				EvalCount:    tc.evalCount,
				EvalDuration: tc.evalDuration,
			}

			got := resp.TokensPerSecond()

			// Compare within 1% to absorb float rounding.
			if tc.want != 0 && (got < tc.want*0.99 || got > tc.want*1.01) {
				t.Errorf("TokensPerSecond() = %f, want %f", got, tc.want)
			}
			if tc.want == 0 && got != 0 {
				t.Errorf("TokensPerSecond() = %f, want 0", got)
			}
		})
	}
}

func TestModelInfo_FormatSize(t *testing.T) {
	tests := []struct {
		size int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1 KB"},
		{1536, "1.5 KB"},
		{1024 * 1024, "1 MB"},
		{2 * 1024 * 1024 * 1024, "2 GB"},
	}

	for _, tc := range tests {
		m := &ModelInfo{Size: tc.size}
		if got := m.FormatSize(); got != tc.want {
			t.Errorf("FormatSize(%d) = %q, want %q", tc.size, got, tc.want)
		}
	}
}

func TestClientError_Unwrap(t *testing.T) {
	cause := &ClientError{Type: ErrTypeConnection, Message: "inner"}
	err := &ClientError{Type: ErrTypeNotRunning, Message: "outer", Cause: cause}

	if err.Error() != "outer: inner" {
		t.Errorf("Error() = %q", err.Error())
	}

	if err.Unwrap() != cause {
		t.Error("Unwrap() should return the cause")
	}
}
