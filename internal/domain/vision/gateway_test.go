package vision

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"boxcount-server-go/internal/platform/config"
	"boxcount-server-go/internal/platform/errors"
	platformtesting "boxcount-server-go/internal/platform/testing"
)

func visionConfig(provider, baseURL string) *config.VisionConfig {
	cfg := config.DefaultConfig().Vision
	cfg.Type = provider
	cfg.BaseURL = baseURL
	if provider == "openai" {
		cfg.APIKey = "sk-test"
	}
	return &cfg
}

func TestNewGateway_Validation(t *testing.T) {
	logger := platformtesting.SetupTestLogger(t)

	t.Run("openai requires api key", func(t *testing.T) {
		cfg := visionConfig("openai", "")
		cfg.APIKey = ""
		_, err := NewGateway(cfg, logger)
		if !errors.IsKind(err, errors.KindConfig) {
			t.Errorf("expected config error, got %v", err)
		}
	})

	t.Run("ollama defaults base url", func(t *testing.T) {
		cfg := visionConfig("ollama", "")
		g, err := NewGateway(cfg, logger)
		platformtesting.AssertNoError(t, err)
		platformtesting.AssertEqual(t, defaultOllamaBaseURL, g.cfg.BaseURL)
	})

	t.Run("unknown provider rejected", func(t *testing.T) {
		cfg := visionConfig("gemini", "")
		_, err := NewGateway(cfg, logger)
		if !errors.IsKind(err, errors.KindConfig) {
			t.Errorf("expected config error, got %v", err)
		}
	})
}

func TestAnalyze_OpenAI(t *testing.T) {
	var captured struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content []struct {
				Type     string `json:"type"`
				Text     string `json:"text"`
				ImageURL struct {
					URL    string `json:"url"`
					Detail string `json:"detail"`
				} `json:"image_url"`
			} `json:"content"`
		} `json:"messages"`
		MaxTokens int `json:"max_tokens"`
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": `Here you go: [{"label":"box","quantity":2}]`}},
			},
		})
	}))
	defer server.Close()

	g, err := NewGateway(visionConfig("openai", server.URL), platformtesting.SetupTestLogger(t))
	platformtesting.AssertNoError(t, err)

	reply, err := g.Analyze(context.Background(), "aW1hZ2U=", "count the boxes")
	platformtesting.AssertNoError(t, err)
	platformtesting.AssertEqual(t, `Here you go: [{"label":"box","quantity":2}]`, reply)

	platformtesting.AssertEqual(t, "gpt-4o", captured.Model)
	platformtesting.AssertEqual(t, 2000, captured.MaxTokens)
	if len(captured.Messages) != 1 || len(captured.Messages[0].Content) != 2 {
		t.Fatalf("expected one multimodal message, got %+v", captured.Messages)
	}
	platformtesting.AssertEqual(t, "count the boxes", captured.Messages[0].Content[0].Text)
	platformtesting.AssertEqual(t, "data:image/jpeg;base64,aW1hZ2U=", captured.Messages[0].Content[1].ImageURL.URL)
	platformtesting.AssertEqual(t, "high", captured.Messages[0].Content[1].ImageURL.Detail)
}

func TestAnalyze_OpenAIEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer server.Close()

	g, err := NewGateway(visionConfig("openai", server.URL), platformtesting.SetupTestLogger(t))
	platformtesting.AssertNoError(t, err)

	_, err = g.Analyze(context.Background(), "aW1hZ2U=", "count")
	if !errors.IsKind(err, errors.KindUpstream) {
		t.Errorf("expected upstream error, got %v", err)
	}
}

func TestAnalyze_Ollama(t *testing.T) {
	var captured ollamaRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"model":   captured.Model,
			"message": map[string]any{"role": "assistant", "content": "I count 3 boxes."},
			"done":    true,
		})
	}))
	defer server.Close()

	g, err := NewGateway(visionConfig("ollama", server.URL), platformtesting.SetupTestLogger(t))
	platformtesting.AssertNoError(t, err)

	reply, err := g.Analyze(context.Background(), "aW1hZ2U=", "count the boxes")
	platformtesting.AssertNoError(t, err)
	platformtesting.AssertEqual(t, "I count 3 boxes.", reply)

	if captured.Stream {
		t.Error("expected non-streaming request")
	}
	if len(captured.Messages) != 1 || len(captured.Messages[0].Images) != 1 {
		t.Fatalf("expected one message with one image, got %+v", captured.Messages)
	}
	platformtesting.AssertEqual(t, "aW1hZ2U=", captured.Messages[0].Images[0])
}

func TestAnalyze_OllamaUpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	g, err := NewGateway(visionConfig("ollama", server.URL), platformtesting.SetupTestLogger(t))
	platformtesting.AssertNoError(t, err)

	_, err = g.Analyze(context.Background(), "aW1hZ2U=", "count")
	if !errors.IsKind(err, errors.KindUpstream) {
		t.Errorf("expected upstream error, got %v", err)
	}
}

func TestStripThinkTags(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "no tags untouched",
			input:    `[{"label":"box"}]`,
			expected: `[{"label":"box"}]`,
		},
		{
			name:     "single span removed",
			input:    "<think>hmm, let me look</think>\n[1, 2]",
			expected: "[1, 2]",
		},
		{
			name:     "multiple spans removed",
			input:    "<think>a</think>result<think>b</think>",
			expected: "result",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripThinkTags(tt.input); got != tt.expected {
				t.Errorf("stripThinkTags() = %q, want %q", got, tt.expected)
			}
		})
	}
}
