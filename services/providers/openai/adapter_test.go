package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/upb/hive/services/providers"
)

func floatPtr(f float64) *float64 { return &f }

func TestAdapter_Complete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("Path = %s, want /v1/chat/completions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "llama-3.3-70b-versatile" {
			t.Errorf("Model = %s", req.Model)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("Messages not passed verbatim: %+v", req.Messages)
		}
		if req.MaxTokens == nil || *req.MaxTokens != 256 {
			t.Errorf("MaxTokens = %v", req.MaxTokens)
		}

		resp := ChatResponse{
			ID:      "chatcmpl-test123",
			Created: time.Now().Unix(),
			Model:   "llama-3.3-70b-versatile",
			Choices: []Choice{
				{Message: Message{Role: "assistant", Content: "Hello! How can I help?"}, FinishReason: "stop"},
			},
			Usage: Usage{PromptTokens: 10, CompletionTokens: 8, TotalTokens: 18},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	adapter := NewAdapter(server.Client())
	target := providers.Target{
		ProviderID: "groq",
		Endpoint:   server.URL + "/v1/",
		Model:      "llama-3.3-70b-versatile",
		APIKey:     "test-key",
	}
	req := &providers.ChatRequest{
		Messages: []providers.Message{
			{Role: "system", Content: "You are helpful"},
			{Role: "user", Content: "Hello"},
		},
		MaxTokens:   256,
		Temperature: floatPtr(0.2),
	}

	resp, err := adapter.Complete(context.Background(), target, req)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	if resp.Content != "Hello! How can I help?" {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.Provider != "groq" {
		t.Errorf("Provider = %s, want groq", resp.Provider)
	}
	if resp.TokensUsed != 18 {
		t.Errorf("TokensUsed = %d, want 18", resp.TokensUsed)
	}
}

func TestAdapter_Complete_ErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"error":{"message":"Invalid API key","type":"invalid_request_error"}}`},
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{"error":{"message":"Rate limit reached"}}`},
		{name: "plain text body", status: http.StatusBadGateway, body: "upstream connect error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			adapter := NewAdapter(server.Client())
			target := providers.Target{ProviderID: "openai", Endpoint: server.URL, Model: "gpt-4o-mini", APIKey: "k"}
			req := &providers.ChatRequest{Messages: []providers.Message{{Role: "user", Content: "test"}}}

			_, err := adapter.Complete(context.Background(), target, req)
			if err == nil {
				t.Fatal("Expected error but got none")
			}

			var provErr *providers.ProviderError
			if !errors.As(err, &provErr) {
				t.Fatalf("Expected ProviderError, got %T", err)
			}
			if provErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", provErr.StatusCode, tt.status)
			}
			if provErr.Message != tt.body {
				t.Errorf("Message = %q, want raw body %q", provErr.Message, tt.body)
			}
		})
	}
}

func TestAdapter_Complete_NoRetry(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	adapter := NewAdapter(server.Client())
	target := providers.Target{ProviderID: "cerebras", Endpoint: server.URL, Model: "llama3.1-8b", APIKey: "k"}
	req := &providers.ChatRequest{Messages: []providers.Message{{Role: "user", Content: "test"}}}

	if _, err := adapter.Complete(context.Background(), target, req); err == nil {
		t.Fatal("Expected error but got none")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestAdapter_Complete_ContextDeadline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	adapter := NewAdapter(server.Client())
	target := providers.Target{ProviderID: "groq", Endpoint: server.URL, Model: "m", APIKey: "k"}
	req := &providers.ChatRequest{Messages: []providers.Message{{Role: "user", Content: "test"}}}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := adapter.Complete(ctx, target, req)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
	if providers.StatusCode(err) != 0 {
		t.Errorf("StatusCode = %d, want 0", providers.StatusCode(err))
	}
}

func TestAdapter_Complete_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"x","choices":[]}`))
	}))
	defer server.Close()

	adapter := NewAdapter(server.Client())
	target := providers.Target{ProviderID: "groq", Endpoint: server.URL, Model: "m", APIKey: "k"}
	req := &providers.ChatRequest{Messages: []providers.Message{{Role: "user", Content: "test"}}}

	_, err := adapter.Complete(context.Background(), target, req)
	if !errors.Is(err, ErrEmptyChoices) {
		t.Fatalf("err = %v, want ErrEmptyChoices", err)
	}
}

func TestBuildRequest(t *testing.T) {
	adapter := NewAdapter(nil)

	t.Run("optional fields omitted", func(t *testing.T) {
		req := &providers.ChatRequest{Messages: []providers.Message{{Role: "user", Content: "Hi"}}}
		out := adapter.buildRequest("gpt-4o-mini", req)

		if out.MaxTokens != nil || out.Temperature != nil {
			t.Errorf("unexpected optional fields: %+v", out)
		}
	})

	t.Run("temperature zero is kept", func(t *testing.T) {
		req := &providers.ChatRequest{
			Messages:    []providers.Message{{Role: "user", Content: "Hi"}},
			Temperature: floatPtr(0),
		}
		out := adapter.buildRequest("gpt-4o-mini", req)

		if out.Temperature == nil || *out.Temperature != 0 {
			t.Errorf("Temperature = %v, want 0", out.Temperature)
		}
	})
}

func TestConvertToUnifiedResponse(t *testing.T) {
	adapter := NewAdapter(nil)

	resp := &ChatResponse{
		Choices: []Choice{{Message: Message{Role: "assistant", Content: "Hello!"}}},
		Usage:   Usage{PromptTokens: 10, CompletionTokens: 5},
	}

	out, err := adapter.convertToUnifiedResponse(resp, "gpt-4o-mini", "openai")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Model != "gpt-4o-mini" {
		t.Errorf("Model = %s, want requested model when reply omits it", out.Model)
	}
	if out.TokensUsed != 15 {
		t.Errorf("TokensUsed = %d, want 15", out.TokensUsed)
	}
}
