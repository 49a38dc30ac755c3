package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/upb/hive/services/providers"
)

// ErrEmptyChoices is returned when a 2xx reply carries no choices.
var ErrEmptyChoices = errors.New("response contained no choices")

// Adapter speaks the OpenAI chat completions schema. Groq, Cerebras and
// OpenAI itself share it, so one adapter serves all three.
type Adapter struct {
	httpClient *http.Client
}

// NewAdapter creates a new OpenAI-compatible adapter
func NewAdapter(httpClient *http.Client) *Adapter {
	if httpClient == nil {
		httpClient = providers.NewHTTPClient(0)
	}
	return &Adapter{httpClient: httpClient}
}

// Complete performs one chat completion call against target.
func (a *Adapter) Complete(ctx context.Context, target providers.Target, req *providers.ChatRequest) (*providers.Response, error) {
	return a.complete(ctx, target, a.buildRequest(target.Model, req), target.ProviderID)
}

// CompleteAs sends an already-built request and reports providerID on the
// response. The gateway adapter uses it after choosing its own model.
func (a *Adapter) CompleteAs(ctx context.Context, target providers.Target, req *providers.ChatRequest, model, providerID string) (*providers.Response, error) {
	return a.complete(ctx, target, a.buildRequest(model, req), providerID)
}

func (a *Adapter) complete(ctx context.Context, target providers.Target, body *ChatRequest, providerID string) (*providers.Response, error) {
	headers := map[string]string{
		"Authorization": "Bearer " + target.APIKey,
	}

	var resp ChatResponse
	url := strings.TrimRight(target.Endpoint, "/") + "/chat/completions"
	if err := providers.PostJSON(ctx, a.httpClient, target.ProviderID, url, headers, body, &resp); err != nil {
		return nil, err
	}

	return a.convertToUnifiedResponse(&resp, body.Model, providerID)
}

// buildRequest converts the routed request to the OpenAI format.
// Messages pass through verbatim.
func (a *Adapter) buildRequest(model string, req *providers.ChatRequest) *ChatRequest {
	out := &ChatRequest{
		Model:    model,
		Messages: make([]Message, len(req.Messages)),
	}

	for i, msg := range req.Messages {
		out.Messages[i] = Message{Role: msg.Role, Content: msg.Content}
	}

	if req.MaxTokens > 0 {
		maxTokens := req.MaxTokens
		out.MaxTokens = &maxTokens
	}
	if req.Temperature != nil {
		temperature := *req.Temperature
		out.Temperature = &temperature
	}

	return out
}

// convertToUnifiedResponse converts an OpenAI response to the routed format
func (a *Adapter) convertToUnifiedResponse(resp *ChatResponse, requestedModel, providerID string) (*providers.Response, error) {
	if len(resp.Choices) == 0 {
		return nil, providers.NewProviderError(providerID, "empty response", http.StatusOK, ErrEmptyChoices)
	}

	model := resp.Model
	if model == "" {
		model = requestedModel
	}

	tokens := resp.Usage.TotalTokens
	if tokens == 0 {
		tokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
	}

	return &providers.Response{
		Content:    resp.Choices[0].Message.Content,
		Provider:   providerID,
		Model:      model,
		TokensUsed: tokens,
	}, nil
}

// OpenAI-specific request/response types

type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
