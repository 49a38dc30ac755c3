package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/upb/hive/services/providers"
)

const (
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 1024
)

// ErrNoTurns is returned when a request holds only system messages.
var ErrNoTurns = errors.New("request has no user or assistant turns")

// Adapter speaks the Anthropic Messages API.
type Adapter struct {
	httpClient *http.Client
}

// NewAdapter creates a new Anthropic adapter
func NewAdapter(httpClient *http.Client) *Adapter {
	if httpClient == nil {
		httpClient = providers.NewHTTPClient(0)
	}
	return &Adapter{httpClient: httpClient}
}

// Complete performs one Messages API call against target.
func (a *Adapter) Complete(ctx context.Context, target providers.Target, req *providers.ChatRequest) (*providers.Response, error) {
	payload, err := buildRequest(target.Model, req)
	if err != nil {
		return nil, providers.NewProviderError(target.ProviderID, "invalid request", 0, err)
	}

	headers := map[string]string{
		"x-api-key":         target.APIKey,
		"anthropic-version": apiVersion,
	}

	var resp messageResponse
	url := strings.TrimRight(target.Endpoint, "/") + "/v1/messages"
	if err := providers.PostJSON(ctx, a.httpClient, target.ProviderID, url, headers, payload, &resp); err != nil {
		return nil, err
	}

	return resp.toResponse(target)
}

// buildRequest lifts system messages into the top-level system field.
func buildRequest(model string, req *providers.ChatRequest) (*messageRequest, error) {
	out := &messageRequest{
		Model:     model,
		MaxTokens: req.MaxTokens,
		Messages:  make([]message, 0, len(req.Messages)),
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = defaultMaxTokens
	}
	if req.Temperature != nil {
		t := *req.Temperature
		out.Temperature = &t
	}

	var system []string
	for _, msg := range req.Messages {
		if msg.Role == providers.RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		out.Messages = append(out.Messages, message{Role: msg.Role, Content: msg.Content})
	}
	out.System = strings.Join(system, "\n\n")

	if len(out.Messages) == 0 {
		return nil, ErrNoTurns
	}
	return out, nil
}

type messageRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	System      string    `json:"system,omitempty"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messageResponse struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      usage          `json:"usage"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (r *messageResponse) toResponse(target providers.Target) (*providers.Response, error) {
	var b strings.Builder
	for _, block := range r.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}

	model := r.Model
	if model == "" {
		model = target.Model
	}

	return &providers.Response{
		Content:    b.String(),
		Provider:   target.ProviderID,
		Model:      model,
		TokensUsed: r.Usage.InputTokens + r.Usage.OutputTokens,
	}, nil
}
