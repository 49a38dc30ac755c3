package gemini

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/upb/hive/services/providers"
)

const (
	roleUser  = "user"
	roleModel = "model"

	// systemAck is the model turn that follows a system prompt rendered as
	// a user turn, so the conversation keeps alternating.
	systemAck = "Understood."

	// fallbackTokens is reported when the reply carries no usage metadata.
	fallbackTokens = 500
)

// ErrNoCandidates is returned when a 2xx reply carries no candidates.
var ErrNoCandidates = errors.New("response contained no candidates")

// Adapter speaks the Gemini generateContent API.
type Adapter struct {
	httpClient *http.Client
}

// NewAdapter creates a new Gemini adapter
func NewAdapter(httpClient *http.Client) *Adapter {
	if httpClient == nil {
		httpClient = providers.NewHTTPClient(0)
	}
	return &Adapter{httpClient: httpClient}
}

// Complete performs one generateContent call against target.
func (a *Adapter) Complete(ctx context.Context, target providers.Target, req *providers.ChatRequest) (*providers.Response, error) {
	endpoint := strings.TrimRight(target.Endpoint, "/") +
		"/v1beta/models/" + url.PathEscape(target.Model) + ":generateContent?" +
		url.Values{"key": {target.APIKey}}.Encode()

	var resp generateResponse
	if err := providers.PostJSON(ctx, a.httpClient, target.ProviderID, endpoint, nil, buildRequest(req), &resp); err != nil {
		return nil, err
	}

	return convertToUnifiedResponse(&resp, target)
}

// buildRequest renders system messages as one leading user turn followed by
// an acknowledgement, then the remaining turns in order.
func buildRequest(req *providers.ChatRequest) *generateRequest {
	out := &generateRequest{Contents: make([]content, 0, len(req.Messages)+2)}

	var system []string
	turns := make([]content, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case providers.RoleSystem:
			system = append(system, msg.Content)
		case providers.RoleAssistant:
			turns = append(turns, content{Role: roleModel, Parts: []part{{Text: msg.Content}}})
		default:
			turns = append(turns, content{Role: roleUser, Parts: []part{{Text: msg.Content}}})
		}
	}

	if len(system) > 0 {
		out.Contents = append(out.Contents,
			content{Role: roleUser, Parts: []part{{Text: strings.Join(system, "\n\n")}}},
			content{Role: roleModel, Parts: []part{{Text: systemAck}}},
		)
	}
	out.Contents = append(out.Contents, turns...)

	if req.MaxTokens > 0 || req.Temperature != nil {
		cfg := &generationConfig{}
		if req.MaxTokens > 0 {
			maxTokens := req.MaxTokens
			cfg.MaxOutputTokens = &maxTokens
		}
		if req.Temperature != nil {
			temperature := *req.Temperature
			cfg.Temperature = &temperature
		}
		out.GenerationConfig = cfg
	}

	return out
}

func convertToUnifiedResponse(resp *generateResponse, target providers.Target) (*providers.Response, error) {
	if len(resp.Candidates) == 0 {
		return nil, providers.NewProviderError(target.ProviderID, "empty response", http.StatusOK, ErrNoCandidates)
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}

	tokens := fallbackTokens
	if resp.UsageMetadata != nil && resp.UsageMetadata.TotalTokenCount > 0 {
		tokens = resp.UsageMetadata.TotalTokenCount
	}

	model := resp.ModelVersion
	if model == "" {
		model = target.Model
	}

	return &providers.Response{
		Content:    b.String(),
		Provider:   target.ProviderID,
		Model:      model,
		TokensUsed: tokens,
	}, nil
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
}

type generateResponse struct {
	Candidates    []candidate    `json:"candidates"`
	UsageMetadata *usageMetadata `json:"usageMetadata,omitempty"`
	ModelVersion  string         `json:"modelVersion,omitempty"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason"`
}

type usageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}
