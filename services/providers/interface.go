package providers

import (
	"context"
	"errors"
	"fmt"
)

// Family identifies the wire format a provider speaks.
type Family string

const (
	FamilyAnthropic Family = "anthropic"
	FamilyGemini    Family = "gemini"
	FamilyOpenAI    Family = "openai"
	FamilyGateway   Family = "gateway"
)

// TaskType is a caller hint used only to bias provider scoring.
type TaskType string

const (
	TaskChat     TaskType = "chat"
	TaskAnalysis TaskType = "analysis"
	TaskCreative TaskType = "creative"
	TaskCode     TaskType = "code"
)

// Message roles accepted in a ChatRequest.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Adapter translates a ChatRequest into one vendor's wire format.
//
// Adapters never retry. A non-2xx reply is returned as a *ProviderError
// carrying the status code and the raw response body.
type Adapter interface {
	Complete(ctx context.Context, target Target, req *ChatRequest) (*Response, error)
}

// Target is the resolved network destination of a single attempt.
type Target struct {
	ProviderID string
	Endpoint   string
	Model      string
	APIKey     string
}

// ChatRequest represents a routed chat completion request
type ChatRequest struct {
	// Messages in the conversation, in order
	Messages []Message `json:"messages"`

	// MaxTokens limits the response length
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness; nil means the router default
	Temperature *float64 `json:"temperature,omitempty"`

	// Stream is accepted for compatibility and ignored
	Stream bool `json:"stream,omitempty"`

	// PreferredProvider is served first when it is available
	PreferredProvider string `json:"preferred_provider,omitempty"`

	// TaskType biases scoring
	TaskType TaskType `json:"task_type,omitempty"`
}

// Message represents a single message in a conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Response is the outcome of a routed request.
type Response struct {
	Content    string `json:"content"`
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	TokensUsed int    `json:"tokens_used"`
	LatencyMs  int64  `json:"latency_ms"`
	Cached     bool   `json:"cached"`
}

// Clone returns a shallow copy safe to hand to another caller.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// TemperatureOr returns the request temperature or def when unset.
func (r *ChatRequest) TemperatureOr(def float64) float64 {
	if r.Temperature == nil {
		return def
	}
	return *r.Temperature
}

// ProviderError represents a failed call to a provider
type ProviderError struct {
	// Provider that generated the error
	Provider string

	// StatusCode is the HTTP status code, zero for transport failures
	StatusCode int

	// Message is the raw response body or a short description
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Message)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Message, e.Cause)
	default:
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
}

// Unwrap implements error unwrapping
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a new provider error
func NewProviderError(provider, message string, statusCode int, cause error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		StatusCode: statusCode,
		Message:    message,
		Cause:      cause,
	}
}

// StatusCode extracts the HTTP status carried by err, or zero.
func StatusCode(err error) int {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.StatusCode
	}
	return 0
}
