package gateway

import (
	"context"
	"net/http"

	"github.com/upb/hive/services/providers"
	"github.com/upb/hive/services/providers/openai"
)

// DefaultModels maps a task type to the gateway model that serves it.
var DefaultModels = map[providers.TaskType]string{
	providers.TaskChat:     "meta-llama/llama-3.1-8b-instruct:free",
	providers.TaskAnalysis: "google/gemini-2.0-flash-exp:free",
	providers.TaskCreative: "anthropic/claude-3-haiku",
	providers.TaskCode:     "qwen/qwen-2.5-coder-32b-instruct",
}

// Adapter routes through a unified OpenAI-compatible gateway and picks
// the upstream model from the task type.
type Adapter struct {
	inner  *openai.Adapter
	models map[providers.TaskType]string
}

// NewAdapter creates a gateway adapter. A nil models map uses DefaultModels.
func NewAdapter(httpClient *http.Client, models map[providers.TaskType]string) *Adapter {
	if models == nil {
		models = DefaultModels
	}
	return &Adapter{
		inner:  openai.NewAdapter(httpClient),
		models: models,
	}
}

// Complete sends req through the gateway. The response provider reads
// "<gateway id>:<model>".
func (a *Adapter) Complete(ctx context.Context, target providers.Target, req *providers.ChatRequest) (*providers.Response, error) {
	model := a.ModelFor(req.TaskType, target.Model)
	return a.inner.CompleteAs(ctx, target, req, model, target.ProviderID+":"+model)
}

// ModelFor returns the gateway model for taskType, or fallback.
func (a *Adapter) ModelFor(taskType providers.TaskType, fallback string) string {
	if m, ok := a.models[taskType]; ok && m != "" {
		return m
	}
	return fallback
}
