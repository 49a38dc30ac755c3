package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/upb/hive/internal/shared"
	"github.com/upb/hive/services/providers"
	"github.com/upb/hive/utils"
	"go.uber.org/zap"
)

// maxBodyBytes bounds the size of a generate request body.
const maxBodyBytes = 1 << 20

// GenerateRequest is the body of POST /api/v1/generate
type GenerateRequest struct {
	Messages          []MessageInput `json:"messages" validate:"required,min=1,dive"`
	MaxTokens         int            `json:"max_tokens,omitempty" validate:"gte=0"`
	Temperature       *float64       `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	Stream            bool           `json:"stream,omitempty"`
	PreferredProvider string         `json:"preferred_provider,omitempty" validate:"max=64"`
	TaskType          string         `json:"task_type,omitempty" validate:"omitempty,oneof=chat analysis creative code"`
}

// MessageInput is a single conversation turn
type MessageInput struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content"`
}

// toChatRequest converts the HTTP body into the dispatcher request.
func (g *GenerateRequest) toChatRequest() *providers.ChatRequest {
	msgs := make([]providers.Message, len(g.Messages))
	for i, m := range g.Messages {
		msgs[i] = providers.Message{Role: m.Role, Content: m.Content}
	}
	return &providers.ChatRequest{
		Messages:          msgs,
		MaxTokens:         g.MaxTokens,
		Temperature:       g.Temperature,
		Stream:            g.Stream,
		PreferredProvider: g.PreferredProvider,
		TaskType:          providers.TaskType(g.TaskType),
	}
}

// Generator routes a chat request to a provider
type Generator interface {
	Generate(ctx context.Context, req *providers.ChatRequest) (*providers.Response, error)
}

// GenerateHandler handles completion requests
type GenerateHandler struct {
	generator Generator
	logger    *zap.Logger
}

// NewGenerateHandler creates a new GenerateHandler
func NewGenerateHandler(generator Generator, logger *zap.Logger) *GenerateHandler {
	return &GenerateHandler{
		generator: generator,
		logger:    logger,
	}
}

// HandleGenerate handles POST /api/v1/generate
func (h *GenerateHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := shared.RequestID(ctx)

	var body GenerateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(&body); err != nil {
		h.logger.Warn("request validation failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleValidationError(w, err, h.logger)
		return
	}

	resp, err := h.generator.Generate(ctx, body.toChatRequest())
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Debug("generate request served",
		zap.String("request_id", requestID),
		zap.String("provider", resp.Provider),
		zap.Bool("cached", resp.Cached))

	if err := utils.WriteOK(w, resp); err != nil {
		h.logger.Error("failed to write generate response",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}
