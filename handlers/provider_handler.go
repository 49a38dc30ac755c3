package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/upb/hive/services"
	"github.com/upb/hive/services/cache"
	"github.com/upb/hive/services/providers"
	"github.com/upb/hive/utils"
	"go.uber.org/zap"
)

// StatusReader exposes the router's live provider and cache state
type StatusReader interface {
	ProviderStatus() []providers.Status
	CacheStats() cache.Stats
}

// ProviderHandler serves provider status endpoints
type ProviderHandler struct {
	status StatusReader
	logger *zap.Logger
}

// NewProviderHandler creates a new ProviderHandler
func NewProviderHandler(status StatusReader, logger *zap.Logger) *ProviderHandler {
	return &ProviderHandler{
		status: status,
		logger: logger,
	}
}

// HandleListStatus handles GET /api/v1/providers/status
func (h *ProviderHandler) HandleListStatus(w http.ResponseWriter, r *http.Request) {
	if err := utils.WriteOK(w, h.status.ProviderStatus()); err != nil {
		h.logger.Error("failed to write provider status", zap.Error(err))
	}
}

// HandleGetStatus handles GET /api/v1/providers/{id}
func (h *ProviderHandler) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	for _, s := range h.status.ProviderStatus() {
		if s.ID == id {
			if err := utils.WriteOK(w, s); err != nil {
				h.logger.Error("failed to write provider status", zap.Error(err))
			}
			return
		}
	}

	HandleServiceError(w, services.ErrProviderNotFound, h.logger)
}

// HandleCacheStats handles GET /api/v1/cache/stats
func (h *ProviderHandler) HandleCacheStats(w http.ResponseWriter, r *http.Request) {
	if err := utils.WriteOK(w, h.status.CacheStats()); err != nil {
		h.logger.Error("failed to write cache stats", zap.Error(err))
	}
}
