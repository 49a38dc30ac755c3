package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/upb/hive/services/providers"
	"github.com/upb/hive/utils"
	"go.uber.org/zap"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status             string            `json:"status"`
	Timestamp          string            `json:"timestamp"`
	Checks             map[string]string `json:"checks,omitempty"`
	AvailableProviders *int              `json:"available_providers,omitempty"`
}

// ProviderStatusReader reports provider availability
type ProviderStatusReader interface {
	ProviderStatus() []providers.Status
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	db        *sql.DB
	providers ProviderStatusReader
	logger    *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. db may be nil when the
// dispatch ledger runs without a database.
func NewHealthHandler(db *sql.DB, providers ProviderStatusReader, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:        db,
		providers: providers,
		logger:    logger,
	}
}

// HandleHealth handles GET /healthz
// Basic health check - always returns 200 if service is running
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	_ = utils.WriteOK(w, response)
}

// HandleReadiness handles GET /readyz
// The router is ready when its database answers and at least one provider can serve.
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	switch err := h.checkDatabase(ctx); {
	case h.db == nil:
		checks["database"] = "disabled"
	case err != nil:
		h.logger.Warn("database health check failed", zap.Error(err))
		checks["database"] = "unhealthy"
		allHealthy = false
	default:
		checks["database"] = "healthy"
	}

	var available *int
	if h.providers != nil {
		n := 0
		for _, s := range h.providers.ProviderStatus() {
			if s.Available {
				n++
			}
		}
		available = &n
		if n == 0 {
			checks["providers"] = "unavailable"
			allHealthy = false
		} else {
			checks["providers"] = "healthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:             status,
		Timestamp:          time.Now().UTC().Format(time.RFC3339),
		Checks:             checks,
		AvailableProviders: available,
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

// checkDatabase checks database connectivity
func (h *HealthHandler) checkDatabase(ctx context.Context) error {
	if h.db == nil {
		return nil
	}

	if err := h.db.PingContext(ctx); err != nil {
		return err
	}

	var result int
	return h.db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
}
