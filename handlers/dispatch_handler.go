package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/upb/hive/models"
	"github.com/upb/hive/repositories"
	"github.com/upb/hive/services"
	"github.com/upb/hive/utils"
	"go.uber.org/zap"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
	defaultWindow    = 24 * time.Hour
)

// DispatchHandler serves the dispatch ledger
type DispatchHandler struct {
	repo   repositories.DispatchRepository
	logger *zap.Logger
	now    func() time.Time
}

// NewDispatchHandler creates a new DispatchHandler
func NewDispatchHandler(repo repositories.DispatchRepository, logger *zap.Logger) *DispatchHandler {
	return &DispatchHandler{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// DispatchListResponse is a page of ledger rows
type DispatchListResponse struct {
	Dispatches []*models.DispatchRecord `json:"dispatches"`
	Limit      int                      `json:"limit"`
	Offset     int                      `json:"offset"`
}

// DispatchSummaryResponse counts outcomes within a window
type DispatchSummaryResponse struct {
	Since  time.Time                      `json:"since"`
	Counts map[models.DispatchOutcome]int `json:"counts"`
}

// HandleList handles GET /api/v1/dispatches?limit=&offset=&provider=
func (h *DispatchHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, err := queryInt(q.Get("limit"), defaultPageLimit)
	if err == nil {
		err = utils.ValidateNumericRange(limit, "limit", 1, maxPageLimit)
	}
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}

	offset, err := queryInt(q.Get("offset"), 0)
	if err == nil && offset < 0 {
		err = errors.New("offset must be at least 0")
	}
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}

	var records []*models.DispatchRecord
	if provider := q.Get("provider"); provider != "" {
		records, err = h.repo.ListByProvider(r.Context(), provider, limit, offset)
	} else {
		records, err = h.repo.ListRecent(r.Context(), limit, offset)
	}
	if err != nil {
		HandleServiceError(w, services.WrapInternal("failed to list dispatches", err), h.logger)
		return
	}
	if records == nil {
		records = []*models.DispatchRecord{}
	}

	_ = utils.WriteOK(w, DispatchListResponse{Dispatches: records, Limit: limit, Offset: offset})
}

// HandleGet handles GET /api/v1/dispatches/{id}
func (h *DispatchHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")
	if err := utils.ValidateUUID(raw); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid dispatch ID", nil)
		return
	}

	rec, err := h.repo.GetByID(r.Context(), uuid.MustParse(raw))
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			HandleServiceError(w, services.NewDomainError(services.ErrorTypeNotFound, "dispatch not found", err), h.logger)
			return
		}
		HandleServiceError(w, services.WrapInternal("failed to load dispatch", err), h.logger)
		return
	}

	_ = utils.WriteOK(w, rec)
}

// HandleSummary handles GET /api/v1/dispatches/summary?window=24h
func (h *DispatchHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	window := defaultWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			_ = utils.WriteBadRequest(w, "window must be a positive duration", nil)
			return
		}
		window = d
	}

	since := h.now().Add(-window).UTC()
	counts, err := h.repo.CountByOutcome(r.Context(), since)
	if err != nil {
		HandleServiceError(w, services.WrapInternal("failed to count dispatches", err), h.logger)
		return
	}

	_ = utils.WriteOK(w, DispatchSummaryResponse{Since: since, Counts: counts})
}

func queryInt(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("query parameter must be an integer")
	}
	return v, nil
}
