package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// OpportunityLister lists persisted opportunities.
type OpportunityLister interface {
	ListRecent(ctx context.Context, limit int) ([]domain.OpportunityRecord, error)
}

// OpportunityHandler serves the opportunity history.
type OpportunityHandler struct {
	opps   OpportunityLister
	logger *slog.Logger
}

// NewOpportunityHandler creates an OpportunityHandler.
func NewOpportunityHandler(opps OpportunityLister, logger *slog.Logger) *OpportunityHandler {
	return &OpportunityHandler{opps: opps, logger: logger}
}

type listOpportunitiesResponse struct {
	Opportunities []domain.OpportunityRecord `json:"opportunities"`
}

// ListRecent returns the newest stored opportunities.
// GET /api/opportunities/recent?limit=20
func (h *OpportunityHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, 20)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	recs, err := h.opps.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list opportunities failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list opportunities")
		return
	}
	if recs == nil {
		recs = []domain.OpportunityRecord{}
	}
	writeJSON(w, http.StatusOK, listOpportunitiesResponse{Opportunities: recs})
}
