package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/demonfiddler/evidence-engine-sub000/application/queries"
	querybus "github.com/demonfiddler/evidence-engine-sub000/application/queries/bus"
	"github.com/demonfiddler/evidence-engine-sub000/pkg/common"
	apperrors "github.com/demonfiddler/evidence-engine-sub000/pkg/errors"
)

// DirectionHandler exposes the kind registry
type DirectionHandler struct {
	queryBus *querybus.QueryBus
	errs     *apperrors.ErrorHandler
	logger   *zap.Logger
}

// NewDirectionHandler creates a new direction handler
func NewDirectionHandler(queryBus *querybus.QueryBus, errs *apperrors.ErrorHandler, logger *zap.Logger) *DirectionHandler {
	return &DirectionHandler{queryBus: queryBus, errs: errs, logger: logger}
}

// ListDirections handles GET /directions
func (h *DirectionHandler) ListDirections(w http.ResponseWriter, r *http.Request) {
	result, err := h.queryBus.Ask(r.Context(), queries.ListLinkDirectionsQuery{})
	if err != nil {
		h.errs.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, result)
}

// GetDirection handles GET /directions/{kindA}/{kindB}
func (h *DirectionHandler) GetDirection(w http.ResponseWriter, r *http.Request) {
	q := queries.GetLinkDirectionQuery{
		KindA: chi.URLParam(r, "kindA"),
		KindB: chi.URLParam(r, "kindB"),
	}
	result, err := h.queryBus.Ask(r.Context(), q)
	if err != nil {
		h.errs.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, result)
}
