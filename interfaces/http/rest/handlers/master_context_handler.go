package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/demonfiddler/evidence-engine-sub000/application/mastercontext"
	"github.com/demonfiddler/evidence-engine-sub000/application/queries"
	querybus "github.com/demonfiddler/evidence-engine-sub000/application/queries/bus"
	vo "github.com/demonfiddler/evidence-engine-sub000/domain/core/valueobjects"
	"github.com/demonfiddler/evidence-engine-sub000/pkg/common"
	apperrors "github.com/demonfiddler/evidence-engine-sub000/pkg/errors"
)

// MasterContextHandler reads and changes the caller's master context. The
// session comes from the X-Session-ID header.
type MasterContextHandler struct {
	store    *mastercontext.Store
	queryBus *querybus.QueryBus
	errs     *apperrors.ErrorHandler
	logger   *zap.Logger
}

// NewMasterContextHandler creates a new master context handler
func NewMasterContextHandler(store *mastercontext.Store, queryBus *querybus.QueryBus, errs *apperrors.ErrorHandler, logger *zap.Logger) *MasterContextHandler {
	return &MasterContextHandler{store: store, queryBus: queryBus, errs: errs, logger: logger}
}

func (h *MasterContextHandler) session(w http.ResponseWriter, r *http.Request) (*mastercontext.Propagator, bool) {
	id := common.SessionID(r)
	if id == "" {
		h.errs.Handle(w, r, apperrors.NewValidationError("a session is required"))
		return nil, false
	}
	return h.store.Session(id), true
}

// GetContext handles GET /master-context
func (h *MasterContextHandler) GetContext(w http.ResponseWriter, r *http.Request) {
	p, ok := h.session(w, r)
	if !ok {
		return
	}
	common.RespondJSON(w, http.StatusOK, p.Snapshot())
}

// PutContext handles PUT /master-context, replacing the whole context
func (h *MasterContextHandler) PutContext(w http.ResponseWriter, r *http.Request) {
	var next mastercontext.MasterContext
	if err := common.ParseJSONBody(w, r, &next, maxBodyBytes); err != nil {
		h.errs.Handle(w, r, err)
		return
	}
	if next.MasterRecordID != "" && !next.MasterRecordKind.IsLinkable() {
		h.errs.Handle(w, r, apperrors.NewValidationError("masterRecordKind must be a linkable kind"))
		return
	}
	if next.MasterRecordID == "" {
		next.MasterRecordKind = ""
		next.MasterRecordLabel = ""
	}

	p, ok := h.session(w, r)
	if !ok {
		return
	}
	p.Replace(r.Context(), next)
	common.RespondJSON(w, http.StatusOK, p.Snapshot())
}

// ClearContext handles DELETE /master-context
func (h *MasterContextHandler) ClearContext(w http.ResponseWriter, r *http.Request) {
	p, ok := h.session(w, r)
	if !ok {
		return
	}
	p.Clear(r.Context())
	common.RespondJSON(w, http.StatusOK, p.Snapshot())
}

// VisibleKindsRequest lists the record lists on screen
type VisibleKindsRequest struct {
	Kinds []string `json:"kinds"`
}

// PutVisibleKinds handles PUT /master-context/visible-kinds
func (h *MasterContextHandler) PutVisibleKinds(w http.ResponseWriter, r *http.Request) {
	var req VisibleKindsRequest
	if err := common.ParseJSONBody(w, r, &req, maxBodyBytes); err != nil {
		h.errs.Handle(w, r, err)
		return
	}
	kinds := make([]vo.EntityKind, 0, len(req.Kinds))
	for _, s := range req.Kinds {
		k, err := vo.ParseEntityKind(s)
		if err != nil {
			h.errs.Handle(w, r, apperrors.NewValidationError(err.Error()))
			return
		}
		kinds = append(kinds, k)
	}

	p, ok := h.session(w, r)
	if !ok {
		return
	}
	common.RespondJSON(w, http.StatusOK, p.SetVisibleKinds(r.Context(), kinds))
}

// GetFilter handles GET /master-context/filter?kind=CLA
func (h *MasterContextHandler) GetFilter(w http.ResponseWriter, r *http.Request) {
	result, err := h.queryBus.Ask(r.Context(), queries.GetMasterFilterQuery{
		SessionID: common.SessionID(r),
		Kind:      r.URL.Query().Get("kind"),
	})
	if err != nil {
		h.errs.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, result)
}
