package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/demonfiddler/evidence-engine-sub000/application/linkmanager"
	vo "github.com/demonfiddler/evidence-engine-sub000/domain/core/valueobjects"
	"github.com/demonfiddler/evidence-engine-sub000/pkg/common"
	apperrors "github.com/demonfiddler/evidence-engine-sub000/pkg/errors"
)

// SessionHandler drives link-manager sessions over HTTP
type SessionHandler struct {
	manager *linkmanager.Manager
	errs    *apperrors.ErrorHandler
	logger  *zap.Logger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(manager *linkmanager.Manager, errs *apperrors.ErrorHandler, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{manager: manager, errs: errs, logger: logger}
}

// OpenSessionRequest names the record a session manages
type OpenSessionRequest struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// OpenSession handles POST /link-sessions
func (h *SessionHandler) OpenSession(w http.ResponseWriter, r *http.Request) {
	var req OpenSessionRequest
	if err := common.ParseJSONBody(w, r, &req, maxBodyBytes); err != nil {
		h.errs.Handle(w, r, err)
		return
	}
	kind, err := vo.ParseEntityKind(req.Kind)
	if err != nil {
		h.errs.Handle(w, r, apperrors.NewValidationError(err.Error()))
		return
	}

	s, err := h.manager.Open(r.Context(), vo.RecordRef{Kind: kind, ID: req.ID}, common.UserID(r))
	if err != nil {
		h.errs.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusCreated, s.View())
}

// GetSession handles GET /link-sessions/{sessionID}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.manager.Get(chi.URLParam(r, "sessionID"), common.UserID(r))
	if err != nil {
		h.errs.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, s.View())
}

// ApplyAction handles POST /link-sessions/{sessionID}/{action}. The body is
// optional; a transition that needs confirmation answers 409 with its prompt.
func (h *SessionHandler) ApplyAction(w http.ResponseWriter, r *http.Request) {
	var req linkmanager.Request
	if r.ContentLength != 0 {
		if err := common.ParseJSONBody(w, r, &req, maxBodyBytes); err != nil {
			h.errs.Handle(w, r, err)
			return
		}
	}

	sessionID := chi.URLParam(r, "sessionID")
	action := chi.URLParam(r, "action")
	view, err := h.manager.Apply(r.Context(), sessionID, common.UserID(r), action, req)
	if err != nil {
		h.errs.Handle(w, r, err)
		return
	}
	h.logger.Debug("Link session transition",
		zap.String("sessionID", sessionID),
		zap.String("action", action),
		zap.String("state", string(view.State)),
	)
	common.RespondJSON(w, http.StatusOK, view)
}

// CloseSession handles DELETE /link-sessions/{sessionID}
func (h *SessionHandler) CloseSession(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Close(chi.URLParam(r, "sessionID"), common.UserID(r)); err != nil {
		h.errs.Handle(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
