package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/demonfiddler/evidence-engine-sub000/application/commands"
	"github.com/demonfiddler/evidence-engine-sub000/application/commands/bus"
	"github.com/demonfiddler/evidence-engine-sub000/application/queries"
	querybus "github.com/demonfiddler/evidence-engine-sub000/application/queries/bus"
	"github.com/demonfiddler/evidence-engine-sub000/pkg/common"
	apperrors "github.com/demonfiddler/evidence-engine-sub000/pkg/errors"
)

const maxBodyBytes = 1 << 20

// LinkHandler handles link-related HTTP requests
type LinkHandler struct {
	commandBus *bus.CommandBus
	queryBus   *querybus.QueryBus
	errs       *apperrors.ErrorHandler
	logger     *zap.Logger
}

// NewLinkHandler creates a new link handler
func NewLinkHandler(commandBus *bus.CommandBus, queryBus *querybus.QueryBus, errs *apperrors.ErrorHandler, logger *zap.Logger) *LinkHandler {
	return &LinkHandler{
		commandBus: commandBus,
		queryBus:   queryBus,
		errs:       errs,
		logger:     logger,
	}
}

// CreateLink handles POST /links
func (h *LinkHandler) CreateLink(w http.ResponseWriter, r *http.Request) {
	var cmd commands.CreateLinkCommand
	if err := common.ParseJSONBody(w, r, &cmd, maxBodyBytes); err != nil {
		h.errs.Handle(w, r, err)
		return
	}
	cmd.UserID = common.UserID(r)

	link, err := h.commandBus.Send(r.Context(), cmd)
	if err != nil {
		h.errs.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusCreated, link)
}

// UpdateLink handles PUT /links/{linkID}
func (h *LinkHandler) UpdateLink(w http.ResponseWriter, r *http.Request) {
	var cmd commands.UpdateLinkCommand
	if err := common.ParseJSONBody(w, r, &cmd, maxBodyBytes); err != nil {
		h.errs.Handle(w, r, err)
		return
	}
	id := chi.URLParam(r, "linkID")
	if cmd.ID != "" && cmd.ID != id {
		h.errs.Handle(w, r, apperrors.NewValidationError("link id in body does not match the path"))
		return
	}
	cmd.ID = id
	cmd.UserID = common.UserID(r)

	link, err := h.commandBus.Send(r.Context(), cmd)
	if err != nil {
		h.errs.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, link)
}

// DeleteLink handles DELETE /links/{linkID}
func (h *LinkHandler) DeleteLink(w http.ResponseWriter, r *http.Request) {
	cmd := commands.DeleteLinkCommand{
		ID:     chi.URLParam(r, "linkID"),
		UserID: common.UserID(r),
	}
	if _, err := h.commandBus.Send(r.Context(), cmd); err != nil {
		h.errs.Handle(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetRecordLinks handles GET /records/{recordID}/links
func (h *LinkHandler) GetRecordLinks(w http.ResponseWriter, r *http.Request) {
	q := queries.GetRecordLinksQuery{
		RecordID:  chi.URLParam(r, "recordID"),
		OtherKind: r.URL.Query().Get("otherKind"),
	}
	result, err := h.queryBus.Ask(r.Context(), q)
	if err != nil {
		h.errs.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, result)
}
