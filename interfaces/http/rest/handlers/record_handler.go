package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/demonfiddler/evidence-engine-sub000/application/commands"
	"github.com/demonfiddler/evidence-engine-sub000/application/commands/bus"
	"github.com/demonfiddler/evidence-engine-sub000/application/queries"
	querybus "github.com/demonfiddler/evidence-engine-sub000/application/queries/bus"
	"github.com/demonfiddler/evidence-engine-sub000/application/services"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/entities"
	vo "github.com/demonfiddler/evidence-engine-sub000/domain/core/valueobjects"
	"github.com/demonfiddler/evidence-engine-sub000/pkg/auth"
	"github.com/demonfiddler/evidence-engine-sub000/pkg/common"
	apperrors "github.com/demonfiddler/evidence-engine-sub000/pkg/errors"
)

// RecordHandler handles tracked records, their status and their audits
type RecordHandler struct {
	commandBus *bus.CommandBus
	queryBus   *querybus.QueryBus
	audits     *services.AuditService
	errs       *apperrors.ErrorHandler
	logger     *zap.Logger
}

// NewRecordHandler creates a new record handler
func NewRecordHandler(
	commandBus *bus.CommandBus,
	queryBus *querybus.QueryBus,
	audits *services.AuditService,
	errs *apperrors.ErrorHandler,
	logger *zap.Logger,
) *RecordHandler {
	return &RecordHandler{
		commandBus: commandBus,
		queryBus:   queryBus,
		audits:     audits,
		errs:       errs,
		logger:     logger,
	}
}

// SaveRecordRequest is the body of PUT /records/{recordID}
type SaveRecordRequest struct {
	Kind   string                 `json:"kind"`
	Label  string                 `json:"label"`
	Fields map[string]interface{} `json:"fields"`
}

// SaveRecord handles PUT /records/{recordID}
func (h *RecordHandler) SaveRecord(w http.ResponseWriter, r *http.Request) {
	var req SaveRecordRequest
	if err := common.ParseJSONBody(w, r, &req, maxBodyBytes); err != nil {
		h.errs.Handle(w, r, err)
		return
	}
	cmd := commands.SaveRecordCommand{
		Kind:   req.Kind,
		ID:     chi.URLParam(r, "recordID"),
		Label:  req.Label,
		Fields: req.Fields,
		UserID: common.UserID(r),
	}
	record, err := h.commandBus.Send(r.Context(), cmd)
	if err != nil {
		h.errs.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, snapshotOf(record))
}

// SetStatusRequest is the body of PUT /records/{recordID}/status
type SetStatusRequest struct {
	Status string `json:"status"`
}

// SetStatus handles PUT /records/{recordID}/status. Deleting needs DEL,
// any other move needs UPD.
func (h *RecordHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req SetStatusRequest
	if err := common.ParseJSONBody(w, r, &req, maxBodyBytes); err != nil {
		h.errs.Handle(w, r, err)
		return
	}

	required := auth.AuthorityUpdate
	if status, err := vo.ParseStatusKind(req.Status); err == nil && status.IsDeleted() {
		required = auth.AuthorityDelete
	}
	if !(auth.ContextAuthorizer{}).HasAuthority(r.Context(), required) {
		h.errs.Handle(w, r, apperrors.NotAuthorized(required))
		return
	}

	cmd := commands.SetEntityStatusCommand{
		ID:     chi.URLParam(r, "recordID"),
		Status: req.Status,
		UserID: common.UserID(r),
	}
	record, err := h.commandBus.Send(r.Context(), cmd)
	if err != nil {
		h.errs.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, snapshotOf(record))
}

// ListRecords handles GET /records?kind=CLA. The link filter comes from the
// query string, or from the caller's master context when master=true.
func (h *RecordHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	page, err := common.ExtractPaginationParams(r)
	if err != nil {
		h.errs.Handle(w, r, err)
		return
	}
	params := r.URL.Query()
	kind := params.Get("kind")

	filter, err := filterFromQuery(params.Get)
	if err != nil {
		h.errs.Handle(w, r, err)
		return
	}
	if master, _ := strconv.ParseBool(params.Get("master")); master {
		res, err := h.queryBus.Ask(r.Context(), queries.GetMasterFilterQuery{SessionID: common.SessionID(r), Kind: kind})
		if err != nil {
			h.errs.Handle(w, r, err)
			return
		}
		derived := res.(*queries.MasterFilterResult).Filter
		derived.Status = filter.Status
		derived.Text = filter.Text
		filter = derived
	}

	result, err := h.queryBus.Ask(r.Context(), queries.ListRecordsQuery{
		Kind:   kind,
		Filter: filter,
		Limit:  page.Limit,
		Offset: page.Offset,
	})
	if err != nil {
		h.errs.Handle(w, r, err)
		return
	}
	meta := common.NewMeta(r)
	meta.Pagination = common.BuildPaginationMeta(page, result.(*queries.ListRecordsResult).Count)
	common.RespondWithMeta(w, http.StatusOK, result, meta)
}

// GetAudit handles GET /records/{recordID}/audit
func (h *RecordHandler) GetAudit(w http.ResponseWriter, r *http.Request) {
	result, err := h.queryBus.Ask(r.Context(), queries.GetEntityAuditQuery{RecordID: chi.URLParam(r, "recordID")})
	if err != nil {
		h.errs.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, result)
}

// ComputeAuditRequest carries unsaved record state to audit
type ComputeAuditRequest struct {
	Kind   string                 `json:"kind"`
	Fields map[string]interface{} `json:"fields"`
	Links  []entities.RecordLink  `json:"links"`
}

// ComputeAudit handles POST /audit, auditing caller-supplied fields and links
func (h *RecordHandler) ComputeAudit(w http.ResponseWriter, r *http.Request) {
	var req ComputeAuditRequest
	if err := common.ParseJSONBody(w, r, &req, maxBodyBytes); err != nil {
		h.errs.Handle(w, r, err)
		return
	}
	kind, err := vo.ParseEntityKind(req.Kind)
	if err != nil {
		h.errs.Handle(w, r, apperrors.NewValidationError(err.Error()))
		return
	}
	common.RespondJSON(w, http.StatusOK, h.audits.ComputeAudit(kind, req.Fields, req.Links))
}

func filterFromQuery(get func(string) string) (entities.LinkableEntityQueryFilter, error) {
	filter := entities.LinkableEntityQueryFilter{
		TopicID:      get("topicId"),
		FromEntityID: get("fromEntityId"),
		ToEntityID:   get("toEntityId"),
		Text:         get("text"),
	}
	if v := get("recursive"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return filter, apperrors.NewValidationError("recursive must be a boolean")
		}
		filter.Recursive = b
	}
	for _, p := range []struct {
		param string
		dst   *vo.EntityKind
	}{
		{"fromEntityKind", &filter.FromEntityKind},
		{"toEntityKind", &filter.ToEntityKind},
	} {
		if v := get(p.param); v != "" {
			k, err := vo.ParseEntityKind(v)
			if err != nil {
				return filter, apperrors.NewValidationError(err.Error())
			}
			*p.dst = k
		}
	}
	if v := get("status"); v != "" {
		for _, s := range strings.Split(v, ",") {
			status, err := vo.ParseStatusKind(s)
			if err != nil {
				return filter, apperrors.NewValidationError(err.Error())
			}
			filter.Status = append(filter.Status, status)
		}
	}
	return filter, nil
}

func snapshotOf(v interface{}) interface{} {
	if record, ok := v.(*entities.TrackedRecord); ok && record != nil {
		return record.Snapshot()
	}
	return v
}
