package handlers

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/demonfiddler/evidence-engine-sub000/application/mastercontext"
	"github.com/demonfiddler/evidence-engine-sub000/application/queries"
	"github.com/demonfiddler/evidence-engine-sub000/application/queries/bus"
	"github.com/demonfiddler/evidence-engine-sub000/application/services"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/entities"
	vo "github.com/demonfiddler/evidence-engine-sub000/domain/core/valueobjects"
	domainservices "github.com/demonfiddler/evidence-engine-sub000/domain/services"
	apperrors "github.com/demonfiddler/evidence-engine-sub000/pkg/errors"
)

// LinkQueryHandler answers read-side questions about links, audits and filters
type LinkQueryHandler struct {
	links    *services.LinkService
	records  *services.RecordService
	audits   *services.AuditService
	contexts *mastercontext.Store
	logger   *zap.Logger
}

// NewLinkQueryHandler creates a new link query handler
func NewLinkQueryHandler(
	links *services.LinkService,
	records *services.RecordService,
	audits *services.AuditService,
	contexts *mastercontext.Store,
	logger *zap.Logger,
) *LinkQueryHandler {
	return &LinkQueryHandler{
		links:    links,
		records:  records,
		audits:   audits,
		contexts: contexts,
		logger:   logger,
	}
}

// HandleRecordLinks resolves a record's links from its perspective
func (h *LinkQueryHandler) HandleRecordLinks(ctx context.Context, q queries.GetRecordLinksQuery) (interface{}, error) {
	record, err := h.records.GetRecord(ctx, q.RecordID)
	if err != nil {
		return nil, err
	}
	res, err := h.links.ReadLinksForRecord(ctx, record.Ref())
	if err != nil {
		return nil, err
	}

	links := res.Links
	if q.OtherKind != "" {
		kind, err := vo.ParseEntityKind(q.OtherKind)
		if err != nil {
			return nil, apperrors.NewValidationError(err.Error())
		}
		links = domainservices.FilterByOtherKind(links, kind)
	}
	if links == nil {
		links = []entities.RecordLink{}
	}
	return &queries.RecordLinksResult{
		Record:    record.Ref(),
		Label:     record.Label(),
		Links:     links,
		Anomalies: res.Anomalies,
	}, nil
}

// HandleEntityAudit audits a stored record
func (h *LinkQueryHandler) HandleEntityAudit(ctx context.Context, q queries.GetEntityAuditQuery) (interface{}, error) {
	return h.audits.ReadAudit(ctx, q.RecordID)
}

// HandleLinkDirection answers the registry for one pair
func (h *LinkQueryHandler) HandleLinkDirection(ctx context.Context, q queries.GetLinkDirectionQuery) (interface{}, error) {
	a, err := vo.ParseEntityKind(q.KindA)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}
	b, err := vo.ParseEntityKind(q.KindB)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}
	d, err := h.links.LinkDirection(a, b)
	if err != nil {
		return nil, err
	}
	prop, _ := h.links.Registry().FilterProperty(a, b)
	return &queries.LinkDirectionResult{Direction: d, FilterProperty: prop}, nil
}

// HandleListDirections returns every supported pair
func (h *LinkQueryHandler) HandleListDirections(ctx context.Context, _ queries.ListLinkDirectionsQuery) (interface{}, error) {
	return h.links.Registry().Pairs(), nil
}

// HandleMasterFilter derives a list filter from the session's master context
func (h *LinkQueryHandler) HandleMasterFilter(ctx context.Context, q queries.GetMasterFilterQuery) (interface{}, error) {
	kind, err := vo.ParseEntityKind(q.Kind)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}
	p := h.contexts.Session(q.SessionID)
	c := p.Context()
	return &queries.MasterFilterResult{
		Kind:    kind,
		Context: c,
		Filter:  mastercontext.DeriveMasterFilter(kind, c, h.links.Registry()),
	}, nil
}

// HandleListRecords lists one kind's records under a link filter
func (h *LinkQueryHandler) HandleListRecords(ctx context.Context, q queries.ListRecordsQuery) (interface{}, error) {
	kind, err := vo.ParseEntityKind(q.Kind)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}
	records, err := h.records.ListRecords(ctx, kind, q.Filter, q.Limit, q.Offset)
	if err != nil {
		return nil, err
	}
	out := make([]entities.RecordSnapshot, 0, len(records))
	for _, r := range records {
		out = append(out, r.Snapshot())
	}
	return &queries.ListRecordsResult{Kind: kind, Records: out, Count: len(out)}, nil
}

func typed[Q bus.Query](fn func(context.Context, Q) (interface{}, error)) bus.QueryHandler {
	return bus.QueryHandlerFunc(func(ctx context.Context, query bus.Query) (interface{}, error) {
		q, ok := query.(Q)
		if !ok {
			return nil, fmt.Errorf("unexpected query type %T", query)
		}
		return fn(ctx, q)
	})
}

// RegisterAll wires every query handler into b. Registry lookups go through
// cache when one is given.
func RegisterAll(b *bus.QueryBus, h *LinkQueryHandler, cache *bus.CachingMiddleware) error {
	direction := typed(h.HandleLinkDirection)
	directions := typed(h.HandleListDirections)
	if cache != nil {
		direction = cache.Wrap(direction)
		directions = cache.Wrap(directions)
	}

	registrations := []struct {
		query   bus.Query
		handler bus.QueryHandler
	}{
		{queries.GetRecordLinksQuery{}, typed(h.HandleRecordLinks)},
		{queries.GetEntityAuditQuery{}, typed(h.HandleEntityAudit)},
		{queries.GetLinkDirectionQuery{}, direction},
		{queries.ListLinkDirectionsQuery{}, directions},
		{queries.GetMasterFilterQuery{}, typed(h.HandleMasterFilter)},
		{queries.ListRecordsQuery{}, typed(h.HandleListRecords)},
	}
	for _, r := range registrations {
		if err := b.Register(r.query, r.handler); err != nil {
			return err
		}
	}
	return nil
}
