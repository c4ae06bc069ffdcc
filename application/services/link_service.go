package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/demonfiddler/evidence-engine-sub000/application/ports"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/entities"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/registry"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/validators"
	vo "github.com/demonfiddler/evidence-engine-sub000/domain/core/valueobjects"
	"github.com/demonfiddler/evidence-engine-sub000/domain/events"
	domainservices "github.com/demonfiddler/evidence-engine-sub000/domain/services"
	pkgerrors "github.com/demonfiddler/evidence-engine-sub000/pkg/errors"
)

// Link mutation operations, as reported to metrics
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// LinkService validates link mutations, forwards them to the LinkStore and
// publishes the resulting domain events. Reads are resolved to the
// perspective of the queried record.
type LinkService struct {
	store     ports.LinkStore
	records   ports.RecordRepository
	registry  *registry.Registry
	validator *validators.LinkValidator
	resolver  *domainservices.LinkResolver
	publisher ports.EventPublisher
	metrics   ports.MetricsRecorder
	logger    *zap.Logger
}

// NewLinkService creates a new link service
func NewLinkService(
	store ports.LinkStore,
	records ports.RecordRepository,
	reg *registry.Registry,
	validator *validators.LinkValidator,
	publisher ports.EventPublisher,
	metrics ports.MetricsRecorder,
	logger *zap.Logger,
) *LinkService {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &LinkService{
		store:     store,
		records:   records,
		registry:  reg,
		validator: validator,
		resolver:  domainservices.NewLinkResolver(),
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
	}
}

// Registry exposes the kind registry the service validates against
func (s *LinkService) Registry() *registry.Registry {
	return s.registry
}

// LinkDirection answers the storage orientation for a kind pair
func (s *LinkService) LinkDirection(a, b vo.EntityKind) (registry.Direction, error) {
	return s.registry.LinkDirection(a, b)
}

// CreateLink stores a link whose endpoints are already oriented.
func (s *LinkService) CreateLink(ctx context.Context, in entities.LinkInput, userID string) (*entities.EntityLink, error) {
	in.ID = ""
	if err := s.validator.ValidateInput(in); err != nil {
		s.metrics.LinkMutation(OpCreate, "rejected")
		return nil, err
	}

	link, err := s.store.CreateLink(ctx, in, userID)
	if err != nil {
		s.metrics.LinkMutation(OpCreate, outcomeOf(err))
		return nil, fmt.Errorf("failed to create link: %w", err)
	}
	s.metrics.LinkMutation(OpCreate, "success")

	s.logger.Info("Link created",
		zap.String("linkID", link.ID),
		zap.String("from", link.From().String()),
		zap.String("to", link.To().String()),
		zap.String("userID", userID),
	)
	s.publish(ctx, events.NewLinkCreated(link.ID, link.Endpoints(), userID, time.Now()))
	return link, nil
}

// CreateLinkBetween orients this/other through the registry and creates the link.
func (s *LinkService) CreateLinkBetween(ctx context.Context, this, other vo.RecordRef, thisLocations, otherLocations, userID string) (*entities.EntityLink, error) {
	in, err := s.registry.Orient(this, other, thisLocations, otherLocations)
	if err != nil {
		s.metrics.LinkMutation(OpCreate, "rejected")
		return nil, err
	}
	return s.CreateLink(ctx, in, userID)
}

// UpdateLink rewrites link in.ID. The orientation in in is kept as given.
func (s *LinkService) UpdateLink(ctx context.Context, in entities.LinkInput, userID string) (*entities.EntityLink, error) {
	if in.ID == "" {
		return nil, pkgerrors.NewValidationError("link id is required for update")
	}
	if err := s.validator.ValidateInput(in); err != nil {
		s.metrics.LinkMutation(OpUpdate, "rejected")
		return nil, err
	}

	before, err := s.store.GetLink(ctx, in.ID)
	if err != nil {
		s.metrics.LinkMutation(OpUpdate, outcomeOf(err))
		return nil, fmt.Errorf("failed to load link: %w", err)
	}

	link, err := s.store.UpdateLink(ctx, in, userID)
	if err != nil {
		s.metrics.LinkMutation(OpUpdate, outcomeOf(err))
		return nil, fmt.Errorf("failed to update link: %w", err)
	}
	s.metrics.LinkMutation(OpUpdate, "success")

	s.logger.Info("Link updated",
		zap.String("linkID", link.ID),
		zap.String("from", link.From().String()),
		zap.String("to", link.To().String()),
		zap.String("userID", userID),
	)
	s.publish(ctx, events.NewLinkUpdated(link.ID, before.Endpoints(), link.Endpoints(), userID, time.Now()))
	return link, nil
}

// DeleteLink marks a link Deleted. Deleting an already deleted link is a no-op.
func (s *LinkService) DeleteLink(ctx context.Context, id, userID string) error {
	existing, err := s.store.GetLink(ctx, id)
	if err != nil {
		s.metrics.LinkMutation(OpDelete, outcomeOf(err))
		return fmt.Errorf("failed to load link: %w", err)
	}
	if existing.IsDeleted() {
		return nil
	}

	if err := s.store.DeleteLink(ctx, id, userID); err != nil {
		s.metrics.LinkMutation(OpDelete, outcomeOf(err))
		return fmt.Errorf("failed to delete link: %w", err)
	}
	s.metrics.LinkMutation(OpDelete, "success")

	s.logger.Info("Link deleted", zap.String("linkID", id), zap.String("userID", userID))
	s.publish(ctx, events.NewLinkDeleted(id, existing.Endpoints(), userID, time.Now()))
	return nil
}

// GetLink retrieves a raw link
func (s *LinkService) GetLink(ctx context.Context, id string) (*entities.EntityLink, error) {
	return s.store.GetLink(ctx, id)
}

// ReadLinksForRecord reads the record's links and resolves them to its
// perspective. Anomalous links are logged and dropped.
func (s *LinkService) ReadLinksForRecord(ctx context.Context, ref vo.RecordRef) (domainservices.Resolution, error) {
	raw, err := s.store.ReadLinksForRecord(ctx, ref)
	if err != nil {
		return domainservices.Resolution{}, fmt.Errorf("failed to read links for %s: %w", ref, err)
	}

	res := s.resolver.ResolveLinks(ref, raw, s.labelsFor(ctx, ref, raw))
	for _, a := range res.Anomalies {
		s.metrics.LinkAnomaly(a.Reason)
		s.logger.Warn("Excluded anomalous link",
			zap.String("linkID", a.LinkID),
			zap.String("recordID", ref.ID),
			zap.String("kind", ref.Kind.String()),
			zap.String("reason", a.Reason),
		)
	}
	return res, nil
}

// ResolveOne renormalises a single stored link to ref's perspective.
func (s *LinkService) ResolveOne(ref vo.RecordRef, link *entities.EntityLink) (entities.RecordLink, bool) {
	return s.resolver.ResolveOne(ref, link)
}

func (s *LinkService) labelsFor(ctx context.Context, ref vo.RecordRef, raw entities.RecordLinks) domainservices.LabelFunc {
	if s.records == nil || raw.Len() == 0 {
		return nil
	}
	ids := make([]string, 0, raw.Len())
	collect := func(links []*entities.EntityLink) {
		for _, l := range links {
			if l == nil {
				continue
			}
			if l.FromEntityID != ref.ID {
				ids = append(ids, l.FromEntityID)
			}
			if l.ToEntityID != ref.ID {
				ids = append(ids, l.ToEntityID)
			}
		}
	}
	collect(raw.FromEntityLinks)
	collect(raw.ToEntityLinks)

	labels, err := s.records.Labels(ctx, ids)
	if err != nil {
		s.logger.Warn("Failed to load record labels", zap.Error(err), zap.String("recordID", ref.ID))
		return nil
	}
	return func(other vo.RecordRef) string {
		return labels[other.ID]
	}
}

func (s *LinkService) publish(ctx context.Context, event events.DomainEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish event",
			zap.Error(err),
			zap.String("eventType", event.GetEventType()),
			zap.String("aggregateID", event.GetAggregateID()),
		)
	}
}

func outcomeOf(err error) string {
	switch {
	case pkgerrors.IsConflict(err):
		return "conflict"
	case pkgerrors.IsNotFound(err):
		return "not_found"
	case pkgerrors.IsValidation(err):
		return "rejected"
	}
	return "error"
}

type noopMetrics struct{}

func (noopMetrics) LinkMutation(string, string) {}
func (noopMetrics) AuditComputed(string, bool)  {}
func (noopMetrics) LinkAnomaly(string)          {}
