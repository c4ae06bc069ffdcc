package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/demonfiddler/evidence-engine-sub000/application/ports"
	"github.com/demonfiddler/evidence-engine-sub000/domain/config"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/entities"
	vo "github.com/demonfiddler/evidence-engine-sub000/domain/core/valueobjects"
	pkgerrors "github.com/demonfiddler/evidence-engine-sub000/pkg/errors"
)

// RecordService manages tracked records: field updates, status changes gated
// by the publish policy, and link-filtered listing.
type RecordService struct {
	records   ports.RecordRepository
	links     *LinkService
	audits    *AuditService
	publisher ports.EventPublisher
	config    *config.DomainConfig
	logger    *zap.Logger
}

// NewRecordService creates a new record service
func NewRecordService(
	records ports.RecordRepository,
	links *LinkService,
	audits *AuditService,
	publisher ports.EventPublisher,
	cfg *config.DomainConfig,
	logger *zap.Logger,
) *RecordService {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	return &RecordService{
		records:   records,
		links:     links,
		audits:    audits,
		publisher: publisher,
		config:    cfg,
		logger:    logger,
	}
}

// GetRecord retrieves a record by id
func (s *RecordService) GetRecord(ctx context.Context, id string) (*entities.TrackedRecord, error) {
	return s.records.GetByID(ctx, id)
}

// SaveRecord creates a Draft record or replaces the fields of an existing one.
func (s *RecordService) SaveRecord(ctx context.Context, ref vo.RecordRef, label string, fields map[string]interface{}, userID string) (*entities.TrackedRecord, error) {
	existing, err := s.records.GetByID(ctx, ref.ID)
	switch {
	case err == nil:
		if existing.Kind() != ref.Kind {
			return nil, pkgerrors.NewConflictError(fmt.Sprintf("record %s already exists with kind %s", ref.ID, existing.Kind()))
		}
		existing.SetFields(label, fields, userID)
		if err := s.records.Save(ctx, existing); err != nil {
			return nil, fmt.Errorf("failed to save record: %w", err)
		}
		return existing, nil
	case pkgerrors.IsNotFound(err):
		record, err := entities.NewTrackedRecord(ref, label, fields, userID)
		if err != nil {
			return nil, err
		}
		if err := s.records.Save(ctx, record); err != nil {
			return nil, fmt.Errorf("failed to save record: %w", err)
		}
		s.logger.Info("Record created", zap.String("recordID", ref.ID), zap.String("kind", ref.Kind.String()))
		return record, nil
	default:
		return nil, fmt.Errorf("failed to load record: %w", err)
	}
}

// SetEntityStatus changes a record's status. Moving to Published requires a
// passing audit; a Published record is never unpublished because of its audit.
func (s *RecordService) SetEntityStatus(ctx context.Context, id string, status vo.StatusKind, userID string) (*entities.TrackedRecord, error) {
	record, err := s.records.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load record: %w", err)
	}
	if record.Status() == status {
		return record, nil
	}

	if status == vo.StatusPublished && s.config.BlockPublishOnAudit {
		ra, err := s.audits.AuditRecord(ctx, record)
		if err != nil {
			return nil, err
		}
		if !ra.Publish.CanPublish && record.Status().CanTransitionTo(vo.StatusPublished) {
			return nil, pkgerrors.AuditFailed(id, ra.Publish.Reason)
		}
	}

	if err := record.ChangeStatus(status, userID); err != nil {
		return nil, err
	}
	if err := s.records.Save(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to save record: %w", err)
	}

	if s.publisher != nil {
		if err := s.publisher.PublishBatch(ctx, record.GetUncommittedEvents()); err != nil {
			s.logger.Warn("Failed to publish status events", zap.Error(err), zap.String("recordID", id))
		}
	}
	record.MarkEventsAsCommitted()

	s.logger.Info("Record status changed",
		zap.String("recordID", id),
		zap.String("status", status.String()),
		zap.String("userID", userID),
	)
	return record, nil
}

// ListRecords lists records of kind, restricted by the link constraints in filter.
func (s *RecordService) ListRecords(ctx context.Context, kind vo.EntityKind, filter entities.LinkableEntityQueryFilter, limit, offset int) ([]*entities.TrackedRecord, error) {
	if limit <= 0 {
		limit = s.config.DefaultPageSize
	}
	criteria := ports.RecordCriteria{
		Kind:     kind,
		Statuses: filter.Status,
		Text:     filter.Text,
		Limit:    limit,
		Offset:   offset,
	}

	if !filter.IsEmpty() {
		ids, err := s.linkedIDs(ctx, kind, filter)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return []*entities.TrackedRecord{}, nil
		}
		criteria.IDs = ids
	}
	return s.records.List(ctx, criteria)
}

// linkedIDs intersects the id sets selected by each link constraint.
func (s *RecordService) linkedIDs(ctx context.Context, kind vo.EntityKind, filter entities.LinkableEntityQueryFilter) ([]string, error) {
	var sets []map[string]struct{}

	if filter.TopicID != "" {
		set, err := s.topicMembers(ctx, kind, filter.TopicID, filter.Recursive)
		if err != nil {
			return nil, err
		}
		sets = append(sets, set)
	}
	if filter.FromEntityID != "" {
		set, err := s.linkedTo(ctx, kind, filter.FromEntityKind, filter.FromEntityID, false)
		if err != nil {
			return nil, err
		}
		sets = append(sets, set)
	}
	if filter.ToEntityID != "" {
		set, err := s.linkedTo(ctx, kind, filter.ToEntityKind, filter.ToEntityID, true)
		if err != nil {
			return nil, err
		}
		sets = append(sets, set)
	}

	result := sets[0]
	for _, set := range sets[1:] {
		for id := range result {
			if _, ok := set[id]; !ok {
				delete(result, id)
			}
		}
	}

	ids := make([]string, 0, len(result))
	for id := range result {
		ids = append(ids, id)
	}
	return ids, nil
}

// linkedTo collects ids of kind records linked with master. masterIsTo selects
// links where master sits in the to slot.
func (s *RecordService) linkedTo(ctx context.Context, kind, masterKind vo.EntityKind, masterID string, masterIsTo bool) (map[string]struct{}, error) {
	if masterKind == "" {
		master, err := s.records.GetByID(ctx, masterID)
		if err != nil {
			return nil, fmt.Errorf("failed to load master record: %w", err)
		}
		masterKind = master.Kind()
	}
	res, err := s.links.ReadLinksForRecord(ctx, vo.RecordRef{Kind: masterKind, ID: masterID})
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{})
	for _, l := range res.Links {
		if l.IsDeleted() || l.OtherRecordKind != kind || l.ThisRecordIsToEntity != masterIsTo {
			continue
		}
		set[l.OtherRecordID] = struct{}{}
	}
	return set, nil
}

// topicMembers returns ids of kind records linked to the topic, or to any
// subtopic when recursive. For the Topic list itself it returns the subtree.
func (s *RecordService) topicMembers(ctx context.Context, kind vo.EntityKind, topicID string, recursive bool) (map[string]struct{}, error) {
	topics := []string{topicID}
	if recursive {
		sub, err := s.subtopics(ctx, topicID)
		if err != nil {
			return nil, err
		}
		topics = append(topics, sub...)
	}

	set := make(map[string]struct{})
	if kind == vo.KindTopic {
		for _, t := range topics {
			set[t] = struct{}{}
		}
		return set, nil
	}
	for _, t := range topics {
		res, err := s.links.ReadLinksForRecord(ctx, vo.RecordRef{Kind: vo.KindTopic, ID: t})
		if err != nil {
			return nil, err
		}
		for _, l := range res.Links {
			if !l.IsDeleted() && l.OtherRecordKind == kind {
				set[l.OtherRecordID] = struct{}{}
			}
		}
	}
	return set, nil
}

// subtopics walks the parentId field of topics breadth-first.
func (s *RecordService) subtopics(ctx context.Context, rootID string) ([]string, error) {
	all, err := s.records.List(ctx, ports.RecordCriteria{Kind: vo.KindTopic})
	if err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}
	children := make(map[string][]string)
	for _, t := range all {
		if parent, ok := t.Field("parentId"); ok {
			p := fmt.Sprint(parent)
			children[p] = append(children[p], t.ID())
		}
	}

	var out []string
	visited := map[string]bool{rootID: true}
	queue := []string{rootID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, c := range children[id] {
			if visited[c] {
				continue
			}
			visited[c] = true
			out = append(out, c)
			queue = append(queue, c)
		}
	}
	return out, nil
}
