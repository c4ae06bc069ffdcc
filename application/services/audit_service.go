package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/demonfiddler/evidence-engine-sub000/application/ports"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/audit"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/entities"
	vo "github.com/demonfiddler/evidence-engine-sub000/domain/core/valueobjects"
)

// RecordAudit is the server-side audit of a stored record
type RecordAudit struct {
	Record  vo.RecordRef         `json:"record"`
	Label   string               `json:"label"`
	Status  vo.StatusKind        `json:"status"`
	Audit   audit.EntityAudit    `json:"audit"`
	Publish audit.PublishVerdict `json:"publish"`
}

// AuditService computes audits against the configured rule catalog
type AuditService struct {
	records ports.RecordRepository
	links   *LinkService
	catalog *audit.Catalog
	metrics ports.MetricsRecorder
	logger  *zap.Logger
}

// NewAuditService creates a new audit service
func NewAuditService(
	records ports.RecordRepository,
	links *LinkService,
	catalog *audit.Catalog,
	metrics ports.MetricsRecorder,
	logger *zap.Logger,
) *AuditService {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &AuditService{
		records: records,
		links:   links,
		catalog: catalog,
		metrics: metrics,
		logger:  logger,
	}
}

// Catalog returns the live rule catalog
func (s *AuditService) Catalog() *audit.Catalog {
	return s.catalog
}

// ComputeAudit evaluates the rules of kind over caller-supplied inputs.
func (s *AuditService) ComputeAudit(kind vo.EntityKind, fields map[string]interface{}, links []entities.RecordLink) audit.EntityAudit {
	a := audit.Compute(s.catalog.For(kind), fields, links)
	s.metrics.AuditComputed(kind.String(), a.Pass)
	return a
}

// ReadAudit loads a record and its links and returns the live audit with
// the publish verdict.
func (s *AuditService) ReadAudit(ctx context.Context, id string) (*RecordAudit, error) {
	record, err := s.records.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load record: %w", err)
	}
	return s.AuditRecord(ctx, record)
}

// AuditRecord audits an already loaded record
func (s *AuditService) AuditRecord(ctx context.Context, record *entities.TrackedRecord) (*RecordAudit, error) {
	var links []entities.RecordLink
	if record.Kind().IsLinkable() {
		res, err := s.links.ReadLinksForRecord(ctx, record.Ref())
		if err != nil {
			return nil, err
		}
		links = res.Links
	}

	a := s.ComputeAudit(record.Kind(), record.Fields(), links)
	verdict := audit.EvaluatePublish(record.Status(), a)
	if verdict.NeedsReview {
		s.logger.Warn("Published record fails its audit",
			zap.String("recordID", record.ID()),
			zap.String("kind", record.Kind().String()),
		)
	}

	return &RecordAudit{
		Record:  record.Ref(),
		Label:   record.Label(),
		Status:  record.Status(),
		Audit:   a,
		Publish: verdict,
	}, nil
}
