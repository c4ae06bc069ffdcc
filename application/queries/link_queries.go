package queries

import (
	"github.com/demonfiddler/evidence-engine-sub000/application/mastercontext"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/entities"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/registry"
	vo "github.com/demonfiddler/evidence-engine-sub000/domain/core/valueobjects"
	domainservices "github.com/demonfiddler/evidence-engine-sub000/domain/services"
	"github.com/demonfiddler/evidence-engine-sub000/pkg/utils"
)

// GetRecordLinksQuery reads the links of one record from its own perspective.
// OtherKind optionally narrows the result to one partner kind.
type GetRecordLinksQuery struct {
	RecordID  string `json:"recordId" validate:"required"`
	OtherKind string `json:"otherKind,omitempty"`
}

// Validate checks the query's shape
func (q GetRecordLinksQuery) Validate() error {
	return utils.ValidateStruct(q)
}

// RecordLinksResult is the answer to GetRecordLinksQuery
type RecordLinksResult struct {
	Record    vo.RecordRef             `json:"record"`
	Label     string                   `json:"label"`
	Links     []entities.RecordLink    `json:"links"`
	Anomalies []domainservices.Anomaly `json:"anomalies,omitempty"`
}

// GetEntityAuditQuery computes the audit of a stored record
type GetEntityAuditQuery struct {
	RecordID string `json:"recordId" validate:"required"`
}

// Validate checks the query's shape
func (q GetEntityAuditQuery) Validate() error {
	return utils.ValidateStruct(q)
}

// GetLinkDirectionQuery asks which kind of an unordered pair is the from side
type GetLinkDirectionQuery struct {
	KindA string `json:"kindA" validate:"required"`
	KindB string `json:"kindB" validate:"required"`
}

// Validate checks the query's shape
func (q GetLinkDirectionQuery) Validate() error {
	return utils.ValidateStruct(q)
}

// LinkDirectionResult is the answer to GetLinkDirectionQuery
type LinkDirectionResult struct {
	registry.Direction
	FilterProperty string `json:"filterProperty"`
}

// ListLinkDirectionsQuery lists the whole kind registry
type ListLinkDirectionsQuery struct{}

// Validate always succeeds
func (ListLinkDirectionsQuery) Validate() error {
	return nil
}

// GetMasterFilterQuery derives the list filter for kind from a session's master context
type GetMasterFilterQuery struct {
	SessionID string `json:"sessionId" validate:"required"`
	Kind      string `json:"kind" validate:"required"`
}

// Validate checks the query's shape
func (q GetMasterFilterQuery) Validate() error {
	return utils.ValidateStruct(q)
}

// MasterFilterResult is the answer to GetMasterFilterQuery
type MasterFilterResult struct {
	Kind    vo.EntityKind                      `json:"kind"`
	Context mastercontext.MasterContext        `json:"context"`
	Filter  entities.LinkableEntityQueryFilter `json:"filter"`
}

// ListRecordsQuery lists records of one kind, optionally scoped by a link filter
type ListRecordsQuery struct {
	Kind   string                             `json:"kind" validate:"required"`
	Filter entities.LinkableEntityQueryFilter `json:"filter"`
	Limit  int                                `json:"limit" validate:"min=0,max=1000"`
	Offset int                                `json:"offset" validate:"min=0"`
}

// Validate checks the query's shape
func (q ListRecordsQuery) Validate() error {
	return utils.ValidateStruct(q)
}

// ListRecordsResult is a page of records
type ListRecordsResult struct {
	Kind    vo.EntityKind             `json:"kind"`
	Records []entities.RecordSnapshot `json:"records"`
	Count   int                       `json:"count"`
}
