package entities

import (
	"time"

	"github.com/demonfiddler/evidence-engine-sub000/domain/core/valueobjects"
	"github.com/demonfiddler/evidence-engine-sub000/domain/events"
)

// EntityLink is one stored edge of the link graph. Direction is
// storage-canonical and fixed by the kind registry, not by the user.
type EntityLink struct {
	ID             string                  `json:"id"`
	FromEntityKind valueobjects.EntityKind `json:"fromEntityKind"`
	FromEntityID   string                  `json:"fromEntityId"`
	ToEntityKind   valueobjects.EntityKind `json:"toEntityKind"`
	ToEntityID     string                  `json:"toEntityId"`
	FromLocations  string                  `json:"fromEntityLocations,omitempty"`
	ToLocations    string                  `json:"toEntityLocations,omitempty"`
	Status         valueobjects.StatusKind `json:"status"`
	CreatedBy      string                  `json:"createdByUser,omitempty"`
	CreatedAt      time.Time               `json:"created"`
	UpdatedBy      string                  `json:"updatedByUser,omitempty"`
	UpdatedAt      *time.Time              `json:"updated,omitempty"`
}

// From returns the from endpoint
func (l *EntityLink) From() valueobjects.RecordRef {
	return valueobjects.RecordRef{Kind: l.FromEntityKind, ID: l.FromEntityID}
}

// To returns the to endpoint
func (l *EntityLink) To() valueobjects.RecordRef {
	return valueobjects.RecordRef{Kind: l.ToEntityKind, ID: l.ToEntityID}
}

// IsPersisted reports whether the link has been assigned an id by a store
func (l *EntityLink) IsPersisted() bool {
	return l.ID != ""
}

// IsDeleted reports whether the link carries the Deleted status
func (l *EntityLink) IsDeleted() bool {
	return l.Status.IsDeleted()
}

// Touches reports whether ref is one of the link's endpoints
func (l *EntityLink) Touches(ref valueobjects.RecordRef) bool {
	return l.From().Equals(ref) || l.To().Equals(ref)
}

// SameEndpoints reports whether both links join the same ordered pair
func (l *EntityLink) SameEndpoints(other *EntityLink) bool {
	return l.From().Equals(other.From()) && l.To().Equals(other.To())
}

// Endpoints returns the event payload shape of the link
func (l *EntityLink) Endpoints() events.LinkEndpoints {
	return events.LinkEndpoints{
		From:          l.From(),
		To:            l.To(),
		FromLocations: l.FromLocations,
		ToLocations:   l.ToLocations,
	}
}

// Clone returns a deep copy
func (l *EntityLink) Clone() *EntityLink {
	c := *l
	if l.UpdatedAt != nil {
		t := *l.UpdatedAt
		c.UpdatedAt = &t
	}
	return &c
}

// LinkInput is the mutation input for create and update, already oriented
// from/to by the kind registry.
type LinkInput struct {
	ID            string                 `json:"id,omitempty"`
	From          valueobjects.RecordRef `json:"from"`
	FromLocations string                 `json:"fromEntityLocations"`
	To            valueobjects.RecordRef `json:"to"`
	ToLocations   string                 `json:"toEntityLocations"`
}

// RecordLinks is the raw inbound and outbound link collections for a record
type RecordLinks struct {
	FromEntityLinks []*EntityLink `json:"fromEntityLinks"`
	ToEntityLinks   []*EntityLink `json:"toEntityLinks"`
}

// Len returns the total number of raw links
func (r RecordLinks) Len() int {
	return len(r.FromEntityLinks) + len(r.ToEntityLinks)
}
