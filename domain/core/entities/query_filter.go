package entities

import (
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/valueobjects"
)

// LinkableEntityQueryFilter scopes a list of records of one kind. FromEntityID
// selects records linked from that entity; ToEntityID selects records linked to it.
type LinkableEntityQueryFilter struct {
	TopicID        string                    `json:"topicId,omitempty"`
	Recursive      bool                      `json:"recursive,omitempty"`
	FromEntityKind valueobjects.EntityKind   `json:"fromEntityKind,omitempty"`
	FromEntityID   string                    `json:"fromEntityId,omitempty"`
	ToEntityKind   valueobjects.EntityKind   `json:"toEntityKind,omitempty"`
	ToEntityID     string                    `json:"toEntityId,omitempty"`
	Status         []valueobjects.StatusKind `json:"status,omitempty"`
	Text           string                    `json:"text,omitempty"`
}

// IsEmpty reports whether the filter adds no link constraint
func (f LinkableEntityQueryFilter) IsEmpty() bool {
	return f.TopicID == "" && f.FromEntityID == "" && f.ToEntityID == ""
}
