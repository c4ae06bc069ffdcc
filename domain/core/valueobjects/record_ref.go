package valueobjects

import (
	"fmt"
	"strings"
)

// RecordRef identifies a record by kind and id.
type RecordRef struct {
	Kind EntityKind `json:"kind"`
	ID   string     `json:"id"`
}

// NewRecordRef creates a validated reference
func NewRecordRef(kind EntityKind, id string) (RecordRef, error) {
	if !kind.IsValid() {
		return RecordRef{}, fmt.Errorf("unknown entity kind %q", kind)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return RecordRef{}, fmt.Errorf("record id cannot be empty")
	}
	return RecordRef{Kind: kind, ID: id}, nil
}

// ParseRecordRef parses "KIND#id" or "KIND:id".
func ParseRecordRef(s string) (RecordRef, error) {
	sep := strings.IndexAny(s, "#:")
	if sep <= 0 {
		return RecordRef{}, fmt.Errorf("invalid record reference %q, expected KIND#id", s)
	}
	kind, err := ParseEntityKind(s[:sep])
	if err != nil {
		return RecordRef{}, err
	}
	return NewRecordRef(kind, s[sep+1:])
}

// Equals checks if two references point at the same record
func (r RecordRef) Equals(other RecordRef) bool {
	return r.Kind == other.Kind && r.ID == other.ID
}

// IsZero checks if the reference is unset
func (r RecordRef) IsZero() bool {
	return r.Kind == "" && r.ID == ""
}

func (r RecordRef) String() string {
	return fmt.Sprintf("%s#%s", r.Kind, r.ID)
}
