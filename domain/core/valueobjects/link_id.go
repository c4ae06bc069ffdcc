package valueobjects

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// LinkID is the opaque identifier of a persisted link. The zero value marks a
// link that has not been stored yet.
type LinkID struct {
	value string
}

// NewLinkID creates a new random LinkID
func NewLinkID() LinkID {
	return LinkID{value: uuid.New().String()}
}

// NewLinkIDFromString creates a LinkID from an existing string. Stores may
// use any non-empty identifier scheme.
func NewLinkIDFromString(id string) (LinkID, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return LinkID{}, errors.New("link ID cannot be empty")
	}
	return LinkID{value: id}, nil
}

// String returns the string representation of the LinkID
func (id LinkID) String() string {
	return id.value
}

// Equals checks if two LinkIDs are equal
func (id LinkID) Equals(other LinkID) bool {
	return id.value == other.value
}

// IsZero checks if the LinkID is the zero value
func (id LinkID) IsZero() bool {
	return id.value == ""
}

// MarshalJSON implements json.Marshaler
func (id LinkID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.value + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler
func (id *LinkID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return errors.New("LinkID must be a string")
	}
	id.value = string(data[1 : len(data)-1])
	return nil
}
