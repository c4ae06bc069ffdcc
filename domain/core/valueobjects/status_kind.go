package valueobjects

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StatusKind is the lifecycle status shared by tracked records and links.
type StatusKind string

const (
	StatusDraft     StatusKind = "DRA"
	StatusPublished StatusKind = "PUB"
	StatusSuspended StatusKind = "SUS"
	StatusDeleted   StatusKind = "DEL"
)

var statusNames = map[StatusKind]string{
	StatusDraft:     "Draft",
	StatusPublished: "Published",
	StatusSuspended: "Suspended",
	StatusDeleted:   "Deleted",
}

var statusTransitions = map[StatusKind][]StatusKind{
	StatusDraft:     {StatusPublished, StatusDeleted},
	StatusPublished: {StatusSuspended, StatusDeleted},
	StatusSuspended: {StatusPublished, StatusDeleted},
	StatusDeleted:   {StatusDraft},
}

// ParseStatusKind accepts a code ("PUB") or a long name ("Published").
func ParseStatusKind(s string) (StatusKind, error) {
	s = strings.TrimSpace(s)
	code := StatusKind(strings.ToUpper(s))
	if _, ok := statusNames[code]; ok {
		return code, nil
	}
	for st, name := range statusNames {
		if strings.EqualFold(name, s) {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}

func (s StatusKind) String() string {
	return string(s)
}

// Name returns the long display name
func (s StatusKind) Name() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return string(s)
}

// IsValid reports whether s is a known status
func (s StatusKind) IsValid() bool {
	_, ok := statusNames[s]
	return ok
}

// IsDeleted reports whether s is the Deleted status
func (s StatusKind) IsDeleted() bool {
	return s == StatusDeleted
}

// CanTransitionTo reports whether a record may move from s to target.
func (s StatusKind) CanTransitionTo(target StatusKind) bool {
	for _, t := range statusTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// UnmarshalJSON accepts codes and long names
func (s *StatusKind) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("status must be a string: %w", err)
	}
	if raw == "" {
		*s = ""
		return nil
	}
	parsed, err := ParseStatusKind(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
