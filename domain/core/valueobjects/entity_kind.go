package valueobjects

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EntityKind identifies the kind of a tracked record. The wire value is the
// three-letter code; long names are accepted when parsing.
type EntityKind string

const (
	KindClaim       EntityKind = "CLA"
	KindDeclaration EntityKind = "DEC"
	KindPerson      EntityKind = "PER"
	KindPublication EntityKind = "PUB"
	KindQuotation   EntityKind = "QUO"
	KindTopic       EntityKind = "TOP"

	KindJournal   EntityKind = "JOU"
	KindPublisher EntityKind = "PBR"
	KindGroup     EntityKind = "GRP"
	KindUser      EntityKind = "USR"
	KindComment   EntityKind = "COM"
)

var kindNames = map[EntityKind]string{
	KindClaim:       "Claim",
	KindDeclaration: "Declaration",
	KindPerson:      "Person",
	KindPublication: "Publication",
	KindQuotation:   "Quotation",
	KindTopic:       "Topic",
	KindJournal:     "Journal",
	KindPublisher:   "Publisher",
	KindGroup:       "Group",
	KindUser:        "User",
	KindComment:     "Comment",
}

// linkable kinds, in display order
var linkableKinds = []EntityKind{
	KindClaim, KindDeclaration, KindPerson, KindPublication, KindQuotation, KindTopic,
}

// ParseEntityKind accepts a code ("CLA") or a long name ("Claim"), case-insensitively.
func ParseEntityKind(s string) (EntityKind, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("entity kind cannot be empty")
	}
	code := EntityKind(strings.ToUpper(s))
	if _, ok := kindNames[code]; ok {
		return code, nil
	}
	for k, name := range kindNames {
		if strings.EqualFold(name, s) {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown entity kind %q", s)
}

// MustParseEntityKind is ParseEntityKind for static tables.
func MustParseEntityKind(s string) EntityKind {
	k, err := ParseEntityKind(s)
	if err != nil {
		panic(err)
	}
	return k
}

// String returns the wire code
func (k EntityKind) String() string {
	return string(k)
}

// Name returns the long display name, or the code for unknown kinds.
func (k EntityKind) Name() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return string(k)
}

// IsValid reports whether k is a known kind
func (k EntityKind) IsValid() bool {
	_, ok := kindNames[k]
	return ok
}

// IsLinkable reports whether records of this kind can participate in links.
func (k EntityKind) IsLinkable() bool {
	for _, l := range linkableKinds {
		if l == k {
			return true
		}
	}
	return false
}

// LinkableKinds returns a copy of the linkable kinds in display order.
func LinkableKinds() []EntityKind {
	out := make([]EntityKind, len(linkableKinds))
	copy(out, linkableKinds)
	return out
}

// AllKinds returns every known kind, linkable ones first.
func AllKinds() []EntityKind {
	return append(LinkableKinds(), KindJournal, KindPublisher, KindGroup, KindUser, KindComment)
}

// UnmarshalJSON accepts codes and long names
func (k *EntityKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("entity kind must be a string: %w", err)
	}
	if s == "" {
		*k = ""
		return nil
	}
	parsed, err := ParseEntityKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// UnmarshalYAML accepts codes and long names in rule files.
func (k *EntityKind) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseEntityKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
