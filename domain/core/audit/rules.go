// Package audit computes the publish-readiness verdict of a record from its
// field values and resolved links. Everything here is pure.
package audit

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	vo "github.com/demonfiddler/evidence-engine-sub000/domain/core/valueobjects"
)

// Predicate names a field check
type Predicate string

const (
	PredNotBlank Predicate = "notBlank"
	PredNotNull  Predicate = "notNull"
	PredPositive Predicate = "positive"
	PredURL      Predicate = "url"
)

// GroupMode selects how a link group folds its members
type GroupMode string

const (
	// GroupModeSum passes when the members' actual counts add up to the group minimum
	GroupModeSum GroupMode = "sum"
	// GroupModeAny passes when any single member meets its own minimum
	GroupModeAny GroupMode = "any"
)

// ParseGroupMode defaults blank input to fallback
func ParseGroupMode(s string, fallback GroupMode) (GroupMode, error) {
	switch GroupMode(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return fallback, nil
	case GroupModeSum:
		return GroupModeSum, nil
	case GroupModeAny:
		return GroupModeAny, nil
	}
	return "", fmt.Errorf("unknown link group mode %q", s)
}

// FieldRule is SingleFieldRule or FieldGroupRule
type FieldRule interface {
	isFieldRule()
}

// SingleFieldRule checks one field
type SingleFieldRule struct {
	Field     string      `json:"field"`
	Severity  vo.Severity `json:"severity"`
	Predicate Predicate   `json:"predicate"`
	Message   string      `json:"message,omitempty"`
}

// FieldGroupRule passes when any member passes
type FieldGroupRule struct {
	Name     string            `json:"name"`
	Severity vo.Severity       `json:"severity"`
	Members  []SingleFieldRule `json:"members"`
}

func (SingleFieldRule) isFieldRule() {}
func (FieldGroupRule) isFieldRule()  {}

// LinkRule is SingleLinkRule or LinkGroupRule
type LinkRule interface {
	isLinkRule()
}

// SingleLinkRule requires at least Min links to records of Kind
type SingleLinkRule struct {
	Kind     vo.EntityKind `json:"linkedEntityKind"`
	Min      int           `json:"min"`
	Severity vo.Severity   `json:"severity"`
}

// LinkGroupRule folds several kinds under one minimum
type LinkGroupRule struct {
	Name     string           `json:"name"`
	Mode     GroupMode        `json:"mode"`
	Min      int              `json:"min"`
	Severity vo.Severity      `json:"severity"`
	Members  []SingleLinkRule `json:"members"`
}

func (SingleLinkRule) isLinkRule() {}
func (LinkGroupRule) isLinkRule()  {}

// RuleSet is the audit configuration for one kind
type RuleSet struct {
	Kind   vo.EntityKind `json:"kind"`
	Fields []FieldRule   `json:"fields"`
	Links  []LinkRule    `json:"links"`
}

// evaluate never fails; a value the predicate cannot interpret is a failure.
func (p Predicate) evaluate(value interface{}) bool {
	switch p {
	case PredNotBlank:
		return !isBlank(value)
	case PredNotNull:
		return !isNull(value)
	case PredPositive:
		n, ok := toFloat(value)
		return ok && n > 0
	case PredURL:
		s, ok := value.(string)
		if !ok {
			return false
		}
		u, err := url.Parse(strings.TrimSpace(s))
		return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
	}
	return false
}

// Known reports whether p is a supported predicate
func (p Predicate) Known() bool {
	switch p {
	case PredNotBlank, PredNotNull, PredPositive, PredURL:
		return true
	}
	return false
}

func (p Predicate) failureMessage(field string) string {
	switch p {
	case PredNotBlank:
		return fmt.Sprintf("%s must not be blank", field)
	case PredNotNull:
		return fmt.Sprintf("%s must be set", field)
	case PredPositive:
		return fmt.Sprintf("%s must be a positive number", field)
	case PredURL:
		return fmt.Sprintf("%s must be a valid http(s) URL", field)
	}
	return fmt.Sprintf("%s: unknown check %q", field, string(p))
}

func isNull(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case *time.Time:
		return t == nil || t.IsZero()
	case time.Time:
		return t.IsZero()
	}
	return false
}

func isBlank(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []interface{}:
		return len(t) == 0
	case []string:
		return len(t) == 0
	case map[string]interface{}:
		return len(t) == 0
	}
	return isNull(v)
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}
