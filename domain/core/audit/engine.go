package audit

import (
	"fmt"

	"github.com/demonfiddler/evidence-engine-sub000/domain/core/entities"
	vo "github.com/demonfiddler/evidence-engine-sub000/domain/core/valueobjects"
)

// FieldAuditEntry is the outcome of one field check
type FieldAuditEntry struct {
	FieldName string      `json:"fieldName"`
	Severity  vo.Severity `json:"severity"`
	Pass      bool        `json:"pass"`
	Message   string      `json:"message,omitempty"`
}

// FieldAuditGroup passes iff at least one entry passes
type FieldAuditGroup struct {
	Name     string            `json:"name"`
	Severity vo.Severity       `json:"severity"`
	Entries  []FieldAuditEntry `json:"entries"`
	Pass     bool              `json:"pass"`
	Message  string            `json:"message,omitempty"`
}

// FieldAudit is the field half of an EntityAudit
type FieldAudit struct {
	Fields []FieldAuditEntry `json:"fields"`
	Groups []FieldAuditGroup `json:"groups"`
	Pass   bool              `json:"pass"`
}

// LinkAuditEntry is the outcome of one cardinality check
type LinkAuditEntry struct {
	LinkedEntityKind vo.EntityKind `json:"linkedEntityKind"`
	Severity         vo.Severity   `json:"severity"`
	Min              int           `json:"min"`
	Actual           int           `json:"actual"`
	Pass             bool          `json:"pass"`
	Message          string        `json:"message,omitempty"`
}

// LinkAuditGroup folds several kinds under one minimum
type LinkAuditGroup struct {
	Name     string           `json:"name"`
	Mode     GroupMode        `json:"mode"`
	Severity vo.Severity      `json:"severity"`
	Min      int              `json:"min"`
	Actual   int              `json:"actual"`
	Entries  []LinkAuditEntry `json:"entries"`
	Pass     bool             `json:"pass"`
	Message  string           `json:"message,omitempty"`
}

// LinkAudit is the link half of an EntityAudit
type LinkAudit struct {
	Links  []LinkAuditEntry `json:"links"`
	Groups []LinkAuditGroup `json:"groups"`
	Pass   bool             `json:"pass"`
}

// EntityAudit is a live projection; it is never persisted.
type EntityAudit struct {
	FieldAudit FieldAudit `json:"fieldAudit"`
	LinkAudit  LinkAudit  `json:"linkAudit"`
	Pass       bool       `json:"pass"`
}

// Compute evaluates rs against a record's fields and resolved links.
// Deleted links are not counted. The result depends only on the inputs.
func Compute(rs RuleSet, fields map[string]interface{}, links []entities.RecordLink) EntityAudit {
	fa := computeFieldAudit(rs.Fields, fields)
	la := computeLinkAudit(rs.Links, CountLinks(links))
	return EntityAudit{
		FieldAudit: fa,
		LinkAudit:  la,
		Pass:       fa.Pass && la.Pass,
	}
}

// CountLinks returns the number of non-deleted links per other-record kind
func CountLinks(links []entities.RecordLink) map[vo.EntityKind]int {
	counts := make(map[vo.EntityKind]int)
	for _, l := range links {
		if l.IsDeleted() {
			continue
		}
		counts[l.OtherRecordKind]++
	}
	return counts
}

func computeFieldAudit(rules []FieldRule, fields map[string]interface{}) FieldAudit {
	fa := FieldAudit{
		Fields: []FieldAuditEntry{},
		Groups: []FieldAuditGroup{},
		Pass:   true,
	}
	for _, rule := range rules {
		switch r := rule.(type) {
		case SingleFieldRule:
			e := evalField(r, fields)
			fa.Fields = append(fa.Fields, e)
			fa.Pass = fa.Pass && e.Pass
		case FieldGroupRule:
			g := foldFieldGroup(r, fields)
			fa.Groups = append(fa.Groups, g)
			fa.Pass = fa.Pass && g.Pass
		}
	}
	return fa
}

func evalField(r SingleFieldRule, fields map[string]interface{}) FieldAuditEntry {
	e := FieldAuditEntry{
		FieldName: r.Field,
		Severity:  severityOr(r.Severity, vo.SeverityError),
		Pass:      r.Predicate.evaluate(fields[r.Field]),
	}
	if !e.Pass {
		e.Message = r.Message
		if e.Message == "" {
			e.Message = r.Predicate.failureMessage(r.Field)
		}
	}
	return e
}

func foldFieldGroup(r FieldGroupRule, fields map[string]interface{}) FieldAuditGroup {
	g := FieldAuditGroup{
		Name:     r.Name,
		Severity: severityOr(r.Severity, vo.SeverityError),
		Entries:  make([]FieldAuditEntry, 0, len(r.Members)),
	}
	names := make([]string, 0, len(r.Members))
	for _, m := range r.Members {
		if m.Severity == "" {
			m.Severity = g.Severity
		}
		e := evalField(m, fields)
		g.Entries = append(g.Entries, e)
		g.Pass = g.Pass || e.Pass
		names = append(names, m.Field)
	}
	if !g.Pass {
		g.Message = fmt.Sprintf("at least one of %v must be provided", names)
	}
	return g
}

func computeLinkAudit(rules []LinkRule, counts map[vo.EntityKind]int) LinkAudit {
	la := LinkAudit{
		Links:  []LinkAuditEntry{},
		Groups: []LinkAuditGroup{},
		Pass:   true,
	}
	for _, rule := range rules {
		switch r := rule.(type) {
		case SingleLinkRule:
			e := evalLink(r, counts)
			la.Links = append(la.Links, e)
			la.Pass = la.Pass && e.Pass
		case LinkGroupRule:
			g := foldLinkGroup(r, counts)
			la.Groups = append(la.Groups, g)
			la.Pass = la.Pass && g.Pass
		}
	}
	return la
}

func evalLink(r SingleLinkRule, counts map[vo.EntityKind]int) LinkAuditEntry {
	required := r.Min
	if required < 0 {
		required = 0
	}
	e := LinkAuditEntry{
		LinkedEntityKind: r.Kind,
		Severity:         severityOr(r.Severity, vo.SeverityError),
		Min:              required,
		Actual:           counts[r.Kind],
	}
	e.Pass = e.Actual >= e.Min
	if !e.Pass {
		e.Message = fmt.Sprintf("requires at least %d %s link(s), found %d", e.Min, r.Kind.Name(), e.Actual)
	}
	return e
}

func foldLinkGroup(r LinkGroupRule, counts map[vo.EntityKind]int) LinkAuditGroup {
	g := LinkAuditGroup{
		Name:     r.Name,
		Mode:     r.Mode,
		Severity: severityOr(r.Severity, vo.SeverityError),
		Min:      r.Min,
		Entries:  make([]LinkAuditEntry, 0, len(r.Members)),
	}
	if g.Mode == "" {
		g.Mode = GroupModeSum
	}
	if g.Min < 0 {
		g.Min = 0
	}

	anyMember := false
	for _, m := range r.Members {
		if m.Severity == "" {
			m.Severity = g.Severity
		}
		e := evalLink(m, counts)
		g.Entries = append(g.Entries, e)
		g.Actual += e.Actual
		anyMember = anyMember || (e.Pass && (e.Min > 0 || e.Actual > 0))
	}

	switch g.Mode {
	case GroupModeAny:
		g.Pass = g.Min == 0 || anyMember
	default:
		g.Pass = g.Actual >= g.Min
	}
	if !g.Pass {
		g.Message = fmt.Sprintf("requires at least %d link(s) among %s, found %d", g.Min, g.Name, g.Actual)
	}
	return g
}

func severityOr(s, fallback vo.Severity) vo.Severity {
	if s == "" {
		return fallback
	}
	return s
}
