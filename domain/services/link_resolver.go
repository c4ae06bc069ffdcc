package services

import (
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/entities"
	vo "github.com/demonfiddler/evidence-engine-sub000/domain/core/valueobjects"
)

// Anomaly reasons
const (
	AnomalyForeignLink = "link endpoints do not include the queried record"
	AnomalySelfLink    = "link connects the record to itself"
	AnomalyDuplicate   = "link returned more than once"
	AnomalyNilLink     = "nil link in collection"
)

// Anomaly is a raw link the resolver excluded from its result
type Anomaly struct {
	LinkID string       `json:"linkId"`
	Record vo.RecordRef `json:"record"`
	Reason string       `json:"reason"`
}

// Resolution is the perspective-normalised link set of one record
type Resolution struct {
	Links     []entities.RecordLink `json:"links"`
	Anomalies []Anomaly             `json:"anomalies,omitempty"`
}

// LabelFunc supplies display labels for other records; it may return "".
type LabelFunc func(ref vo.RecordRef) string

// LinkResolver maps stored links onto the perspective of one record.
type LinkResolver struct{}

// NewLinkResolver creates a resolver
func NewLinkResolver() *LinkResolver {
	return &LinkResolver{}
}

// ResolveLinks renormalises the record's outbound then inbound links so the
// record is always "this". Links that do not touch the record, or touch it
// at both ends, are excluded and reported instead of failing the whole read.
func (r *LinkResolver) ResolveLinks(record vo.RecordRef, raw entities.RecordLinks, labels LabelFunc) Resolution {
	res := Resolution{Links: make([]entities.RecordLink, 0, raw.Len())}
	seen := make(map[string]struct{}, raw.Len())

	resolve := func(l *entities.EntityLink) {
		if l == nil {
			res.Anomalies = append(res.Anomalies, Anomaly{Record: record, Reason: AnomalyNilLink})
			return
		}
		if l.ID != "" {
			if _, dup := seen[l.ID]; dup {
				res.Anomalies = append(res.Anomalies, Anomaly{LinkID: l.ID, Record: record, Reason: AnomalyDuplicate})
				return
			}
			seen[l.ID] = struct{}{}
		}
		rl, reason := toRecordLink(record, l)
		if reason != "" {
			res.Anomalies = append(res.Anomalies, Anomaly{LinkID: l.ID, Record: record, Reason: reason})
			return
		}
		if labels != nil {
			rl.OtherRecordLabel = labels(rl.Other())
		}
		res.Links = append(res.Links, rl)
	}

	for _, l := range raw.FromEntityLinks {
		resolve(l)
	}
	for _, l := range raw.ToEntityLinks {
		resolve(l)
	}
	return res
}

// ResolveOne renormalises a single link, as after a create or update.
func (r *LinkResolver) ResolveOne(record vo.RecordRef, l *entities.EntityLink) (entities.RecordLink, bool) {
	if l == nil {
		return entities.RecordLink{}, false
	}
	rl, reason := toRecordLink(record, l)
	return rl, reason == ""
}

func toRecordLink(record vo.RecordRef, l *entities.EntityLink) (entities.RecordLink, string) {
	isFrom := l.From().Equals(record)
	isTo := l.To().Equals(record)
	switch {
	case isFrom && isTo:
		return entities.RecordLink{}, AnomalySelfLink
	case !isFrom && !isTo:
		return entities.RecordLink{}, AnomalyForeignLink
	}

	rl := entities.RecordLink{
		ID:                   l.ID,
		ThisRecordKind:       record.Kind,
		ThisRecordID:         record.ID,
		ThisRecordIsToEntity: isTo,
		Status:               l.Status,
		CreatedBy:            l.CreatedBy,
		CreatedAt:            l.CreatedAt,
		UpdatedBy:            l.UpdatedBy,
		UpdatedAt:            l.UpdatedAt,
	}
	if isTo {
		rl.OtherRecordKind, rl.OtherRecordID = l.FromEntityKind, l.FromEntityID
		rl.ThisLocations, rl.OtherLocations = l.ToLocations, l.FromLocations
	} else {
		rl.OtherRecordKind, rl.OtherRecordID = l.ToEntityKind, l.ToEntityID
		rl.ThisLocations, rl.OtherLocations = l.FromLocations, l.ToLocations
	}
	// record ids are unique across kinds
	if rl.OtherRecordID == record.ID {
		return entities.RecordLink{}, AnomalySelfLink
	}
	return rl, ""
}

// FilterByOtherKind keeps the links whose other record is of kind.
func FilterByOtherKind(links []entities.RecordLink, kind vo.EntityKind) []entities.RecordLink {
	out := make([]entities.RecordLink, 0, len(links))
	for _, l := range links {
		if l.OtherRecordKind == kind {
			out = append(out, l)
		}
	}
	return out
}

// FindByOther returns the non-deleted link to other, if any.
func FindByOther(links []entities.RecordLink, other vo.RecordRef) (entities.RecordLink, bool) {
	for _, l := range links {
		if l.Other().Equals(other) && !l.IsDeleted() {
			return l, true
		}
	}
	return entities.RecordLink{}, false
}
