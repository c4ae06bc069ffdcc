// Package mastercontext derives the "linked to master" list filters from a
// pinned master topic and master record, and keeps them current per session.
package mastercontext

import (
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/entities"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/registry"
	vo "github.com/demonfiddler/evidence-engine-sub000/domain/core/valueobjects"
)

// MasterContext is an immutable snapshot of the pinned master selection.
// The With* methods return modified copies.
type MasterContext struct {
	MasterTopicID         string        `json:"masterTopicId,omitempty"`
	MasterTopicRecursive  bool          `json:"masterTopicRecursive"`
	MasterRecordKind      vo.EntityKind `json:"masterRecordKind,omitempty"`
	MasterRecordID        string        `json:"masterRecordId,omitempty"`
	MasterRecordLabel     string        `json:"masterRecordLabel,omitempty"`
	ShowOnlyLinkedRecords bool          `json:"showOnlyLinkedRecords"`
}

// WithTopic pins a master topic; an empty id clears it
func (c MasterContext) WithTopic(topicID string, recursive bool) MasterContext {
	c.MasterTopicID = topicID
	c.MasterTopicRecursive = topicID != "" && recursive
	return c
}

// WithRecord pins a master record; a zero ref clears it
func (c MasterContext) WithRecord(ref vo.RecordRef, label string) MasterContext {
	if ref.IsZero() {
		c.MasterRecordKind, c.MasterRecordID, c.MasterRecordLabel = "", "", ""
		return c
	}
	c.MasterRecordKind, c.MasterRecordID, c.MasterRecordLabel = ref.Kind, ref.ID, label
	return c
}

// WithShowOnlyLinked toggles filtering
func (c MasterContext) WithShowOnlyLinked(on bool) MasterContext {
	c.ShowOnlyLinkedRecords = on
	return c
}

// MasterRecord returns the pinned record, if any
func (c MasterContext) MasterRecord() (vo.RecordRef, bool) {
	if c.MasterRecordID == "" {
		return vo.RecordRef{}, false
	}
	return vo.RecordRef{Kind: c.MasterRecordKind, ID: c.MasterRecordID}, true
}

// DeriveMasterFilter returns the filter fragment a list of kind must apply
// under c. The result is empty unless ShowOnlyLinkedRecords is on and kind is
// linkable. A master record of the list's own kind contributes nothing.
func DeriveMasterFilter(kind vo.EntityKind, c MasterContext, reg *registry.Registry) entities.LinkableEntityQueryFilter {
	var f entities.LinkableEntityQueryFilter
	if !c.ShowOnlyLinkedRecords || !kind.IsLinkable() {
		return f
	}

	if c.MasterTopicID != "" {
		f.TopicID = c.MasterTopicID
		f.Recursive = c.MasterTopicRecursive
	}

	if c.MasterRecordID != "" && c.MasterRecordKind != kind {
		switch prop, ok := reg.FilterProperty(kind, c.MasterRecordKind); {
		case !ok:
		case prop == registry.PropFromEntityID:
			f.FromEntityKind, f.FromEntityID = c.MasterRecordKind, c.MasterRecordID
		default:
			f.ToEntityKind, f.ToEntityID = c.MasterRecordKind, c.MasterRecordID
		}
	}
	return f
}
