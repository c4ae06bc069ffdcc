package entities

import (
	"time"

	"github.com/demonfiddler/evidence-engine-sub000/domain/core/valueobjects"
)

// RecordLink is an EntityLink seen from one of its endpoints.
type RecordLink struct {
	ID                   string                  `json:"id"`
	ThisRecordKind       valueobjects.EntityKind `json:"thisRecordKind"`
	ThisRecordID         string                  `json:"thisRecordId"`
	OtherRecordKind      valueobjects.EntityKind `json:"otherRecordKind"`
	OtherRecordID        string                  `json:"otherRecordId"`
	OtherRecordLabel     string                  `json:"otherRecordLabel,omitempty"`
	ThisLocations        string                  `json:"thisLocations"`
	OtherLocations       string                  `json:"otherLocations"`
	ThisRecordIsToEntity bool                    `json:"thisRecordIsToEntity"`
	Status               valueobjects.StatusKind `json:"status"`
	CreatedBy            string                  `json:"createdByUser,omitempty"`
	CreatedAt            time.Time               `json:"created"`
	UpdatedBy            string                  `json:"updatedByUser,omitempty"`
	UpdatedAt            *time.Time              `json:"updated,omitempty"`
}

// This returns the anchor record
func (r RecordLink) This() valueobjects.RecordRef {
	return valueobjects.RecordRef{Kind: r.ThisRecordKind, ID: r.ThisRecordID}
}

// Other returns the far record
func (r RecordLink) Other() valueobjects.RecordRef {
	return valueobjects.RecordRef{Kind: r.OtherRecordKind, ID: r.OtherRecordID}
}

// IsDeleted reports whether the underlying link is Deleted
func (r RecordLink) IsDeleted() bool {
	return r.Status.IsDeleted()
}

// ToInput rebuilds a storage-oriented mutation from the record link using its
// stored orientation. Callers override the locations or other endpoint first.
func (r RecordLink) ToInput() LinkInput {
	in := LinkInput{ID: r.ID}
	if r.ThisRecordIsToEntity {
		in.From, in.FromLocations = r.Other(), r.OtherLocations
		in.To, in.ToLocations = r.This(), r.ThisLocations
	} else {
		in.From, in.FromLocations = r.This(), r.ThisLocations
		in.To, in.ToLocations = r.Other(), r.OtherLocations
	}
	return in
}
