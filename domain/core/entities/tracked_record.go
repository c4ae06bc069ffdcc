package entities

import (
	"strings"
	"time"

	"github.com/demonfiddler/evidence-engine-sub000/domain/core/valueobjects"
	"github.com/demonfiddler/evidence-engine-sub000/domain/events"
	pkgerrors "github.com/demonfiddler/evidence-engine-sub000/pkg/errors"
)

// TrackedRecord is a record of any kind that carries a lifecycle status.
// Field values are opaque to the domain except through audit rules.
type TrackedRecord struct {
	ref       valueobjects.RecordRef
	label     string
	status    valueobjects.StatusKind
	fields    map[string]interface{}
	createdBy string
	createdAt time.Time
	updatedBy string
	updatedAt time.Time
	version   int

	events []events.DomainEvent
}

// RecordSnapshot is the persistence shape of a TrackedRecord
type RecordSnapshot struct {
	Kind      valueobjects.EntityKind `json:"kind"`
	ID        string                  `json:"id"`
	Label     string                  `json:"label"`
	Status    valueobjects.StatusKind `json:"status"`
	Fields    map[string]interface{}  `json:"fields"`
	CreatedBy string                  `json:"createdByUser,omitempty"`
	CreatedAt time.Time               `json:"created"`
	UpdatedBy string                  `json:"updatedByUser,omitempty"`
	UpdatedAt time.Time               `json:"updated"`
	Version   int                     `json:"version"`
}

// NewTrackedRecord creates a Draft record
func NewTrackedRecord(ref valueobjects.RecordRef, label string, fields map[string]interface{}, userID string) (*TrackedRecord, error) {
	if !ref.Kind.IsValid() {
		return nil, pkgerrors.NewValidationError("unknown record kind")
	}
	if strings.TrimSpace(ref.ID) == "" {
		return nil, pkgerrors.NewValidationError("record id cannot be empty")
	}
	now := time.Now()
	return &TrackedRecord{
		ref:       ref,
		label:     label,
		status:    valueobjects.StatusDraft,
		fields:    copyFields(fields),
		createdBy: userID,
		createdAt: now,
		updatedBy: userID,
		updatedAt: now,
		version:   1,
		events:    []events.DomainEvent{},
	}, nil
}

// ReconstructTrackedRecord rebuilds a record from storage without emitting events
func ReconstructTrackedRecord(s RecordSnapshot) (*TrackedRecord, error) {
	ref, err := valueobjects.NewRecordRef(s.Kind, s.ID)
	if err != nil {
		return nil, pkgerrors.NewValidationError(err.Error())
	}
	status := s.Status
	if status == "" {
		status = valueobjects.StatusDraft
	}
	if !status.IsValid() {
		return nil, pkgerrors.NewValidationError("unknown status " + string(status))
	}
	return &TrackedRecord{
		ref:       ref,
		label:     s.Label,
		status:    status,
		fields:    copyFields(s.Fields),
		createdBy: s.CreatedBy,
		createdAt: s.CreatedAt,
		updatedBy: s.UpdatedBy,
		updatedAt: s.UpdatedAt,
		version:   s.Version,
		events:    []events.DomainEvent{},
	}, nil
}

// Ref returns the record's kind and id
func (r *TrackedRecord) Ref() valueobjects.RecordRef {
	return r.ref
}

// Kind returns the record's kind
func (r *TrackedRecord) Kind() valueobjects.EntityKind {
	return r.ref.Kind
}

// ID returns the record's id
func (r *TrackedRecord) ID() string {
	return r.ref.ID
}

// Label returns the display label
func (r *TrackedRecord) Label() string {
	return r.label
}

// Status returns the lifecycle status
func (r *TrackedRecord) Status() valueobjects.StatusKind {
	return r.status
}

// Version returns the optimistic-lock version
func (r *TrackedRecord) Version() int {
	return r.version
}

// Fields returns a copy of the field values
func (r *TrackedRecord) Fields() map[string]interface{} {
	return copyFields(r.fields)
}

// Field returns one field value
func (r *TrackedRecord) Field(name string) (interface{}, bool) {
	v, ok := r.fields[name]
	return v, ok
}

// SetFields replaces the field values and label
func (r *TrackedRecord) SetFields(label string, fields map[string]interface{}, userID string) {
	r.label = label
	r.fields = copyFields(fields)
	r.touch(userID)
}

// ChangeStatus moves the record to target. Publish gating on the audit is
// applied by the caller, which owns the link set.
func (r *TrackedRecord) ChangeStatus(target valueobjects.StatusKind, userID string) error {
	if !target.IsValid() {
		return pkgerrors.NewValidationError("unknown status " + string(target))
	}
	if r.status == target {
		return nil
	}
	if !r.status.CanTransitionTo(target) {
		return pkgerrors.InvalidStatusChange(r.status.String(), target.String())
	}
	old := r.status
	r.status = target
	r.touch(userID)
	r.addEvent(events.NewRecordStatusChanged(r.ref, old, target, userID, r.updatedAt))
	return nil
}

// Snapshot returns the persistence shape
func (r *TrackedRecord) Snapshot() RecordSnapshot {
	return RecordSnapshot{
		Kind:      r.ref.Kind,
		ID:        r.ref.ID,
		Label:     r.label,
		Status:    r.status,
		Fields:    copyFields(r.fields),
		CreatedBy: r.createdBy,
		CreatedAt: r.createdAt,
		UpdatedBy: r.updatedBy,
		UpdatedAt: r.updatedAt,
		Version:   r.version,
	}
}

// GetUncommittedEvents returns events that haven't been persisted
func (r *TrackedRecord) GetUncommittedEvents() []events.DomainEvent {
	return r.events
}

// MarkEventsAsCommitted clears the uncommitted events
func (r *TrackedRecord) MarkEventsAsCommitted() {
	r.events = []events.DomainEvent{}
}

func (r *TrackedRecord) touch(userID string) {
	r.updatedBy = userID
	r.updatedAt = time.Now()
	r.version++
}

func (r *TrackedRecord) addEvent(event events.DomainEvent) {
	r.events = append(r.events, event)
}

func copyFields(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
