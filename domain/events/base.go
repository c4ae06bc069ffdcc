package events

import (
	"time"

	"github.com/demonfiddler/evidence-engine-sub000/domain/core/valueobjects"
)

// Event type names as published on the bus
const (
	TypeLinkCreated          = "link.created"
	TypeLinkUpdated          = "link.updated"
	TypeLinkDeleted          = "link.deleted"
	TypeRecordStatusChanged  = "record.status_changed"
	TypeMasterContextChanged = "master_context.changed"
	TypeSessionEnded         = "session.ended"
)

// DomainEvent is the base interface for all domain events
// Events represent something that has happened in the past
type DomainEvent interface {
	GetAggregateID() string
	GetEventType() string
	GetTimestamp() time.Time
	GetVersion() int
}

// BaseEvent provides common event fields
type BaseEvent struct {
	AggregateID string    `json:"aggregate_id"`
	EventType   string    `json:"event_type"`
	Timestamp   time.Time `json:"timestamp"`
	Version     int       `json:"version"`
}

func (e BaseEvent) GetAggregateID() string  { return e.AggregateID }
func (e BaseEvent) GetEventType() string    { return e.EventType }
func (e BaseEvent) GetTimestamp() time.Time { return e.Timestamp }
func (e BaseEvent) GetVersion() int         { return e.Version }

func newBase(aggregateID, eventType string, timestamp time.Time) BaseEvent {
	return BaseEvent{
		AggregateID: aggregateID,
		EventType:   eventType,
		Timestamp:   timestamp,
		Version:     1,
	}
}

// Link Events

// LinkEndpoints is the storage-canonical shape of a link carried by events.
type LinkEndpoints struct {
	From          valueobjects.RecordRef `json:"from"`
	To            valueobjects.RecordRef `json:"to"`
	FromLocations string                 `json:"from_locations,omitempty"`
	ToLocations   string                 `json:"to_locations,omitempty"`
}

// LinkCreated is raised when a link is stored for the first time
type LinkCreated struct {
	BaseEvent
	LinkID    string        `json:"link_id"`
	Endpoints LinkEndpoints `json:"endpoints"`
	UserID    string        `json:"user_id"`
}

// NewLinkCreated creates a LinkCreated event
func NewLinkCreated(linkID string, endpoints LinkEndpoints, userID string, timestamp time.Time) LinkCreated {
	return LinkCreated{
		BaseEvent: newBase(linkID, TypeLinkCreated, timestamp),
		LinkID:    linkID,
		Endpoints: endpoints,
		UserID:    userID,
	}
}

// LinkUpdated is raised when a link's locations or endpoints change.
// Relinks surface here with OtherChanged set.
type LinkUpdated struct {
	BaseEvent
	LinkID       string        `json:"link_id"`
	Before       LinkEndpoints `json:"before"`
	After        LinkEndpoints `json:"after"`
	OtherChanged bool          `json:"other_changed"`
	UserID       string        `json:"user_id"`
}

// NewLinkUpdated creates a LinkUpdated event
func NewLinkUpdated(linkID string, before, after LinkEndpoints, userID string, timestamp time.Time) LinkUpdated {
	return LinkUpdated{
		BaseEvent:    newBase(linkID, TypeLinkUpdated, timestamp),
		LinkID:       linkID,
		Before:       before,
		After:        after,
		OtherChanged: !before.From.Equals(after.From) || !before.To.Equals(after.To),
		UserID:       userID,
	}
}

// LinkDeleted is raised when a link is deleted
type LinkDeleted struct {
	BaseEvent
	LinkID    string        `json:"link_id"`
	Endpoints LinkEndpoints `json:"endpoints"`
	UserID    string        `json:"user_id"`
}

// NewLinkDeleted creates a LinkDeleted event
func NewLinkDeleted(linkID string, endpoints LinkEndpoints, userID string, timestamp time.Time) LinkDeleted {
	return LinkDeleted{
		BaseEvent: newBase(linkID, TypeLinkDeleted, timestamp),
		LinkID:    linkID,
		Endpoints: endpoints,
		UserID:    userID,
	}
}

// Record Events

// RecordStatusChanged is raised when a tracked record changes status
type RecordStatusChanged struct {
	BaseEvent
	Record      valueobjects.RecordRef  `json:"record"`
	OldStatus   valueobjects.StatusKind `json:"old_status"`
	NewStatus   valueobjects.StatusKind `json:"new_status"`
	NeedsReview bool                    `json:"needs_review,omitempty"`
	UserID      string                  `json:"user_id"`
}

// NewRecordStatusChanged creates a RecordStatusChanged event
func NewRecordStatusChanged(ref valueobjects.RecordRef, oldStatus, newStatus valueobjects.StatusKind, userID string, timestamp time.Time) RecordStatusChanged {
	return RecordStatusChanged{
		BaseEvent: newBase(ref.String(), TypeRecordStatusChanged, timestamp),
		Record:    ref,
		OldStatus: oldStatus,
		NewStatus: newStatus,
		UserID:    userID,
	}
}

// Session Events

// MasterContextChanged is raised when a session pins or clears its master topic or record
type MasterContextChanged struct {
	BaseEvent
	SessionID      string                  `json:"session_id"`
	MasterTopicID  string                  `json:"master_topic_id,omitempty"`
	Recursive      bool                    `json:"recursive"`
	MasterRecord   *valueobjects.RecordRef `json:"master_record,omitempty"`
	ShowOnlyLinked bool                    `json:"show_only_linked"`
}

// NewMasterContextChanged creates a MasterContextChanged event
func NewMasterContextChanged(sessionID, topicID string, recursive bool, record *valueobjects.RecordRef, showOnlyLinked bool, timestamp time.Time) MasterContextChanged {
	return MasterContextChanged{
		BaseEvent:      newBase(sessionID, TypeMasterContextChanged, timestamp),
		SessionID:      sessionID,
		MasterTopicID:  topicID,
		Recursive:      recursive,
		MasterRecord:   record,
		ShowOnlyLinked: showOnlyLinked,
	}
}

// SessionEnded is raised when the last client connection of a session goes away
type SessionEnded struct {
	BaseEvent
	SessionID string `json:"session_id"`
}

// NewSessionEnded creates a SessionEnded event
func NewSessionEnded(sessionID string, timestamp time.Time) SessionEnded {
	return SessionEnded{
		BaseEvent: newBase(sessionID, TypeSessionEnded, timestamp),
		SessionID: sessionID,
	}
}
