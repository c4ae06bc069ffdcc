package ports

import (
	"context"

	"github.com/demonfiddler/evidence-engine-sub000/domain/core/entities"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/valueobjects"
	"github.com/demonfiddler/evidence-engine-sub000/domain/events"
)

// LinkStore is the backend of record for links.
// This is a port in hexagonal architecture - the domain doesn't know about the implementation
type LinkStore interface {
	// CreateLink stores a new link. It rejects a second non-deleted link
	// between the same ordered endpoints with a duplicate-link error.
	CreateLink(ctx context.Context, in entities.LinkInput, userID string) (*entities.EntityLink, error)

	// UpdateLink rewrites the endpoints and locations of link in.ID
	UpdateLink(ctx context.Context, in entities.LinkInput, userID string) (*entities.EntityLink, error)

	// DeleteLink marks the link Deleted
	DeleteLink(ctx context.Context, id string, userID string) error

	// GetLink retrieves a link by its ID
	GetLink(ctx context.Context, id string) (*entities.EntityLink, error)

	// ReadLinksForRecord returns the record's outbound and inbound links
	ReadLinksForRecord(ctx context.Context, ref valueobjects.RecordRef) (entities.RecordLinks, error)
}

// RecordRepository persists tracked records
type RecordRepository interface {
	// Save persists a record (create or update)
	Save(ctx context.Context, record *entities.TrackedRecord) error

	// GetByID retrieves a record by id; ids are unique across kinds
	GetByID(ctx context.Context, id string) (*entities.TrackedRecord, error)

	// List returns records of one kind matching the criteria
	List(ctx context.Context, criteria RecordCriteria) ([]*entities.TrackedRecord, error)

	// Labels resolves display labels; unknown ids are omitted
	Labels(ctx context.Context, ids []string) (map[string]string, error)
}

// RecordCriteria defines list parameters
type RecordCriteria struct {
	Kind     valueobjects.EntityKind
	IDs      []string
	Statuses []valueobjects.StatusKind
	Text     string
	Limit    int
	Offset   int
}

// ConnectionRegistry tracks WebSocket connections per session
type ConnectionRegistry interface {
	// Register associates a connection with a user session
	Register(ctx context.Context, connectionID, userID, sessionID string) error

	// Unregister removes a connection and returns the session it belonged
	// to, or empty when the connection was unknown
	Unregister(ctx context.Context, connectionID string) (string, error)

	// ConnectionsForSession lists the live connections of a session
	ConnectionsForSession(ctx context.Context, sessionID string) ([]string, error)
}

// ClientNotifier pushes messages to a session's connected clients
type ClientNotifier interface {
	Notify(ctx context.Context, sessionID string, message interface{}) error
}

// Authorizer answers capability checks for the caller in ctx
type Authorizer interface {
	HasAuthority(ctx context.Context, code string) bool
}

// EventPublisher defines the interface for publishing domain events
type EventPublisher interface {
	// Publish sends a single event
	Publish(ctx context.Context, event events.DomainEvent) error

	// PublishBatch sends multiple events
	PublishBatch(ctx context.Context, events []events.DomainEvent) error
}

// MetricsRecorder receives domain-level counters
type MetricsRecorder interface {
	LinkMutation(op, outcome string)
	AuditComputed(kind string, pass bool)
	LinkAnomaly(reason string)
}
