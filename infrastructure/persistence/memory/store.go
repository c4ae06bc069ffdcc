// Package memory provides process-local implementations of the persistence
// ports. It backs tests, the CLI demo mode and single-instance development.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/demonfiddler/evidence-engine-sub000/application/ports"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/entities"
	vo "github.com/demonfiddler/evidence-engine-sub000/domain/core/valueobjects"
	pkgerrors "github.com/demonfiddler/evidence-engine-sub000/pkg/errors"
)

// Store implements LinkStore, RecordRepository and ConnectionRegistry.
type Store struct {
	mu          sync.RWMutex
	links       map[string]*entities.EntityLink
	records     map[string]entities.RecordSnapshot
	connections map[string]connection
	now         func() time.Time
}

type connection struct {
	userID    string
	sessionID string
}

var (
	_ ports.LinkStore          = (*Store)(nil)
	_ ports.RecordRepository   = (*Store)(nil)
	_ ports.ConnectionRegistry = (*Store)(nil)
)

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		links:       make(map[string]*entities.EntityLink),
		records:     make(map[string]entities.RecordSnapshot),
		connections: make(map[string]connection),
		now:         time.Now,
	}
}

// CreateLink stores a new Draft link
func (s *Store) CreateLink(ctx context.Context, in entities.LinkInput, userID string) (*entities.EntityLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dup := s.findLive(in.From, in.To, ""); dup != nil {
		return nil, pkgerrors.DuplicateLink(in.From.String(), in.To.String())
	}

	link := &entities.EntityLink{
		ID:             uuid.New().String(),
		FromEntityKind: in.From.Kind,
		FromEntityID:   in.From.ID,
		ToEntityKind:   in.To.Kind,
		ToEntityID:     in.To.ID,
		FromLocations:  in.FromLocations,
		ToLocations:    in.ToLocations,
		Status:         vo.StatusDraft,
		CreatedBy:      userID,
		CreatedAt:      s.now(),
	}
	s.links[link.ID] = link
	return link.Clone(), nil
}

// UpdateLink rewrites endpoints and locations of an existing link
func (s *Store) UpdateLink(ctx context.Context, in entities.LinkInput, userID string) (*entities.EntityLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.links[in.ID]
	if !ok {
		return nil, pkgerrors.LinkNotFound(in.ID)
	}
	if link.IsDeleted() {
		return nil, pkgerrors.NewConflictError("link " + in.ID + " has been deleted")
	}
	if dup := s.findLive(in.From, in.To, in.ID); dup != nil {
		return nil, pkgerrors.DuplicateLink(in.From.String(), in.To.String())
	}

	now := s.now()
	link.FromEntityKind, link.FromEntityID = in.From.Kind, in.From.ID
	link.ToEntityKind, link.ToEntityID = in.To.Kind, in.To.ID
	link.FromLocations, link.ToLocations = in.FromLocations, in.ToLocations
	link.UpdatedBy = userID
	link.UpdatedAt = &now
	return link.Clone(), nil
}

// DeleteLink marks a link Deleted
func (s *Store) DeleteLink(ctx context.Context, id string, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.links[id]
	if !ok {
		return pkgerrors.LinkNotFound(id)
	}
	now := s.now()
	link.Status = vo.StatusDeleted
	link.UpdatedBy = userID
	link.UpdatedAt = &now
	return nil
}

// GetLink returns a copy of the link
func (s *Store) GetLink(ctx context.Context, id string) (*entities.EntityLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	link, ok := s.links[id]
	if !ok {
		return nil, pkgerrors.LinkNotFound(id)
	}
	return link.Clone(), nil
}

// ReadLinksForRecord returns links ordered by creation time
func (s *Store) ReadLinksForRecord(ctx context.Context, ref vo.RecordRef) (entities.RecordLinks, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := entities.RecordLinks{
		FromEntityLinks: []*entities.EntityLink{},
		ToEntityLinks:   []*entities.EntityLink{},
	}
	for _, l := range s.links {
		if l.From().Equals(ref) {
			out.FromEntityLinks = append(out.FromEntityLinks, l.Clone())
		}
		if l.To().Equals(ref) {
			out.ToEntityLinks = append(out.ToEntityLinks, l.Clone())
		}
	}
	sortLinks(out.FromEntityLinks)
	sortLinks(out.ToEntityLinks)
	return out, nil
}

// PutRawLink stores a link as-is, bypassing every check. Used to seed
// fixtures and imported data.
func (s *Store) PutRawLink(link *entities.EntityLink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[link.ID] = link.Clone()
}

func (s *Store) findLive(from, to vo.RecordRef, exceptID string) *entities.EntityLink {
	for id, l := range s.links {
		if id == exceptID || l.IsDeleted() {
			continue
		}
		if l.From().Equals(from) && l.To().Equals(to) {
			return l
		}
	}
	return nil
}

func sortLinks(links []*entities.EntityLink) {
	sort.Slice(links, func(i, j int) bool {
		if links[i].CreatedAt.Equal(links[j].CreatedAt) {
			return links[i].ID < links[j].ID
		}
		return links[i].CreatedAt.Before(links[j].CreatedAt)
	})
}

// Save stores a record snapshot
func (s *Store) Save(ctx context.Context, record *entities.TrackedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID()] = record.Snapshot()
	return nil
}

// GetByID loads a record
func (s *Store) GetByID(ctx context.Context, id string) (*entities.TrackedRecord, error) {
	s.mu.RLock()
	snap, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return nil, pkgerrors.RecordNotFound(id)
	}
	return entities.ReconstructTrackedRecord(snap)
}

// List returns records matching criteria ordered by id
func (s *Store) List(ctx context.Context, criteria ports.RecordCriteria) ([]*entities.TrackedRecord, error) {
	s.mu.RLock()
	matched := make([]entities.RecordSnapshot, 0)
	for _, snap := range s.records {
		if matches(snap, criteria) {
			matched = append(matched, snap)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	matched = page(matched, criteria.Offset, criteria.Limit)

	out := make([]*entities.TrackedRecord, 0, len(matched))
	for _, snap := range matched {
		r, err := entities.ReconstructTrackedRecord(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Labels resolves labels of known ids
func (s *Store) Labels(ctx context.Context, ids []string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		if snap, ok := s.records[id]; ok {
			out[id] = snap.Label
		}
	}
	return out, nil
}

func matches(snap entities.RecordSnapshot, c ports.RecordCriteria) bool {
	if c.Kind != "" && snap.Kind != c.Kind {
		return false
	}
	if c.IDs != nil && !contains(c.IDs, snap.ID) {
		return false
	}
	if len(c.Statuses) > 0 {
		found := false
		for _, st := range c.Statuses {
			if snap.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if c.Text != "" && !strings.Contains(strings.ToLower(snap.Label), strings.ToLower(c.Text)) {
		return false
	}
	return true
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return items[:0]
	}
	if offset > 0 {
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// Register associates a connection with a session
func (s *Store) Register(ctx context.Context, connectionID, userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connections[connectionID] = connection{userID: userID, sessionID: sessionID}
	return nil
}

// Unregister drops a connection
func (s *Store) Unregister(ctx context.Context, connectionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connections[connectionID]
	if !ok {
		return "", nil
	}
	delete(s.connections, connectionID)
	return c.sessionID, nil
}

// ConnectionsForSession lists connection ids of a session
func (s *Store) ConnectionsForSession(ctx context.Context, sessionID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for id, c := range s.connections {
		if c.sessionID == sessionID {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}
