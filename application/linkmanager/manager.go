package linkmanager

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/demonfiddler/evidence-engine-sub000/application/ports"
	"github.com/demonfiddler/evidence-engine-sub000/domain/config"
	vo "github.com/demonfiddler/evidence-engine-sub000/domain/core/valueobjects"
	pkgerrors "github.com/demonfiddler/evidence-engine-sub000/pkg/errors"
)

// Action names accepted by Apply
const (
	ActionSelectCandidate = "select-candidate"
	ActionSelectLink      = "select-link"
	ActionLink            = "link"
	ActionEdit            = "edit"
	ActionSave            = "save"
	ActionCancel          = "cancel"
	ActionRelink          = "relink"
	ActionUnlink          = "unlink"
	ActionSetLocations    = "set-locations"
	ActionRefresh         = "refresh"
)

// Request carries the parameters of one transition
type Request struct {
	Candidate      *vo.RecordRef `json:"candidate,omitempty"`
	LinkID         string        `json:"linkId,omitempty"`
	ThisLocations  string        `json:"thisLocations"`
	OtherLocations string        `json:"otherLocations"`
	Confirmed      bool          `json:"confirmed"`
}

// Manager owns the open sessions. Sessions idle longer than the configured
// timeout are dropped by Sweep.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	links   LinkGateway
	authz   ports.Authorizer
	idle    time.Duration
	timeout time.Duration
	logger  *zap.Logger
}

// NewManager creates a session manager
func NewManager(links LinkGateway, authz ports.Authorizer, cfg *config.DomainConfig, logger *zap.Logger) *Manager {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		links:    links,
		authz:    authz,
		idle:     cfg.SessionTimeout,
		timeout:  cfg.MutationTimeout,
		logger:   logger,
	}
}

// Open starts a session on record and loads its links.
func (m *Manager) Open(ctx context.Context, record vo.RecordRef, userID string) (*Session, error) {
	if !record.Kind.IsLinkable() {
		return nil, pkgerrors.NewValidationError("records of kind " + record.Kind.Name() + " cannot have links")
	}
	if record.ID == "" {
		return nil, pkgerrors.NewValidationError("record id is required")
	}

	s := newSession(uuid.NewString(), record, userID, m.links, m.authz, m.timeout, m.logger)
	if _, err := s.Refresh(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	m.logger.Debug("Link session opened",
		zap.String("sessionID", s.id),
		zap.String("recordID", record.ID),
		zap.String("kind", record.Kind.String()),
		zap.String("userID", userID),
	)
	return s, nil
}

// Get returns an open session of userID. Sessions are private to the user
// who opened them.
func (m *Manager) Get(id, userID string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, pkgerrors.SessionNotFound(id)
	}
	if s.userID != userID {
		return nil, pkgerrors.NotSessionOwner(id)
	}
	return s, nil
}

// Close drops a session of userID. Closing an unknown session is not an error.
func (m *Manager) Close(id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil
	}
	if s.userID != userID {
		return pkgerrors.NotSessionOwner(id)
	}
	delete(m.sessions, id)
	return nil
}

// Len returns the number of open sessions
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Apply runs one named transition on session id on behalf of userID.
func (m *Manager) Apply(ctx context.Context, id, userID, action string, req Request) (View, error) {
	s, err := m.Get(id, userID)
	if err != nil {
		return View{}, err
	}

	switch action {
	case ActionSelectCandidate:
		return s.SelectCandidate(req.Candidate)
	case ActionSelectLink:
		return s.SelectLink(req.LinkID)
	case ActionLink:
		return s.Link(ctx)
	case ActionEdit:
		return s.Edit(ctx)
	case ActionSave:
		return s.Save(ctx)
	case ActionCancel:
		return s.Cancel(req.Confirmed)
	case ActionRelink:
		return s.Relink(ctx, req.Confirmed)
	case ActionUnlink:
		return s.Unlink(ctx, req.Confirmed)
	case ActionSetLocations:
		return s.SetLocations(req.ThisLocations, req.OtherLocations)
	case ActionRefresh:
		return s.Refresh(ctx)
	}
	return View{}, pkgerrors.NewValidationError("unknown link-manager action: " + action)
}

// Sweep closes sessions idle since before now minus the idle timeout and
// returns how many were closed.
func (m *Manager) Sweep(now time.Time) int {
	if m.idle <= 0 {
		return 0
	}
	cutoff := now.Add(-m.idle)

	m.mu.Lock()
	defer m.mu.Unlock()
	closed := 0
	for id, s := range m.sessions {
		if s.idleSince().Before(cutoff) {
			delete(m.sessions, id)
			closed++
		}
	}
	if closed > 0 {
		m.logger.Debug("Expired link sessions", zap.Int("count", closed))
	}
	return closed
}

// Run sweeps expired sessions until ctx is done
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Sweep(now)
		}
	}
}
