package mastercontext

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/demonfiddler/evidence-engine-sub000/application/ports"
	"github.com/demonfiddler/evidence-engine-sub000/domain/config"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/registry"
)

type entry struct {
	propagator *Propagator
	lastActive time.Time
}

// Store keeps one Propagator per client session. A context lives until its
// session ends or stays idle past the session timeout; Reset is the explicit
// "clear settings" action.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*entry
	idle     time.Duration
	now      func() time.Time

	registry  *registry.Registry
	notifier  ports.ClientNotifier
	publisher ports.EventPublisher
	logger    *zap.Logger
}

// NewStore creates a session store. cfg supplies the idle timeout and may be nil.
func NewStore(reg *registry.Registry, notifier ports.ClientNotifier, publisher ports.EventPublisher, cfg *config.DomainConfig, logger *zap.Logger) *Store {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	return &Store{
		sessions:  make(map[string]*entry),
		idle:      cfg.SessionTimeout,
		now:       time.Now,
		registry:  reg,
		notifier:  notifier,
		publisher: publisher,
		logger:    logger,
	}
}

// Session returns the propagator of sessionID, creating an empty one on first use
func (s *Store) Session(sessionID string) *Propagator {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[sessionID]
	if !ok {
		e = &entry{propagator: NewPropagator(sessionID, s.registry, s.notifier, s.publisher, s.logger)}
		s.sessions[sessionID] = e
	}
	e.lastActive = s.now()
	return e.propagator
}

// Drop forgets a session entirely
func (s *Store) Drop(sessionID string) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
}

// EndSession drops a session whose last client went away
func (s *Store) EndSession(ctx context.Context, sessionID string) error {
	s.Drop(sessionID)
	s.logger.Debug("Master context session ended", zap.String("sessionID", sessionID))
	return nil
}

// Len returns the number of live sessions
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep drops sessions not used since before now minus the idle timeout and
// returns how many were dropped.
func (s *Store) Sweep(now time.Time) int {
	if s.idle <= 0 {
		return 0
	}
	cutoff := now.Add(-s.idle)

	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := 0
	for id, e := range s.sessions {
		if e.lastActive.Before(cutoff) {
			delete(s.sessions, id)
			dropped++
		}
	}
	if dropped > 0 {
		s.logger.Debug("Expired master context sessions", zap.Int("count", dropped))
	}
	return dropped
}

// Run sweeps idle sessions until ctx is done
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Sweep(now)
		}
	}
}
