// Package linkmanager implements the per-record link editing state machine:
// create, edit, relink and unlink of one link at a time, with confirmation
// gating and a single in-flight mutation per session.
package linkmanager

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/demonfiddler/evidence-engine-sub000/application/ports"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/entities"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/registry"
	vo "github.com/demonfiddler/evidence-engine-sub000/domain/core/valueobjects"
	domainservices "github.com/demonfiddler/evidence-engine-sub000/domain/services"
	"github.com/demonfiddler/evidence-engine-sub000/pkg/auth"
	pkgerrors "github.com/demonfiddler/evidence-engine-sub000/pkg/errors"
)

// State of a link-manager session
type State string

const (
	StateView   State = "view"
	StateCreate State = "create"
	StateEdit   State = "edit"
)

// Confirmation prompts
const (
	PromptDiscardCreate = "Discard the locations entered for the new link?"
	PromptDiscardEdit   = "Discard changes to the link locations?"
	PromptRelink        = "Relink to the selected record? The locations in the other record are kept unchanged and may no longer be accurate."
	PromptUnlink        = "Delete the selected link?"
)

// LinkGateway is the subset of the link service the controller drives.
type LinkGateway interface {
	LinkDirection(a, b vo.EntityKind) (registry.Direction, error)
	CreateLinkBetween(ctx context.Context, this, other vo.RecordRef, thisLocations, otherLocations, userID string) (*entities.EntityLink, error)
	UpdateLink(ctx context.Context, in entities.LinkInput, userID string) (*entities.EntityLink, error)
	DeleteLink(ctx context.Context, id, userID string) error
	ReadLinksForRecord(ctx context.Context, ref vo.RecordRef) (domainservices.Resolution, error)
	ResolveOne(ref vo.RecordRef, link *entities.EntityLink) (entities.RecordLink, bool)
}

// View is a snapshot of a session, safe to serialise
type View struct {
	SessionID      string                `json:"sessionId"`
	Record         vo.RecordRef          `json:"record"`
	State          State                 `json:"state"`
	Candidate      *vo.RecordRef         `json:"candidate,omitempty"`
	SelectedLink   *entities.RecordLink  `json:"selectedLink,omitempty"`
	ThisLocations  string                `json:"thisLocations"`
	OtherLocations string                `json:"otherLocations"`
	Busy           bool                  `json:"busy"`
	Links          []entities.RecordLink `json:"links"`
}

// Session is the controller for one record. Every exported method either
// advances the state or returns an error and leaves the state untouched.
type Session struct {
	mu sync.Mutex

	id      string
	record  vo.RecordRef
	userID  string
	links   LinkGateway
	authz   ports.Authorizer
	timeout time.Duration
	logger  *zap.Logger

	state          State
	candidate      *vo.RecordRef
	selected       *entities.RecordLink
	thisLocations  string
	otherLocations string
	busy           bool
	current        []entities.RecordLink
	lastActive     time.Time
}

func newSession(id string, record vo.RecordRef, userID string, links LinkGateway, authz ports.Authorizer, timeout time.Duration, logger *zap.Logger) *Session {
	return &Session{
		id:         id,
		record:     record,
		userID:     userID,
		links:      links,
		authz:      authz,
		timeout:    timeout,
		logger:     logger,
		state:      StateView,
		current:    []entities.RecordLink{},
		lastActive: time.Now(),
	}
}

// ID returns the session id
func (s *Session) ID() string {
	return s.id
}

// Record returns the anchor record
func (s *Session) Record() vo.RecordRef {
	return s.record
}

// View returns a snapshot of the session
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Session) viewLocked() View {
	v := View{
		SessionID:      s.id,
		Record:         s.record,
		State:          s.state,
		ThisLocations:  s.thisLocations,
		OtherLocations: s.otherLocations,
		Busy:           s.busy,
		Links:          append([]entities.RecordLink(nil), s.current...),
	}
	if s.candidate != nil {
		c := *s.candidate
		v.Candidate = &c
	}
	if s.selected != nil {
		l := *s.selected
		v.SelectedLink = &l
	}
	return v
}

// Refresh rereads the record's links from the store
func (s *Session) Refresh(ctx context.Context) (View, error) {
	s.mu.Lock()
	if err := s.guardLocked(); err != nil {
		s.mu.Unlock()
		return View{}, err
	}
	s.mu.Unlock()

	res, err := s.links.ReadLinksForRecord(ctx, s.record)
	if err != nil {
		return View{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyLinksLocked(res.Links)
	return s.viewLocked(), nil
}

// SelectCandidate chooses the other record for Link or Relink.
func (s *Session) SelectCandidate(other *vo.RecordRef) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guardLocked(); err != nil {
		return View{}, err
	}
	if s.state != StateView {
		return View{}, pkgerrors.InvalidTransition("select-candidate", string(s.state), "finish or cancel the current edit first")
	}
	if other == nil || other.IsZero() {
		s.candidate = nil
		return s.viewLocked(), nil
	}
	if _, err := s.links.LinkDirection(s.record.Kind, other.Kind); err != nil {
		return View{}, err
	}
	if other.ID == s.record.ID {
		return View{}, pkgerrors.SelfLink(other.ID)
	}
	c := *other
	s.candidate = &c
	return s.viewLocked(), nil
}

// SelectLink selects one of the record's existing links; an empty id clears the selection.
func (s *Session) SelectLink(linkID string) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guardLocked(); err != nil {
		return View{}, err
	}
	if s.state != StateView {
		return View{}, pkgerrors.InvalidTransition("select-link", string(s.state), "finish or cancel the current edit first")
	}
	if linkID == "" {
		s.selectLocked(nil)
		return s.viewLocked(), nil
	}
	for i := range s.current {
		if s.current[i].ID == linkID {
			l := s.current[i]
			s.selectLocked(&l)
			return s.viewLocked(), nil
		}
	}
	return View{}, pkgerrors.LinkNotFound(linkID)
}

// Link enters create mode for the selected candidate.
func (s *Session) Link(ctx context.Context) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guardLocked(); err != nil {
		return View{}, err
	}
	if !s.authz.HasAuthority(ctx, auth.AuthorityLink) {
		return View{}, pkgerrors.NotAuthorized(auth.AuthorityLink)
	}
	if s.state != StateView {
		return View{}, pkgerrors.InvalidTransition("link", string(s.state), "already editing a link")
	}
	if s.candidate == nil {
		return View{}, pkgerrors.InvalidTransition("link", string(s.state), "no record selected to link to")
	}
	if _, linked := domainservices.FindByOther(s.current, *s.candidate); linked {
		return View{}, pkgerrors.DuplicateLink(s.record.String(), s.candidate.String())
	}

	s.selected = nil
	s.thisLocations, s.otherLocations = "", ""
	s.state = StateCreate
	return s.viewLocked(), nil
}

// Edit enters edit mode for the selected link. Without a selection it does nothing.
func (s *Session) Edit(ctx context.Context) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guardLocked(); err != nil {
		return View{}, err
	}
	if s.state != StateView || s.selected == nil {
		return s.viewLocked(), nil
	}
	if !s.authz.HasAuthority(ctx, auth.AuthorityLink) {
		return View{}, pkgerrors.NotAuthorized(auth.AuthorityLink)
	}
	if s.selected.IsDeleted() {
		return View{}, pkgerrors.InvalidTransition("edit", string(s.state), "the selected link has been deleted")
	}
	s.state = StateEdit
	return s.viewLocked(), nil
}

// SetLocations updates the unsaved location fields in create or edit mode.
func (s *Session) SetLocations(thisLocations, otherLocations string) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guardLocked(); err != nil {
		return View{}, err
	}
	if s.state == StateView {
		return View{}, pkgerrors.InvalidTransition("set-locations", string(s.state), "locations can only be changed while creating or editing")
	}
	s.thisLocations, s.otherLocations = thisLocations, otherLocations
	return s.viewLocked(), nil
}

// Save persists the pending create or edit and returns to view.
func (s *Session) Save(ctx context.Context) (View, error) {
	s.mu.Lock()
	if err := s.guardLocked(); err != nil {
		s.mu.Unlock()
		return View{}, err
	}

	switch s.state {
	case StateCreate:
		if s.candidate == nil {
			s.mu.Unlock()
			return View{}, pkgerrors.InvalidTransition("save", string(s.state), "no record selected to link to")
		}
		other, thisLoc, otherLoc := *s.candidate, s.thisLocations, s.otherLocations
		return s.mutate(ctx, "save", func(ctx context.Context) (*entities.EntityLink, error) {
			return s.links.CreateLinkBetween(ctx, s.record, other, thisLoc, otherLoc, s.userID)
		}, func(link *entities.EntityLink) {
			s.candidate = nil
			s.state = StateView
		})

	case StateEdit:
		if s.selected == nil {
			s.mu.Unlock()
			return View{}, pkgerrors.InvalidTransition("save", string(StateEdit), "the link being edited no longer exists")
		}
		if !s.dirtyLocked() {
			s.state = StateView
			defer s.mu.Unlock()
			return s.viewLocked(), nil
		}
		in := s.selected.ToInput()
		if s.selected.ThisRecordIsToEntity {
			in.ToLocations, in.FromLocations = s.thisLocations, s.otherLocations
		} else {
			in.FromLocations, in.ToLocations = s.thisLocations, s.otherLocations
		}
		return s.mutate(ctx, "save", func(ctx context.Context) (*entities.EntityLink, error) {
			return s.links.UpdateLink(ctx, in, s.userID)
		}, func(*entities.EntityLink) {
			s.state = StateView
		})
	}

	state := s.state
	s.mu.Unlock()
	return View{}, pkgerrors.InvalidTransition("save", string(state), "nothing to save")
}

// Cancel discards unsaved edits. Unsaved location changes need confirmed.
func (s *Session) Cancel(confirmed bool) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guardLocked(); err != nil {
		return View{}, err
	}

	switch s.state {
	case StateCreate:
		if s.dirtyLocked() && !confirmed {
			return View{}, pkgerrors.ConfirmationRequired("cancel", PromptDiscardCreate)
		}
	case StateEdit:
		if s.selected != nil && s.dirtyLocked() && !confirmed {
			return View{}, pkgerrors.ConfirmationRequired("cancel", PromptDiscardEdit)
		}
	default:
		return s.viewLocked(), nil
	}

	s.state = StateView
	s.restoreLocationsLocked()
	return s.viewLocked(), nil
}

// Relink moves the other end of the selected link to the candidate, keeping
// the link id and its stored orientation.
func (s *Session) Relink(ctx context.Context, confirmed bool) (View, error) {
	s.mu.Lock()
	if err := s.guardLocked(); err != nil {
		s.mu.Unlock()
		return View{}, err
	}
	in, err := s.relinkInputLocked(ctx)
	if err != nil {
		s.mu.Unlock()
		return View{}, err
	}
	if !confirmed {
		s.mu.Unlock()
		return View{}, pkgerrors.ConfirmationRequired("relink", PromptRelink)
	}

	return s.mutate(ctx, "relink", func(ctx context.Context) (*entities.EntityLink, error) {
		return s.links.UpdateLink(ctx, in, s.userID)
	}, func(*entities.EntityLink) {
		s.candidate = nil
	})
}

func (s *Session) relinkInputLocked(ctx context.Context) (entities.LinkInput, error) {
	if !s.authz.HasAuthority(ctx, auth.AuthorityLink) {
		return entities.LinkInput{}, pkgerrors.NotAuthorized(auth.AuthorityLink)
	}
	if s.state != StateView {
		return entities.LinkInput{}, pkgerrors.InvalidTransition("relink", string(s.state), "finish or cancel the current edit first")
	}
	if s.selected == nil {
		return entities.LinkInput{}, pkgerrors.InvalidTransition("relink", string(s.state), "no link selected")
	}
	if s.selected.IsDeleted() {
		return entities.LinkInput{}, pkgerrors.InvalidTransition("relink", string(s.state), "the selected link has been deleted")
	}
	if s.candidate == nil {
		return entities.LinkInput{}, pkgerrors.InvalidTransition("relink", string(s.state), "no record selected to relink to")
	}
	target := *s.candidate
	if target.Equals(s.selected.Other()) {
		return entities.LinkInput{}, pkgerrors.InvalidTransition("relink", string(s.state), "the link already points at the selected record")
	}
	if _, linked := domainservices.FindByOther(s.current, target); linked {
		return entities.LinkInput{}, pkgerrors.DuplicateLink(s.record.String(), target.String())
	}

	dir, err := s.links.LinkDirection(s.record.Kind, target.Kind)
	if err != nil {
		return entities.LinkInput{}, err
	}
	if dir.ThisIsFromWhenKindIs(s.record.Kind) == s.selected.ThisRecordIsToEntity {
		return entities.LinkInput{}, pkgerrors.InvalidTransition("relink", string(s.state),
			"a "+target.Kind.Name()+" record cannot take the place of a "+s.selected.OtherRecordKind.Name()+" record in this link")
	}

	in := s.selected.ToInput()
	if s.selected.ThisRecordIsToEntity {
		in.From = target
	} else {
		in.To = target
	}
	return in, nil
}

// Unlink deletes the selected link after confirmation.
func (s *Session) Unlink(ctx context.Context, confirmed bool) (View, error) {
	s.mu.Lock()
	if err := s.guardLocked(); err != nil {
		s.mu.Unlock()
		return View{}, err
	}
	if !s.authz.HasAuthority(ctx, auth.AuthorityLink) {
		s.mu.Unlock()
		return View{}, pkgerrors.NotAuthorized(auth.AuthorityLink)
	}
	if s.state != StateView || s.selected == nil || s.selected.IsDeleted() {
		state := s.state
		s.mu.Unlock()
		return View{}, pkgerrors.InvalidTransition("unlink", string(state), "select a live link first")
	}
	if !confirmed {
		s.mu.Unlock()
		return View{}, pkgerrors.ConfirmationRequired("unlink", PromptUnlink)
	}

	id := s.selected.ID
	return s.mutate(ctx, "unlink", func(ctx context.Context) (*entities.EntityLink, error) {
		return nil, s.links.DeleteLink(ctx, id, s.userID)
	}, nil)
}

// mutate runs one store round trip with the session marked busy. It must be
// entered with s.mu held and releases it. On failure nothing but the busy
// flag changes; on success onSuccess runs, the link list is refreshed and
// the returned link, if any, becomes the selection.
func (s *Session) mutate(ctx context.Context, action string, call func(context.Context) (*entities.EntityLink, error), onSuccess func(*entities.EntityLink)) (View, error) {
	s.busy = true
	s.mu.Unlock()

	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	link, err := call(callCtx)
	var refreshed []entities.RecordLink
	var refreshErr error
	if err == nil {
		var res domainservices.Resolution
		res, refreshErr = s.links.ReadLinksForRecord(ctx, s.record)
		refreshed = res.Links
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	s.lastActive = time.Now()

	if err != nil {
		s.logger.Info("Link operation failed",
			zap.String("sessionID", s.id),
			zap.String("action", action),
			zap.String("state", string(s.state)),
			zap.Error(err),
		)
		return View{}, err
	}

	if onSuccess != nil {
		onSuccess(link)
	}
	if refreshErr != nil {
		s.logger.Warn("Failed to refresh links after mutation", zap.String("sessionID", s.id), zap.Error(refreshErr))
	} else {
		s.applyLinksLocked(refreshed)
	}

	switch {
	case link != nil:
		if rl, ok := s.findLocked(link.ID); ok {
			s.selectLocked(&rl)
		} else if rl, ok := s.links.ResolveOne(s.record, link); ok {
			s.selectLocked(&rl)
		}
	case action == "unlink":
		s.selectLocked(nil)
	}

	s.logger.Debug("Link operation completed",
		zap.String("sessionID", s.id),
		zap.String("action", action),
		zap.String("recordID", s.record.ID),
	)
	return s.viewLocked(), nil
}

func (s *Session) guardLocked() error {
	if s.busy {
		return pkgerrors.MutationInFlight(s.id)
	}
	s.lastActive = time.Now()
	return nil
}

func (s *Session) applyLinksLocked(links []entities.RecordLink) {
	if links == nil {
		links = []entities.RecordLink{}
	}
	s.current = links
	if s.selected == nil {
		return
	}
	if rl, ok := s.findLocked(s.selected.ID); ok {
		s.selected = &rl
		if s.state == StateView {
			s.restoreLocationsLocked()
		}
		return
	}
	// the link was moved away or purged elsewhere; an edit of it is void
	if s.state == StateEdit {
		s.state = StateView
	}
	s.selectLocked(nil)
}

func (s *Session) findLocked(id string) (entities.RecordLink, bool) {
	for _, l := range s.current {
		if l.ID == id {
			return l, true
		}
	}
	return entities.RecordLink{}, false
}

func (s *Session) selectLocked(link *entities.RecordLink) {
	s.selected = link
	s.restoreLocationsLocked()
}

func (s *Session) restoreLocationsLocked() {
	if s.selected == nil {
		s.thisLocations, s.otherLocations = "", ""
		return
	}
	s.thisLocations, s.otherLocations = s.selected.ThisLocations, s.selected.OtherLocations
}

// dirtyLocked compares the location fields with their initial values:
// empty in create mode, the selected link's in edit mode.
func (s *Session) dirtyLocked() bool {
	if s.state == StateCreate || s.selected == nil {
		return s.thisLocations != "" || s.otherLocations != ""
	}
	return s.thisLocations != s.selected.ThisLocations || s.otherLocations != s.selected.OtherLocations
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return time.Now()
	}
	return s.lastActive
}
