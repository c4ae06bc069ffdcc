package mastercontext

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/demonfiddler/evidence-engine-sub000/application/ports"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/entities"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/registry"
	vo "github.com/demonfiddler/evidence-engine-sub000/domain/core/valueobjects"
	"github.com/demonfiddler/evidence-engine-sub000/domain/events"
)

// MessageTypeFilters tags pushed filter updates
const MessageTypeFilters = "masterFilters"

// FilterUpdate is delivered to listeners and connected clients whenever the
// context or the set of visible lists changes.
type FilterUpdate struct {
	Type      string                                               `json:"type"`
	SessionID string                                               `json:"sessionId"`
	Seq       uint64                                               `json:"seq"`
	Context   MasterContext                                        `json:"context"`
	Filters   map[vo.EntityKind]entities.LinkableEntityQueryFilter `json:"filters"`
}

// Listener receives filter updates in Seq order. It runs synchronously, must
// not block and must not call back into the propagator.
type Listener func(FilterUpdate)

// Propagator holds one session's master context and re-derives the filters
// of every visible linkable list on each change.
type Propagator struct {
	mu        sync.Mutex
	seq       uint64
	sessionID string
	current   MasterContext
	visible   map[vo.EntityKind]struct{}
	listeners map[int]Listener
	nextID    int

	// pushMu orders deliveries; pushed is the last Seq delivered
	pushMu sync.Mutex
	pushed uint64

	registry  *registry.Registry
	notifier  ports.ClientNotifier
	publisher ports.EventPublisher
	logger    *zap.Logger
}

// NewPropagator creates a propagator with an empty context. notifier and
// publisher may be nil.
func NewPropagator(sessionID string, reg *registry.Registry, notifier ports.ClientNotifier, publisher ports.EventPublisher, logger *zap.Logger) *Propagator {
	return &Propagator{
		sessionID: sessionID,
		visible:   make(map[vo.EntityKind]struct{}),
		listeners: make(map[int]Listener),
		registry:  reg,
		notifier:  notifier,
		publisher: publisher,
		logger:    logger,
	}
}

// SessionID returns the owning session
func (p *Propagator) SessionID() string {
	return p.sessionID
}

// Context returns the current snapshot
func (p *Propagator) Context() MasterContext {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Filter derives the filter for kind from the current snapshot
func (p *Propagator) Filter(kind vo.EntityKind) entities.LinkableEntityQueryFilter {
	return DeriveMasterFilter(kind, p.Context(), p.registry)
}

// VisibleKinds lists the visible linkable kinds in a stable order
func (p *Propagator) VisibleKinds() []vo.EntityKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visibleLocked()
}

// Subscribe registers a listener and returns its cancel function
func (p *Propagator) Subscribe(l Listener) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = l
	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// Update applies fn to the snapshot. When the result differs, filters are
// re-derived for every visible list and propagated. It reports whether
// anything changed.
func (p *Propagator) Update(ctx context.Context, fn func(MasterContext) MasterContext) (MasterContext, bool) {
	p.mu.Lock()
	next := fn(p.current)
	if next == p.current {
		p.mu.Unlock()
		return next, false
	}
	p.current = next
	p.seq++
	update := p.updateLocked()
	listeners := p.listenersLocked()
	p.mu.Unlock()

	p.propagate(ctx, update, listeners)
	p.publishChange(ctx, next)
	return next, true
}

// SetTopic pins or clears the master topic
func (p *Propagator) SetTopic(ctx context.Context, topicID string, recursive bool) MasterContext {
	c, _ := p.Update(ctx, func(c MasterContext) MasterContext { return c.WithTopic(topicID, recursive) })
	return c
}

// SetRecord pins or clears the master record
func (p *Propagator) SetRecord(ctx context.Context, ref vo.RecordRef, label string) MasterContext {
	c, _ := p.Update(ctx, func(c MasterContext) MasterContext { return c.WithRecord(ref, label) })
	return c
}

// SetShowOnlyLinked toggles filtering
func (p *Propagator) SetShowOnlyLinked(ctx context.Context, on bool) MasterContext {
	c, _ := p.Update(ctx, func(c MasterContext) MasterContext { return c.WithShowOnlyLinked(on) })
	return c
}

// Replace swaps in a whole snapshot
func (p *Propagator) Replace(ctx context.Context, next MasterContext) MasterContext {
	c, _ := p.Update(ctx, func(MasterContext) MasterContext { return next })
	return c
}

// Clear resets the context to its empty defaults
func (p *Propagator) Clear(ctx context.Context) MasterContext {
	return p.Replace(ctx, MasterContext{})
}

// SetVisibleKinds declares which lists are on screen. Non-linkable kinds are
// ignored. Filters are pushed for the new set.
func (p *Propagator) SetVisibleKinds(ctx context.Context, kinds []vo.EntityKind) FilterUpdate {
	p.mu.Lock()
	p.visible = make(map[vo.EntityKind]struct{}, len(kinds))
	for _, k := range kinds {
		if k.IsLinkable() {
			p.visible[k] = struct{}{}
		}
	}
	p.seq++
	update := p.updateLocked()
	listeners := p.listenersLocked()
	p.mu.Unlock()

	p.propagate(ctx, update, listeners)
	return update
}

// Snapshot returns the current filters for the visible lists without pushing them
func (p *Propagator) Snapshot() FilterUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.updateLocked()
}

func (p *Propagator) updateLocked() FilterUpdate {
	filters := make(map[vo.EntityKind]entities.LinkableEntityQueryFilter, len(p.visible))
	for k := range p.visible {
		filters[k] = DeriveMasterFilter(k, p.current, p.registry)
	}
	return FilterUpdate{
		Type:      MessageTypeFilters,
		SessionID: p.sessionID,
		Seq:       p.seq,
		Context:   p.current,
		Filters:   filters,
	}
}

func (p *Propagator) visibleLocked() []vo.EntityKind {
	out := make([]vo.EntityKind, 0, len(p.visible))
	for k := range p.visible {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (p *Propagator) listenersLocked() []Listener {
	ids := make([]int, 0, len(p.listeners))
	for id := range p.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]Listener, 0, len(ids))
	for _, id := range ids {
		out = append(out, p.listeners[id])
	}
	return out
}

// propagate delivers update unless a newer one was delivered already, so the
// last filters pushed always match the current context.
func (p *Propagator) propagate(ctx context.Context, update FilterUpdate, listeners []Listener) {
	p.pushMu.Lock()
	defer p.pushMu.Unlock()
	if update.Seq <= p.pushed {
		p.logger.Debug("Skipping superseded filter update",
			zap.String("sessionID", p.sessionID),
			zap.Uint64("seq", update.Seq),
		)
		return
	}
	p.pushed = update.Seq

	for _, l := range listeners {
		l(update)
	}
	if p.notifier == nil || len(update.Filters) == 0 {
		return
	}
	if err := p.notifier.Notify(ctx, p.sessionID, update); err != nil {
		p.logger.Warn("Failed to push master filters",
			zap.String("sessionID", p.sessionID),
			zap.Error(err),
		)
	}
}

func (p *Propagator) publishChange(ctx context.Context, c MasterContext) {
	if p.publisher == nil {
		return
	}
	var record *vo.RecordRef
	if ref, ok := c.MasterRecord(); ok {
		record = &ref
	}
	event := events.NewMasterContextChanged(p.sessionID, c.MasterTopicID, c.MasterTopicRecursive, record, c.ShowOnlyLinkedRecords, time.Now())
	if err := p.publisher.Publish(ctx, event); err != nil {
		p.logger.Warn("Failed to publish master context change", zap.String("sessionID", p.sessionID), zap.Error(err))
	}
}
