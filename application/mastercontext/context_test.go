package mastercontext

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/demonfiddler/evidence-engine-sub000/domain/config"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/entities"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/registry"
	vo "github.com/demonfiddler/evidence-engine-sub000/domain/core/valueobjects"
	"github.com/demonfiddler/evidence-engine-sub000/domain/events"
)

func TestDeriveMasterFilter(t *testing.T) {
	reg := registry.Default()
	person := vo.RecordRef{Kind: vo.KindPerson, ID: "7"}
	base := MasterContext{}.WithShowOnlyLinked(true)

	tests := []struct {
		name string
		kind vo.EntityKind
		ctx  MasterContext
		want entities.LinkableEntityQueryFilter
	}{
		{
			name: "filtering off",
			kind: vo.KindClaim,
			ctx:  MasterContext{}.WithTopic("5", true),
			want: entities.LinkableEntityQueryFilter{},
		},
		{
			name: "topic only",
			kind: vo.KindClaim,
			ctx:  base.WithTopic("5", true),
			want: entities.LinkableEntityQueryFilter{TopicID: "5", Recursive: true},
		},
		{
			name: "master is the to side",
			kind: vo.KindClaim,
			ctx:  base.WithRecord(person, "Jane"),
			want: entities.LinkableEntityQueryFilter{ToEntityKind: vo.KindPerson, ToEntityID: "7"},
		},
		{
			name: "master is the from side",
			kind: vo.KindPublication,
			ctx:  base.WithRecord(person, "Jane"),
			want: entities.LinkableEntityQueryFilter{FromEntityKind: vo.KindPerson, FromEntityID: "7"},
		},
		{
			name: "master of the list's own kind contributes nothing",
			kind: vo.KindPerson,
			ctx:  base.WithTopic("5", false).WithRecord(person, "Jane"),
			want: entities.LinkableEntityQueryFilter{TopicID: "5"},
		},
		{
			name: "non-linkable list",
			kind: vo.KindJournal,
			ctx:  base.WithTopic("5", false).WithRecord(person, "Jane"),
			want: entities.LinkableEntityQueryFilter{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveMasterFilter(tt.kind, tt.ctx, reg))
		})
	}
}

func TestMasterContext_IsImmutable(t *testing.T) {
	a := MasterContext{}
	b := a.WithTopic("5", true)
	assert.Empty(t, a.MasterTopicID)
	assert.Equal(t, "5", b.MasterTopicID)

	cleared := b.WithTopic("", true)
	assert.False(t, cleared.MasterTopicRecursive)

	r := b.WithRecord(vo.RecordRef{Kind: vo.KindClaim, ID: "1"}, "x").WithRecord(vo.RecordRef{}, "ignored")
	_, ok := r.MasterRecord()
	assert.False(t, ok)
	assert.Empty(t, r.MasterRecordLabel)
}

type captureNotifier struct {
	mu       sync.Mutex
	messages []interface{}
	err      error
}

func (n *captureNotifier) Notify(ctx context.Context, sessionID string, msg interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return n.err
}

type capturePublisher struct {
	events []events.DomainEvent
}

func (p *capturePublisher) Publish(ctx context.Context, e events.DomainEvent) error {
	p.events = append(p.events, e)
	return nil
}

func (p *capturePublisher) PublishBatch(ctx context.Context, es []events.DomainEvent) error {
	p.events = append(p.events, es...)
	return nil
}

func TestPropagator_RederivesVisibleLists(t *testing.T) {
	ctx := context.Background()
	notifier := &captureNotifier{}
	pub := &capturePublisher{}
	p := NewPropagator("s1", registry.Default(), notifier, pub, zap.NewNop())

	var updates []FilterUpdate
	unsubscribe := p.Subscribe(func(u FilterUpdate) { updates = append(updates, u) })

	p.SetVisibleKinds(ctx, []vo.EntityKind{vo.KindClaim, vo.KindPublication, vo.KindUser})
	assert.Equal(t, []vo.EntityKind{vo.KindClaim, vo.KindPublication}, p.VisibleKinds())
	require.Len(t, updates, 1)

	p.SetShowOnlyLinked(ctx, true)
	p.SetRecord(ctx, vo.RecordRef{Kind: vo.KindPerson, ID: "7"}, "Jane")
	require.Len(t, updates, 3)

	last := updates[2]
	assert.Equal(t, "s1", last.SessionID)
	assert.Equal(t, "7", last.Filters[vo.KindClaim].ToEntityID)
	assert.Equal(t, "7", last.Filters[vo.KindPublication].FromEntityID)
	_, hasUser := last.Filters[vo.KindUser]
	assert.False(t, hasUser)

	// unchanged values do not propagate
	p.SetShowOnlyLinked(ctx, true)
	assert.Len(t, updates, 3)
	assert.Len(t, pub.events, 2)
	assert.Len(t, notifier.messages, 3)

	unsubscribe()
	p.Clear(ctx)
	assert.Len(t, updates, 3)
	assert.Equal(t, MasterContext{}, p.Context())
	assert.Equal(t, entities.LinkableEntityQueryFilter{}, p.Filter(vo.KindClaim))
}

func TestPropagator_NotifierFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	notifier := &captureNotifier{err: errors.New("gone")}
	p := NewPropagator("s1", registry.Default(), notifier, nil, zap.NewNop())
	p.SetVisibleKinds(ctx, []vo.EntityKind{vo.KindClaim})

	c := p.SetTopic(ctx, "5", true)
	assert.Equal(t, "5", c.MasterTopicID)
	assert.Equal(t, "5", p.Context().MasterTopicID)
}

func TestStore_SessionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := NewStore(registry.Default(), nil, nil, nil, zap.NewNop())

	s.Session("a").SetTopic(ctx, "5", false)
	assert.Equal(t, "5", s.Session("a").Context().MasterTopicID)
	assert.Empty(t, s.Session("b").Context().MasterTopicID)
	assert.Equal(t, 2, s.Len())

	s.Drop("a")
	assert.Empty(t, s.Session("a").Context().MasterTopicID)
}

func TestStore_SweepDropsIdleSessions(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultDomainConfig()
	cfg.SessionTimeout = time.Hour
	s := NewStore(registry.Default(), nil, nil, cfg, zap.NewNop())

	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return start }
	s.Session("idle").SetTopic(ctx, "5", false)
	s.now = func() time.Time { return start.Add(50 * time.Minute) }
	s.Session("busy").SetTopic(ctx, "6", false)

	assert.Equal(t, 0, s.Sweep(start.Add(59*time.Minute)))
	assert.Equal(t, 1, s.Sweep(start.Add(61*time.Minute)))
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, "6", s.Session("busy").Context().MasterTopicID)
}

func TestStore_EndSessionForgetsContext(t *testing.T) {
	ctx := context.Background()
	s := NewStore(registry.Default(), nil, nil, nil, zap.NewNop())
	s.Session("a").SetTopic(ctx, "5", false)

	require.NoError(t, s.EndSession(ctx, "a"))
	assert.Equal(t, 0, s.Len())
	require.NoError(t, s.EndSession(ctx, "unknown"))
}

func TestPropagator_StaleUpdateIsNotDelivered(t *testing.T) {
	ctx := context.Background()
	notifier := &captureNotifier{}
	p := NewPropagator("s1", registry.Default(), notifier, nil, zap.NewNop())

	var seen []string
	p.Subscribe(func(u FilterUpdate) { seen = append(seen, u.Context.MasterTopicID) })
	p.SetVisibleKinds(ctx, []vo.EntityKind{vo.KindClaim})
	p.SetTopic(ctx, "5", false)
	older := p.Snapshot()
	p.SetTopic(ctx, "6", false)
	require.Greater(t, p.Snapshot().Seq, older.Seq)

	// an update computed before the latest one arrives late
	p.propagate(ctx, older, p.listenersLocked())

	assert.Equal(t, []string{"", "5", "6"}, seen)
	last := notifier.messages[len(notifier.messages)-1]
	assert.Equal(t, "6", last.(FilterUpdate).Context.MasterTopicID)
}
