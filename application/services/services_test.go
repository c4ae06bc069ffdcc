package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/demonfiddler/evidence-engine-sub000/domain/config"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/audit"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/entities"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/registry"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/validators"
	vo "github.com/demonfiddler/evidence-engine-sub000/domain/core/valueobjects"
	"github.com/demonfiddler/evidence-engine-sub000/domain/events"
	"github.com/demonfiddler/evidence-engine-sub000/infrastructure/persistence/memory"
	pkgerrors "github.com/demonfiddler/evidence-engine-sub000/pkg/errors"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.DomainEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, e events.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) PublishBatch(ctx context.Context, es []events.DomainEvent) error {
	for _, e := range es {
		_ = p.Publish(ctx, e)
	}
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.GetEventType())
	}
	return out
}

type fixture struct {
	store     *memory.Store
	links     *LinkService
	audits    *AuditService
	records   *RecordService
	publisher *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	reg := registry.Default()
	cfg := config.DefaultDomainConfig()
	pub := &recordingPublisher{}
	logger := zap.NewNop()

	links := NewLinkService(store, store, reg, validators.NewLinkValidator(reg, cfg), pub, nil, logger)
	audits := NewAuditService(store, links, audit.DefaultCatalog(audit.GroupModeSum), nil, logger)
	records := NewRecordService(store, links, audits, pub, cfg, logger)
	return &fixture{store: store, links: links, audits: audits, records: records, publisher: pub}
}

func (f *fixture) record(t *testing.T, kind vo.EntityKind, id, label string, fields map[string]interface{}) vo.RecordRef {
	t.Helper()
	ref := vo.RecordRef{Kind: kind, ID: id}
	_, err := f.records.SaveRecord(context.Background(), ref, label, fields, "alice")
	require.NoError(t, err)
	return ref
}

func TestLinkService_DirectionSwapsWithPerspective(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	claim := f.record(t, vo.KindClaim, "10", "Warming", nil)
	topic := f.record(t, vo.KindTopic, "5", "Climate", nil)

	link, err := f.links.CreateLinkBetween(ctx, topic, claim, "", "para 2", "alice")
	require.NoError(t, err)
	assert.Equal(t, claim, link.From())
	assert.Equal(t, "para 2", link.FromLocations)

	res, err := f.links.ReadLinksForRecord(ctx, topic)
	require.NoError(t, err)
	require.Len(t, res.Links, 1)
	rl := res.Links[0]
	assert.Equal(t, vo.KindClaim, rl.OtherRecordKind)
	assert.Equal(t, "10", rl.OtherRecordID)
	assert.Equal(t, "Warming", rl.OtherRecordLabel)
	assert.Equal(t, "", rl.ThisLocations)
	assert.Equal(t, "para 2", rl.OtherLocations)
	assert.True(t, rl.ThisRecordIsToEntity)

	res, err = f.links.ReadLinksForRecord(ctx, claim)
	require.NoError(t, err)
	require.Len(t, res.Links, 1)
	assert.Equal(t, "para 2", res.Links[0].ThisLocations)
	assert.False(t, res.Links[0].ThisRecordIsToEntity)

	assert.Equal(t, []string{events.TypeLinkCreated}, f.publisher.types())
}

func TestLinkService_RejectsBeforeStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.links.CreateLinkBetween(ctx,
		vo.RecordRef{Kind: vo.KindTopic, ID: "1"}, vo.RecordRef{Kind: vo.KindTopic, ID: "2"}, "", "", "alice")
	assert.ErrorIs(t, err, pkgerrors.ErrUnsupportedLinkPair)

	_, err = f.links.CreateLink(ctx, entities.LinkInput{
		From: vo.RecordRef{Kind: vo.KindClaim, ID: "1"},
		To:   vo.RecordRef{Kind: vo.KindTopic, ID: "1"},
	}, "alice")
	assert.ErrorIs(t, err, pkgerrors.ErrSelfLink)

	raw, err := f.store.ReadLinksForRecord(ctx, vo.RecordRef{Kind: vo.KindTopic, ID: "1"})
	require.NoError(t, err)
	assert.Zero(t, raw.Len())
}

func TestLinkService_DuplicateIsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	claim := vo.RecordRef{Kind: vo.KindClaim, ID: "10"}
	topic := vo.RecordRef{Kind: vo.KindTopic, ID: "5"}

	_, err := f.links.CreateLinkBetween(ctx, claim, topic, "", "", "alice")
	require.NoError(t, err)
	_, err = f.links.CreateLinkBetween(ctx, topic, claim, "", "", "alice")
	assert.ErrorIs(t, err, pkgerrors.ErrDuplicateLink)
	assert.True(t, pkgerrors.IsConflict(err))
}

func TestLinkService_DeleteIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	link, err := f.links.CreateLinkBetween(ctx,
		vo.RecordRef{Kind: vo.KindClaim, ID: "10"}, vo.RecordRef{Kind: vo.KindTopic, ID: "5"}, "", "", "alice")
	require.NoError(t, err)

	require.NoError(t, f.links.DeleteLink(ctx, link.ID, "alice"))
	require.NoError(t, f.links.DeleteLink(ctx, link.ID, "alice"))

	stored, err := f.links.GetLink(ctx, link.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsDeleted())
	assert.Equal(t, []string{events.TypeLinkCreated, events.TypeLinkDeleted}, f.publisher.types())
}

func TestLinkService_AnomaliesExcluded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	topic := vo.RecordRef{Kind: vo.KindTopic, ID: "5"}

	f.store.PutRawLink(&entities.EntityLink{
		ID: "self", FromEntityKind: vo.KindClaim, FromEntityID: "5", ToEntityKind: vo.KindTopic, ToEntityID: "5",
		Status: vo.StatusDraft,
	})
	f.store.PutRawLink(&entities.EntityLink{
		ID: "good", FromEntityKind: vo.KindClaim, FromEntityID: "10", ToEntityKind: vo.KindTopic, ToEntityID: "5",
		Status: vo.StatusDraft,
	})

	res, err := f.links.ReadLinksForRecord(ctx, topic)
	require.NoError(t, err)
	require.Len(t, res.Links, 1)
	assert.Equal(t, "good", res.Links[0].ID)
	require.Len(t, res.Anomalies, 1)
	assert.Equal(t, "self", res.Anomalies[0].LinkID)
	for _, l := range res.Links {
		assert.NotEqual(t, topic.ID, l.OtherRecordID)
	}
}

func TestAuditService_TopicScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	topic := f.record(t, vo.KindTopic, "5", "Climate", map[string]interface{}{"label": "Climate", "description": "x"})

	ra, err := f.audits.ReadAudit(ctx, topic.ID)
	require.NoError(t, err)
	assert.True(t, ra.Audit.FieldAudit.Pass)
	assert.False(t, ra.Audit.LinkAudit.Pass)
	assert.False(t, ra.Audit.Pass)
	assert.False(t, ra.Publish.CanPublish)

	_, err = f.records.SetEntityStatus(ctx, topic.ID, vo.StatusPublished, "alice")
	assert.ErrorIs(t, err, pkgerrors.ErrAuditFailed)

	_, err = f.links.CreateLinkBetween(ctx, topic, vo.RecordRef{Kind: vo.KindClaim, ID: "10"}, "", "", "alice")
	require.NoError(t, err)

	ra, err = f.audits.ReadAudit(ctx, topic.ID)
	require.NoError(t, err)
	assert.True(t, ra.Audit.Pass)
	assert.True(t, ra.Publish.CanPublish)
}

func TestRecordService_PublishedRecordIsFlaggedNotUnpublished(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	topic := f.record(t, vo.KindTopic, "5", "Climate", map[string]interface{}{"label": "Climate", "description": "x"})
	link, err := f.links.CreateLinkBetween(ctx, topic, vo.RecordRef{Kind: vo.KindClaim, ID: "10"}, "", "", "alice")
	require.NoError(t, err)

	rec, err := f.records.SetEntityStatus(ctx, topic.ID, vo.StatusPublished, "alice")
	require.NoError(t, err)
	assert.Equal(t, vo.StatusPublished, rec.Status())

	require.NoError(t, f.links.DeleteLink(ctx, link.ID, "alice"))

	ra, err := f.audits.ReadAudit(ctx, topic.ID)
	require.NoError(t, err)
	assert.Equal(t, vo.StatusPublished, ra.Status)
	assert.False(t, ra.Audit.Pass)
	assert.True(t, ra.Publish.NeedsReview)

	suspended, err := f.records.SetEntityStatus(ctx, topic.ID, vo.StatusSuspended, "alice")
	require.NoError(t, err)
	assert.Equal(t, vo.StatusSuspended, suspended.Status())
	assert.Contains(t, f.publisher.types(), events.TypeRecordStatusChanged)
}

func TestRecordService_IllegalStatusChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.record(t, vo.KindJournal, "j1", "Nature", map[string]interface{}{"title": "Nature"})

	_, err := f.records.SetEntityStatus(ctx, ref.ID, vo.StatusSuspended, "alice")
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidStatusChange)

	_, err = f.records.SetEntityStatus(ctx, "missing", vo.StatusPublished, "alice")
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestRecordService_ListRecordsWithLinkFilter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	root := f.record(t, vo.KindTopic, "t1", "Climate", nil)
	child := f.record(t, vo.KindTopic, "t2", "Sensitivity", map[string]interface{}{"parentId": "t1"})
	f.record(t, vo.KindTopic, "t3", "Oceans", nil)
	c1 := f.record(t, vo.KindClaim, "c1", "Claim one", nil)
	c2 := f.record(t, vo.KindClaim, "c2", "Claim two", nil)
	f.record(t, vo.KindClaim, "c3", "Claim three", nil)
	person := f.record(t, vo.KindPerson, "p1", "Jane", nil)

	_, err := f.links.CreateLinkBetween(ctx, c1, root, "", "", "alice")
	require.NoError(t, err)
	_, err = f.links.CreateLinkBetween(ctx, c2, child, "", "", "alice")
	require.NoError(t, err)
	_, err = f.links.CreateLinkBetween(ctx, c2, person, "", "", "alice")
	require.NoError(t, err)

	ids := func(rs []*entities.TrackedRecord) []string {
		out := make([]string, 0, len(rs))
		for _, r := range rs {
			out = append(out, r.ID())
		}
		return out
	}

	flat, err := f.records.ListRecords(ctx, vo.KindClaim, entities.LinkableEntityQueryFilter{TopicID: "t1"}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, ids(flat))

	deep, err := f.records.ListRecords(ctx, vo.KindClaim, entities.LinkableEntityQueryFilter{TopicID: "t1", Recursive: true}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, ids(deep))

	subtree, err := f.records.ListRecords(ctx, vo.KindTopic, entities.LinkableEntityQueryFilter{TopicID: "t1", Recursive: true}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, ids(subtree))

	// CLA is the from side of CLA-PER, so a Person master filters claims on toEntityId
	byPerson, err := f.records.ListRecords(ctx, vo.KindClaim, entities.LinkableEntityQueryFilter{ToEntityID: "p1"}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"c2"}, ids(byPerson))

	both, err := f.records.ListRecords(ctx, vo.KindClaim, entities.LinkableEntityQueryFilter{TopicID: "t1", ToEntityID: "p1"}, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, both)

	all, err := f.records.ListRecords(ctx, vo.KindClaim, entities.LinkableEntityQueryFilter{}, 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
