package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/demonfiddler/evidence-engine-sub000/application/mastercontext"
	"github.com/demonfiddler/evidence-engine-sub000/application/queries"
	"github.com/demonfiddler/evidence-engine-sub000/application/queries/bus"
	"github.com/demonfiddler/evidence-engine-sub000/application/services"
	"github.com/demonfiddler/evidence-engine-sub000/domain/config"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/audit"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/registry"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/validators"
	vo "github.com/demonfiddler/evidence-engine-sub000/domain/core/valueobjects"
	"github.com/demonfiddler/evidence-engine-sub000/infrastructure/persistence/memory"
	apperrors "github.com/demonfiddler/evidence-engine-sub000/pkg/errors"
)

type mapCache struct {
	items map[string]interface{}
	sets  int
}

func (c *mapCache) Get(_ context.Context, key string) (interface{}, bool) {
	v, ok := c.items[key]
	return v, ok
}

func (c *mapCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) {
	c.items[key] = value
	c.sets++
}

type harness struct {
	bus      *bus.QueryBus
	links    *services.LinkService
	records  *services.RecordService
	contexts *mastercontext.Store
	cache    *mapCache
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memory.NewStore()
	reg := registry.Default()
	cfg := config.DefaultDomainConfig()
	logger := zap.NewNop()

	links := services.NewLinkService(store, store, reg, validators.NewLinkValidator(reg, cfg), nil, nil, logger)
	audits := services.NewAuditService(store, links, audit.DefaultCatalog(audit.GroupModeSum), nil, logger)
	records := services.NewRecordService(store, links, audits, nil, cfg, logger)
	contexts := mastercontext.NewStore(reg, nil, nil, cfg, logger)

	cache := &mapCache{items: map[string]interface{}{}}
	b := bus.NewQueryBus()
	h := NewLinkQueryHandler(links, records, audits, contexts, logger)
	require.NoError(t, RegisterAll(b, h, bus.NewCachingMiddleware(cache, time.Minute)))
	return &harness{bus: b, links: links, records: records, contexts: contexts, cache: cache}
}

func (h *harness) save(t *testing.T, kind vo.EntityKind, id, label string) vo.RecordRef {
	t.Helper()
	ref := vo.RecordRef{Kind: kind, ID: id}
	_, err := h.records.SaveRecord(context.Background(), ref, label, nil, "alice")
	require.NoError(t, err)
	return ref
}

func TestGetRecordLinks_PerspectiveAndKindFilter(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	claim := h.save(t, vo.KindClaim, "1", "Claim one")
	person := h.save(t, vo.KindPerson, "7", "Jane")
	topic := h.save(t, vo.KindTopic, "5", "Climate")

	_, err := h.links.CreateLinkBetween(ctx, person, claim, "bio", "p. 4", "alice")
	require.NoError(t, err)
	_, err = h.links.CreateLinkBetween(ctx, topic, claim, "", "", "alice")
	require.NoError(t, err)

	res, err := h.bus.Ask(ctx, queries.GetRecordLinksQuery{RecordID: "7"})
	require.NoError(t, err)
	out := res.(*queries.RecordLinksResult)
	require.Len(t, out.Links, 1)
	assert.Equal(t, person, out.Links[0].This())
	assert.Equal(t, claim, out.Links[0].Other())
	assert.Equal(t, "bio", out.Links[0].ThisLocations)

	res, err = h.bus.Ask(ctx, queries.GetRecordLinksQuery{RecordID: "1", OtherKind: "Topic"})
	require.NoError(t, err)
	out = res.(*queries.RecordLinksResult)
	require.Len(t, out.Links, 1)
	assert.Equal(t, topic, out.Links[0].Other())

	_, err = h.bus.Ask(ctx, queries.GetRecordLinksQuery{RecordID: "missing"})
	assert.True(t, apperrors.IsNotFound(err))
}

func TestGetLinkDirection_IsCached(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	res, err := h.bus.Ask(ctx, queries.GetLinkDirectionQuery{KindA: "PUB", KindB: "PER"})
	require.NoError(t, err)
	d := res.(*queries.LinkDirectionResult)
	assert.Equal(t, vo.KindPerson, d.FromKind)
	assert.Equal(t, vo.KindPublication, d.ToKind)
	assert.Equal(t, registry.PropFromEntityID, d.FilterProperty)

	_, err = h.bus.Ask(ctx, queries.GetLinkDirectionQuery{KindA: "PUB", KindB: "PER"})
	require.NoError(t, err)
	assert.Equal(t, 1, h.cache.sets)

	_, err = h.bus.Ask(ctx, queries.GetLinkDirectionQuery{KindA: "JOU", KindB: "PER"})
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedLinkPair)
	assert.Equal(t, 1, h.cache.sets)
}

func TestGetMasterFilter_FollowsSessionContext(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	p := h.contexts.Session("s1")
	p.SetShowOnlyLinked(ctx, true)
	p.SetRecord(ctx, vo.RecordRef{Kind: vo.KindPerson, ID: "7"}, "Jane")

	res, err := h.bus.Ask(ctx, queries.GetMasterFilterQuery{SessionID: "s1", Kind: "CLA"})
	require.NoError(t, err)
	out := res.(*queries.MasterFilterResult)
	assert.Equal(t, "7", out.Filter.ToEntityID)
	assert.Empty(t, out.Filter.FromEntityID)

	_, err = h.bus.Ask(ctx, queries.GetMasterFilterQuery{SessionID: "s1"})
	assert.True(t, apperrors.IsValidation(err))
}

func TestGetEntityAudit_And_ListRecords(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.save(t, vo.KindPerson, "7", "Jane")
	h.save(t, vo.KindPerson, "8", "John")

	res, err := h.bus.Ask(ctx, queries.GetEntityAuditQuery{RecordID: "7"})
	require.NoError(t, err)
	ra := res.(*services.RecordAudit)
	assert.Equal(t, vo.KindPerson, ra.Record.Kind)

	res, err = h.bus.Ask(ctx, queries.ListRecordsQuery{Kind: "PER"})
	require.NoError(t, err)
	list := res.(*queries.ListRecordsResult)
	assert.Equal(t, 2, list.Count)
	assert.Equal(t, "7", list.Records[0].ID)
}
