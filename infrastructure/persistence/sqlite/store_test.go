package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/demonfiddler/evidence-engine-sub000/application/ports"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/entities"
	vo "github.com/demonfiddler/evidence-engine-sub000/domain/core/valueobjects"
	pkgerrors "github.com/demonfiddler/evidence-engine-sub000/pkg/errors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "links.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	tick := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	return s
}

func claimToTopic(claimID, topicID string) entities.LinkInput {
	return entities.LinkInput{
		From:          vo.RecordRef{Kind: vo.KindClaim, ID: claimID},
		FromLocations: "para 2",
		To:            vo.RecordRef{Kind: vo.KindTopic, ID: topicID},
	}
}

func TestStore_DuplicateRejectedUntilDeleted(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	first, err := s.CreateLink(ctx, claimToTopic("10", "5"), "alice")
	require.NoError(t, err)
	assert.Equal(t, vo.StatusDraft, first.Status)

	_, err = s.CreateLink(ctx, claimToTopic("10", "5"), "alice")
	assert.ErrorIs(t, err, pkgerrors.ErrDuplicateLink)

	require.NoError(t, s.DeleteLink(ctx, first.ID, "alice"))
	second, err := s.CreateLink(ctx, claimToTopic("10", "5"), "alice")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	deleted, err := s.GetLink(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, deleted.IsDeleted())
	require.NotNil(t, deleted.UpdatedAt)
}

func TestStore_ReadLinksForRecordOrdered(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	a, err := s.CreateLink(ctx, claimToTopic("10", "5"), "alice")
	require.NoError(t, err)
	b, err := s.CreateLink(ctx, claimToTopic("11", "5"), "alice")
	require.NoError(t, err)
	_, err = s.CreateLink(ctx, claimToTopic("12", "6"), "alice")
	require.NoError(t, err)

	topic, err := s.ReadLinksForRecord(ctx, vo.RecordRef{Kind: vo.KindTopic, ID: "5"})
	require.NoError(t, err)
	assert.Empty(t, topic.FromEntityLinks)
	require.Len(t, topic.ToEntityLinks, 2)
	assert.Equal(t, a.ID, topic.ToEntityLinks[0].ID)
	assert.Equal(t, b.ID, topic.ToEntityLinks[1].ID)
	assert.Equal(t, "para 2", topic.ToEntityLinks[0].FromLocations)
}

func TestStore_UpdateLink(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	link, err := s.CreateLink(ctx, claimToTopic("10", "5"), "alice")
	require.NoError(t, err)
	_, err = s.CreateLink(ctx, claimToTopic("10", "8"), "alice")
	require.NoError(t, err)

	in := claimToTopic("10", "7")
	in.ID = link.ID
	in.ToLocations = "intro"
	updated, err := s.UpdateLink(ctx, in, "bob")
	require.NoError(t, err)
	assert.Equal(t, "7", updated.ToEntityID)
	assert.Equal(t, "intro", updated.ToLocations)
	assert.Equal(t, "bob", updated.UpdatedBy)

	clash := claimToTopic("10", "8")
	clash.ID = link.ID
	_, err = s.UpdateLink(ctx, clash, "bob")
	assert.ErrorIs(t, err, pkgerrors.ErrDuplicateLink)

	in.ID = "missing"
	_, err = s.UpdateLink(ctx, in, "bob")
	assert.True(t, pkgerrors.IsNotFound(err))

	require.NoError(t, s.DeleteLink(ctx, link.ID, "bob"))
	in.ID = link.ID
	_, err = s.UpdateLink(ctx, in, "bob")
	assert.True(t, pkgerrors.IsConflict(err))

	assert.True(t, pkgerrors.IsNotFound(s.DeleteLink(ctx, "missing", "bob")))
}

func TestStore_Records(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for _, r := range []struct {
		kind  vo.EntityKind
		id    string
		label string
	}{
		{vo.KindTopic, "5", "Climate"},
		{vo.KindTopic, "6", "Climate models"},
		{vo.KindTopic, "7", "Energy"},
		{vo.KindClaim, "10", "Warming is real"},
	} {
		rec, err := entities.NewTrackedRecord(vo.RecordRef{Kind: r.kind, ID: r.id}, r.label, map[string]interface{}{"parentId": "5"}, "alice")
		require.NoError(t, err)
		require.NoError(t, s.Save(ctx, rec))
	}

	got, err := s.GetByID(ctx, "6")
	require.NoError(t, err)
	assert.Equal(t, vo.KindTopic, got.Kind())
	parent, ok := got.Field("parentId")
	require.True(t, ok)
	assert.Equal(t, "5", parent)

	_, err = s.GetByID(ctx, "99")
	assert.True(t, pkgerrors.IsNotFound(err))

	list, err := s.List(ctx, ports.RecordCriteria{Kind: vo.KindTopic, Text: "CLIMATE"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "5", list[0].ID())

	list, err = s.List(ctx, ports.RecordCriteria{Kind: vo.KindTopic, IDs: []string{"7", "10"}})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "7", list[0].ID())

	list, err = s.List(ctx, ports.RecordCriteria{Kind: vo.KindTopic, IDs: []string{}})
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = s.List(ctx, ports.RecordCriteria{Kind: vo.KindTopic, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "6", list[0].ID())

	require.NoError(t, got.ChangeStatus(vo.StatusDeleted, "alice"))
	require.NoError(t, s.Save(ctx, got))
	list, err = s.List(ctx, ports.RecordCriteria{Statuses: []vo.StatusKind{vo.StatusDeleted}})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "6", list[0].ID())

	labels, err := s.Labels(ctx, []string{"5", "10", "99"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"5": "Climate", "10": "Warming is real"}, labels)
}

func TestStore_Connections(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Register(ctx, "c2", "alice", "s1"))
	require.NoError(t, s.Register(ctx, "c1", "alice", "s1"))
	require.NoError(t, s.Register(ctx, "c3", "bob", "s2"))

	ids, err := s.ConnectionsForSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, ids)

	sessionID, err := s.Unregister(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "s1", sessionID)
	ids, err = s.ConnectionsForSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c2"}, ids)

	sessionID, err = s.Unregister(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, sessionID)
	ids, err = s.ConnectionsForSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c2"}, ids)
}
