package dynamodb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/demonfiddler/evidence-engine-sub000/application/ports"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/entities"
	vo "github.com/demonfiddler/evidence-engine-sub000/domain/core/valueobjects"
	pkgerrors "github.com/demonfiddler/evidence-engine-sub000/pkg/errors"
)

// fakeClient answers from canned items and records the transactions it sees
type fakeClient struct {
	Client
	items        map[string]map[string]types.AttributeValue
	transactErr  error
	transactions []*dynamodb.TransactWriteItemsInput
	queries      []*dynamodb.QueryInput
	queryItems   []map[string]types.AttributeValue
}

func newFakeClient() *fakeClient {
	return &fakeClient{items: map[string]map[string]types.AttributeValue{}}
}

func (f *fakeClient) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	pk := in.Key["PK"].(*types.AttributeValueMemberS).Value
	return &dynamodb.GetItemOutput{Item: f.items[pk]}, nil
}

func (f *fakeClient) TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.transactions = append(f.transactions, in)
	if f.transactErr != nil {
		return nil, f.transactErr
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (f *fakeClient) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queries = append(f.queries, in)
	return &dynamodb.QueryOutput{Items: f.queryItems}, nil
}

func cancelled(codes ...string) error {
	reasons := make([]types.CancellationReason, len(codes))
	for i, c := range codes {
		reasons[i] = types.CancellationReason{Code: aws.String(c)}
	}
	return &types.TransactionCanceledException{Message: aws.String("cancelled"), CancellationReasons: reasons}
}

func newTestStore(client Client) *Store {
	s := NewStore(client, Config{TableName: "links", InboundIndex: "InboundIndex", OutboundIndex: "KindIndex"}, zap.NewNop())
	s.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func sampleLink() *entities.EntityLink {
	return &entities.EntityLink{
		ID:             "l1",
		FromEntityKind: vo.KindClaim,
		FromEntityID:   "10",
		ToEntityKind:   vo.KindTopic,
		ToEntityID:     "5",
		FromLocations:  "p. 4",
		Status:         vo.StatusDraft,
		CreatedBy:      "alice",
		CreatedAt:      time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC),
	}
}

func TestKeys(t *testing.T) {
	from := vo.RecordRef{Kind: vo.KindClaim, ID: "10"}
	to := vo.RecordRef{Kind: vo.KindTopic, ID: "5"}
	assert.Equal(t, "PAIR#CLA#10#TOP#5", pairPK(from, to))
	assert.NotEqual(t, pairPK(from, to), pairPK(to, from))
	assert.Equal(t, "KIND#PER", kindKey(vo.KindPerson))
	assert.Equal(t, "LINK#x", linkPK("x"))
	assert.True(t, orderKey(time.Unix(1, 0), "b") < orderKey(time.Unix(2, 0), "a"))
}

func TestLinkItemRoundTrip(t *testing.T) {
	link := sampleLink()
	updated := link.CreatedAt.Add(time.Hour)
	link.UpdatedAt = &updated
	link.UpdatedBy = "bob"

	item := newLinkItem(link)
	assert.Equal(t, "TO#5", item.GSI1PK)
	assert.Equal(t, "FROM#10", item.GSI2PK)

	av, err := attributevalue.MarshalMap(item)
	require.NoError(t, err)
	var back linkItem
	require.NoError(t, attributevalue.UnmarshalMap(av, &back))

	got, err := back.toEntity()
	require.NoError(t, err)
	assert.Equal(t, link.ID, got.ID)
	assert.True(t, link.CreatedAt.Equal(got.CreatedAt))
	require.NotNil(t, got.UpdatedAt)
	assert.True(t, updated.Equal(*got.UpdatedAt))
	assert.Equal(t, "p. 4", got.FromLocations)
}

func TestConditionFailedAt(t *testing.T) {
	err := cancelled("ConditionalCheckFailed", "None")
	assert.True(t, conditionFailedAt(err, 0))
	assert.False(t, conditionFailedAt(err, 1))
	assert.False(t, conditionFailedAt(err, 5))
	assert.False(t, conditionFailedAt(errors.New("boom"), 0))
}

func TestCreateLink_DuplicateGuard(t *testing.T) {
	client := newFakeClient()
	s := newTestStore(client)
	in := entities.LinkInput{
		From: vo.RecordRef{Kind: vo.KindClaim, ID: "10"},
		To:   vo.RecordRef{Kind: vo.KindTopic, ID: "5"},
	}

	link, err := s.CreateLink(context.Background(), in, "alice")
	require.NoError(t, err)
	assert.Equal(t, vo.StatusDraft, link.Status)
	require.Len(t, client.transactions, 1)
	require.Len(t, client.transactions[0].TransactItems, 2)
	guard := client.transactions[0].TransactItems[0].Put
	assert.Equal(t, "PAIR#CLA#10#TOP#5", guard.Item["PK"].(*types.AttributeValueMemberS).Value)

	client.transactErr = cancelled("ConditionalCheckFailed", "None")
	_, err = s.CreateLink(context.Background(), in, "alice")
	assert.ErrorIs(t, err, pkgerrors.ErrDuplicateLink)

	client.transactErr = errors.New("throttled")
	_, err = s.CreateLink(context.Background(), in, "alice")
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeDatabase))
}

func TestUpdateAndDeleteLink(t *testing.T) {
	client := newFakeClient()
	s := newTestStore(client)
	ctx := context.Background()

	av, err := attributevalue.MarshalMap(newLinkItem(sampleLink()))
	require.NoError(t, err)
	client.items[linkPK("l1")] = av

	// same endpoints: single conditional put
	in := entities.LinkInput{
		ID:          "l1",
		From:        vo.RecordRef{Kind: vo.KindClaim, ID: "10"},
		To:          vo.RecordRef{Kind: vo.KindTopic, ID: "5"},
		ToLocations: "intro",
	}
	updated, err := s.UpdateLink(ctx, in, "bob")
	require.NoError(t, err)
	assert.Equal(t, "intro", updated.ToLocations)
	assert.Len(t, client.transactions[0].TransactItems, 1)

	// moved endpoints: new guard, released guard, put
	in.To = vo.RecordRef{Kind: vo.KindTopic, ID: "6"}
	_, err = s.UpdateLink(ctx, in, "bob")
	require.NoError(t, err)
	assert.Len(t, client.transactions[1].TransactItems, 3)

	client.transactErr = cancelled("ConditionalCheckFailed", "None", "None")
	_, err = s.UpdateLink(ctx, in, "bob")
	assert.ErrorIs(t, err, pkgerrors.ErrDuplicateLink)

	client.transactErr = nil
	require.NoError(t, s.DeleteLink(ctx, "l1", "bob"))
	last := client.transactions[len(client.transactions)-1]
	require.Len(t, last.TransactItems, 2)
	assert.NotNil(t, last.TransactItems[1].Delete)

	assert.True(t, pkgerrors.IsNotFound(s.DeleteLink(ctx, "missing", "bob")))
	_, err = s.UpdateLink(ctx, entities.LinkInput{ID: "missing"}, "bob")
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestUpdateLink_DeletedIsConflict(t *testing.T) {
	client := newFakeClient()
	s := newTestStore(client)
	link := sampleLink()
	link.Status = vo.StatusDeleted
	av, err := attributevalue.MarshalMap(newLinkItem(link))
	require.NoError(t, err)
	client.items[linkPK("l1")] = av

	_, err = s.UpdateLink(context.Background(), entities.LinkInput{ID: "l1", From: link.From(), To: link.To()}, "bob")
	assert.True(t, pkgerrors.IsConflict(err))
	assert.Empty(t, client.transactions)

	// deleting again only touches the audit columns
	require.NoError(t, s.DeleteLink(context.Background(), "l1", "bob"))
	assert.Len(t, client.transactions[0].TransactItems, 1)
}

func TestReadLinksForRecord_FiltersKind(t *testing.T) {
	client := newFakeClient()
	s := newTestStore(client)

	av, err := attributevalue.MarshalMap(newLinkItem(sampleLink()))
	require.NoError(t, err)
	client.queryItems = []map[string]types.AttributeValue{av}

	links, err := s.ReadLinksForRecord(context.Background(), vo.RecordRef{Kind: vo.KindTopic, ID: "5"})
	require.NoError(t, err)
	assert.Empty(t, links.FromEntityLinks)
	require.Len(t, links.ToEntityLinks, 1)
	assert.Equal(t, "l1", links.ToEntityLinks[0].ID)
	require.Len(t, client.queries, 2)
	assert.Equal(t, "KindIndex", aws.ToString(client.queries[0].IndexName))
	assert.Equal(t, "InboundIndex", aws.ToString(client.queries[1].IndexName))
}

func TestListRecords_FiltersAndPages(t *testing.T) {
	client := newFakeClient()
	s := newTestStore(client)

	for _, id := range []string{"7", "5", "6"} {
		rec, err := entities.NewTrackedRecord(vo.RecordRef{Kind: vo.KindTopic, ID: id}, "Topic "+id, nil, "alice")
		require.NoError(t, err)
		av, err := attributevalue.MarshalMap(newRecordItem(rec.Snapshot()))
		require.NoError(t, err)
		client.queryItems = append(client.queryItems, av)
	}

	list, err := s.List(context.Background(), portsCriteria(vo.KindTopic, nil, 1, 1))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "6", list[0].ID())

	list, err = s.List(context.Background(), portsCriteria(vo.KindTopic, []string{"7"}, 0, 0))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "7", list[0].ID())

	list, err = s.List(context.Background(), portsCriteria(vo.KindTopic, []string{}, 0, 0))
	require.NoError(t, err)
	assert.Empty(t, list)
}

func portsCriteria(kind vo.EntityKind, ids []string, limit, offset int) ports.RecordCriteria {
	return ports.RecordCriteria{Kind: kind, IDs: ids, Limit: limit, Offset: offset}
}

func TestChunkIDs(t *testing.T) {
	ids := make([]string, 205)
	chunks := chunkIDs(ids, maxBatchGet)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[2], 5)
	assert.Nil(t, chunkIDs(nil, maxBatchGet))
}
