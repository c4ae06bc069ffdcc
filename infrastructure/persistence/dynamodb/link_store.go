package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/demonfiddler/evidence-engine-sub000/application/ports"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/entities"
	vo "github.com/demonfiddler/evidence-engine-sub000/domain/core/valueobjects"
	pkgerrors "github.com/demonfiddler/evidence-engine-sub000/pkg/errors"
)

// Client is the subset of the DynamoDB API the store uses
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Config names the table and indexes
type Config struct {
	TableName            string
	InboundIndex         string
	OutboundIndex        string
	ConnectionsTableName string
}

// Store implements LinkStore, RecordRepository and ConnectionRegistry
type Store struct {
	client Client
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

var (
	_ ports.LinkStore          = (*Store)(nil)
	_ ports.RecordRepository   = (*Store)(nil)
	_ ports.ConnectionRegistry = (*Store)(nil)
)

// NewStore creates a new DynamoDB store
func NewStore(client Client, cfg Config, logger *zap.Logger) *Store {
	if cfg.ConnectionsTableName == "" {
		cfg.ConnectionsTableName = cfg.TableName
	}
	return &Store{client: client, cfg: cfg, logger: logger, now: time.Now}
}

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// CreateLink writes the link and its pair guard in one transaction. A live
// guard for the same ordered endpoints makes the transaction fail.
func (s *Store) CreateLink(ctx context.Context, in entities.LinkInput, userID string) (*entities.EntityLink, error) {
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
		CreatedAt:      s.now().UTC(),
	}

	guard, err := attributevalue.MarshalMap(newPairItem(in.From, in.To, link.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal pair guard: %w", err)
	}
	item, err := attributevalue.MarshalMap(newLinkItem(link))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal link: %w", err)
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           aws.String(s.cfg.TableName),
				Item:                guard,
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			}},
			{Put: &types.Put{
				TableName:           aws.String(s.cfg.TableName),
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			}},
		},
	})
	if err != nil {
		if conditionFailedAt(err, 0) {
			return nil, pkgerrors.DuplicateLink(in.From.String(), in.To.String())
		}
		s.logger.Error("Failed to create link", zap.Error(err), zap.String("linkID", link.ID))
		return nil, pkgerrors.NewDatabaseError("create link", err)
	}

	s.logger.Debug("Link created",
		zap.String("linkID", link.ID),
		zap.String("from", in.From.String()),
		zap.String("to", in.To.String()),
	)
	return link, nil
}

// UpdateLink rewrites a live link. When the endpoints change the pair guard
// moves with it, in the same transaction.
func (s *Store) UpdateLink(ctx context.Context, in entities.LinkInput, userID string) (*entities.EntityLink, error) {
	current, err := s.GetLink(ctx, in.ID)
	if err != nil {
		return nil, err
	}
	if current.IsDeleted() {
		return nil, pkgerrors.NewConflictError("link " + in.ID + " has been deleted")
	}

	now := s.now().UTC()
	next := current.Clone()
	next.FromEntityKind, next.FromEntityID = in.From.Kind, in.From.ID
	next.ToEntityKind, next.ToEntityID = in.To.Kind, in.To.ID
	next.FromLocations, next.ToLocations = in.FromLocations, in.ToLocations
	next.UpdatedBy = userID
	next.UpdatedAt = &now

	item, err := attributevalue.MarshalMap(newLinkItem(next))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal link: %w", err)
	}

	cond := expression.Name("Status").NotEqual(expression.Value(string(vo.StatusDeleted)))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}
	put := types.TransactWriteItem{Put: &types.Put{
		TableName:                 aws.String(s.cfg.TableName),
		Item:                      item,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}}

	var items []types.TransactWriteItem
	moved := !current.From().Equals(in.From) || !current.To().Equals(in.To)
	if moved {
		guard, err := attributevalue.MarshalMap(newPairItem(in.From, in.To, in.ID))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal pair guard: %w", err)
		}
		items = append(items,
			types.TransactWriteItem{Put: &types.Put{
				TableName:           aws.String(s.cfg.TableName),
				Item:                guard,
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			}},
			s.releaseGuard(current),
		)
	}
	items = append(items, put)

	if _, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		switch {
		case moved && conditionFailedAt(err, 0):
			return nil, pkgerrors.DuplicateLink(in.From.String(), in.To.String())
		case conditionFailedAt(err, len(items)-1):
			return nil, pkgerrors.NewConflictError("link " + in.ID + " has been deleted")
		}
		return nil, pkgerrors.NewDatabaseError("update link", err)
	}
	return next, nil
}

func (s *Store) releaseGuard(l *entities.EntityLink) types.TransactWriteItem {
	return types.TransactWriteItem{Delete: &types.Delete{
		TableName:           aws.String(s.cfg.TableName),
		Key:                 key(pairPK(l.From(), l.To()), entityPair),
		ConditionExpression: aws.String("LinkID = :id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id": &types.AttributeValueMemberS{Value: l.ID},
		},
	}}
}

// DeleteLink marks the link Deleted and releases its pair guard
func (s *Store) DeleteLink(ctx context.Context, id string, userID string) error {
	current, err := s.GetLink(ctx, id)
	if err != nil {
		return err
	}

	update := expression.Set(expression.Name("Status"), expression.Value(string(vo.StatusDeleted))).
		Set(expression.Name("UpdatedBy"), expression.Value(userID)).
		Set(expression.Name("UpdatedAt"), expression.Value(s.now().UTC().Format(time.RFC3339Nano)))
	expr, err := expression.NewBuilder().
		WithUpdate(update).
		WithCondition(expression.AttributeExists(expression.Name("PK"))).
		Build()
	if err != nil {
		return fmt.Errorf("failed to build expression: %w", err)
	}
	items := []types.TransactWriteItem{{Update: &types.Update{
		TableName:                 aws.String(s.cfg.TableName),
		Key:                       key(linkPK(id), entityLink),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}}}
	if !current.IsDeleted() {
		items = append(items, s.releaseGuard(current))
	}

	if _, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		if conditionFailedAt(err, 0) {
			return pkgerrors.LinkNotFound(id)
		}
		return pkgerrors.NewDatabaseError("delete link", err)
	}
	return nil
}

// GetLink loads a link by id
func (s *Store) GetLink(ctx context.Context, id string) (*entities.EntityLink, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.cfg.TableName),
		Key:            key(linkPK(id), entityLink),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("get link", err)
	}
	if len(out.Item) == 0 {
		return nil, pkgerrors.LinkNotFound(id)
	}
	var item linkItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal link: %w", err)
	}
	return item.toEntity()
}

// ReadLinksForRecord queries the outbound and inbound indexes. Index keys
// carry only the record id, so items of another kind are dropped here.
func (s *Store) ReadLinksForRecord(ctx context.Context, ref vo.RecordRef) (entities.RecordLinks, error) {
	from, err := s.queryLinks(ctx, s.cfg.OutboundIndex, "GSI2PK", outboundKey(ref.ID))
	if err != nil {
		return entities.RecordLinks{}, err
	}
	to, err := s.queryLinks(ctx, s.cfg.InboundIndex, "GSI1PK", inboundKey(ref.ID))
	if err != nil {
		return entities.RecordLinks{}, err
	}

	out := entities.RecordLinks{
		FromEntityLinks: make([]*entities.EntityLink, 0, len(from)),
		ToEntityLinks:   make([]*entities.EntityLink, 0, len(to)),
	}
	for _, l := range from {
		if l.FromEntityKind == ref.Kind {
			out.FromEntityLinks = append(out.FromEntityLinks, l)
		}
	}
	for _, l := range to {
		if l.ToEntityKind == ref.Kind {
			out.ToEntityLinks = append(out.ToEntityLinks, l)
		}
	}
	return out, nil
}

func (s *Store) queryLinks(ctx context.Context, index, attr, value string) ([]*entities.EntityLink, error) {
	keyCond := expression.Key(attr).Equal(expression.Value(value))
	filter := expression.Name("EntityType").Equal(expression.Value(entityLink))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).WithFilter(filter).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.cfg.TableName),
		IndexName:                 aws.String(index),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(true),
	}

	var links []*entities.EntityLink
	for {
		out, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, pkgerrors.NewDatabaseError("query links", err)
		}
		var items []linkItem
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal links: %w", err)
		}
		for _, item := range items {
			l, err := item.toEntity()
			if err != nil {
				s.logger.Warn("Skipping malformed link item", zap.Error(err))
				continue
			}
			links = append(links, l)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return links, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// conditionFailedAt reports whether err is a cancelled transaction whose
// item at index failed its condition.
func conditionFailedAt(err error, index int) bool {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return false
	}
	if index < 0 || index >= len(tce.CancellationReasons) {
		return false
	}
	code := tce.CancellationReasons[index].Code
	return code != nil && *code == "ConditionalCheckFailed"
}
