package dynamodb

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/demonfiddler/evidence-engine-sub000/application/ports"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/entities"
	vo "github.com/demonfiddler/evidence-engine-sub000/domain/core/valueobjects"
	pkgerrors "github.com/demonfiddler/evidence-engine-sub000/pkg/errors"
)

// BatchGetItem accepts at most 100 keys
const maxBatchGet = 100

// Save upserts a record
func (s *Store) Save(ctx context.Context, record *entities.TrackedRecord) error {
	item, err := attributevalue.MarshalMap(newRecordItem(record.Snapshot()))
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.cfg.TableName),
		Item:      item,
	})
	if err != nil {
		s.logger.Error("Failed to save record", zap.Error(err), zap.String("recordID", record.ID()))
		return pkgerrors.NewDatabaseError("save record", err)
	}
	return nil
}

// GetByID loads a record by id
func (s *Store) GetByID(ctx context.Context, id string) (*entities.TrackedRecord, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.cfg.TableName),
		Key:            key(recordPK(id), entityRecord),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("get record", err)
	}
	if len(out.Item) == 0 {
		return nil, pkgerrors.RecordNotFound(id)
	}
	var item recordItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return entities.ReconstructTrackedRecord(item.toSnapshot())
}

// List queries the kind index. Without a kind every kind partition is read.
// Results are ordered by id; paging is applied after filtering.
func (s *Store) List(ctx context.Context, criteria ports.RecordCriteria) ([]*entities.TrackedRecord, error) {
	if criteria.IDs != nil && len(criteria.IDs) == 0 {
		return []*entities.TrackedRecord{}, nil
	}

	kinds := vo.AllKinds()
	if criteria.Kind != "" {
		kinds = []vo.EntityKind{criteria.Kind}
	}

	var wanted map[string]bool
	if len(criteria.IDs) > 0 {
		wanted = make(map[string]bool, len(criteria.IDs))
		for _, id := range criteria.IDs {
			wanted[id] = true
		}
	}

	var records []*entities.TrackedRecord
	for _, kind := range kinds {
		items, err := s.queryKind(ctx, kind, criteria)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			if wanted != nil && !wanted[item.RecordID] {
				continue
			}
			r, err := entities.ReconstructTrackedRecord(item.toSnapshot())
			if err != nil {
				s.logger.Warn("Skipping malformed record item", zap.Error(err), zap.String("recordID", item.RecordID))
				continue
			}
			records = append(records, r)
		}
	}

	sort.Slice(records, func(i, j int) bool { return records[i].ID() < records[j].ID() })

	if criteria.Offset > 0 {
		if criteria.Offset >= len(records) {
			return []*entities.TrackedRecord{}, nil
		}
		records = records[criteria.Offset:]
	}
	if criteria.Limit > 0 && len(records) > criteria.Limit {
		records = records[:criteria.Limit]
	}
	if records == nil {
		records = []*entities.TrackedRecord{}
	}
	return records, nil
}

func (s *Store) queryKind(ctx context.Context, kind vo.EntityKind, criteria ports.RecordCriteria) ([]recordItem, error) {
	keyCond := expression.Key("GSI2PK").Equal(expression.Value(kindKey(kind)))
	builder := expression.NewBuilder().WithKeyCondition(keyCond)

	var filter *expression.ConditionBuilder
	and := func(c expression.ConditionBuilder) {
		if filter == nil {
			filter = &c
			return
		}
		combined := filter.And(c)
		filter = &combined
	}
	if len(criteria.Statuses) > 0 {
		operands := make([]expression.OperandBuilder, 0, len(criteria.Statuses))
		for _, st := range criteria.Statuses {
			operands = append(operands, expression.Value(string(st)))
		}
		if len(operands) == 1 {
			and(expression.Name("Status").Equal(operands[0]))
		} else {
			and(expression.Name("Status").In(operands[0], operands[1:]...))
		}
	}
	if criteria.Text != "" {
		and(expression.Name("LabelLower").Contains(strings.ToLower(criteria.Text)))
	}
	if filter != nil {
		builder = builder.WithFilter(*filter)
	}

	expr, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.cfg.TableName),
		IndexName:                 aws.String(s.cfg.OutboundIndex),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}

	var items []recordItem
	for {
		out, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, pkgerrors.NewDatabaseError("list records", err)
		}
		var page []recordItem
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("failed to unmarshal records: %w", err)
		}
		items = append(items, page...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// Labels batch-loads record labels
func (s *Store) Labels(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	seen := make(map[string]bool, len(ids))
	var unique []string
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}

	for _, chunk := range chunkIDs(unique, maxBatchGet) {
		keys := make([]map[string]types.AttributeValue, 0, len(chunk))
		for _, id := range chunk {
			keys = append(keys, key(recordPK(id), entityRecord))
		}
		request := map[string]types.KeysAndAttributes{
			s.cfg.TableName: {
				Keys:                 keys,
				ProjectionExpression: aws.String("RecordID, Label"),
			},
		}
		for len(request) > 0 {
			resp, err := s.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: request})
			if err != nil {
				return nil, pkgerrors.NewDatabaseError("load labels", err)
			}
			for _, raw := range resp.Responses[s.cfg.TableName] {
				var item struct {
					RecordID string `dynamodbav:"RecordID"`
					Label    string `dynamodbav:"Label"`
				}
				if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
					return nil, fmt.Errorf("failed to unmarshal label: %w", err)
				}
				out[item.RecordID] = item.Label
			}
			request = resp.UnprocessedKeys
		}
	}
	return out, nil
}

func chunkIDs(ids []string, size int) [][]string {
	var chunks [][]string
	for len(ids) > size {
		chunks = append(chunks, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		chunks = append(chunks, ids)
	}
	return chunks
}
