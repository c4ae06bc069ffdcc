package dynamodb

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	pkgerrors "github.com/demonfiddler/evidence-engine-sub000/pkg/errors"
)

// Connections expire after two hours, the API Gateway WebSocket limit
const connectionTTL = 2 * time.Hour

// Register stores a connection keyed to its session
func (s *Store) Register(ctx context.Context, connectionID, userID, sessionID string) error {
	now := s.now().UTC()
	item, err := attributevalue.MarshalMap(connectionItem{
		PK:           connectionPK(connectionID),
		SK:           entityConnection,
		GSI1PK:       sessionKey(sessionID),
		GSI1SK:       connectionID,
		EntityType:   entityConnection,
		ConnectionID: connectionID,
		UserID:       userID,
		SessionID:    sessionID,
		ConnectedAt:  now.Format(time.RFC3339),
		TTL:          now.Add(connectionTTL).Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal connection: %w", err)
	}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.cfg.ConnectionsTableName),
		Item:      item,
	}); err != nil {
		return pkgerrors.NewDatabaseError("register connection", err)
	}
	s.logger.Debug("Connection registered",
		zap.String("connectionId", connectionID),
		zap.String("userId", userID),
		zap.String("sessionId", sessionID),
	)
	return nil
}

// Unregister deletes a connection
func (s *Store) Unregister(ctx context.Context, connectionID string) (string, error) {
	out, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(s.cfg.ConnectionsTableName),
		Key:          key(connectionPK(connectionID), entityConnection),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return "", pkgerrors.NewDatabaseError("unregister connection", err)
	}
	if len(out.Attributes) == 0 {
		return "", nil
	}
	var old connectionItem
	if err := attributevalue.UnmarshalMap(out.Attributes, &old); err != nil {
		return "", fmt.Errorf("failed to unmarshal connection: %w", err)
	}
	return old.SessionID, nil
}

// ConnectionsForSession lists live connection ids sorted ascending
func (s *Store) ConnectionsForSession(ctx context.Context, sessionID string) ([]string, error) {
	keyCond := expression.Key("GSI1PK").Equal(expression.Value(sessionKey(sessionID)))
	filter := expression.Name("TTL").GreaterThan(expression.Value(s.now().UTC().Unix()))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).WithFilter(filter).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.cfg.ConnectionsTableName),
		IndexName:                 aws.String(s.cfg.InboundIndex),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}

	var ids []string
	for {
		out, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, pkgerrors.NewDatabaseError("query connections", err)
		}
		var items []connectionItem
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal connections: %w", err)
		}
		for _, item := range items {
			ids = append(ids, item.ConnectionID)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
	sort.Strings(ids)
	return ids, nil
}
