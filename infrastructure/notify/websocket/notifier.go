// Package websocket pushes messages to API Gateway WebSocket connections.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi/types"
	"go.uber.org/zap"

	"github.com/demonfiddler/evidence-engine-sub000/application/ports"
)

// API is the subset of the management API used to post to connections
type API interface {
	PostToConnection(ctx context.Context, params *apigatewaymanagementapi.PostToConnectionInput, optFns ...func(*apigatewaymanagementapi.Options)) (*apigatewaymanagementapi.PostToConnectionOutput, error)
}

// Envelope is the frame sent to clients
type Envelope struct {
	Type      string      `json:"type"`
	Timestamp int64       `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Notifier implements ClientNotifier. Stale connections are unregistered
// when the gateway reports them gone.
type Notifier struct {
	client      API
	connections ports.ConnectionRegistry
	messageType string
	logger      *zap.Logger
}

var _ ports.ClientNotifier = (*Notifier)(nil)

// NewNotifier creates a notifier
func NewNotifier(client API, connections ports.ConnectionRegistry, logger *zap.Logger) *Notifier {
	return &Notifier{
		client:      client,
		connections: connections,
		messageType: "master_filter",
		logger:      logger,
	}
}

// NewAPIClient builds a management API client for a WebSocket endpoint
func NewAPIClient(cfg aws.Config, endpoint string) *apigatewaymanagementapi.Client {
	return apigatewaymanagementapi.NewFromConfig(cfg, func(o *apigatewaymanagementapi.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})
}

// Notify posts message to every connection of the session
func (n *Notifier) Notify(ctx context.Context, sessionID string, message interface{}) error {
	ids, err := n.connections.ConnectionsForSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to list connections: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	data, err := json.Marshal(Envelope{
		Type:      n.messageType,
		Timestamp: time.Now().Unix(),
		Data:      message,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	var errs []error
	for _, id := range ids {
		_, err := n.client.PostToConnection(ctx, &apigatewaymanagementapi.PostToConnectionInput{
			ConnectionId: aws.String(id),
			Data:         data,
		})
		if err == nil {
			continue
		}
		var gone *types.GoneException
		if errors.As(err, &gone) {
			n.logger.Debug("Removing stale connection", zap.String("connectionId", id))
			if _, uerr := n.connections.Unregister(ctx, id); uerr != nil {
				n.logger.Warn("Failed to unregister connection", zap.Error(uerr), zap.String("connectionId", id))
			}
			continue
		}
		n.logger.Warn("Failed to post to connection",
			zap.Error(err),
			zap.String("connectionId", id),
			zap.String("sessionId", sessionID),
		)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
