// Package main implements the WebSocket $connect and $disconnect Lambda
// handler. Connections are registered against a link session so master
// context changes can be pushed to every client of that session.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/demonfiddler/evidence-engine-sub000/application/ports"
	domainevents "github.com/demonfiddler/evidence-engine-sub000/domain/events"
	"github.com/demonfiddler/evidence-engine-sub000/infrastructure/config"
	"github.com/demonfiddler/evidence-engine-sub000/infrastructure/di"
	"github.com/demonfiddler/evidence-engine-sub000/pkg/auth"
	"github.com/demonfiddler/evidence-engine-sub000/pkg/common"
)

// TokenValidator checks the token passed on the query string
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// SessionEnder forgets per-session state once no client is left
type SessionEnder interface {
	EndSession(ctx context.Context, sessionID string) error
}

// Handler registers and unregisters connections
type Handler struct {
	connections ports.ConnectionRegistry
	sessions    SessionEnder
	validator   TokenValidator
	logger      *zap.Logger
}

// publishedEnder announces ended sessions on the event bus for the API
// process that owns the master contexts.
type publishedEnder struct {
	publisher ports.EventPublisher
}

func (p publishedEnder) EndSession(ctx context.Context, sessionID string) error {
	return p.publisher.Publish(ctx, domainevents.NewSessionEnded(sessionID, time.Now()))
}

var errUnauthorized = errors.New("unauthorized")

// Handle dispatches on the route key
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	connectionID := req.RequestContext.ConnectionID

	if req.RequestContext.RouteKey == "$disconnect" {
		h.disconnect(ctx, connectionID)
		return respond(http.StatusOK, map[string]string{"status": "disconnected"}), nil
	}

	userID, err := h.authenticate(req)
	if err != nil {
		h.logger.Info("WebSocket authentication failed", zap.String("connectionID", connectionID), zap.Error(err))
		return respond(http.StatusUnauthorized, map[string]string{"error": "unauthorized"}), nil
	}

	sessionID := common.SessionKey(userID, req.QueryStringParameters["session"])
	if err := h.connections.Register(ctx, connectionID, userID, sessionID); err != nil {
		h.logger.Error("Failed to store connection", zap.String("connectionID", connectionID), zap.Error(err))
		return respond(http.StatusInternalServerError, map[string]string{"error": "internal server error"}), nil
	}

	h.logger.Info("WebSocket connection established",
		zap.String("connectionID", connectionID),
		zap.String("userID", userID),
		zap.String("sessionID", sessionID),
	)
	return respond(http.StatusOK, map[string]interface{}{
		"type":         "connection_established",
		"connectionId": connectionID,
		"userId":       userID,
		"sessionId":    sessionID,
		"timestamp":    time.Now().Unix(),
	}), nil
}

func (h *Handler) disconnect(ctx context.Context, connectionID string) {
	sessionID, err := h.connections.Unregister(ctx, connectionID)
	if err != nil {
		h.logger.Warn("Failed to unregister connection", zap.String("connectionID", connectionID), zap.Error(err))
		return
	}
	if sessionID == "" || h.sessions == nil {
		return
	}
	remaining, err := h.connections.ConnectionsForSession(ctx, sessionID)
	if err != nil {
		h.logger.Warn("Failed to list session connections", zap.String("sessionID", sessionID), zap.Error(err))
		return
	}
	if len(remaining) > 0 {
		return
	}
	if err := h.sessions.EndSession(ctx, sessionID); err != nil {
		h.logger.Warn("Failed to end session", zap.String("sessionID", sessionID), zap.Error(err))
	}
}

func (h *Handler) authenticate(req events.APIGatewayWebsocketProxyRequest) (string, error) {
	token := req.QueryStringParameters["token"]
	if token == "" {
		for k, v := range req.Headers {
			if strings.EqualFold(k, "Authorization") {
				token = strings.TrimSpace(strings.TrimPrefix(v, "Bearer "))
			}
		}
	}
	if token == "" || h.validator == nil {
		return "", errUnauthorized
	}
	claims, err := h.validator.ValidateToken(token)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}

func respond(status int, body interface{}) events.APIGatewayProxyResponse {
	data, _ := json.Marshal(body)
	return events.APIGatewayProxyResponse{StatusCode: status, Body: string(data)}
}

func main() {
	ctx := context.Background()
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := di.ProvideLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	awsCfg, err := di.ProvideAWSConfig(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to load AWS config: %v", err)
	}
	stores, _, err := di.ProvideStores(cfg, di.ProvideDynamoDBClient(awsCfg), logger)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	validator, err := di.ProvideJWTValidator(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to create token validator: %v", err)
	}

	publisher := di.ProvideEventPublisher(cfg, di.ProvideEventBridgeClient(awsCfg), logger)

	h := &Handler{
		connections: stores.Connections,
		sessions:    publishedEnder{publisher: publisher},
		logger:      logger,
	}
	if validator != nil {
		h.validator = validator
	}
	lambda.Start(h.Handle)
}
