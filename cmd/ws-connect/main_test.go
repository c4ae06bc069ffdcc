package main

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/demonfiddler/evidence-engine-sub000/application/mastercontext"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/registry"
	"github.com/demonfiddler/evidence-engine-sub000/infrastructure/persistence/memory"
	"github.com/demonfiddler/evidence-engine-sub000/pkg/auth"
)

type endedSessions struct {
	ids []string
}

func (e *endedSessions) EndSession(ctx context.Context, sessionID string) error {
	e.ids = append(e.ids, sessionID)
	return nil
}

func newHandler(t *testing.T) (*Handler, *memory.Store, string) {
	t.Helper()
	validator, err := auth.NewJWTValidator(auth.JWTConfig{SecretKey: "ws-secret", Issuer: "test"})
	require.NoError(t, err)
	token, err := auth.NewJWTGenerator("ws-secret", "test", nil, time.Hour).GenerateToken("alice", "a@example.org", []string{auth.AuthorityRead})
	require.NoError(t, err)

	store := memory.NewStore()
	return &Handler{connections: store, validator: validator, logger: zap.NewNop()}, store, token
}

func connect(connectionID string, query map[string]string) events.APIGatewayWebsocketProxyRequest {
	return events.APIGatewayWebsocketProxyRequest{
		RequestContext: events.APIGatewayWebsocketProxyRequestContext{
			ConnectionID: connectionID,
			RouteKey:     "$connect",
		},
		QueryStringParameters: query,
	}
}

func TestConnectRegistersAgainstSession(t *testing.T) {
	h, store, token := newHandler(t)
	ctx := context.Background()

	resp, err := h.Handle(ctx, connect("c1", map[string]string{"token": token, "session": "tab-1"}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = h.Handle(ctx, connect("c2", map[string]string{"token": token}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ids, err := store.ConnectionsForSession(ctx, "alice/tab-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, ids)

	ids, err = store.ConnectionsForSession(ctx, "tab-1")
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = store.ConnectionsForSession(ctx, "user:alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"c2"}, ids)
}

func TestConnectRejectsBadToken(t *testing.T) {
	h, _, _ := newHandler(t)

	resp, err := h.Handle(context.Background(), connect("c1", map[string]string{"token": "garbage"}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = h.Handle(context.Background(), connect("c1", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestDisconnectUnregisters(t *testing.T) {
	h, store, token := newHandler(t)
	ctx := context.Background()
	_, err := h.Handle(ctx, connect("c1", map[string]string{"token": token, "session": "s"}))
	require.NoError(t, err)

	req := connect("c1", nil)
	req.RequestContext.RouteKey = "$disconnect"
	resp, err := h.Handle(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ids, err := store.ConnectionsForSession(ctx, "alice/s")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestDisconnectEndsSessionWithLastConnection(t *testing.T) {
	h, _, token := newHandler(t)
	ended := &endedSessions{}
	h.sessions = ended
	ctx := context.Background()

	for _, id := range []string{"c1", "c2"} {
		_, err := h.Handle(ctx, connect(id, map[string]string{"token": token, "session": "s"}))
		require.NoError(t, err)
	}
	disconnect := func(id string) {
		req := connect(id, nil)
		req.RequestContext.RouteKey = "$disconnect"
		_, err := h.Handle(ctx, req)
		require.NoError(t, err)
	}

	disconnect("c1")
	assert.Empty(t, ended.ids)

	disconnect("c2")
	assert.Equal(t, []string{"alice/s"}, ended.ids)

	disconnect("unknown")
	assert.Equal(t, []string{"alice/s"}, ended.ids)
}

func TestDisconnectDropsMasterContext(t *testing.T) {
	h, _, token := newHandler(t)
	contexts := mastercontext.NewStore(registry.Default(), nil, nil, nil, zap.NewNop())
	h.sessions = contexts
	ctx := context.Background()

	_, err := h.Handle(ctx, connect("c1", map[string]string{"token": token, "session": "s"}))
	require.NoError(t, err)
	contexts.Session("alice/s").SetTopic(ctx, "5", false)
	require.Equal(t, 1, contexts.Len())

	req := connect("c1", nil)
	req.RequestContext.RouteKey = "$disconnect"
	_, err = h.Handle(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 0, contexts.Len())
}
