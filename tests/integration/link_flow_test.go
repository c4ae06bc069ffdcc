package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/demonfiddler/evidence-engine-sub000/infrastructure/config"
	"github.com/demonfiddler/evidence-engine-sub000/infrastructure/di"
	"github.com/demonfiddler/evidence-engine-sub000/pkg/auth"
)

const (
	testSecret = "integration-secret"
	testIssuer = "evidence-engine-test"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Code    string          `json:"code"`
}

type harness struct {
	t      *testing.T
	server *httptest.Server
	token  string
}

func newHarness(t *testing.T, authorities ...string) *harness {
	t.Helper()
	t.Setenv("ENVIRONMENT", "test")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("JWT_ISSUER", testIssuer)
	t.Setenv("JWT_AUDIENCE", "")
	t.Setenv("EVENT_BUS_NAME", "")
	t.Setenv("WEBSOCKET_ENDPOINT", "")
	t.Setenv("QUERY_CACHE_TTL", "0s")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "0")
	t.Setenv("ENABLE_CLOUDWATCH", "false")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	container, cleanup, err := di.InitializeContainer(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(cleanup)

	server := httptest.NewServer(container.Router.Setup())
	t.Cleanup(server.Close)

	token, err := auth.NewJWTGenerator(testSecret, testIssuer, nil, time.Hour).
		GenerateToken("alice", "alice@example.org", authorities)
	require.NoError(t, err)

	return &harness{t: t, server: server, token: token}
}

func (h *harness) do(method, path string, body interface{}) (int, envelope) {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, h.server.URL+path, &buf)
	require.NoError(h.t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.token)

	resp, err := h.server.Client().Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(h.t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestLinkFlow_PublishFollowsAudit(t *testing.T) {
	h := newHarness(t, auth.AuthorityAdmin)

	status, _ := h.do(http.MethodPut, "/api/v1/records/t1", map[string]interface{}{
		"kind": "TOP", "label": "Climate",
	})
	require.Equal(t, http.StatusOK, status)
	status, _ = h.do(http.MethodPut, "/api/v1/records/c1", map[string]interface{}{
		"kind": "CLA", "label": "Sea levels are rising",
	})
	require.Equal(t, http.StatusOK, status)

	status, env := h.do(http.MethodPost, "/api/v1/links", map[string]interface{}{
		"fromEntityKind": "CLA", "fromEntityId": "c1",
		"toEntityKind": "TOP", "toEntityId": "t1",
	})
	require.Equal(t, http.StatusCreated, status)
	link := decode[map[string]interface{}](t, env.Data)
	assert.NotEmpty(t, link["id"])

	status, env = h.do(http.MethodGet, "/api/v1/records/c1/audit", nil)
	require.Equal(t, http.StatusOK, status)
	ra := decode[struct {
		Publish struct {
			CanPublish bool `json:"canPublish"`
		} `json:"publish"`
	}](t, env.Data)
	assert.False(t, ra.Publish.CanPublish)

	status, env = h.do(http.MethodPut, "/api/v1/records/c1/status", map[string]string{"status": "PUB"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "AUDIT_FAILED", env.Code)

	status, _ = h.do(http.MethodPut, "/api/v1/records/c1", map[string]interface{}{
		"kind": "CLA", "label": "Sea levels are rising",
		"fields": map[string]interface{}{"text": "Global mean sea level rose 20cm", "date": "2024-01-01"},
	})
	require.Equal(t, http.StatusOK, status)
	status, _ = h.do(http.MethodPut, "/api/v1/records/p1", map[string]interface{}{
		"kind": "PUB", "label": "Sea level report",
	})
	require.Equal(t, http.StatusOK, status)
	status, _ = h.do(http.MethodPost, "/api/v1/links", map[string]interface{}{
		"fromEntityKind": "CLA", "fromEntityId": "c1",
		"toEntityKind": "PUB", "toEntityId": "p1",
		"toEntityLocations": "ch. 2",
	})
	require.Equal(t, http.StatusCreated, status)

	status, env = h.do(http.MethodPut, "/api/v1/records/c1/status", map[string]string{"status": "PUB"})
	require.Equal(t, http.StatusOK, status, env.Code)
}

func TestLinkFlow_MasterTopicFiltersLists(t *testing.T) {
	h := newHarness(t, auth.AuthorityAdmin)

	for _, r := range []struct{ id, kind, label string }{
		{"t1", "TOP", "Climate"},
		{"t2", "TOP", "Health"},
		{"c1", "CLA", "Warming"},
		{"c2", "CLA", "Vaccines"},
	} {
		status, _ := h.do(http.MethodPut, "/api/v1/records/"+r.id, map[string]interface{}{"kind": r.kind, "label": r.label})
		require.Equal(t, http.StatusOK, status)
	}
	for _, l := range [][2]string{{"c1", "t1"}, {"c2", "t2"}} {
		status, _ := h.do(http.MethodPost, "/api/v1/links", map[string]interface{}{
			"fromEntityKind": "CLA", "fromEntityId": l[0],
			"toEntityKind": "TOP", "toEntityId": l[1],
		})
		require.Equal(t, http.StatusCreated, status)
	}

	status, _ := h.do(http.MethodPut, "/api/v1/master-context/", map[string]interface{}{"masterTopicId": "t1", "showOnlyLinkedRecords": true})
	require.Equal(t, http.StatusOK, status)

	status, env := h.do(http.MethodGet, "/api/v1/records?kind=CLA&master=true", nil)
	require.Equal(t, http.StatusOK, status)
	list := decode[struct {
		Records []struct {
			ID string `json:"id"`
		} `json:"records"`
		Count int `json:"count"`
	}](t, env.Data)
	require.Len(t, list.Records, 1)
	assert.Equal(t, "c1", list.Records[0].ID)

	status, env = h.do(http.MethodGet, "/api/v1/records?kind=CLA", nil)
	require.Equal(t, http.StatusOK, status)
	all := decode[struct {
		Count int `json:"count"`
	}](t, env.Data)
	assert.Equal(t, 2, all.Count)

	status, env = h.do(http.MethodGet, "/api/v1/records/t1/links", nil)
	require.Equal(t, http.StatusOK, status)
	links := decode[struct {
		Links []map[string]interface{} `json:"links"`
	}](t, env.Data)
	require.Len(t, links.Links, 1)
	assert.Equal(t, "c1", links.Links[0]["otherRecordId"])
}

func TestLinkFlow_ReadOnlyUserCannotLink(t *testing.T) {
	h := newHarness(t, auth.AuthorityRead)

	status, env := h.do(http.MethodPost, "/api/v1/links", map[string]interface{}{
		"fromEntityKind": "CLA", "fromEntityId": "c1",
		"toEntityKind": "TOP", "toEntityId": "t1",
	})
	assert.Equal(t, http.StatusForbidden, status)
	assert.False(t, env.Success)

	status, env = h.do(http.MethodGet, "/api/v1/directions/TOP/CLA", nil)
	require.Equal(t, http.StatusOK, status)
	dir := decode[map[string]interface{}](t, env.Data)
	assert.Equal(t, "CLA", dir["fromKind"])
}
