package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarvinshrivastava/assistant-gateway/pkg/audit"
	"github.com/sarvinshrivastava/assistant-gateway/pkg/gate"
	"github.com/sarvinshrivastava/assistant-gateway/pkg/health"
	"github.com/sarvinshrivastava/assistant-gateway/pkg/permission"
	"github.com/sarvinshrivastava/assistant-gateway/pkg/ratelimit"
	"github.com/sarvinshrivastava/assistant-gateway/pkg/session"
)

func newTestHandler(t *testing.T, authMiddle func(http.Handler) http.Handler) (*Handler, *gate.Gate) {
	t.Helper()

	log := audit.NewMemoryLog(0)
	g := gate.New(
		gate.Config{},
		permission.NewResolver(permission.Config{}),
		permission.NewRegistry(),
		ratelimit.NewSlidingWindow(ratelimit.Config{}),
		session.NewStore(session.Config{}),
		log,
	)
	t.Cleanup(func() { _ = g.Close() })

	checker := health.NewChecker()
	checker.SetReady()
	return NewHandler(g, log, checker, authMiddle), g
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	r := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	decoded := map[string]any{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestHealthEndpoints(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	rec, _ := doJSON(t, h, "GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body := doJSON(t, h, "GET", "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", body["status"])
}

func TestGetStats(t *testing.T) {
	h, g := newTestHandler(t, nil)
	g.Check(context.Background(), gate.Request{UserID: "alice", ChannelID: "chan-1"}, time.Now())

	rec, body := doJSON(t, h, "GET", "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["admitted"])

	sessions, ok := body["sessions"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), sessions["active_sessions"])
}

func TestListSessions(t *testing.T) {
	h, g := newTestHandler(t, nil)
	g.Check(context.Background(), gate.Request{UserID: "alice", ChannelID: "chan-1"}, time.Now())
	g.Check(context.Background(), gate.Request{UserID: "bob", ChannelID: "chan-2", IsDM: true}, time.Now())

	r := httptest.NewRequest("GET", "/api/sessions", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	var infos []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &infos))
	assert.Len(t, infos, 2)
}

func TestQueryAudit(t *testing.T) {
	h, g := newTestHandler(t, nil)
	g.Check(context.Background(), gate.Request{UserID: "alice", ChannelID: "chan-1"}, time.Now())
	g.Check(context.Background(), gate.Request{UserID: "bob", ChannelID: "chan-2"}, time.Now())

	t.Run("by user", func(t *testing.T) {
		rec, body := doJSON(t, h, "GET", "/api/audit?user=alice", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, float64(1), body["count"])
	})

	t.Run("by kind", func(t *testing.T) {
		rec, body := doJSON(t, h, "GET", "/api/audit?kind=auth_attempt", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, float64(2), body["count"])
	})

	t.Run("since in the future", func(t *testing.T) {
		since := time.Now().Add(time.Hour).Format(time.RFC3339)
		rec, body := doJSON(t, h, "GET", "/api/audit?since="+since, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, float64(0), body["count"])
	})

	t.Run("bad since", func(t *testing.T) {
		rec, _ := doJSON(t, h, "GET", "/api/audit?since=yesterday", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad limit", func(t *testing.T) {
		rec, _ := doJSON(t, h, "GET", "/api/audit?limit=0", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestResetSession(t *testing.T) {
	h, g := newTestHandler(t, nil)
	g.Check(context.Background(), gate.Request{UserID: "alice", ChannelID: "chan-1"}, time.Now())

	rec, body := doJSON(t, h, "POST", "/api/sessions/alice/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["removed"])

	rec, body = doJSON(t, h, "POST", "/api/sessions/alice/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["removed"])
}

func TestRestrictUser(t *testing.T) {
	h, g := newTestHandler(t, nil)

	t.Run("rejects zero minutes", func(t *testing.T) {
		rec, _ := doJSON(t, h, "POST", "/api/users/alice/restrict", `{"minutes": 0}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects bad body", func(t *testing.T) {
		rec, _ := doJSON(t, h, "POST", "/api/users/alice/restrict", "{not json")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("restricts", func(t *testing.T) {
		rec, body := doJSON(t, h, "POST", "/api/users/alice/restrict", `{"minutes": 30, "reason": "cooling off"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, float64(30), body["restricted_minutes"])

		decision := g.Check(context.Background(), gate.Request{UserID: "alice"}, time.Now())
		assert.False(t, decision.Allowed)
	})
}

func TestBanAndUnban(t *testing.T) {
	h, g := newTestHandler(t, nil)

	rec, body := doJSON(t, h, "POST", "/api/users/mallory/ban", `{"reason": "spam"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["banned"])
	assert.False(t, g.Check(context.Background(), gate.Request{UserID: "mallory"}, time.Now()).Allowed)

	rec, body = doJSON(t, h, "POST", "/api/users/mallory/unban", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["banned"])
	assert.True(t, g.Check(context.Background(), gate.Request{UserID: "mallory"}, time.Now()).Allowed)
}

func TestAuthGuardsAPIButNotHealth(t *testing.T) {
	auth := &APIKeyAuthenticator{Hashes: []string{hashKey(t, "good-key")}}
	h, _ := newTestHandler(t, RequireAdmin(auth))

	// Health endpoints stay open.
	rec, _ := doJSON(t, h, "GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// API without credentials is rejected.
	rec, _ = doJSON(t, h, "GET", "/api/stats", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// API with the key passes.
	r := httptest.NewRequest("GET", "/api/stats", nil)
	r.Header.Set("X-API-Key", "good-key")
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, r)
	assert.Equal(t, http.StatusOK, rec2.Code)
}
