// ABOUTME: HTTP API tests: health, readiness, auth, instances, and dispatch.
// ABOUTME: Runs the real router against an in-memory store and stub sessions.

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatevertogo/unity-mcp-sub001/internal/bridge"
	"github.com/whatevertogo/unity-mcp-sub001/internal/config"
	"github.com/whatevertogo/unity-mcp-sub001/internal/session"
	"github.com/whatevertogo/unity-mcp-sub001/internal/store"
)

// echoEndpoint answers every execute with a success payload echoing the
// command name.
type echoEndpoint struct {
	mu      sync.Mutex
	pending map[string]chan map[string]any
}

func newEchoEndpoint() *echoEndpoint {
	return &echoEndpoint{pending: make(map[string]chan map[string]any)}
}

func (e *echoEndpoint) Send(msg any) error {
	m, ok := msg.(*bridge.ExecuteMessage)
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if ch, ok := e.pending[m.ID]; ok {
		ch <- map[string]any{
			"status": "success",
			"result": map[string]any{"echo": m.Name},
		}
	}
	return nil
}

func (e *echoEndpoint) CreateRequest(id string) <-chan map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch := make(chan map[string]any, 1)
	e.pending[id] = ch
	return ch
}

func (e *echoEndpoint) CloseRequest(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ch, ok := e.pending[id]; ok {
		close(ch)
		delete(e.pending, id)
	}
}

func (e *echoEndpoint) Close() error { return nil }

func newTestGateway(t *testing.T, mutate func(*config.Config)) *Gateway {
	t.Helper()

	cfg := config.Default()
	cfg.Database.Path = ":memory:"
	cfg.Telemetry.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}

	g, err := New(cfg, slog.Default(), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.store.Close() })
	return g
}

func addSession(t *testing.T, g *Gateway, name, hash string) *session.Session {
	t.Helper()
	sess, err := g.registry.Register(session.RegisterParams{
		ProjectName:  name,
		ProjectHash:  hash,
		UnityVersion: "6000.0.23f1",
		Endpoint:     newEchoEndpoint(),
	})
	require.NoError(t, err)
	return sess
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestHealthEndpoints(t *testing.T) {
	g := newTestGateway(t, nil)
	handler := g.routes()

	t.Run("health is always ok", func(t *testing.T) {
		rec, body := doJSON(t, handler, http.MethodGet, "/health", nil, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok", body["status"])
	})

	t.Run("ready requires a connected instance", func(t *testing.T) {
		rec, _ := doJSON(t, handler, http.MethodGet, "/health/ready", nil, nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		addSession(t, g, "Proj", "h1")
		rec, body := doJSON(t, handler, http.MethodGet, "/health/ready", nil, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, float64(1), body["instances"])
	})
}

func TestAPIKeyAuth(t *testing.T) {
	g := newTestGateway(t, func(c *config.Config) { c.Server.APIKey = "hub-key" })
	handler := g.routes()

	t.Run("missing key is rejected", func(t *testing.T) {
		rec, _ := doJSON(t, handler, http.MethodGet, "/api/instances", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong key is rejected", func(t *testing.T) {
		rec, _ := doJSON(t, handler, http.MethodGet, "/api/instances", nil,
			map[string]string{"X-API-Key": "wrong"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid key passes", func(t *testing.T) {
		rec, _ := doJSON(t, handler, http.MethodGet, "/api/instances", nil,
			map[string]string{"X-API-Key": "hub-key"})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("health needs no key", func(t *testing.T) {
		rec, _ := doJSON(t, handler, http.MethodGet, "/health", nil, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestListInstances(t *testing.T) {
	g := newTestGateway(t, nil)
	handler := g.routes()

	live := addSession(t, g, "Proj", "h1")
	live.SetTools([]session.ToolDefinition{
		{Name: "capture_screenshot"},
		{Name: "run_play_mode_tests"},
	})
	offline := addSession(t, g, "Shelved", "h2")
	offline.KeepAlive = true
	g.registry.Unregister(offline.ID)

	rec, body := doJSON(t, handler, http.MethodGet, "/api/instances", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	instances := body["instances"].([]any)
	require.Len(t, instances, 2)

	first := instances[0].(map[string]any)
	assert.Equal(t, "Proj@h1", first["reference"])
	assert.Equal(t, true, first["connected"])
	assert.Equal(t, float64(2), first["tool_count"])

	second := instances[1].(map[string]any)
	assert.Equal(t, "Shelved@h2", second["reference"])
	assert.Equal(t, false, second["connected"])
}

func TestDispatchEndpoint(t *testing.T) {
	t.Run("forwards to the single live instance", func(t *testing.T) {
		g := newTestGateway(t, nil)
		addSession(t, g, "Proj", "h1")
		handler := g.routes()

		rec, body := doJSON(t, handler, http.MethodPost, "/api/dispatch",
			map[string]any{"command": "ping"}, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, "ping", body["data"].(map[string]any)["echo"])
	})

	t.Run("opaque execute passes the inner command through", func(t *testing.T) {
		g := newTestGateway(t, nil)
		addSession(t, g, "Proj", "h1")
		handler := g.routes()

		rec, body := doJSON(t, handler, http.MethodPost, "/api/dispatch",
			map[string]any{
				"command": "execute",
				"params":  map[string]any{"name": "get_scene", "params": map[string]any{"depth": 1}},
			}, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, "get_scene", body["data"].(map[string]any)["echo"])
	})

	t.Run("unknown command is a normalized failure, not an http error", func(t *testing.T) {
		g := newTestGateway(t, nil)
		addSession(t, g, "Proj", "h1")
		handler := g.routes()

		rec, body := doJSON(t, handler, http.MethodPost, "/api/dispatch",
			map[string]any{"command": "frobnicate"}, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, false, body["success"])
		assert.Equal(t, "unknown_command", body["error"])
	})

	t.Run("no live instance yields 404", func(t *testing.T) {
		g := newTestGateway(t, nil)
		handler := g.routes()

		rec, _ := doJSON(t, handler, http.MethodPost, "/api/dispatch",
			map[string]any{"command": "ping"}, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("ambiguous selection yields 409 with candidates", func(t *testing.T) {
		g := newTestGateway(t, nil)
		addSession(t, g, "Proj", "h1")
		addSession(t, g, "Proj2", "h2")
		handler := g.routes()

		rec, body := doJSON(t, handler, http.MethodPost, "/api/dispatch",
			map[string]any{"command": "ping"}, nil)
		require.Equal(t, http.StatusConflict, rec.Code)

		var candidates []string
		for _, c := range body["candidates"].([]any) {
			candidates = append(candidates, c.(string))
		}
		assert.ElementsMatch(t, []string{"Proj@h1", "Proj2@h2"}, candidates)
	})

	t.Run("explicit instance disambiguates", func(t *testing.T) {
		g := newTestGateway(t, nil)
		addSession(t, g, "Proj", "h1")
		addSession(t, g, "Proj2", "h2")
		handler := g.routes()

		rec, body := doJSON(t, handler, http.MethodPost, "/api/dispatch",
			map[string]any{"command": "ping", "instance": "Proj2@h2"}, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, body["success"])
	})

	t.Run("missing command yields 400", func(t *testing.T) {
		g := newTestGateway(t, nil)
		handler := g.routes()

		rec, _ := doJSON(t, handler, http.MethodPost, "/api/dispatch",
			map[string]any{"params": map[string]any{}}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("garbage body yields 400", func(t *testing.T) {
		g := newTestGateway(t, nil)

		req := httptest.NewRequest(http.MethodPost, "/api/dispatch", bytes.NewBufferString("{nope"))
		rec := httptest.NewRecorder()
		g.routes().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRecentEventsEndpoint(t *testing.T) {
	g := newTestGateway(t, nil)
	handler := g.routes()

	require.NoError(t, g.store.SaveEvent(context.Background(), &store.TelemetryRecord{
		RecordType: "instance_connected",
		Payload:    map[string]any{"project": "Proj@h1"},
	}))

	rec, body := doJSON(t, handler, http.MethodGet, "/api/events", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	events := body["events"].([]any)
	require.Len(t, events, 1)
}
