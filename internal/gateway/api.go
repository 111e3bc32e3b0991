// ABOUTME: HTTP API surface: instance listing, command dispatch, health, metrics.
// ABOUTME: Selection errors map to structured 4xx responses the client can act on.

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/whatevertogo/unity-mcp-sub001/internal/hub"
	"github.com/whatevertogo/unity-mcp-sub001/internal/session"
	"github.com/whatevertogo/unity-mcp-sub001/internal/telemetry"
)

// instanceInfo is the JSON shape of one session in API responses.
type instanceInfo struct {
	SessionID     string    `json:"session_id"`
	Reference     string    `json:"reference"`
	ProjectName   string    `json:"project_name"`
	ProjectHash   string    `json:"project_hash"`
	UnityVersion  string    `json:"unity_version"`
	ProjectPath   string    `json:"project_path,omitempty"`
	Connected     bool      `json:"connected"`
	ConnectedAt   time.Time `json:"connected_at"`
	LastHeartbeat time.Time `json:"last_heartbeat,omitempty"`
	ToolCount     int       `json:"tool_count"`
}

// dispatchRequest is the POST /api/dispatch body.
type dispatchRequest struct {
	Instance string         `json:"instance,omitempty"`
	Command  string         `json:"command"`
	Params   map[string]any `json:"params,omitempty"`
	// TimeoutSeconds bounds the wait for the correlated result.
	TimeoutSeconds float64 `json:"timeout,omitempty"`
}

// routes builds the chi router for the HTTP surface.
func (g *Gateway) routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", g.handleHealth)
	r.Get("/health/ready", g.handleReady)
	if g.config.Metrics.Enabled {
		r.Method(http.MethodGet, g.config.Metrics.Path, promhttp.Handler())
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(g.apiKeyMiddleware)
		api.Get("/instances", g.handleListInstances)
		api.Get("/events", g.handleRecentEvents)
		api.Post("/dispatch", g.handleDispatch)
	})
	return r
}

// apiKeyMiddleware enforces the configured API key, when one is set.
func (g *Gateway) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.config.Server.APIKey != "" && r.Header.Get("X-API-Key") != g.config.Server.APIKey {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid api key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":                 "ok",
		"telemetry_worker_alive": g.telemetry.WorkerAlive(),
	})
}

// handleReady reports ready only when at least one instance is connected.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	live := g.registry.Live()
	if len(live) == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "no instances connected"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "instances": len(live)})
}

func (g *Gateway) handleListInstances(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"instances": g.instanceInfos()})
}

func (g *Gateway) instanceInfos() []instanceInfo {
	sessions := g.registry.List()
	out := make([]instanceInfo, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, instanceInfo{
			SessionID:     sess.ID,
			Reference:     sess.Reference(),
			ProjectName:   sess.ProjectName,
			ProjectHash:   sess.ProjectHash,
			UnityVersion:  sess.UnityVersion,
			ProjectPath:   sess.ProjectPath,
			Connected:     !sess.Offline(),
			ConnectedAt:   sess.ConnectedAt,
			LastHeartbeat: sess.LastHeartbeat(),
			ToolCount:     len(sess.Tools()),
		})
	}
	return out
}

func (g *Gateway) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	records, err := g.store.RecentEvents(r.Context(), 50)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": records})
}

// handleDispatch runs one command through the command registry and returns
// the uniform result shape. Selection errors become structured 4xx bodies.
func (g *Gateway) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
		return
	}
	if req.Command == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "command is required"})
		return
	}

	if g.userResolver != nil {
		if userID, ok := g.userResolver(r); ok {
			g.telemetry.Record(telemetry.Event{
				RecordType: "api_dispatch",
				Payload:    map[string]any{"user_id": userID, "command": req.Command},
				Timestamp:  time.Now().UTC(),
				DedupeKey:  userID + ":" + req.Command,
			})
		}
	}

	timeout := time.Duration(req.TimeoutSeconds * float64(time.Second))
	result, err := g.commands.Dispatch(r.Context(), req.Command, hub.CommandRequest{
		Instance: req.Instance,
		Params:   req.Params,
		Timeout:  timeout,
	})
	if err != nil {
		g.writeSelectionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// writeSelectionError maps selector errors onto actionable responses.
func (g *Gateway) writeSelectionError(w http.ResponseWriter, err error) {
	var selErr *session.SelectionRequiredError
	switch {
	case errors.As(err, &selErr):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":      "instance selection required",
			"candidates": selErr.Candidates,
		})
	case errors.Is(err, session.ErrNoSession):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
