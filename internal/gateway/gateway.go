// ABOUTME: Gateway orchestrator that coordinates the bridge and HTTP servers
// ABOUTME: Wires registry, hub, telemetry, and store; owns graceful shutdown.

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/whatevertogo/unity-mcp-sub001/internal/bridge"
	"github.com/whatevertogo/unity-mcp-sub001/internal/config"
	"github.com/whatevertogo/unity-mcp-sub001/internal/hub"
	"github.com/whatevertogo/unity-mcp-sub001/internal/metrics"
	"github.com/whatevertogo/unity-mcp-sub001/internal/session"
	"github.com/whatevertogo/unity-mcp-sub001/internal/store"
	"github.com/whatevertogo/unity-mcp-sub001/internal/telemetry"
)

// UserResolver extracts an opaque caller identity from an API request.
// Supplied by the embedding process; nil means requests are anonymous.
type UserResolver func(r *http.Request) (string, bool)

// Gateway owns the unity-hub server components: the TCP bridge Unity editors
// connect to, and the HTTP API the tool-calling client uses.
type Gateway struct {
	config       *config.Config
	registry     *session.Registry
	selector     *session.Selector
	hub          *hub.Hub
	commands     *hub.CommandRegistry
	telemetry    *telemetry.Pipeline
	store        store.Store
	bridgeServer *bridge.Server
	httpServer   *http.Server
	userResolver UserResolver
	logger       *slog.Logger
}

// Options carries the optional collaborators a caller may inject.
type Options struct {
	// UserResolver resolves a caller id from API requests, for telemetry.
	UserResolver UserResolver
	// Sink overrides the default store-backed telemetry sink.
	Sink telemetry.Sink
}

// New creates a Gateway with the given configuration.
func New(cfg *config.Config, logger *slog.Logger, opts Options) (*Gateway, error) {
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	sink := opts.Sink
	if sink == nil {
		sink = storeSink(s)
	}
	pipeline := telemetry.New(telemetry.Config{
		Enabled:   cfg.Telemetry.Enabled,
		QueueSize: cfg.Telemetry.Queue,
		CacheTTL:  cfg.Telemetry.CacheTTL,
		Sink:      sink,
		Logger:    logger.With("component", "telemetry"),
	})

	registry := session.NewRegistry(logger.With("component", "registry"))
	selector := session.NewSelector(registry)
	h := hub.New(selector, pipeline, hub.Config{
		ReloadRetry:      cfg.Hub.ReloadRetry,
		ReloadMaxRetries: cfg.Hub.ReloadMaxRetries,
		DefaultTimeout:   cfg.Hub.DefaultTimeout,
	}, logger.With("component", "hub"))

	commands := hub.NewCommandRegistry(logger.With("component", "commands"))

	g := &Gateway{
		config:       cfg,
		registry:     registry,
		selector:     selector,
		hub:          h,
		commands:     commands,
		telemetry:    pipeline,
		store:        s,
		userResolver: opts.UserResolver,
		logger:       logger.With("component", "gateway"),
	}

	g.bridgeServer = bridge.NewServer(registry, bridge.Options{
		HandshakeTimeout:     cfg.Bridge.HandshakeTimeout,
		FramedReceiveTimeout: cfg.Bridge.FramedReceiveTimeout,
		HeartbeatTimeout:     cfg.Bridge.HeartbeatTimeout,
		KeepAliveInterval:    cfg.Bridge.KeepAliveInterval,
		MaxHeartbeatFrames:   cfg.Bridge.MaxHeartbeatFrames,
		MaxFrameSize:         cfg.Bridge.BufferSize,
		ServerTimeout:        cfg.Bridge.ConnectionTimeout,
	}, logger.With("component", "bridge"))
	g.bridgeServer.OnRegister = g.onSessionRegister
	g.bridgeServer.OnDisconnect = g.onSessionDisconnect

	if err := g.registerBuiltinCommands(); err != nil {
		_ = s.Close()
		return nil, err
	}

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           g.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g, nil
}

// Hub exposes the dispatch entry point for embedding callers.
func (g *Gateway) Hub() *hub.Hub { return g.hub }

// Commands exposes the command registry so the embedding process can add
// handlers before Run.
func (g *Gateway) Commands() *hub.CommandRegistry { return g.commands }

// Registry exposes the session registry, read-only by convention.
func (g *Gateway) Registry() *session.Registry { return g.registry }

// registerBuiltinCommands wires the commands the hub itself serves. Domain
// commands are pass-throughs; the instance interprets them.
func (g *Gateway) registerBuiltinCommands() error {
	if err := g.commands.Register("ping", hub.Forward(g.hub, "ping")); err != nil {
		return err
	}
	if err := g.commands.Register("execute", func(ctx context.Context, req hub.CommandRequest) (*hub.Result, error) {
		name, _ := req.Params["name"].(string)
		if name == "" {
			return hub.Failure(hub.ErrorUnknownCommand, "execute requires a params.name"), nil
		}
		params, _ := req.Params["params"].(map[string]any)
		return g.hub.Dispatch(ctx, req.Instance, name, params, req.Timeout)
	}); err != nil {
		return err
	}
	return g.commands.Register("list_instances", func(ctx context.Context, req hub.CommandRequest) (*hub.Result, error) {
		return &hub.Result{
			Success: true,
			Data:    map[string]any{"instances": g.instanceInfos()},
		}, nil
	})
}

// storeSink adapts the event store into a telemetry sink.
func storeSink(s store.Store) telemetry.Sink {
	return func(ctx context.Context, ev telemetry.Event) error {
		return s.SaveEvent(ctx, &store.TelemetryRecord{
			RecordType: ev.RecordType,
			Payload:    ev.Payload,
			Timestamp:  ev.Timestamp,
		})
	}
}

func (g *Gateway) onSessionRegister(sess *session.Session) {
	metrics.SetLiveSessions(len(g.registry.Live()))
	g.telemetry.Record(telemetry.Event{
		RecordType: "instance_connected",
		Payload: map[string]any{
			"session_id":    sess.ID,
			"project":       sess.Reference(),
			"unity_version": sess.UnityVersion,
		},
		Timestamp: time.Now().UTC(),
	})
}

func (g *Gateway) onSessionDisconnect(sess *session.Session) {
	metrics.SetLiveSessions(len(g.registry.Live()))
	g.telemetry.Record(telemetry.Event{
		RecordType: "instance_disconnected",
		Payload: map[string]any{
			"session_id": sess.ID,
			"project":    sess.Reference(),
			"keep_alive": sess.KeepAlive,
		},
		Timestamp: time.Now().UTC(),
	})
}

// Run starts the bridge and HTTP servers and blocks until the context is
// canceled or a server fails. Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	bridgeLn, err := net.Listen("tcp", g.config.Server.BridgeAddr)
	if err != nil {
		return fmt.Errorf("listening on bridge address: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		if err := g.bridgeServer.Serve(ctx, bridgeLn); err != nil {
			errCh <- fmt.Errorf("bridge server: %w", err)
		}
	}()
	go func() {
		g.logger.Info("HTTP server listening", "addr", g.config.Server.HTTPAddr)
		if err := g.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the run context is already
// canceled by the time shutdown starts.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops all servers, drains telemetry, and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	if err := g.bridgeServer.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, fmt.Errorf("bridge close: %w", err))
	}

	g.telemetry.Close()

	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
