// ABOUTME: Static command registry mapping command names to handlers.
// ABOUTME: Handlers are registered explicitly at startup, never discovered.

package hub

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// CommandRequest carries the caller-facing parameters of one command.
type CommandRequest struct {
	// Instance is the caller-supplied instance reference; empty auto-selects.
	Instance string
	Params   map[string]any
	Timeout  time.Duration
}

// Handler executes one named command. Selection errors may be returned as the
// error; everything else must come back as a Result.
type Handler func(ctx context.Context, req CommandRequest) (*Result, error)

// CommandRegistry maps command names to handlers. It is populated by explicit
// Register calls during startup; dispatching an unregistered name yields the
// same normalized unknown-command failure regardless of caller.
type CommandRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   *slog.Logger
}

// NewCommandRegistry creates an empty registry.
func NewCommandRegistry(logger *slog.Logger) *CommandRegistry {
	return &CommandRegistry{
		handlers: make(map[string]Handler),
		logger:   logger,
	}
}

// Register adds a handler under name. Registering a name twice is a
// programming error and fails loudly.
func (r *CommandRegistry) Register(name string, handler Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("command %q already registered", name)
	}
	r.handlers[name] = handler
	return nil
}

// Names returns the registered command names, sorted.
func (r *CommandRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch runs the handler registered under name. An unknown name is a
// normalized failure, not an error.
func (r *CommandRegistry) Dispatch(ctx context.Context, name string, req CommandRequest) (*Result, error) {
	r.mu.RLock()
	handler, ok := r.handlers[name]
	r.mu.RUnlock()

	if !ok {
		r.logger.Warn("unknown command requested", "command", name)
		return Failure(ErrorUnknownCommand, fmt.Sprintf("unknown command %q", name)), nil
	}
	return handler(ctx, req)
}

// Forward builds a handler that sends the named command to the resolved
// instance via the hub, passing the request parameters through opaquely.
func Forward(h *Hub, command string) Handler {
	return func(ctx context.Context, req CommandRequest) (*Result, error) {
		return h.Dispatch(ctx, req.Instance, command, req.Params, req.Timeout)
	}
}
