// ABOUTME: Session types for connected Unity editor instances.
// ABOUTME: A Session carries identity, liveness state, and its live endpoint.

package session

import (
	"fmt"
	"sync"
	"time"
)

// Endpoint is the live duplex channel to a connected editor instance.
// bridge.Conn implements it; tests substitute fakes.
type Endpoint interface {
	// Send transmits an encoded message to the instance.
	Send(msg any) error
	// CreateRequest registers a pending correlation id and returns the channel
	// its result will be delivered on. CloseRequest must eventually be called.
	CreateRequest(id string) <-chan map[string]any
	// CloseRequest removes and closes the pending channel for id.
	CloseRequest(id string)
	// Close tears down the underlying connection.
	Close() error
}

// ToolDefinition describes one custom tool advertised by an instance
// via a register_tools message.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// Session represents one registered editor instance.
// At most one live session exists per ProjectHash; a reconnect with the same
// hash atomically replaces the previous live session.
type Session struct {
	ID           string
	ProjectName  string
	ProjectHash  string
	UnityVersion string
	ProjectPath  string

	// KeepAlive marks the session as addressable after disconnect: the
	// registry keeps an offline placeholder instead of forgetting it.
	KeepAlive bool

	ConnectedAt time.Time

	mu              sync.Mutex
	endpoint        Endpoint
	lastHeartbeatAt time.Time
	tools           []ToolDefinition
}

// Reference returns the caller-facing "Name@hash" form of this session.
func (s *Session) Reference() string {
	return fmt.Sprintf("%s@%s", s.ProjectName, s.ProjectHash)
}

// Endpoint returns the live endpoint, or nil if the session is offline.
func (s *Session) Endpoint() Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint
}

// Offline reports whether the session is a disconnected placeholder.
func (s *Session) Offline() bool {
	return s.Endpoint() == nil
}

// TouchHeartbeat records that the instance answered a heartbeat.
func (s *Session) TouchHeartbeat(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHeartbeatAt = at
}

// LastHeartbeat returns the time of the most recent pong, zero if none yet.
func (s *Session) LastHeartbeat() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeartbeatAt
}

// SetTools replaces the session's advertised tool definitions.
func (s *Session) SetTools(tools []ToolDefinition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools = tools
}

// Tools returns a copy of the session's advertised tool definitions.
func (s *Session) Tools() []ToolDefinition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ToolDefinition, len(s.tools))
	copy(out, s.tools)
	return out
}

// detach drops the live endpoint, turning the session into an offline
// placeholder. Returns the endpoint that was attached, if any.
func (s *Session) detach() Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep := s.endpoint
	s.endpoint = nil
	return ep
}
