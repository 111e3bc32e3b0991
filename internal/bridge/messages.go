// ABOUTME: Wire message types exchanged with Unity editor instances.
// ABOUTME: Field names are part of the protocol and must stay stable.

package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/whatevertogo/unity-mcp-sub001/internal/session"
)

// Message type discriminators carried in the "type" field of every payload.
const (
	TypeWelcome       = "welcome"
	TypeRegister      = "register"
	TypeRegistered    = "registered"
	TypeExecute       = "execute"
	TypeCommandResult = "command_result"
	TypePing          = "ping"
	TypePong          = "pong"
	TypeRegisterTools = "register_tools"
)

// WelcomeMessage is sent by the hub immediately after accept. It declares the
// server-side timing the client should honor.
type WelcomeMessage struct {
	Type              string `json:"type"`
	ServerTimeout     int    `json:"serverTimeout"`
	KeepAliveInterval int    `json:"keepAliveInterval"`
}

// RegisterMessage is the client's handshake reply identifying its project.
type RegisterMessage struct {
	Type              string `json:"type"`
	ProjectName       string `json:"project_name"`
	ProjectHash       string `json:"project_hash"`
	UnityVersion      string `json:"unity_version"`
	ProjectPath       string `json:"project_path,omitempty"`
	KeepServerRunning bool   `json:"keep_server_running"`
}

// RegisteredMessage acknowledges a successful registration.
type RegisteredMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// ExecuteMessage asks the instance to run one command, correlated by ID.
type ExecuteMessage struct {
	Type    string         `json:"type"`
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Params  map[string]any `json:"params"`
	Timeout float64        `json:"timeout"`
}

// CommandResultMessage delivers the result for a previously sent execute.
type CommandResultMessage struct {
	Type   string         `json:"type"`
	ID     string         `json:"id"`
	Result map[string]any `json:"result"`
}

// PingMessage is a server-initiated liveness probe.
type PingMessage struct {
	Type string `json:"type"`
}

// PongMessage answers a ping; the session id echo is optional.
type PongMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
}

// RegisterToolsMessage advertises the instance's custom tool definitions.
type RegisterToolsMessage struct {
	Type  string                   `json:"type"`
	Tools []session.ToolDefinition `json:"tools"`
}

// DecodeMessage parses a framed payload into its concrete message type.
func DecodeMessage(data []byte) (any, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding message envelope: %w", err)
	}

	switch env.Type {
	case TypeRegister:
		var m RegisterMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decoding register: %w", err)
		}
		return &m, nil
	case TypeCommandResult:
		var m CommandResultMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decoding command_result: %w", err)
		}
		return &m, nil
	case TypePong:
		var m PongMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decoding pong: %w", err)
		}
		return &m, nil
	case TypePing:
		return &PingMessage{Type: TypePing}, nil
	case TypeRegisterTools:
		var m RegisterToolsMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decoding register_tools: %w", err)
		}
		return &m, nil
	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}
}
