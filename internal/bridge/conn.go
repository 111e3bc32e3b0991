// ABOUTME: Per-instance connection: handshake, heartbeat, and frame routing.
// ABOUTME: Correlates command_result frames to pending requests by id.

package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/whatevertogo/unity-mcp-sub001/internal/session"
)

// ErrConnectionClosed indicates the underlying stream is gone.
var ErrConnectionClosed = errors.New("connection closed")

// ErrHandshakeTimeout indicates the client did not register in time.
var ErrHandshakeTimeout = errors.New("handshake timed out waiting for register")

// Options holds the per-connection protocol timings.
type Options struct {
	HandshakeTimeout     time.Duration
	FramedReceiveTimeout time.Duration
	HeartbeatTimeout     time.Duration
	KeepAliveInterval    time.Duration
	MaxHeartbeatFrames   int
	MaxFrameSize         int
	// ServerTimeout is advertised to the client in the welcome message.
	ServerTimeout time.Duration
}

// Conn wraps one accepted byte-stream connection to an editor instance.
// It implements session.Endpoint. All writes go through Send, which frames
// and serializes them; the read loop in Serve owns the receive side.
type Conn struct {
	nc     net.Conn
	opts   Options
	logger *slog.Logger

	writeMu sync.Mutex

	pendingMu sync.RWMutex
	pending   map[string]chan map[string]any

	hbMu      sync.Mutex
	pongsSeen int

	closeOnce sync.Once
	closed    chan struct{}

	sess *session.Session
}

// NewConn creates a Conn over an accepted net.Conn. The caller must run
// Handshake followed by Serve.
func NewConn(nc net.Conn, opts Options, logger *slog.Logger) *Conn {
	return &Conn{
		nc:      nc,
		opts:    opts,
		logger:  logger,
		pending: make(map[string]chan map[string]any),
		closed:  make(chan struct{}),
	}
}

// Send marshals and frames a message onto the stream. Returns
// ErrConnectionClosed once the connection has been torn down.
func (c *Conn) Send(msg any) error {
	select {
	case <-c.closed:
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := WriteFrame(c.nc, data); err != nil {
		c.Close()
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	return nil
}

// CreateRequest registers a pending correlation id and returns the channel
// its result will arrive on. The channel is closed without a value if the
// connection dies first.
func (c *Conn) CreateRequest(id string) <-chan map[string]any {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	ch := make(chan map[string]any, 1)
	c.pending[id] = ch
	return ch
}

// CloseRequest removes and closes the pending channel for id, if present.
func (c *Conn) CloseRequest(id string) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	if ch, ok := c.pending[id]; ok {
		close(ch)
		delete(c.pending, id)
	}
}

// Close tears down the connection and fails every pending request.
// Safe to call multiple times.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.nc.Close()
		c.failPending()
	})
	return nil
}

// failPending closes all pending channels so waiting dispatches observe the
// disconnect instead of running out their deadlines.
func (c *Conn) failPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// Handshake sends the welcome, waits for the client's register message, and
// creates the session in the registry. The connection is closed on any
// handshake failure.
func (c *Conn) Handshake(registry *session.Registry) (*session.Session, error) {
	welcome := &WelcomeMessage{
		Type:              TypeWelcome,
		ServerTimeout:     int(c.opts.ServerTimeout.Seconds()),
		KeepAliveInterval: int(c.opts.KeepAliveInterval.Seconds()),
	}
	if err := c.Send(welcome); err != nil {
		c.Close()
		return nil, fmt.Errorf("sending welcome: %w", err)
	}

	if err := c.nc.SetReadDeadline(time.Now().Add(c.opts.HandshakeTimeout)); err != nil {
		c.Close()
		return nil, fmt.Errorf("setting handshake deadline: %w", err)
	}
	payload, err := ReadFrame(c.nc, c.opts.MaxFrameSize)
	if err != nil {
		c.Close()
		if isTimeout(err) {
			return nil, ErrHandshakeTimeout
		}
		return nil, fmt.Errorf("reading register frame: %w", err)
	}

	msg, err := DecodeMessage(payload)
	if err != nil {
		c.Close()
		return nil, err
	}
	reg, ok := msg.(*RegisterMessage)
	if !ok {
		c.Close()
		return nil, fmt.Errorf("expected register message, got %T", msg)
	}
	if reg.ProjectHash == "" {
		c.Close()
		return nil, errors.New("register message missing project_hash")
	}

	sess, err := registry.Register(session.RegisterParams{
		ProjectName:  reg.ProjectName,
		ProjectHash:  reg.ProjectHash,
		UnityVersion: reg.UnityVersion,
		ProjectPath:  reg.ProjectPath,
		KeepAlive:    reg.KeepServerRunning,
		Endpoint:     c,
	})
	if err != nil {
		c.Close()
		return nil, err
	}
	c.sess = sess

	if err := c.Send(&RegisteredMessage{Type: TypeRegistered, SessionID: sess.ID}); err != nil {
		registry.Unregister(sess.ID)
		return nil, err
	}
	return sess, nil
}

// Serve runs the read loop and the heartbeat until the connection dies.
// The caller is responsible for unregistering the session afterwards.
func (c *Conn) Serve() {
	go c.heartbeat()

	for {
		if err := c.nc.SetReadDeadline(time.Now().Add(c.opts.FramedReceiveTimeout)); err != nil {
			break
		}
		payload, err := ReadFrame(c.nc, c.opts.MaxFrameSize)
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.logger.Debug("read loop ending", "session_id", c.sess.ID, "error", err)
			}
			break
		}

		msg, err := DecodeMessage(payload)
		if err != nil {
			c.logger.Warn("dropping undecodable frame", "session_id", c.sess.ID, "error", err)
			continue
		}
		c.handleMessage(msg)
	}

	c.Close()
}

// handleMessage dispatches one decoded inbound frame.
func (c *Conn) handleMessage(msg any) {
	switch m := msg.(type) {
	case *PongMessage:
		c.hbMu.Lock()
		c.pongsSeen++
		c.hbMu.Unlock()
		c.sess.TouchHeartbeat(time.Now().UTC())

	case *CommandResultMessage:
		c.handleResult(m)

	case *RegisterToolsMessage:
		c.sess.SetTools(m.Tools)
		c.logger.Info("instance registered tools",
			"session_id", c.sess.ID,
			"tool_count", len(m.Tools),
		)

	default:
		c.logger.Warn("unexpected message type", "session_id", c.sess.ID, "type", fmt.Sprintf("%T", msg))
	}
}

// handleResult routes a command_result to its pending request channel.
// The entry is removed under the write lock before the send, so CloseRequest
// can never close a channel this routine is about to send on. A result whose
// id has no pending entry is late or duplicate; it is logged and discarded.
func (c *Conn) handleResult(m *CommandResultMessage) {
	c.pendingMu.Lock()
	ch, ok := c.pending[m.ID]
	if ok {
		delete(c.pending, m.ID)
	}
	c.pendingMu.Unlock()

	if !ok {
		c.logger.Warn("discarding result for unknown command id",
			"command_id", m.ID,
			"session_id", c.sess.ID,
		)
		return
	}

	// Sole owner of ch now; the buffer guarantees the send cannot block.
	ch <- m.Result
}

// heartbeat pings the client every keep-alive interval and disconnects after
// too many consecutive unanswered cycles.
func (c *Conn) heartbeat() {
	ticker := time.NewTicker(c.opts.KeepAliveInterval)
	defer ticker.Stop()

	missed := 0
	for {
		if err := c.Send(&PingMessage{Type: TypePing}); err != nil {
			return
		}

		// A pong must land within the heartbeat timeout to count for this cycle.
		wait := time.NewTimer(c.opts.HeartbeatTimeout)
		select {
		case <-c.closed:
			wait.Stop()
			return
		case <-wait.C:
		}

		c.hbMu.Lock()
		pongs := c.pongsSeen
		c.pongsSeen = 0
		c.hbMu.Unlock()

		if pongs > 0 {
			missed = 0
		} else {
			missed++
			if missed > c.opts.MaxHeartbeatFrames {
				c.logger.Warn("instance missed heartbeats, disconnecting",
					"session_id", c.sess.ID,
					"missed", missed,
				)
				c.Close()
				return
			}
		}

		select {
		case <-c.closed:
			return
		case <-ticker.C:
		}
	}
}

// isTimeout reports whether an error is a network deadline expiry.
func isTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
