// ABOUTME: TCP accept loop for incoming Unity editor connections.
// ABOUTME: Each accepted connection gets its own handshake and serve goroutine.

package bridge

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/whatevertogo/unity-mcp-sub001/internal/session"
)

// Server accepts editor connections and registers them with the session
// registry. One goroutine per connection reads its frames.
type Server struct {
	registry *session.Registry
	opts     Options
	logger   *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup

	// OnRegister, when set, is invoked after each successful handshake.
	// The gateway uses it to feed the telemetry pipeline.
	OnRegister func(sess *session.Session)
	// OnDisconnect, when set, is invoked after a session is unregistered.
	OnDisconnect func(sess *session.Session)
}

// NewServer creates a bridge Server. Serve must be called to start accepting.
func NewServer(registry *session.Registry, opts Options, logger *slog.Logger) *Server {
	return &Server{
		registry: registry,
		opts:     opts,
		logger:   logger,
	}
}

// Serve accepts connections on ln until the context is canceled or the
// listener is closed. It blocks.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	s.logger.Info("bridge listening", "addr", ln.Addr().String())

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			return err
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(nc)
		}()
	}
}

// handle runs one connection from handshake to disconnect.
func (s *Server) handle(nc net.Conn) {
	logger := s.logger.With("remote", nc.RemoteAddr().String())
	conn := NewConn(nc, s.opts, logger)

	sess, err := conn.Handshake(s.registry)
	if err != nil {
		logger.Warn("handshake failed", "error", err)
		return
	}
	if s.OnRegister != nil {
		s.OnRegister(sess)
	}

	conn.Serve()

	s.registry.Unregister(sess.ID)
	if s.OnDisconnect != nil {
		s.OnDisconnect(sess)
	}
}

// Close stops the listener; in-flight connections are closed by their own
// read loops failing.
func (s *Server) Close() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln != nil {
		return ln.Close()
	}
	return nil
}
