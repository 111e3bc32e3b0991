// ABOUTME: Dispatches commands to Unity instances and correlates their results.
// ABOUTME: Applies per-attempt deadlines and reload-aware retry with backoff.

package hub

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/whatevertogo/unity-mcp-sub001/internal/bridge"
	"github.com/whatevertogo/unity-mcp-sub001/internal/metrics"
	"github.com/whatevertogo/unity-mcp-sub001/internal/session"
	"github.com/whatevertogo/unity-mcp-sub001/internal/telemetry"
)

// Config holds the hub's retry tuning.
type Config struct {
	// ReloadRetry is how long to back off before re-sending a command that
	// came back with the reload status.
	ReloadRetry time.Duration
	// ReloadMaxRetries bounds the total attempts for a reloading instance.
	ReloadMaxRetries int
	// DefaultTimeout applies when the caller passes a zero timeout.
	DefaultTimeout time.Duration
}

// Hub is the single entry point for sending a command to a connected
// instance. Any number of dispatches may run concurrently against the same or
// different sessions; correlation is by id, so a slow command never delays an
// unrelated one.
type Hub struct {
	selector  *session.Selector
	telemetry *telemetry.Pipeline
	cfg       Config
	logger    *slog.Logger
}

// New creates a Hub.
func New(selector *session.Selector, pipeline *telemetry.Pipeline, cfg Config, logger *slog.Logger) *Hub {
	if cfg.ReloadMaxRetries < 1 {
		cfg.ReloadMaxRetries = 1
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	return &Hub{
		selector:  selector,
		telemetry: pipeline,
		cfg:       cfg,
		logger:    logger,
	}
}

// Dispatch resolves the instance reference, sends an execute message, and
// waits for the correlated result.
//
// Selection errors (session.ErrNoSession, *session.SelectionRequiredError)
// propagate unchanged so the caller can supply a better reference. Timeout,
// disconnect, and exhausted reload retries come back as a normalized failure
// Result with a nil error.
func (h *Hub) Dispatch(ctx context.Context, ref, name string, params map[string]any, timeout time.Duration) (*Result, error) {
	if timeout <= 0 {
		timeout = h.cfg.DefaultTimeout
	}

	sess, err := h.selector.Resolve(ref)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	result := h.dispatchWithRetry(ctx, sess, name, params, timeout)

	outcome := result.Error
	if result.Success {
		outcome = "success"
	}
	metrics.ObserveDispatch(outcome, time.Since(started))
	h.record(sess, name, outcome)
	return result, nil
}

// dispatchWithRetry runs the attempt loop, backing off between reload
// responses until the retry allowance is spent.
func (h *Hub) dispatchWithRetry(ctx context.Context, sess *session.Session, name string, params map[string]any, timeout time.Duration) *Result {
	for attempt := 1; ; attempt++ {
		result := h.attempt(ctx, sess, name, params, timeout)
		if result.Error != ErrorReloading {
			return result
		}
		if attempt >= h.cfg.ReloadMaxRetries {
			return Failure(ErrorReloading, fmt.Sprintf(
				"instance still reloading after %d attempts; retry once the reload completes", attempt))
		}

		h.logger.Debug("instance reloading, backing off",
			"session_id", sess.ID,
			"command", name,
			"attempt", attempt,
		)
		select {
		case <-ctx.Done():
			return Failure(ErrorCanceled, "dispatch canceled during reload backoff")
		case <-time.After(h.cfg.ReloadRetry):
		}
	}
}

// attempt sends one execute message and waits for its result or deadline.
// The pending entry is always released before returning, so a late result
// for this id is discarded rather than delivered.
func (h *Hub) attempt(ctx context.Context, sess *session.Session, name string, params map[string]any, timeout time.Duration) *Result {
	ep := sess.Endpoint()
	if ep == nil {
		return Failure(ErrorDisconnected, "instance disconnected before the command was sent")
	}

	id := uuid.New().String()
	ch := ep.CreateRequest(id)
	defer ep.CloseRequest(id)

	msg := &bridge.ExecuteMessage{
		Type:    bridge.TypeExecute,
		ID:      id,
		Name:    name,
		Params:  params,
		Timeout: timeout.Seconds(),
	}
	if err := ep.Send(msg); err != nil {
		return Failure(ErrorDisconnected, fmt.Sprintf("sending command: %v", err))
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	select {
	case payload, ok := <-ch:
		if !ok {
			return Failure(ErrorDisconnected, "instance disconnected while the command was pending")
		}
		if IsReloading(payload) {
			return Failure(ErrorReloading, "instance is reloading")
		}
		return Normalize(payload)

	case <-deadline.C:
		return Failure(ErrorTimeout, fmt.Sprintf(
			"command %q did not complete within %s; the instance may still be working, retry if safe", name, timeout))

	case <-ctx.Done():
		return Failure(ErrorCanceled, "dispatch canceled by caller")
	}
}

// record feeds a fire-and-forget dispatch event to the telemetry pipeline.
func (h *Hub) record(sess *session.Session, command, outcome string) {
	if h.telemetry == nil {
		return
	}
	h.telemetry.Record(telemetry.Event{
		RecordType: "command_dispatch",
		Payload: map[string]any{
			"session_id":   sess.ID,
			"project_hash": sess.ProjectHash,
			"command":      command,
			"outcome":      outcome,
		},
		Timestamp: time.Now().UTC(),
	})
}
