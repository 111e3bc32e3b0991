// ABOUTME: Bounded, non-blocking telemetry pipeline with a single drain worker.
// ABOUTME: Producers never wait on the sink; a full queue drops the event.

package telemetry

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/whatevertogo/unity-mcp-sub001/internal/dedupe"
	"github.com/whatevertogo/unity-mcp-sub001/internal/metrics"
)

// Event is one immutable telemetry record.
type Event struct {
	RecordType string
	Payload    map[string]any
	Timestamp  time.Time
	// DedupeKey, when non-empty, suppresses identical events recorded within
	// the pipeline's cache TTL.
	DedupeKey string
}

// Sink delivers one drained event to the external collector. Failures are
// logged by the worker and never reach producers.
type Sink func(ctx context.Context, ev Event) error

// Config holds pipeline construction options.
type Config struct {
	Enabled   bool
	QueueSize int
	CacheTTL  time.Duration
	Sink      Sink
	Logger    *slog.Logger
}

// Pipeline accepts fire-and-forget events and drains them on exactly one
// background worker for its entire lifetime. Record is safe from any
// goroutine and never blocks: the only shared structure on the hot path is
// the queue's own non-blocking enqueue.
type Pipeline struct {
	enabled bool
	queue   chan Event
	sink    Sink
	seen    *dedupe.Cache
	logger  *slog.Logger

	closing chan struct{}
	done    chan struct{}
	alive   atomic.Bool
}

// New creates the pipeline and starts its worker. A disabled pipeline starts
// no worker and turns Record into a pure no-op.
func New(cfg Config) *Pipeline {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	p := &Pipeline{
		enabled: cfg.Enabled,
		queue:   make(chan Event, cfg.QueueSize),
		sink:    cfg.Sink,
		logger:  cfg.Logger,
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	if !cfg.Enabled {
		close(p.done)
		return p
	}

	if cfg.CacheTTL > 0 {
		p.seen = dedupe.New(cfg.CacheTTL, 10_000)
	}
	p.alive.Store(true)
	go p.worker()
	return p
}

// Record enqueues an event without blocking. If the queue is full the event
// is dropped with a single log line; Record never waits and never fails.
func (p *Pipeline) Record(ev Event) {
	if !p.enabled {
		return
	}
	select {
	case <-p.closing:
		return
	default:
	}

	if ev.DedupeKey != "" && p.seen != nil {
		if p.seen.CheckAndMark(ev.RecordType + ":" + ev.DedupeKey) {
			return
		}
	}

	select {
	case p.queue <- ev:
	default:
		metrics.IncTelemetryDrop()
		p.logger.Warn("telemetry queue full; dropping event", "record_type", ev.RecordType)
	}
}

// WorkerAlive reports whether the drain worker is still running. Exposed for
// diagnostics; a dead worker is not respawned.
func (p *Pipeline) WorkerAlive() bool {
	return p.alive.Load()
}

// Close stops accepting events, lets the worker drain what is already
// queued, and waits for it to exit.
func (p *Pipeline) Close() {
	select {
	case <-p.closing:
	default:
		close(p.closing)
	}
	<-p.done
	if p.seen != nil {
		p.seen.Close()
	}
}

// worker drains the queue, delivering each event to the sink. Sink errors
// are logged and swallowed so they cannot affect producers.
func (p *Pipeline) worker() {
	defer close(p.done)
	defer p.alive.Store(false)

	ctx := context.Background()
	for {
		select {
		case ev := <-p.queue:
			p.deliver(ctx, ev)
		case <-p.closing:
			for {
				select {
				case ev := <-p.queue:
					p.deliver(ctx, ev)
				default:
					return
				}
			}
		}
	}
}

func (p *Pipeline) deliver(ctx context.Context, ev Event) {
	if p.sink == nil {
		return
	}
	if err := p.sink(ctx, ev); err != nil {
		p.logger.Warn("telemetry sink failed", "record_type", ev.RecordType, "error", err)
	}
}
