package daemon

import (
	"context"
	"time"

	"github.com/harun/voxrelay/internal/observability"
)

const statsInterval = 30 * time.Second

// EventLoop publishes queue depth while the daemon runs.
type EventLoop struct {
	daemon   *Daemon
	interval time.Duration
}

// NewEventLoop creates a new event loop
func NewEventLoop(d *Daemon) *EventLoop {
	return &EventLoop{
		daemon:   d,
		interval: statsInterval,
	}
}

// Run reports queue stats every interval until ctx is done.
func (e *EventLoop) Run(ctx context.Context) {
	e.daemon.logger.Info().Msg("Event loop started")

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.daemon.logger.Info().Msg("Event loop stopping")
			return

		case <-ticker.C:
			e.processTasks()
		}
	}
}

func (e *EventLoop) processTasks() {
	stats := e.daemon.queue.Stats()
	observability.SetQueueDepth(stats.Calls, stats.Pending)

	if stats.Calls > 0 {
		e.daemon.logger.Debug().
			Int("calls", stats.Calls).
			Int("pending", stats.Pending).
			Int64("enqueued", stats.Enqueued).
			Int64("drained", stats.Drained).
			Int64("evicted", stats.Evicted).
			Msg("Queue stats")
	}
}

// HandleShutdown logs commands that were never drained.
func (e *EventLoop) HandleShutdown() {
	stats := e.daemon.queue.Stats()
	if stats.Pending > 0 {
		e.daemon.logger.Warn().
			Int("calls", stats.Calls).
			Int("pending", stats.Pending).
			Msg("Shutting down with undrained commands")
		return
	}
	e.daemon.logger.Info().Msg("Command queue empty")
}
