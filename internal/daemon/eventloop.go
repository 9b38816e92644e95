package daemon

import (
	"context"
	"time"

	"github.com/harun/seance/internal/observability"
)

const maintenanceInterval = 30 * time.Second

// EventLoop handles the main event processing loop
type EventLoop struct {
	daemon   *Daemon
	interval time.Duration
}

// NewEventLoop creates a new event loop
func NewEventLoop(d *Daemon) *EventLoop {
	return &EventLoop{
		daemon:   d,
		interval: maintenanceInterval,
	}
}

// Run runs the event loop with periodic maintenance tasks
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
			e.processTasks(ctx)
		}
	}
}

// processTasks refreshes the session gauge and reports tool cache age
func (e *EventLoop) processTasks(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	if e.daemon.gatewayServer != nil {
		observability.SetActiveSessions(e.daemon.gatewayServer.Sessions().Count())
	}

	if e.daemon.toolRegistry != nil {
		tools, fetchedAt := e.daemon.toolRegistry.Cached()
		event := e.daemon.logger.Debug().Int("tools", len(tools))
		if !fetchedAt.IsZero() {
			event = event.Dur("cache_age", time.Since(fetchedAt))
		}
		event.Msg("Tool cache stats")
	}
}
