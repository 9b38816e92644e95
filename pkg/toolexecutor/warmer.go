package toolexecutor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule validates a warm-up schedule: five-field cron or a
// descriptor such as "@every 4m".
func ParseSchedule(spec string) (cron.Schedule, error) {
	sched, err := scheduleParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return sched, nil
}

// Warmer refreshes the tool catalog on a schedule so chats rarely pay for
// discovery.
type Warmer struct {
	registry *Registry
	cron     *cron.Cron
	timeout  time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	running bool
}

// NewWarmer schedules catalog refreshes
func NewWarmer(registry *Registry, schedule string, timeout time.Duration, logger zerolog.Logger) (*Warmer, error) {
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = time.Minute
	}

	w := &Warmer{
		registry: registry,
		cron:     cron.New(cron.WithParser(scheduleParser)),
		timeout:  timeout,
		logger:   logger.With().Str("component", "tool_warmer").Str("schedule", schedule).Logger(),
	}
	w.cron.Schedule(sched, cron.FuncJob(func() { w.Warm() }))
	return w, nil
}

// Start runs one warm-up immediately and then follows the schedule.
func (w *Warmer) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true

	go w.Warm()
	w.cron.Start()
	w.logger.Info().Msg("Tool catalog warmer started")
}

// Stop halts the schedule and waits for a running warm-up to finish.
func (w *Warmer) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	<-w.cron.Stop().Done()
	w.logger.Info().Msg("Tool catalog warmer stopped")
}

// Warm refreshes the catalog once.
func (w *Warmer) Warm() {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	tools := w.registry.Refresh(ctx)
	w.logger.Debug().Int("tools", len(tools)).Msg("Tool catalog warmed")
}
