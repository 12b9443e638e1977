// Package health runs periodic self checks of the login server: event
// queue backlog, dump drops and process resources, plus a heartbeat.
package health

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/loginserver/internal/config"
	"github.com/energizer-project/loginserver/internal/events"
	"github.com/energizer-project/loginserver/internal/metrics"
	"github.com/energizer-project/loginserver/internal/util"
)

// Backlog reports the fill level of a bounded queue.
type Backlog interface {
	Len() int
	Cap() int
}

// DropCounter reports a running total of dropped items.
type DropCounter interface {
	Dropped() uint64
}

// PlayerCounter reports the number of connected players.
type PlayerCounter interface {
	Count() int
}

// Manager runs periodic health checks.
type Manager struct {
	cfg      *config.Config
	eventBus *events.EventBus
	metrics  *metrics.Collector

	queue   Backlog
	dump    DropCounter
	players PlayerCounter

	usage       func() (*util.ProcessUsage, error)
	lastDropped atomic.Uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithDump enables the dump drop check.
func WithDump(dump DropCounter) Option {
	return func(m *Manager) { m.dump = dump }
}

// WithMetrics mirrors check results into the collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Manager) { m.metrics = c }
}

// NewManager creates a new health check manager.
func NewManager(cfg *config.Config, eventBus *events.EventBus, queue Backlog, players PlayerCounter, opts ...Option) *Manager {
	m := &Manager{
		cfg:      cfg,
		eventBus: eventBus,
		queue:    queue,
		players:  players,
		usage:    util.GetProcessUsage,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches all health check goroutines and blocks until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	interval := time.Duration(m.cfg.Health.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}

	checks := []struct {
		name     string
		interval time.Duration
		fn       func(context.Context)
	}{
		{"event_queue", interval, m.checkEventQueue},
		{"dump_drops", interval, m.checkDumpDrops},
		{"process_resources", 4 * interval, m.checkProcessResources},
		{"heartbeat", 4 * interval, m.heartbeat},
	}

	for _, check := range checks {
		check := check
		go func() {
			ticker := time.NewTicker(check.interval)
			defer ticker.Stop()

			log.Debug().Str("check", check.name).Msg("running initial health check")
			check.fn(ctx)

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					check.fn(ctx)
				}
			}
		}()
	}

	log.Info().Int("checks", len(checks)).Dur("interval", interval).Msg("health check manager started")

	<-ctx.Done()
	log.Info().Msg("health check manager stopped")
}

// checkEventQueue warns when the reader to hub queue is filling up.
func (m *Manager) checkEventQueue(ctx context.Context) {
	capacity := m.queue.Cap()
	if capacity == 0 {
		return
	}

	length := m.queue.Len()
	percent := length * 100 / capacity
	if percent < m.cfg.Health.QueueWarnPercent {
		return
	}

	m.alert(ctx, "event_queue", "warning",
		fmt.Sprintf("event queue at %d%% (%d of %d)", percent, length, capacity))
}

// checkDumpDrops reports packet dump records lost since the last check.
func (m *Manager) checkDumpDrops(ctx context.Context) {
	if m.dump == nil {
		return
	}

	total := m.dump.Dropped()
	m.metrics.SetDumpDropped(total)

	prev := m.lastDropped.Swap(total)
	if total <= prev {
		return
	}

	m.alert(ctx, "dump_drops", "info",
		fmt.Sprintf("packet dump dropped %d records (total %d)", total-prev, total))
}

// checkProcessResources logs process usage and alerts above the RSS limit.
func (m *Manager) checkProcessResources(ctx context.Context) {
	usage, err := m.usage()
	if err != nil {
		log.Warn().Err(err).Msg("process resource check failed")
		return
	}

	log.Debug().
		Float64("cpu_percent", usage.CPUPercent).
		Uint64("rss_mb", usage.RSSMB).
		Int32("threads", usage.Threads).
		Int("goroutines", usage.Goroutines).
		Msg("process resources")

	if limit := m.cfg.Health.MaxRSSMB; limit > 0 && usage.RSSMB > limit {
		m.alert(ctx, "process_resources", "error",
			fmt.Sprintf("resident memory %d MB exceeds %d MB", usage.RSSMB, limit))
	}
}

// heartbeat publishes a periodic status summary.
func (m *Manager) heartbeat(ctx context.Context) {
	m.eventBus.Emit(ctx, events.Event{
		Type:   events.EventHeartbeat,
		Source: "health",
		Payload: map[string]interface{}{
			"players":     m.players.Count(),
			"queue_depth": m.queue.Len(),
			"timestamp":   time.Now().Unix(),
		},
	})
}

func (m *Manager) alert(ctx context.Context, check, level, message string) {
	log.Warn().Str("check", check).Str("level", level).Msg(message)

	m.eventBus.Emit(ctx, events.Event{
		Type:   events.EventHealthAlert,
		Source: "health",
		Payload: events.HealthAlertPayload{
			Check:   check,
			Level:   level,
			Message: message,
		},
	})
}
