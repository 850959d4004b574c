// Package health runs periodic checks on the running server and publishes
// a status heartbeat on the event bus.
package health

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/stepgame/internal/events"
	"github.com/energizer-project/stepgame/internal/server"
	"github.com/energizer-project/stepgame/internal/util"
)

const (
	cpuWarnPercent    = 90.0
	memoryWarnPercent = 90.0
	queueWarnRatio    = 0.8
)

// StateSource provides live dispatcher snapshots.
type StateSource interface {
	Snapshot(ctx context.Context) (server.Snapshot, error)
}

// Manager runs the periodic checks.
type Manager struct {
	interval time.Duration
	queueCap int
	state    StateSource
	eventBus *events.EventBus
	sample   func() (util.ResourceUsage, error)
	logger   zerolog.Logger

	lastDropped uint64
}

// NewManager creates a health manager. queueCap is the dispatcher outbound
// queue limit used for the backlog warning.
func NewManager(interval time.Duration, queueCap int, state StateSource, eventBus *events.EventBus) *Manager {
	if queueCap <= 0 {
		queueCap = server.DefaultMaxQueuedFrames
	}
	return &Manager{
		interval: interval,
		queueCap: queueCap,
		state:    state,
		eventBus: eventBus,
		sample:   util.GetResourceUsage,
		logger:   log.With().Str("component", "health").Logger(),
	}
}

// Start runs the checks every interval until ctx is cancelled. A
// non-positive interval disables them.
func (m *Manager) Start(ctx context.Context) {
	if m.interval <= 0 {
		m.logger.Info().Msg("health checks disabled")
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info().Dur("interval", m.interval).Msg("health check manager started")

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("health check manager stopped")
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check samples the server once, logs anything unhealthy and publishes a
// server_status event.
func (m *Manager) Check(ctx context.Context) {
	snapCtx, cancel := context.WithTimeout(ctx, m.interval/2+time.Second)
	defer cancel()

	snap, err := m.state.Snapshot(snapCtx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("dispatcher did not answer the health check")
		return
	}

	usage, err := m.sample()
	if err != nil {
		m.logger.Debug().Err(err).Msg("failed to sample resource usage")
	}

	m.checkResources(usage)
	m.checkQueue(snap)

	if m.eventBus == nil {
		return
	}
	m.eventBus.Emit(ctx, events.Event{
		Type:    events.EventServerStatus,
		Source:  "health",
		Payload: statusPayload(snap, usage),
	})
}

func (m *Manager) checkResources(usage util.ResourceUsage) {
	if usage.CPUPercent >= cpuWarnPercent {
		m.logger.Warn().Float64("cpu_percent", usage.CPUPercent).Msg("high CPU usage")
	}
	if usage.MemoryPercent >= memoryWarnPercent {
		m.logger.Warn().Float64("memory_percent", usage.MemoryPercent).Msg("high memory usage")
	}
}

func (m *Manager) checkQueue(snap server.Snapshot) {
	if float64(snap.QueuedFrames) >= float64(m.queueCap)*queueWarnRatio {
		m.logger.Warn().Int("queued", snap.QueuedFrames).Int("limit", m.queueCap).Msg("outbound queue backlog")
	}
	if snap.DroppedFrames > m.lastDropped {
		m.logger.Warn().
			Uint64("dropped", snap.DroppedFrames-m.lastDropped).
			Uint64("total", snap.DroppedFrames).
			Msg("outbound frames dropped since last check")
	}
	m.lastDropped = snap.DroppedFrames
}

func statusPayload(snap server.Snapshot, usage util.ResourceUsage) events.ServerStatusPayload {
	return events.ServerStatusPayload{
		Sessions:      len(snap.Sessions),
		Waiting:       len(snap.Waiting),
		Games:         len(snap.Games),
		QueuedFrames:  snap.QueuedFrames,
		PendingSends:  snap.PendingSends,
		CPUPercent:    usage.CPUPercent,
		MemoryPercent: usage.MemoryPercent,
		UptimeSeconds: int64(time.Since(snap.StartedAt).Seconds()),
	}
}
