package system

import (
	"time"

	"go.uber.org/zap"

	coresys "github.com/worldsync/server/internal/core/system"
	"github.com/worldsync/server/internal/handler"
)

// StatsSystem refreshes the stats gauges, logs them and pushes
// server_stats to subscribed connections. Phase 3 (PostUpdate).
type StatsSystem struct {
	deps     *handler.Deps
	interval time.Duration
	elapsed  time.Duration
	log      *zap.Logger
}

func NewStatsSystem(deps *handler.Deps, interval time.Duration, log *zap.Logger) *StatsSystem {
	return &StatsSystem{deps: deps, interval: interval, log: log}
}

func (s *StatsSystem) Phase() coresys.Phase { return coresys.PhasePostUpdate }

func (s *StatsSystem) Update(dt time.Duration) {
	s.elapsed += dt
	if s.elapsed < s.interval {
		return
	}
	s.elapsed = 0

	handler.ObserveStats(s.deps)
	snap := s.deps.Stats.Snapshot()
	s.log.Debug("server stats",
		zap.Int("connections", snap.TotalConnections),
		zap.Int("authenticated", snap.AuthenticatedConnections),
		zap.Int("in_world", snap.InWorldPlayers),
		zap.Int("world_players", snap.WorldPlayers),
		zap.Int("active_cells", snap.ActiveCells),
		zap.Uint64("sent", snap.MessagesSent),
		zap.Uint64("received", snap.MessagesReceived),
		zap.Bool("bus_healthy", snap.BusHealthy),
	)
	handler.BroadcastStats(s.deps)
}
