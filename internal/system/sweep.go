package system

import (
	"time"

	"go.uber.org/zap"

	coresys "github.com/worldsync/server/internal/core/system"
	"github.com/worldsync/server/internal/handler"
)

// SweepSystem evicts connections idle past the inactivity timeout through
// the same teardown path as logout. Phase 2 (Update).
type SweepSystem struct {
	deps     *handler.Deps
	interval time.Duration
	elapsed  time.Duration
	log      *zap.Logger
}

func NewSweepSystem(deps *handler.Deps, interval time.Duration, log *zap.Logger) *SweepSystem {
	return &SweepSystem{deps: deps, interval: interval, log: log}
}

func (s *SweepSystem) Phase() coresys.Phase { return coresys.PhaseUpdate }

func (s *SweepSystem) Update(dt time.Duration) {
	s.elapsed += dt
	if s.elapsed < s.interval {
		return
	}
	s.elapsed = 0
	s.Sweep()
}

// Sweep evicts every stale connection now.
func (s *SweepSystem) Sweep() int {
	ids := s.deps.Conns.Sweep(s.deps.Clock())
	for _, id := range ids {
		handler.Terminate(id, "timeout", s.deps)
	}
	if len(ids) > 0 {
		s.log.Info("evicted idle connections", zap.Int("count", len(ids)))
	}
	return len(ids)
}
