package system

import (
	"time"

	"go.uber.org/zap"

	coresys "github.com/worldsync/server/internal/core/system"
	"github.com/worldsync/server/internal/handler"
	"github.com/worldsync/server/internal/net/protocol"
	"github.com/worldsync/server/internal/persist"
	"github.com/worldsync/server/internal/registry"
)

// PersistenceSystem periodically queues position saves for local players
// that moved since the last save. The Saver does the I/O off-loop.
// Phase 5 (Persist).
type PersistenceSystem struct {
	deps     *handler.Deps
	saver    *persist.Saver
	interval time.Duration
	elapsed  time.Duration
	log      *zap.Logger
}

func NewPersistenceSystem(deps *handler.Deps, saver *persist.Saver, interval time.Duration, log *zap.Logger) *PersistenceSystem {
	return &PersistenceSystem{deps: deps, saver: saver, interval: interval, log: log}
}

func (s *PersistenceSystem) Phase() coresys.Phase { return coresys.PhasePersist }

func (s *PersistenceSystem) Update(dt time.Duration) {
	s.elapsed += dt
	if s.elapsed < s.interval {
		return
	}
	s.elapsed = 0
	s.saveDirty()
}

func (s *PersistenceSystem) saveDirty() {
	queued := 0
	for _, st := range s.deps.World.TakeDirty() {
		if s.saver.Enqueue(persist.SaveRequest{ID: st.ID, Name: st.DisplayName, Position: st.Position}) {
			queued++
		}
	}
	if queued > 0 {
		s.log.Debug("queued position saves", zap.Int("count", queued))
	}
}

// SaveAllPlayers queues every local in-world player regardless of dirty
// state. Called on graceful shutdown before the Saver is closed.
func (s *PersistenceSystem) SaveAllPlayers() int {
	queued := 0
	s.deps.Conns.ForEach(func(c *registry.Connection) {
		if c.State != protocol.StateInWorld {
			return
		}
		st, ok := s.deps.World.Get(c.PlayerID)
		if !ok {
			return
		}
		if s.saver.Enqueue(persist.SaveRequest{ID: st.ID, Name: st.DisplayName, Position: st.Position}) {
			queued++
		}
	})
	return queued
}
