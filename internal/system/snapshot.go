package system

import (
	"time"

	coresys "github.com/worldsync/server/internal/core/system"
	"github.com/worldsync/server/internal/handler"
)

// SnapshotSystem is the consistency repair path: every interval it
// publishes this instance's players, prunes remote players whose owner went
// quiet and pushes the full world to local clients. Phase 3 (PostUpdate).
type SnapshotSystem struct {
	deps     *handler.Deps
	interval time.Duration
	elapsed  time.Duration
}

func NewSnapshotSystem(deps *handler.Deps, interval time.Duration) *SnapshotSystem {
	return &SnapshotSystem{deps: deps, interval: interval}
}

func (s *SnapshotSystem) Phase() coresys.Phase { return coresys.PhasePostUpdate }

func (s *SnapshotSystem) Update(dt time.Duration) {
	s.elapsed += dt
	if s.elapsed < s.interval {
		return
	}
	s.elapsed = 0

	handler.PublishSnapshot(s.deps)
	handler.PruneRemote(s.deps)
	handler.BroadcastWorldUpdate(s.deps)
}
