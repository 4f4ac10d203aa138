package system

import (
	"time"

	coresys "github.com/worldsync/server/internal/core/system"
	"github.com/worldsync/server/internal/handler"
)

const maxRemotePerTick = 512

// RelaySystem replays envelopes from other instances. Phase 1 (PreUpdate).
type RelaySystem struct {
	deps *handler.Deps
}

func NewRelaySystem(deps *handler.Deps) *RelaySystem {
	return &RelaySystem{deps: deps}
}

func (s *RelaySystem) Phase() coresys.Phase { return coresys.PhasePreUpdate }

func (s *RelaySystem) Update(_ time.Duration) {
	if s.deps.Relay == nil {
		return
	}
	in := s.deps.Relay.Inbound()
	for i := 0; i < maxRemotePerTick; i++ {
		select {
		case env := <-in:
			handler.ApplyRemote(env, s.deps)
		default:
			return
		}
	}
}
