package system

import (
	"time"

	"go.uber.org/zap"

	coresys "github.com/worldsync/server/internal/core/system"
	"github.com/worldsync/server/internal/handler"
	"github.com/worldsync/server/internal/net"
	"github.com/worldsync/server/internal/net/protocol"
	"github.com/worldsync/server/internal/registry"
)

// InputSystem accepts new sessions, tears down dead ones, runs off-loop
// completions and drains client frames through the dispatcher.
// Phase 0 (Input).
type InputSystem struct {
	netServer  *net.Server
	registry   *protocol.Registry
	store      *net.SessionStore
	deps       *handler.Deps
	maxPerTick int
	log        *zap.Logger
}

func NewInputSystem(
	netServer *net.Server,
	registry *protocol.Registry,
	store *net.SessionStore,
	deps *handler.Deps,
	maxPerTick int,
	log *zap.Logger,
) *InputSystem {
	if maxPerTick <= 0 {
		maxPerTick = 32
	}
	return &InputSystem{
		netServer:  netServer,
		registry:   registry,
		store:      store,
		deps:       deps,
		maxPerTick: maxPerTick,
		log:        log,
	}
}

func (s *InputSystem) Phase() coresys.Phase { return coresys.PhaseInput }

func (s *InputSystem) Update(_ time.Duration) {
	// Accept new sessions
	for {
		select {
		case sess := <-s.netServer.NewSessions():
			s.accept(sess)
		default:
			goto doneNew
		}
	}
doneNew:

	// Process dead sessions
	for {
		select {
		case id := <-s.netServer.DeadSessions():
			s.handleDisconnect(id)
		default:
			goto doneDead
		}
	}
doneDead:

	// Results of token checks and character loads
	for {
		select {
		case fn := <-s.deps.Completions:
			fn()
		default:
			goto doneCompletions
		}
	}
doneCompletions:

	// Drain frames from each session (up to maxPerTick per session)
	s.store.ForEach(func(sess *net.Session) {
		if sess.IsClosed() {
			return
		}
		s.drain(sess)
	})

	// Early flush: replies produced here reach the writer goroutines while
	// the later phases run. OutputSystem flushes the rest.
	s.store.ForEach(func(sess *net.Session) {
		sess.FlushOutput()
	})
}

func (s *InputSystem) accept(sess *net.Session) {
	s.store.Add(sess)
	s.deps.Conns.Register(&registry.Connection{
		ID:         sess.ID,
		RemoteAddr: sess.IP,
		Transport:  sess,
	})
	handler.ObserveStats(s.deps)
}

func (s *InputSystem) drain(sess *net.Session) {
	for i := 0; i < s.maxPerTick; i++ {
		select {
		case data := <-sess.InQueue:
			handler.HandleFrame(s.registry, sess.ID, data, s.deps)
		default:
			return
		}
	}
}

// handleDisconnect runs frames the client sent just before closing, then
// terminates the connection. A connection the loop already terminated
// (logout, eviction) only leaves the store.
func (s *InputSystem) handleDisconnect(id string) {
	if sess := s.store.Get(id); sess != nil {
		s.drain(sess)
	}
	handler.Terminate(id, "disconnect", s.deps)
	s.store.Remove(id)
}

// SessionCount returns the current number of active sessions.
func (s *InputSystem) SessionCount() int {
	return s.store.Len()
}
