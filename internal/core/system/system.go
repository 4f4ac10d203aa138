package system

import "time"

// Phase defines execution ordering within a single tick.
type Phase int

const (
	PhaseInput      Phase = iota // 0: accept sessions, drain client frames and completions
	PhasePreUpdate               // 1: replay remote envelopes
	PhaseUpdate                  // 2: inactivity sweep
	PhasePostUpdate              // 3: snapshots and stats
	PhaseOutput                  // 4: flush buffered frames
	PhasePersist                 // 5: queue position saves
	PhaseCleanup                 // 6: end-of-tick bookkeeping
)

// System is one step of the game loop.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}
