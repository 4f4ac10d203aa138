// Package ratelimit implements the per-connection, per-message-kind fixed
// window counters that gate movement, action and chat messages.
//
// Windows reset lazily: the first message after a window has elapsed starts
// a fresh window, so an idle connection always gets a full budget back.
// Accessed only from the game loop goroutine, no locks.
package ratelimit

import (
	"fmt"
	"time"

	"github.com/worldsync/server/internal/config"
)

// Kind is a rate-limited message category.
type Kind int

const (
	Movement Kind = iota
	Action
	Chat
	numKinds
)

func (k Kind) String() string {
	switch k {
	case Movement:
		return "movement"
	case Action:
		return "action"
	case Chat:
		return "chat"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Rule allows at most Max messages per Window.
type Rule struct {
	Max    int
	Window time.Duration
}

type window struct {
	start time.Time
	count int
	used  bool
}

// Limiter tracks one window per (connection, kind).
type Limiter struct {
	rules [numKinds]Rule
	conns map[string]*[numKinds]window
	now   func() time.Time
}

// New builds a limiter from config. now may be nil (time.Now).
func New(cfg config.RateLimitConfig, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	l := &Limiter{
		conns: make(map[string]*[numKinds]window),
		now:   now,
	}
	l.rules[Movement] = Rule{Max: cfg.Movement.Max, Window: cfg.Movement.Window}
	l.rules[Action] = Rule{Max: cfg.Action.Max, Window: cfg.Action.Window}
	l.rules[Chat] = Rule{Max: cfg.Chat.Max, Window: cfg.Chat.Window}
	return l
}

// Rule returns the configured rule for k.
func (l *Limiter) Rule(k Kind) Rule {
	if k < 0 || k >= numKinds {
		return Rule{}
	}
	return l.rules[k]
}

// Allow counts one message of kind k from connID and reports whether it
// fits in the current window. Denied messages still count.
func (l *Limiter) Allow(connID string, k Kind) bool {
	if k < 0 || k >= numKinds {
		return true
	}
	rule := l.rules[k]
	ws := l.conns[connID]
	if ws == nil {
		ws = new([numKinds]window)
		l.conns[connID] = ws
	}
	w := &ws[k]
	now := l.now()
	if !w.used || now.Sub(w.start) > rule.Window {
		w.start = now
		w.count = 1
		w.used = true
		return true
	}
	w.count++
	return w.count <= rule.Max
}

// Forget drops every window held for connID.
func (l *Limiter) Forget(connID string) {
	delete(l.conns, connID)
}

// Len returns the number of connections with live windows.
func (l *Limiter) Len() int {
	return len(l.conns)
}
