package net

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/worldsync/server/internal/config"
)

const limiterIdle = 5 * time.Minute

type sessionConfig struct {
	inSize       int
	outSize      int
	readTimeout  time.Duration
	writeTimeout time.Duration
	maxMessage   int64
}

type ipLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// Server upgrades HTTP requests to websocket sessions.
// New/dead sessions are communicated to the game loop via channels.
type Server struct {
	upgrader websocket.Upgrader
	sessCfg  sessionConfig
	newConns chan *Session
	deadCh   chan string // ids of closed sessions
	closeCh  chan struct{}
	once     sync.Once
	log      *zap.Logger

	acceptRate  rate.Limit
	acceptBurst int
	mu          sync.Mutex
	limiters    map[string]*ipLimiter
	lastPrune   time.Time
}

func NewServer(cfg config.NetworkConfig, log *zap.Logger) *Server {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		sessCfg: sessionConfig{
			inSize:       cfg.InQueueSize,
			outSize:      cfg.OutQueueSize,
			readTimeout:  cfg.ReadTimeout,
			writeTimeout: cfg.WriteTimeout,
			maxMessage:   cfg.MaxMessageSize,
		},
		newConns:    make(chan *Session, 64),
		deadCh:      make(chan string, 64),
		closeCh:     make(chan struct{}),
		log:         log,
		acceptRate:  rate.Limit(cfg.AcceptPerSecond),
		acceptBurst: cfg.AcceptBurst,
		limiters:    make(map[string]*ipLimiter),
	}
}

// ServeHTTP throttles upgrades per remote IP, upgrades the request and
// hands the session to the game loop.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.closeCh:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	ip := remoteIP(r)
	if !s.allow(ip) {
		s.log.Warn("connection rate exceeded", zap.String("ip", ip))
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("upgrade failed", zap.String("ip", ip), zap.Error(err))
		return
	}

	sess := newSession(conn, uuid.NewString(), ip, s.sessCfg, s.log)
	sess.onClose = s.notifyDead

	select {
	case s.newConns <- sess:
		sess.Start()
		s.log.Info("client connected", zap.String("session", sess.ID), zap.String("ip", ip))
	default:
		s.log.Warn("session queue full, rejecting connection", zap.String("ip", ip))
		sess.onClose = nil
		sess.Close()
	}
}

// NewSessions returns the channel of newly connected sessions.
func (s *Server) NewSessions() <-chan *Session {
	return s.newConns
}

// DeadSessions returns the channel of closed session ids.
func (s *Server) DeadSessions() <-chan string {
	return s.deadCh
}

// notifyDead reports a closed session to the game loop. It blocks the
// closing goroutine until the loop takes it or the server shuts down.
func (s *Server) notifyDead(id string) {
	select {
	case s.deadCh <- id:
	case <-s.closeCh:
	}
}

// Shutdown stops accepting new connections.
func (s *Server) Shutdown() {
	s.once.Do(func() { close(s.closeCh) })
}

func (s *Server) allow(ip string) bool {
	if s.acceptRate <= 0 {
		return true
	}
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastPrune) > limiterIdle {
		for k, l := range s.limiters {
			if now.Sub(l.lastSeen) > limiterIdle {
				delete(s.limiters, k)
			}
		}
		s.lastPrune = now
	}

	l := s.limiters[ip]
	if l == nil {
		burst := s.acceptBurst
		if burst <= 0 {
			burst = 1
		}
		l = &ipLimiter{lim: rate.NewLimiter(s.acceptRate, burst)}
		s.limiters[ip] = l
	}
	l.lastSeen = now
	return l.lim.AllowN(now, 1)
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
