package net

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Session represents a single client connection. Network I/O runs in
// dedicated goroutines; game state is accessed only from the game loop.
type Session struct {
	ID string
	IP string

	conn *websocket.Conn

	InQueue  chan []byte // game loop reads frames from here
	OutQueue chan []byte // writer goroutine reads from here

	outBuf [][]byte // buffered frames, flushed by the output system (game loop only)

	readTimeout  time.Duration
	writeTimeout time.Duration

	closeCh   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
	onClose   func(id string)

	log *zap.Logger
}

func newSession(conn *websocket.Conn, id, ip string, cfg sessionConfig, log *zap.Logger) *Session {
	conn.SetReadLimit(cfg.maxMessage)
	return &Session{
		ID:           id,
		IP:           ip,
		conn:         conn,
		InQueue:      make(chan []byte, cfg.inSize),
		OutQueue:     make(chan []byte, cfg.outSize),
		readTimeout:  cfg.readTimeout,
		writeTimeout: cfg.writeTimeout,
		closeCh:      make(chan struct{}),
		log:          log.With(zap.String("session", id)),
	}
}

// Start launches the reader and writer goroutines.
func (s *Session) Start() {
	go s.readLoop()
	go s.writeLoop()
}

// Send buffers a frame. Nothing is written until FlushOutput runs.
// Called only from the game loop goroutine, so outBuf needs no lock.
func (s *Session) Send(data []byte) {
	if s.closed.Load() {
		return
	}
	s.outBuf = append(s.outBuf, data)
}

// FlushOutput drains the output buffer to OutQueue for the writer goroutine.
// Non-blocking: if OutQueue is full the session is closed (backpressure).
func (s *Session) FlushOutput() {
	for _, data := range s.outBuf {
		select {
		case s.OutQueue <- data:
		default:
			s.log.Warn("output queue full, closing slow client")
			s.Close()
			s.outBuf = s.outBuf[:0]
			return
		}
	}
	s.outBuf = s.outBuf[:0]
}

// Close shuts the session down. Safe to call from any goroutine, any number
// of times.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.closeCh)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.conn.Close()
		if s.onClose != nil {
			// The loop itself may be the caller; never block it here.
			go s.onClose(s.ID)
		}
	})
}

func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// readLoop pushes every client frame onto InQueue.
func (s *Session) readLoop() {
	defer s.Close()

	_ = s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	})

	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed.Load() && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("read error", zap.Error(err))
			}
			return
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))

		// Block until the loop drains or the session closes. Dropping here
		// would reorder a client's messages.
		select {
		case s.InQueue <- data:
		case <-s.closeCh:
			return
		}
	}
}

// writeLoop writes queued frames and keeps the connection alive with pings.
func (s *Session) writeLoop() {
	defer s.Close()

	ping := time.NewTicker(s.readTimeout * 9 / 10)
	defer ping.Stop()

	for {
		select {
		case data := <-s.OutQueue:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				if !s.closed.Load() {
					s.log.Debug("write error", zap.Error(err))
				}
				return
			}
		case <-ping.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout)); err != nil {
				return
			}
		case <-s.closeCh:
			return
		}
	}
}
