// Package relay fans encrypted message envelopes out to room members. The
// relay never inspects, stores, or buffers content: an envelope reaches
// exactly the members present at the moment it arrives, and per-recipient
// delivery failures are swallowed. No trace of a message survives its fan-out.
package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Pugazh0602/shoadowchat/internal/cipher"
	"github.com/Pugazh0602/shoadowchat/internal/identity"
	"github.com/Pugazh0602/shoadowchat/internal/protocol"
	"github.com/Pugazh0602/shoadowchat/internal/room"
)

const (
	defaultSendBuffer         = 32
	defaultSessionIdleTimeout = 30 * time.Minute
	defaultSweepInterval      = time.Minute
)

// Options configures observability and lifecycle hooks.
type Options struct {
	Metrics            *relayMetrics
	Presence           identity.Registry
	SendBuffer         int
	SessionIdleTimeout time.Duration
	SweepInterval      time.Duration
}

// Service routes frames between participant sessions and the room registry.
// The registry is an explicit dependency with the same lifetime as the
// service; there is no ambient global connection table.
type Service struct {
	log      *zap.Logger
	registry room.Registry
	presence identity.Registry
	metrics  *relayMetrics

	mu        sync.Mutex
	sessions  map[string]*session
	houseOnce sync.Once

	sendBuffer         int
	sessionIdleTimeout time.Duration
	sweepInterval      time.Duration
}

// NewService wires dependencies for the relay.
func NewService(log *zap.Logger, reg room.Registry, opts Options) *Service {
	if reg == nil {
		reg = room.NewInMemory()
	}
	svc := &Service{
		log:                log,
		registry:           reg,
		presence:           opts.Presence,
		metrics:            opts.Metrics,
		sessions:           make(map[string]*session),
		sendBuffer:         opts.SendBuffer,
		sessionIdleTimeout: opts.SessionIdleTimeout,
		sweepInterval:      opts.SweepInterval,
	}
	if svc.sendBuffer <= 0 {
		svc.sendBuffer = defaultSendBuffer
	}
	if svc.sessionIdleTimeout <= 0 {
		svc.sessionIdleTimeout = defaultSessionIdleTimeout
	}
	if svc.sweepInterval <= 0 {
		svc.sweepInterval = defaultSweepInterval
	}
	return svc
}

// StartHousekeeping launches the periodic sweep that disconnects idle
// sessions. The sweep stops when ctx is cancelled.
func (s *Service) StartHousekeeping(ctx context.Context) {
	if s.sessionIdleTimeout <= 0 || s.sweepInterval <= 0 {
		return
	}

	s.houseOnce.Do(func() {
		ticker := time.NewTicker(s.sweepInterval)
		go func() {
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					s.expireIdleSessions(time.Now())
				}
			}
		}()
	})
}

// HandleConnection owns a participant connection for its whole lifetime:
// registration, frame routing, and disconnect cleanup. It blocks until the
// connection drops or a fatal frame error occurs.
func (s *Service) HandleConnection(parentCtx context.Context, conn *websocket.Conn, label string) {
	sess := s.register(parentCtx, conn, label)
	defer s.cleanupSession(sess)

	go s.writer(sess)

	for {
		start := time.Now()
		var frame protocol.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Warn("session read failed", zap.String("session_id", sess.id), zap.Error(err))
			}
			return
		}

		if err := s.routeFrame(sess, frame); err != nil {
			s.observe(frame.Type, start, err)
			var rerr *routeError
			if errors.As(err, &rerr) {
				_ = s.pushFrame(sess, protocol.ErrorFrame(rerr.code, rerr.msg))
				if rerr.fatal {
					return
				}
				continue
			}
			return
		}
		s.observe(frame.Type, start, nil)
	}
}

// Sessions returns the number of live sessions.
func (s *Service) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Service) register(parentCtx context.Context, conn *websocket.Conn, label string) *session {
	ctx, cancel := context.WithCancel(parentCtx)
	now := time.Now()
	sess := &session{
		id:          uuid.NewString(),
		label:       label,
		conn:        conn,
		sendCh:      make(chan protocol.Frame, s.sendBuffer),
		ctx:         ctx,
		cancel:      cancel,
		connectedAt: now,
		lastSeen:    now,
	}

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	s.metrics.incSession()

	if s.presence != nil {
		_ = s.presence.Register(identity.Presence{
			SessionID:   sess.id,
			Label:       label,
			ConnectedAt: now,
		})
	}

	s.log.Info("participant connected", zap.String("session_id", sess.id))
	return sess
}

func (s *Service) routeFrame(sess *session, frame protocol.Frame) error {
	s.touchSession(sess)
	switch frame.Type {
	case protocol.TypeJoinRoom:
		return s.handleJoin(sess, frame)
	case protocol.TypeSendMessage:
		return s.handleSend(sess, frame)
	default:
		return &routeError{code: protocol.CodeInvalidFrame, msg: "unsupported frame"}
	}
}

// handleJoin adds the session to a room. Any string is accepted as a room id;
// join never fails.
func (s *Service) handleJoin(sess *session, frame protocol.Frame) error {
	if frame.RoomID == "" {
		return &routeError{code: protocol.CodeInvalidFrame, msg: "room id required"}
	}

	s.registry.Join(sess.id, frame.RoomID)
	s.metrics.setRooms(s.registry.Rooms())

	// Log only a digest of the room id; the id itself is key material.
	s.log.Debug("joined room",
		zap.String("session_id", sess.id),
		zap.String("room_digest", cipher.HashRoomID(frame.RoomID)[:12]))
	return nil
}

// handleSend forwards the envelope, unmodified, to every other member present
// at this instant. A member joining a moment later receives nothing; a member
// that concurrently disconnected is silently skipped.
func (s *Service) handleSend(sess *session, frame protocol.Frame) error {
	if frame.RoomID == "" {
		return &routeError{code: protocol.CodeInvalidFrame, msg: "room id required"}
	}
	if frame.Message == nil || frame.Message.Content == "" {
		return &routeError{code: protocol.CodeInvalidFrame, msg: "message content required"}
	}

	targets := s.registry.MembersExcept(frame.RoomID, sess.id)
	s.metrics.recordRelayed()
	if len(targets) == 0 {
		return nil
	}

	recipients := make([]*session, 0, len(targets))
	s.mu.Lock()
	for _, id := range targets {
		target, ok := s.sessions[id]
		if !ok {
			s.metrics.recordDropped("disconnected")
			continue
		}
		recipients = append(recipients, target)
	}
	s.mu.Unlock()

	forward := protocol.ReceiveMessage(*frame.Message)
	for _, target := range recipients {
		if err := s.pushFrame(target, forward); err != nil {
			var rerr *routeError
			if errors.As(err, &rerr) {
				s.metrics.recordDropped("backpressure")
			} else {
				s.metrics.recordDropped("disconnected")
			}
		}
	}
	return nil
}

func (s *Service) writer(sess *session) {
	for {
		select {
		case <-sess.ctx.Done():
			// Unblocks the read loop so cleanup runs exactly once.
			_ = sess.conn.Close()
			return
		case frame := <-sess.sendCh:
			if err := sess.conn.WriteJSON(frame); err != nil {
				s.log.Warn("session write failed", zap.String("session_id", sess.id), zap.Error(err))
				sess.cancel()
				return
			}
		}
	}
}

// pushFrame enqueues a frame without blocking. A full buffer means the
// recipient cannot keep up; that session is cancelled rather than letting it
// stall delivery to anyone else. Accepted deliveries count as activity so a
// pure listener is not cut by the idle sweep mid-conversation.
func (s *Service) pushFrame(sess *session, frame protocol.Frame) error {
	select {
	case <-sess.ctx.Done():
		return sess.ctx.Err()
	case sess.sendCh <- frame:
		s.touchSession(sess)
		return nil
	default:
		sess.cancel()
		return &routeError{code: protocol.CodeBackpressure, msg: "session send buffer full", fatal: true}
	}
}

func (s *Service) cleanupSession(sess *session) {
	sess.cancel()
	_ = sess.conn.Close()

	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()

	left := s.registry.LeaveAll(sess.id)
	s.metrics.setRooms(s.registry.Rooms())

	if s.presence != nil {
		s.presence.Remove(sess.id)
	}
	s.metrics.decSession()

	// Departure is deliberately not broadcast; leaving leaves no trace.
	s.log.Info("participant disconnected",
		zap.String("session_id", sess.id),
		zap.Int("rooms_left", len(left)))
}

func (s *Service) expireIdleSessions(now time.Time) {
	var expired []*session

	s.mu.Lock()
	for _, sess := range s.sessions {
		if now.Sub(sess.lastSeen) > s.sessionIdleTimeout {
			expired = append(expired, sess)
		}
	}
	s.mu.Unlock()

	for _, sess := range expired {
		s.metrics.recordSessionExpiry()
		sess.cancel()
		s.log.Info("expired idle session", zap.String("session_id", sess.id))
	}
}

func (s *Service) touchSession(sess *session) {
	s.mu.Lock()
	sess.lastSeen = time.Now()
	s.mu.Unlock()
}

func (s *Service) observe(op string, start time.Time, err error) {
	if op == "" {
		op = "unknown"
	}
	s.metrics.observeLatency(op, time.Since(start))
	if err != nil {
		code := "internal"
		var rerr *routeError
		if errors.As(err, &rerr) && rerr.code != "" {
			code = rerr.code
		}
		s.metrics.recordError(code)
	}
}

// session tracks one connected participant.
type session struct {
	id          string
	label       string
	conn        *websocket.Conn
	sendCh      chan protocol.Frame
	ctx         context.Context
	cancel      context.CancelFunc
	connectedAt time.Time
	lastSeen    time.Time
}

// routeError maps frame-level validation to error frames.
type routeError struct {
	code  string
	msg   string
	fatal bool
}

func (e *routeError) Error() string {
	return e.msg
}
