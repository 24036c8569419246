// internal/roomserver/server.go
package roomserver

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/jason-s-yu/mysterybox/internal/models"
	"github.com/jason-s-yu/mysterybox/internal/protocol"
	"github.com/sirupsen/logrus"
)

// Verifier checks a handshake token and returns the user it was issued to.
type Verifier interface {
	Verify(token string) (uuid.UUID, error)
}

// Options configures a Server.
type Options struct {
	Verifier         Verifier
	Log              logrus.FieldLogger
	ActionLog        ActionLogger  // Optional; nil disables action publishing.
	IdleTimeout      time.Duration // Rooms with no activity for this long are closed. 0 disables.
	HandshakeTimeout time.Duration // Time a new connection has to send its auth frame.
}

// Server is the social server: it authenticates room clients, owns the room registry
// and fans pushes out to room members.
type Server struct {
	verifier         Verifier
	log              logrus.FieldLogger
	actions          ActionLogger
	idleTimeout      time.Duration
	handshakeTimeout time.Duration

	mu      sync.Mutex // Guards rooms, clients and every room's state.
	rooms   map[uuid.UUID]*room
	clients map[uuid.UUID]*client

	handshakes atomic.Int64
}

// New returns a server ready to be mounted with ServeHTTP.
func New(opts Options) *Server {
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	return &Server{
		verifier:         opts.Verifier,
		log:              opts.Log,
		actions:          opts.ActionLog,
		idleTimeout:      opts.IdleTimeout,
		handshakeTimeout: opts.HandshakeTimeout,
		rooms:            make(map[uuid.UUID]*room),
		clients:          make(map[uuid.UUID]*client),
	}
}

// client is one authenticated connection.
type client struct {
	id     uuid.UUID
	user   models.SocialUser
	conn   *websocket.Conn
	send   chan protocol.Envelope
	roomID uuid.UUID // uuid.Nil when not in a room. Guarded by Server.mu.

	done      chan struct{}
	closeOnce sync.Once
}

func (c *client) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close(code, reason)
	})
}

// HandshakeCount returns how many connections have completed authentication.
func (s *Server) HandshakeCount() int64 {
	return s.handshakes.Load()
}

// ServeHTTP upgrades the request to a WebSocket and runs the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("roomserver: websocket accept failed")
		return
	}
	ctx := r.Context()

	c, err := s.handshake(ctx, conn)
	if err != nil {
		s.log.WithError(err).Info("roomserver: handshake rejected")
		conn.Close(websocket.StatusPolicyViolation, "authentication failed")
		return
	}

	s.register(c)
	go s.writePump(ctx, c)
	s.readPump(ctx, c)
	s.unregister(c)
	c.close(websocket.StatusNormalClosure, "")
}

func (s *Server) handshake(ctx context.Context, conn *websocket.Conn) (*client, error) {
	hctx, cancel := context.WithTimeout(ctx, s.handshakeTimeout)
	defer cancel()

	var env protocol.Envelope
	if err := wsjson.Read(hctx, conn, &env); err != nil {
		return nil, fmt.Errorf("read auth frame: %w", err)
	}
	if env.Type != protocol.EventAuth {
		return nil, fmt.Errorf("expected %s frame, got %q", protocol.EventAuth, env.Type)
	}
	var auth protocol.AuthPayload
	if err := env.Decode(&auth); err != nil {
		return nil, err
	}
	if s.verifier == nil {
		return nil, fmt.Errorf("no verifier configured")
	}
	uid, err := s.verifier.Verify(auth.Token)
	if err != nil {
		return nil, err
	}
	if uid != auth.UserID {
		return nil, fmt.Errorf("token subject %s does not match user %s", uid, auth.UserID)
	}

	user := auth.User
	user.ID = uid
	if user.DisplayName == "" {
		user.DisplayName = "Player-" + uid.String()[:8]
	}
	user.Status = models.PresenceOnline

	ok, _ := protocol.NewEnvelope(protocol.EventAuthOK, "", user)
	if err := wsjson.Write(hctx, conn, ok); err != nil {
		return nil, fmt.Errorf("write auth ack: %w", err)
	}
	s.handshakes.Add(1)

	return &client{
		id:   uid,
		user: user,
		conn: conn,
		send: make(chan protocol.Envelope, 64),
		done: make(chan struct{}),
	}, nil
}

func (s *Server) register(c *client) {
	s.mu.Lock()
	old := s.clients[c.id]
	s.clients[c.id] = c
	if old != nil {
		// Same user connected again: the new connection takes over the room seat.
		c.roomID = old.roomID
		old.roomID = uuid.Nil
	}
	s.mu.Unlock()

	if old != nil {
		old.close(websocket.StatusPolicyViolation, "replaced by a new connection")
	}
	s.log.WithField("user", c.id).Info("roomserver: client connected")
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clients[c.id] != c {
		return
	}
	delete(s.clients, c.id)
	if c.roomID != uuid.Nil {
		s.leaveLocked(c, "disconnected")
	}
	s.log.WithField("user", c.id).Info("roomserver: client disconnected")
}

func (s *Server) readPump(ctx context.Context, c *client) {
	for {
		var env protocol.Envelope
		if err := wsjson.Read(ctx, c.conn, &env); err != nil {
			if websocket.CloseStatus(err) == -1 {
				s.log.WithError(err).WithField("user", c.id).Debug("roomserver: read ended")
			}
			return
		}
		s.dispatch(c, env)
	}
}

func (s *Server) writePump(ctx context.Context, c *client) {
	for {
		select {
		case env := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(wctx, c.conn, env)
			cancel()
			if err != nil {
				s.log.WithError(err).WithField("user", c.id).Debug("roomserver: write failed")
				c.close(websocket.StatusInternalError, "write failed")
				return
			}
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// enqueue hands a frame to the client's writer without blocking.
func (s *Server) enqueue(c *client, env protocol.Envelope) {
	select {
	case c.send <- env:
	case <-c.done:
	default:
		s.log.WithField("user", c.id).Warn("roomserver: send buffer full, dropping client")
		go c.close(websocket.StatusTryAgainLater, "too slow")
	}
}

func (s *Server) push(c *client, eventType string, data any) {
	env, err := protocol.NewEnvelope(eventType, "", data)
	if err != nil {
		s.log.WithError(err).Error("roomserver: build push")
		return
	}
	s.enqueue(c, env)
}

func (s *Server) sendError(c *client, msg string) {
	s.push(c, protocol.EventError, protocol.ErrorPayload{Message: msg})
}

func (s *Server) reply(c *client, ack string, payload protocol.AckPayload) {
	if ack == "" {
		return
	}
	env, err := protocol.NewEnvelope(protocol.EventAck, ack, payload)
	if err != nil {
		s.log.WithError(err).Error("roomserver: build ack")
		return
	}
	s.enqueue(c, env)
}

// dispatch routes one frame from an authenticated client.
func (s *Server) dispatch(c *client, env protocol.Envelope) {
	switch env.Type {
	case protocol.RequestCreateRoom:
		s.reply(c, env.Ack, s.handleCreate(c, env))
	case protocol.RequestListRooms:
		s.reply(c, env.Ack, s.handleList())
	case protocol.RequestJoinRoom:
		s.reply(c, env.Ack, s.handleJoin(c, env))
	case protocol.RequestLeaveRoom:
		s.reply(c, env.Ack, s.handleLeave(c))
	case protocol.RequestUpdateSettings:
		s.reply(c, env.Ack, s.handleUpdateSettings(c, env))
	case protocol.EventParticipantReady:
		s.handleReady(c, env)
	case protocol.EventReactionAdd:
		s.handleReaction(c, env)
	case protocol.EventCountdownStart:
		s.handleCountdown(c)
	case protocol.EventBoxOpened:
		s.handleBoxOpened(c, env)
	case protocol.EventBetCreated, protocol.EventBetJoined, protocol.EventBetResolved, protocol.EventBetCancelled:
		s.handleBetEvent(c, env)
	default:
		s.log.WithFields(logrus.Fields{"user": c.id, "type": env.Type}).Warn("roomserver: unknown event")
		if env.Ack != "" {
			s.reply(c, env.Ack, protocol.AckPayload{Error: "Unknown request"})
		} else {
			s.sendError(c, "Unknown event type.")
		}
	}
}

// Kick disconnects a user with a server-initiated close. Clients treat this as terminal.
func (s *Server) Kick(userID uuid.UUID, reason string) bool {
	s.mu.Lock()
	c := s.clients[userID]
	s.mu.Unlock()
	if c == nil {
		return false
	}
	c.close(websocket.StatusPolicyViolation, reason)
	return true
}

// Shutdown closes every room and connection.
func (s *Server) Shutdown() {
	s.mu.Lock()
	for _, r := range s.rooms {
		s.closeRoomLocked(r, "server shutdown")
	}
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.close(websocket.StatusGoingAway, "server shutting down")
	}
}
