// internal/room/manager.go
package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/jason-s-yu/mysterybox/internal/apperr"
	"github.com/jason-s-yu/mysterybox/internal/auth"
	"github.com/jason-s-yu/mysterybox/internal/models"
	"github.com/jason-s-yu/mysterybox/internal/protocol"
	"github.com/jason-s-yu/mysterybox/internal/telemetry"
	"github.com/sirupsen/logrus"
)

// ReactionDisplayWindow is how long a reaction stays visible after it was sent.
const ReactionDisplayWindow = 3 * time.Second

// Options configures a Manager.
type Options struct {
	Credentials       auth.CredentialSource
	User              telemetry.UserProvider
	Haptics           telemetry.Haptics
	Log               logrus.FieldLogger
	ConnectTimeout    time.Duration // Dial plus auth handshake. Default 10s.
	ReconnectAttempts int           // Default 5; negative disables reconnection.
	ReconnectBackoff  time.Duration // First retry delay, doubled per attempt. Default 1s.
	MaxBackoff        time.Duration // Default 5s.
	WriteTimeout      time.Duration // Default 5s.
	Now               func() time.Time
}

type connState int

const (
	stateDisconnected connState = iota
	stateConnecting
	stateConnected
)

type ackResult struct {
	payload protocol.AckPayload
	err     error
}

// Manager owns the single connection of a session to the social server. It turns room
// operations into request/acknowledgement exchanges and server pushes into callbacks.
// It holds no business logic beyond caching the current room.
type Manager struct {
	opts      Options
	log       logrus.FieldLogger
	callbacks *registry

	mu           sync.Mutex
	state        connState
	serverURL    string
	conn         *websocket.Conn
	userID       uuid.UUID
	pending      map[string]chan ackResult
	currentRoom  *models.SharedRoom
	roomPassword string
	stopped      bool
	cancel       context.CancelFunc
}

// NewManager returns a disconnected manager.
func NewManager(opts Options) *Manager {
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if opts.Haptics == nil {
		opts.Haptics = telemetry.NoopHaptics{}
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.ReconnectAttempts == 0 {
		opts.ReconnectAttempts = 5
	}
	if opts.ReconnectBackoff <= 0 {
		opts.ReconnectBackoff = time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 5 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		opts:      opts,
		log:       opts.Log,
		callbacks: newRegistry(),
		pending:   make(map[string]chan ackResult),
	}
}

// Connect dials serverURL and authenticates. It is a no-op while connected or while another
// attempt is in flight. Failures and timeouts return apperr.ErrConnection; there is no retry.
func (m *Manager) Connect(ctx context.Context, serverURL string) error {
	m.mu.Lock()
	if m.state != stateDisconnected {
		m.mu.Unlock()
		return nil
	}
	m.state = stateConnecting
	m.serverURL = serverURL
	m.stopped = false
	m.mu.Unlock()

	conn, uid, err := m.dial(ctx, serverURL)

	m.mu.Lock()
	if err != nil {
		m.state = stateDisconnected
		m.mu.Unlock()
		return err
	}
	if m.stopped {
		m.state = stateDisconnected
		m.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "client disconnected")
		return fmt.Errorf("%w: disconnected while connecting", apperr.ErrConnection)
	}
	sessionCtx, cancel := context.WithCancel(context.Background())
	m.conn = conn
	m.userID = uid
	m.state = stateConnected
	m.cancel = cancel
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{"server": serverURL, "user": uid}).Info("room: connected")
	go m.readLoop(sessionCtx, conn)
	return nil
}

// dial opens the socket and performs the auth handshake within ConnectTimeout.
func (m *Manager) dial(ctx context.Context, serverURL string) (*websocket.Conn, uuid.UUID, error) {
	ctx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()

	if m.opts.Credentials == nil {
		return nil, uuid.Nil, fmt.Errorf("%w: no credential source", apperr.ErrConnection)
	}
	creds, err := m.opts.Credentials.Credentials(ctx)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("%w: %v", apperr.ErrConnection, err)
	}

	conn, _, err := websocket.Dial(ctx, serverURL, nil)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("%w: dial %s: %v", apperr.ErrConnection, serverURL, err)
	}

	var user models.SocialUser
	if m.opts.User != nil {
		user = m.opts.User.CurrentUser()
	}
	user.ID = creds.UserID
	hello, err := protocol.NewEnvelope(protocol.EventAuth, "", protocol.AuthPayload{UserID: creds.UserID, Token: creds.Token, User: user})
	if err != nil {
		conn.CloseNow()
		return nil, uuid.Nil, fmt.Errorf("%w: %v", apperr.ErrConnection, err)
	}
	if err := wsjson.Write(ctx, conn, hello); err != nil {
		conn.CloseNow()
		return nil, uuid.Nil, fmt.Errorf("%w: send auth: %v", apperr.ErrConnection, err)
	}

	var reply protocol.Envelope
	if err := wsjson.Read(ctx, conn, &reply); err != nil {
		conn.CloseNow()
		return nil, uuid.Nil, fmt.Errorf("%w: handshake: %v", apperr.ErrConnection, err)
	}
	if reply.Type != protocol.EventAuthOK {
		conn.Close(websocket.StatusProtocolError, "unexpected handshake reply")
		return nil, uuid.Nil, fmt.Errorf("%w: unexpected handshake reply %q", apperr.ErrConnection, reply.Type)
	}
	return conn, creds.UserID, nil
}

// Disconnect closes the channel and stops any reconnection. Pending requests fail.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.stopped = true
	conn := m.conn
	cancel := m.cancel
	m.conn = nil
	m.cancel = nil
	m.state = stateDisconnected
	m.currentRoom = nil
	m.failPendingLocked(fmt.Errorf("%w: disconnected", apperr.ErrConnection))
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client disconnected")
	}
}

// IsConnected reports whether the channel is authenticated and open.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == stateConnected
}

// UserID returns the authenticated user, or uuid.Nil before the first connect.
func (m *Manager) UserID() uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userID
}

// CurrentRoom returns a copy of the cached room, or nil.
func (m *Manager) CurrentRoom() *models.SharedRoom {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentRoom.Clone()
}

// SetEventCallbacks merges partial into the default subscriber. Nil fields keep their previous handler.
func (m *Manager) SetEventCallbacks(partial EventCallbacks) {
	m.callbacks.mergeDefault(partial)
}

// Subscribe registers an independent subscriber and returns its cancel func.
func (m *Manager) Subscribe(cb EventCallbacks) func() {
	return m.callbacks.subscribe(cb)
}

func (m *Manager) failPendingLocked(err error) {
	for id, ch := range m.pending {
		ch <- ackResult{err: err}
		delete(m.pending, id)
	}
}

func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var env protocol.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			m.handleReadError(ctx, conn, err)
			return
		}
		m.handleFrame(env)
	}
}

// handleReadError decides between terminal disconnect and bounded reconnection.
// A close frame from the server is terminal; anything else is retried.
func (m *Manager) handleReadError(ctx context.Context, conn *websocket.Conn, err error) {
	m.mu.Lock()
	if m.stopped || m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.failPendingLocked(fmt.Errorf("%w: connection lost", apperr.ErrConnection))

	var ce websocket.CloseError
	if errors.As(err, &ce) || m.opts.ReconnectAttempts < 0 {
		m.state = stateDisconnected
		m.currentRoom = nil
		m.mu.Unlock()
		m.log.WithError(err).Warn("room: disconnected by server")
		m.callbacks.reportError(fmt.Errorf("%w: disconnected by server: %s", apperr.ErrConnection, ce.Reason))
		return
	}
	m.state = stateConnecting
	m.mu.Unlock()

	m.log.WithError(err).Warn("room: connection lost, reconnecting")
	m.reconnect(ctx)
}

func (m *Manager) reconnect(ctx context.Context) {
	delay := m.opts.ReconnectBackoff
	for attempt := 1; attempt <= m.opts.ReconnectAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > m.opts.MaxBackoff {
			delay = m.opts.MaxBackoff
		}

		m.mu.Lock()
		url := m.serverURL
		m.mu.Unlock()

		conn, _, err := m.dial(ctx, url)
		if err != nil {
			m.log.WithError(err).WithField("attempt", attempt).Warn("room: reconnect attempt failed")
			continue
		}

		m.mu.Lock()
		if m.stopped {
			m.mu.Unlock()
			conn.Close(websocket.StatusNormalClosure, "client disconnected")
			return
		}
		m.conn = conn
		m.state = stateConnected
		rejoin := m.currentRoom
		password := m.roomPassword
		m.mu.Unlock()

		m.log.WithField("attempt", attempt).Info("room: reconnected")
		go m.readLoop(ctx, conn)
		if rejoin != nil {
			joinCtx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
			_, err := m.JoinRoom(joinCtx, rejoin.ID, password)
			cancel()
			if err != nil {
				m.callbacks.reportError(fmt.Errorf("rejoin room after reconnect: %w", err))
			}
		}
		return
	}

	m.mu.Lock()
	if !m.stopped {
		m.state = stateDisconnected
		m.currentRoom = nil
	}
	m.mu.Unlock()
	m.callbacks.reportError(fmt.Errorf("%w: reconnect failed after %d attempts", apperr.ErrConnection, m.opts.ReconnectAttempts))
}

// request sends a named request and waits for its acknowledgement.
func (m *Manager) request(ctx context.Context, eventType string, data any) (protocol.AckPayload, error) {
	m.mu.Lock()
	if m.state != stateConnected || m.conn == nil {
		m.mu.Unlock()
		return protocol.AckPayload{}, fmt.Errorf("%w: not connected", apperr.ErrConnection)
	}
	conn := m.conn
	ack := uuid.NewString()
	ch := make(chan ackResult, 1)
	m.pending[ack] = ch
	m.mu.Unlock()

	env, err := protocol.NewEnvelope(eventType, ack, data)
	if err == nil {
		err = wsjson.Write(ctx, conn, env)
	}
	if err != nil {
		m.dropPending(ack)
		return protocol.AckPayload{}, fmt.Errorf("%w: send %s: %v", apperr.ErrConnection, eventType, err)
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return protocol.AckPayload{}, res.err
		}
		if !res.payload.Success {
			return res.payload, &apperr.ServerError{Message: res.payload.Error}
		}
		return res.payload, nil
	case <-ctx.Done():
		m.dropPending(ack)
		return protocol.AckPayload{}, ctx.Err()
	}
}

func (m *Manager) dropPending(ack string) {
	m.mu.Lock()
	delete(m.pending, ack)
	m.mu.Unlock()
}

// push sends a one-way frame. Only "not connected" is reported; write failures are logged.
func (m *Manager) push(eventType string, data any) error {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == stateConnected && conn != nil
	m.mu.Unlock()
	if !connected {
		return fmt.Errorf("%w: not connected", apperr.ErrConnection)
	}

	env, err := protocol.NewEnvelope(eventType, "", data)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.WriteTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, conn, env); err != nil {
		m.log.WithError(err).WithField("type", eventType).Warn("room: push failed")
		return fmt.Errorf("%w: send %s: %v", apperr.ErrConnection, eventType, err)
	}
	return nil
}

// handleFrame processes pushes in delivery order.
func (m *Manager) handleFrame(env protocol.Envelope) {
	switch env.Type {
	case protocol.EventAck:
		var payload protocol.AckPayload
		err := env.Decode(&payload)
		m.mu.Lock()
		ch := m.pending[env.Ack]
		delete(m.pending, env.Ack)
		m.mu.Unlock()
		if ch == nil {
			return
		}
		if err != nil {
			ch <- ackResult{err: fmt.Errorf("%w: %v", apperr.ErrServer, err)}
			return
		}
		ch <- ackResult{payload: payload}

	case protocol.EventRoomUpdate:
		var room models.SharedRoom
		if m.decode(env, &room) {
			m.applyRoomUpdate(&room)
		}

	case protocol.EventParticipantJoin:
		var p protocol.ParticipantPayload
		if m.decode(env, &p) {
			m.callbacks.participantJoin(p.Participant)
		}

	case protocol.EventParticipantLeave:
		var p protocol.ParticipantPayload
		if m.decode(env, &p) {
			m.callbacks.participantLeave(p.Participant)
		}

	case protocol.EventReactionAdd:
		var p protocol.ReactionPayload
		if m.decode(env, &p) && m.recordReaction(p.Reaction) {
			m.callbacks.reactionAdd(p.Reaction)
		}

	case protocol.EventCountdownStart:
		var p protocol.CountdownPayload
		if m.decode(env, &p) {
			m.opts.Haptics.Trigger(telemetry.HapticMedium)
			m.callbacks.countdownStart(p.Seconds)
		}

	case protocol.EventBoxOpened:
		var res models.BoxOpenedResult
		if m.decode(env, &res) {
			m.callbacks.boxOpened(res)
		}

	case protocol.EventBetCreated, protocol.EventBetJoined, protocol.EventBetResolved, protocol.EventBetCancelled:
		var ev protocol.BetEvent
		if m.decode(env, &ev) {
			ev.Type = env.Type
			m.callbacks.betEvent(ev)
		}

	case protocol.EventError:
		var p protocol.ErrorPayload
		if m.decode(env, &p) {
			m.callbacks.reportError(&apperr.ServerError{Message: p.Message})
		}

	default:
		m.log.WithField("type", env.Type).Debug("room: ignoring unknown push")
	}
}

func (m *Manager) decode(env protocol.Envelope, dst any) bool {
	if err := env.Decode(dst); err != nil {
		m.log.WithError(err).Warn("room: dropping malformed push")
		return false
	}
	return true
}

// applyRoomUpdate replaces the cache with the authoritative room; any optimistic local
// change is overwritten.
func (m *Manager) applyRoomUpdate(room *models.SharedRoom) {
	m.mu.Lock()
	if m.currentRoom != nil && m.currentRoom.ID == room.ID {
		if room.Status == models.RoomClosed {
			m.currentRoom = nil
			m.roomPassword = ""
		} else {
			m.currentRoom = room.Clone()
		}
	}
	m.mu.Unlock()
	m.callbacks.roomUpdate(room)
}

// recordReaction adds a pushed reaction to the cache. It returns false for the echo of a
// reaction already applied optimistically.
func (m *Manager) recordReaction(r models.Reaction) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.currentRoom == nil {
		return true
	}
	p := m.currentRoom.Participant(r.UserID)
	if p == nil {
		return true
	}
	for _, existing := range p.RecentReactions {
		if existing.ID == r.ID {
			return false
		}
	}
	p.RecentReactions = appendReaction(p.RecentReactions, r, m.opts.Now())
	return true
}

// appendReaction adds r, drops reactions past the display window and keeps the newest few.
func appendReaction(list []models.Reaction, r models.Reaction, now time.Time) []models.Reaction {
	out := make([]models.Reaction, 0, len(list)+1)
	for _, old := range list {
		if now.Sub(old.CreatedAt) < ReactionDisplayWindow {
			out = append(out, old)
		}
	}
	out = append(out, r)
	if len(out) > models.MaxRecentReactions {
		out = out[len(out)-models.MaxRecentReactions:]
	}
	return out
}
