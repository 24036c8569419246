// internal/roomserver/room.go
package roomserver

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/mysterybox/internal/models"
	"github.com/jason-s-yu/mysterybox/internal/protocol"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// ReactionDisplayWindow is how long a reaction stays in a participant's recent list.
const ReactionDisplayWindow = 3 * time.Second

// room is the server-side state of a SharedRoom. All fields are guarded by Server.mu.
type room struct {
	state          *models.SharedRoom
	passwordHash   []byte
	idleTimer      *time.Timer
	countdownTimer *time.Timer
	actionIndex    int
}

func (s *Server) handleCreate(c *client, env protocol.Envelope) protocol.AckPayload {
	var cfg models.RoomConfig
	if err := env.Decode(&cfg); err != nil {
		return protocol.AckPayload{Error: "Malformed room configuration."}
	}
	if cfg.Visibility == "" {
		cfg.Visibility = models.VisibilityPublic
	}
	if err := cfg.Validate(); err != nil {
		return protocol.AckPayload{Error: err.Error()}
	}
	if cfg.Settings.CountdownSeconds == 0 {
		cfg.Settings.CountdownSeconds = models.DefaultCountdown
	}

	var hash []byte
	if cfg.Password != "" {
		var err error
		hash, err = bcrypt.GenerateFromPassword([]byte(cfg.Password), bcrypt.DefaultCost)
		if err != nil {
			s.log.WithError(err).Error("roomserver: hash room password")
			return protocol.AckPayload{Error: "Could not create room."}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c.roomID != uuid.Nil {
		s.leaveLocked(c, "created another room")
	}

	now := time.Now()
	host := c.user
	host.Status = models.PresenceInRoom
	r := &room{
		passwordHash: hash,
		state: &models.SharedRoom{
			ID:                  uuid.New(),
			Name:                cfg.Name,
			HostID:              c.id,
			Theme:               cfg.Theme,
			MaxParticipants:     cfg.MaxParticipants,
			CurrentParticipants: 1,
			Visibility:          cfg.Visibility,
			HasPassword:         hash != nil,
			Status:              models.RoomWaiting,
			Participants: []models.RoomParticipant{{
				User:     host,
				Role:     models.RoleHost,
				JoinedAt: now,
			}},
			Settings:  cfg.Settings,
			CreatedAt: now,
		},
	}
	s.rooms[r.state.ID] = r
	c.roomID = r.state.ID
	s.resetIdleLocked(r)
	s.logAction(r, c.id, protocol.RequestCreateRoom, map[string]interface{}{"name": cfg.Name, "theme": cfg.Theme})
	s.log.WithFields(logrus.Fields{"room": r.state.ID, "host": c.id}).Info("roomserver: room created")

	return protocol.AckPayload{Success: true, Room: r.state.Clone()}
}

func (s *Server) handleList() protocol.AckPayload {
	s.mu.Lock()
	defer s.mu.Unlock()

	rooms := make([]*models.SharedRoom, 0, len(s.rooms))
	for _, r := range s.rooms {
		if r.state.Visibility == models.VisibilityPublic && r.state.Status != models.RoomClosed {
			rooms = append(rooms, r.state.Clone())
		}
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].CreatedAt.Before(rooms[j].CreatedAt) })
	return protocol.AckPayload{Success: true, Rooms: rooms}
}

func (s *Server) handleJoin(c *client, env protocol.Envelope) protocol.AckPayload {
	var req protocol.JoinRoomPayload
	if err := env.Decode(&req); err != nil {
		return protocol.AckPayload{Error: "Malformed join request."}
	}

	// Password check runs outside the lock; bcrypt is deliberately slow.
	s.mu.Lock()
	r := s.rooms[req.RoomID]
	var hash []byte
	if r != nil {
		hash = r.passwordHash
	}
	s.mu.Unlock()
	if r == nil {
		return protocol.AckPayload{Error: "Room not found"}
	}
	if hash != nil && bcrypt.CompareHashAndPassword(hash, []byte(req.Password)) != nil {
		return protocol.AckPayload{Error: "Invalid room password"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r = s.rooms[req.RoomID]
	if r == nil {
		return protocol.AckPayload{Error: "Room not found"}
	}
	st := r.state
	if st.Participant(c.id) != nil {
		c.roomID = st.ID
		return protocol.AckPayload{Success: true, Room: st.Clone()}
	}
	switch {
	case st.Status == models.RoomClosed:
		return protocol.AckPayload{Error: "Room is closed"}
	case st.Status != models.RoomWaiting:
		return protocol.AckPayload{Error: "Room has already started"}
	case len(st.Participants) >= st.MaxParticipants:
		return protocol.AckPayload{Error: "Room is full"}
	}

	if c.roomID != uuid.Nil {
		s.leaveLocked(c, "joined another room")
	}

	user := c.user
	user.Status = models.PresenceInRoom
	p := models.RoomParticipant{User: user, Role: models.RoleParticipant, JoinedAt: time.Now()}
	st.Participants = append(st.Participants, p)
	st.CurrentParticipants = len(st.Participants)
	c.roomID = st.ID

	s.broadcastLocked(r, protocol.EventParticipantJoin, protocol.ParticipantPayload{RoomID: st.ID, Participant: p}, c.id)
	s.broadcastLocked(r, protocol.EventRoomUpdate, st, uuid.Nil)
	s.resetIdleLocked(r)
	s.logAction(r, c.id, protocol.RequestJoinRoom, nil)

	return protocol.AckPayload{Success: true, Room: st.Clone()}
}

func (s *Server) handleLeave(c *client) protocol.AckPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.roomID == uuid.Nil {
		return protocol.AckPayload{Error: "Not in a room"}
	}
	s.leaveLocked(c, "left")
	return protocol.AckPayload{Success: true}
}

// leaveLocked removes c from its room. When the host leaves, the earliest-joined remaining
// participant is promoted; an empty room is closed.
func (s *Server) leaveLocked(c *client, reason string) {
	r := s.rooms[c.roomID]
	c.roomID = uuid.Nil
	if r == nil {
		return
	}
	st := r.state

	idx := -1
	for i := range st.Participants {
		if st.Participants[i].User.ID == c.id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return
	}
	left := st.Participants[idx]
	st.Participants = append(st.Participants[:idx], st.Participants[idx+1:]...)
	st.CurrentParticipants = len(st.Participants)
	s.logAction(r, c.id, protocol.EventParticipantLeave, map[string]interface{}{"reason": reason})

	if len(st.Participants) == 0 {
		s.closeRoomLocked(r, "empty")
		return
	}

	if st.HostID == c.id {
		next := &st.Participants[0]
		next.Role = models.RoleHost
		st.HostID = next.User.ID
		s.log.WithFields(logrus.Fields{"room": st.ID, "host": st.HostID}).Info("roomserver: host promoted")
		s.logAction(r, st.HostID, "host_promoted", nil)
	}

	s.broadcastLocked(r, protocol.EventParticipantLeave, protocol.ParticipantPayload{RoomID: st.ID, Participant: left}, uuid.Nil)
	s.broadcastLocked(r, protocol.EventRoomUpdate, st, uuid.Nil)
	s.resetIdleLocked(r)
}

func (s *Server) handleUpdateSettings(c *client, env protocol.Envelope) protocol.AckPayload {
	var req protocol.UpdateSettingsPayload
	if err := env.Decode(&req); err != nil {
		return protocol.AckPayload{Error: "Malformed settings."}
	}
	if err := req.Settings.Validate(); err != nil {
		return protocol.AckPayload{Error: err.Error()}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rooms[c.roomID]
	if r == nil || (req.RoomID != uuid.Nil && req.RoomID != r.state.ID) {
		return protocol.AckPayload{Error: "Not in that room"}
	}
	if !r.state.IsHost(c.id) {
		return protocol.AckPayload{Error: "Only the host can update room settings"}
	}
	if req.Settings.CountdownSeconds == 0 {
		req.Settings.CountdownSeconds = models.DefaultCountdown
	}
	r.state.Settings = req.Settings
	s.broadcastLocked(r, protocol.EventRoomUpdate, r.state, uuid.Nil)
	s.resetIdleLocked(r)
	s.logAction(r, c.id, protocol.RequestUpdateSettings, nil)
	return protocol.AckPayload{Success: true, Room: r.state.Clone()}
}

func (s *Server) handleReady(c *client, env protocol.Envelope) {
	var req protocol.ReadyPayload
	if err := env.Decode(&req); err != nil {
		s.sendError(c, "Malformed ready update.")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rooms[c.roomID]
	if r == nil {
		s.sendError(c, "Not in a room.")
		return
	}
	p := r.state.Participant(c.id)
	if p == nil {
		return
	}
	p.Ready = req.Ready
	s.broadcastLocked(r, protocol.EventRoomUpdate, r.state, uuid.Nil)
	s.resetIdleLocked(r)

	if r.state.Settings.AutoStart && r.state.Status == models.RoomWaiting && allReady(r.state) {
		s.startCountdownLocked(r)
	}
}

func allReady(st *models.SharedRoom) bool {
	players := 0
	for _, p := range st.Participants {
		if p.Role == models.RoleSpectator {
			continue
		}
		if !p.Ready {
			return false
		}
		players++
	}
	return players >= models.MinRoomCapacity
}

func (s *Server) handleReaction(c *client, env protocol.Envelope) {
	var req protocol.ReactionPayload
	if err := env.Decode(&req); err != nil {
		s.sendError(c, "Malformed reaction.")
		return
	}
	if !models.ValidReactionTypes[req.Reaction.Type] {
		s.sendError(c, "Unknown reaction type.")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rooms[c.roomID]
	if r == nil {
		s.sendError(c, "Not in a room.")
		return
	}
	p := r.state.Participant(c.id)
	if p == nil {
		return
	}

	now := time.Now()
	reaction := req.Reaction
	reaction.UserID = c.id
	if reaction.ID == uuid.Nil {
		reaction.ID = uuid.New()
	}
	reaction.CreatedAt = now

	recent := p.RecentReactions[:0]
	for _, old := range p.RecentReactions {
		if now.Sub(old.CreatedAt) < ReactionDisplayWindow {
			recent = append(recent, old)
		}
	}
	recent = append(recent, reaction)
	if len(recent) > models.MaxRecentReactions {
		recent = recent[len(recent)-models.MaxRecentReactions:]
	}
	p.RecentReactions = recent
	r.state.Statistics.ReactionsCount++

	s.broadcastLocked(r, protocol.EventReactionAdd, protocol.ReactionPayload{RoomID: r.state.ID, Reaction: reaction}, uuid.Nil)
	s.resetIdleLocked(r)
}

func (s *Server) handleCountdown(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rooms[c.roomID]
	if r == nil {
		s.sendError(c, "Not in a room.")
		return
	}
	if !r.state.IsHost(c.id) {
		s.sendError(c, "Only the host can start the countdown.")
		return
	}
	if r.state.Status != models.RoomWaiting {
		s.sendError(c, "Countdown already running.")
		return
	}
	s.startCountdownLocked(r)
}

func (s *Server) startCountdownLocked(r *room) {
	seconds := r.state.Settings.CountdownSeconds
	if seconds <= 0 {
		seconds = models.DefaultCountdown
	}
	r.state.Status = models.RoomCountdown
	s.broadcastLocked(r, protocol.EventCountdownStart, protocol.CountdownPayload{RoomID: r.state.ID, Seconds: seconds}, uuid.Nil)
	s.broadcastLocked(r, protocol.EventRoomUpdate, r.state, uuid.Nil)
	s.logAction(r, r.state.HostID, protocol.EventCountdownStart, map[string]interface{}{"seconds": seconds})

	if r.countdownTimer != nil {
		r.countdownTimer.Stop()
	}
	r.countdownTimer = time.AfterFunc(time.Duration(seconds)*time.Second, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.rooms[r.state.ID] != r || r.state.Status != models.RoomCountdown {
			return
		}
		r.state.Status = models.RoomOpening
		s.broadcastLocked(r, protocol.EventRoomUpdate, r.state, uuid.Nil)
	})
}

func (s *Server) handleBoxOpened(c *client, env protocol.Envelope) {
	var result models.BoxOpenedResult
	if err := env.Decode(&result); err != nil {
		s.sendError(c, "Malformed box result.")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rooms[c.roomID]
	if r == nil || r.state.Participant(c.id) == nil {
		s.sendError(c, "Not in a room.")
		return
	}
	st := r.state
	result.RoomID = st.ID
	result.UserID = c.id
	if result.OpenedAt.IsZero() {
		result.OpenedAt = time.Now()
	}
	if result.Theme == "" {
		result.Theme = st.Theme
	}

	st.Statistics.BoxesOpened++
	st.Statistics.TotalValue += result.Value
	if result.Rarity.IsRare() {
		st.Statistics.RareItems++
	}
	if r.countdownTimer != nil {
		r.countdownTimer.Stop()
		r.countdownTimer = nil
	}
	st.Status = models.RoomWaiting
	for i := range st.Participants {
		st.Participants[i].Ready = false
	}

	s.broadcastLocked(r, protocol.EventBoxOpened, result, uuid.Nil)
	s.broadcastLocked(r, protocol.EventRoomUpdate, st, uuid.Nil)
	s.resetIdleLocked(r)
	s.logAction(r, c.id, protocol.EventBoxOpened, map[string]interface{}{"value": result.Value, "rarity": result.Rarity})
}

// handleBetEvent relays a betting event to the other members of the sender's room.
func (s *Server) handleBetEvent(c *client, env protocol.Envelope) {
	var ev protocol.BetEvent
	if err := env.Decode(&ev); err != nil || ev.Bet == nil {
		s.sendError(c, "Malformed bet event.")
		return
	}
	if env.Type != protocol.EventBetJoined && ev.Bet.CreatorID != c.id {
		s.sendError(c, "Only the bet creator can create, resolve or cancel it.")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rooms[c.roomID]
	if r == nil || ev.RoomID != r.state.ID {
		s.sendError(c, "Bet does not belong to your room.")
		return
	}
	if !r.state.Settings.AllowBetting {
		s.sendError(c, "Betting is disabled in this room.")
		return
	}
	for _, p := range r.state.Participants {
		if p.User.ID == c.id {
			continue
		}
		if other := s.clients[p.User.ID]; other != nil {
			s.enqueue(other, env)
		}
	}
	s.resetIdleLocked(r)
	s.logAction(r, c.id, env.Type, map[string]interface{}{"bet": ev.Bet.ID})
}

// broadcastLocked pushes an event to every connected member of the room except `exclude`.
func (s *Server) broadcastLocked(r *room, eventType string, data any, exclude uuid.UUID) {
	env, err := protocol.NewEnvelope(eventType, "", data)
	if err != nil {
		s.log.WithError(err).Error("roomserver: build broadcast")
		return
	}
	for _, p := range r.state.Participants {
		if p.User.ID == exclude {
			continue
		}
		if c := s.clients[p.User.ID]; c != nil {
			s.enqueue(c, env)
		}
	}
}

func (s *Server) resetIdleLocked(r *room) {
	if s.idleTimeout <= 0 {
		return
	}
	if r.idleTimer != nil {
		r.idleTimer.Stop()
	}
	r.idleTimer = time.AfterFunc(s.idleTimeout, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.rooms[r.state.ID] == r {
			s.closeRoomLocked(r, "idle")
		}
	})
}

func (s *Server) closeRoomLocked(r *room, reason string) {
	if r.idleTimer != nil {
		r.idleTimer.Stop()
		r.idleTimer = nil
	}
	if r.countdownTimer != nil {
		r.countdownTimer.Stop()
		r.countdownTimer = nil
	}
	r.state.Status = models.RoomClosed
	s.broadcastLocked(r, protocol.EventRoomUpdate, r.state, uuid.Nil)
	for _, p := range r.state.Participants {
		if c := s.clients[p.User.ID]; c != nil && c.roomID == r.state.ID {
			c.roomID = uuid.Nil
		}
	}
	delete(s.rooms, r.state.ID)
	s.logAction(r, uuid.Nil, "room_closed", map[string]interface{}{"reason": reason})
	s.log.WithFields(logrus.Fields{"room": r.state.ID, "reason": reason}).Info("roomserver: room closed")
}

// RoomCount returns the number of open rooms.
func (s *Server) RoomCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

// Room returns a snapshot of a room, or nil.
func (s *Server) Room(id uuid.UUID) *models.SharedRoom {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r := s.rooms[id]; r != nil {
		return r.state.Clone()
	}
	return nil
}
