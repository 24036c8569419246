// internal/room/operations.go
package room

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jason-s-yu/mysterybox/internal/apperr"
	"github.com/jason-s-yu/mysterybox/internal/models"
	"github.com/jason-s-yu/mysterybox/internal/protocol"
	"github.com/jason-s-yu/mysterybox/internal/telemetry"
)

// CreateRoom validates cfg locally, asks the server to create the room and caches it.
func (m *Manager) CreateRoom(ctx context.Context, cfg models.RoomConfig) (*models.SharedRoom, error) {
	if cfg.Visibility == "" {
		cfg.Visibility = models.VisibilityPublic
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ack, err := m.request(ctx, protocol.RequestCreateRoom, cfg)
	if err != nil {
		return nil, err
	}
	if ack.Room == nil {
		return nil, &apperr.ServerError{Message: "create acknowledged without a room"}
	}
	m.setCurrentRoom(ack.Room, cfg.Password)
	m.opts.Haptics.Trigger(telemetry.HapticSuccess)
	return ack.Room.Clone(), nil
}

// JoinRoom joins roomID. On failure the cached room is left unchanged.
func (m *Manager) JoinRoom(ctx context.Context, roomID uuid.UUID, password string) (*models.SharedRoom, error) {
	ack, err := m.request(ctx, protocol.RequestJoinRoom, protocol.JoinRoomPayload{RoomID: roomID, Password: password})
	if err != nil {
		m.opts.Haptics.Trigger(telemetry.HapticError)
		return nil, err
	}
	if ack.Room == nil {
		return nil, &apperr.ServerError{Message: "join acknowledged without a room"}
	}
	m.setCurrentRoom(ack.Room, password)
	m.opts.Haptics.Trigger(telemetry.HapticSuccess)
	return ack.Room.Clone(), nil
}

// LeaveRoom leaves the current room. The cache is cleared once the server acknowledges.
func (m *Manager) LeaveRoom(ctx context.Context) error {
	if _, err := m.request(ctx, protocol.RequestLeaveRoom, nil); err != nil {
		return err
	}
	m.mu.Lock()
	m.currentRoom = nil
	m.roomPassword = ""
	m.mu.Unlock()
	return nil
}

// ListRooms returns the public rooms that are still accepting participants.
func (m *Manager) ListRooms(ctx context.Context) ([]*models.SharedRoom, error) {
	ack, err := m.request(ctx, protocol.RequestListRooms, nil)
	if err != nil {
		return nil, err
	}
	return ack.Rooms, nil
}

// UpdateRoomSettings replaces the settings of the current room. Host only.
func (m *Manager) UpdateRoomSettings(ctx context.Context, settings models.RoomSettings) (*models.SharedRoom, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	room, uid, err := m.roomSnapshot()
	if err != nil {
		return nil, err
	}
	if !room.IsHost(uid) {
		return nil, fmt.Errorf("%w: only the host can change room settings", apperr.ErrPermission)
	}
	ack, err := m.request(ctx, protocol.RequestUpdateSettings, protocol.UpdateSettingsPayload{RoomID: room.ID, Settings: settings})
	if err != nil {
		return nil, err
	}
	if ack.Room != nil {
		m.replaceCurrentRoom(ack.Room)
	}
	return ack.Room.Clone(), nil
}

// SetReady flips the local ready flag immediately and tells the server. The change is
// reverted if the frame cannot be sent.
func (m *Manager) SetReady(ready bool) error {
	if !m.IsConnected() {
		return fmt.Errorf("%w: not connected", apperr.ErrConnection)
	}
	m.mu.Lock()
	if m.currentRoom == nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: not in a room", apperr.ErrState)
	}
	previous := m.currentRoom.Clone()
	uid := m.userID
	if p := m.currentRoom.Participant(uid); p != nil {
		p.Ready = ready
	}
	optimistic := m.currentRoom.Clone()
	m.mu.Unlock()

	m.callbacks.roomUpdate(optimistic)
	if ready {
		m.opts.Haptics.Trigger(telemetry.HapticLight)
	}

	err := m.push(protocol.EventParticipantReady, protocol.ReadyPayload{RoomID: optimistic.ID, UserID: uid, Ready: ready})
	if err != nil {
		m.replaceCurrentRoom(previous)
		m.callbacks.roomUpdate(previous)
		return err
	}
	return nil
}

// AddReaction shows a reaction locally right away and broadcasts it. The server echo
// carries the same ID and does not fire OnReactionAdd a second time.
func (m *Manager) AddReaction(kind models.ReactionType, pos *models.Position) (models.Reaction, error) {
	if !models.ValidReactionTypes[kind] {
		return models.Reaction{}, fmt.Errorf("%w: unknown reaction type %q", apperr.ErrValidation, kind)
	}
	if !m.IsConnected() {
		return models.Reaction{}, fmt.Errorf("%w: not connected", apperr.ErrConnection)
	}

	m.mu.Lock()
	if m.currentRoom == nil {
		m.mu.Unlock()
		return models.Reaction{}, fmt.Errorf("%w: not in a room", apperr.ErrState)
	}
	r := models.Reaction{
		ID:        uuid.New(),
		UserID:    m.userID,
		Type:      kind,
		Position:  pos,
		CreatedAt: m.opts.Now(),
	}
	roomID := m.currentRoom.ID
	if p := m.currentRoom.Participant(m.userID); p != nil {
		p.RecentReactions = appendReaction(p.RecentReactions, r, r.CreatedAt)
	}
	m.mu.Unlock()

	m.callbacks.reactionAdd(r)
	m.opts.Haptics.Trigger(telemetry.HapticLight)

	if err := m.push(protocol.EventReactionAdd, protocol.ReactionPayload{RoomID: roomID, Reaction: r}); err != nil {
		m.removeReaction(r)
		return models.Reaction{}, err
	}
	return r, nil
}

// VisibleReactions returns the cached reactions still inside the display window.
func (m *Manager) VisibleReactions() []models.Reaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.currentRoom == nil {
		return nil
	}
	now := m.opts.Now()
	var out []models.Reaction
	for _, p := range m.currentRoom.Participants {
		for _, r := range p.RecentReactions {
			if now.Sub(r.CreatedAt) < ReactionDisplayWindow {
				out = append(out, r)
			}
		}
	}
	return out
}

// StartCountdown asks the server to start the opening countdown. Host only.
func (m *Manager) StartCountdown() error {
	room, uid, err := m.roomSnapshot()
	if err != nil {
		return err
	}
	if !room.IsHost(uid) {
		return fmt.Errorf("%w: only the host can start the countdown", apperr.ErrPermission)
	}
	return m.push(protocol.EventCountdownStart, protocol.CountdownPayload{RoomID: room.ID, Seconds: room.Settings.CountdownSeconds})
}

// ReportBoxOpened shares a box result with the room.
func (m *Manager) ReportBoxOpened(result models.BoxOpenedResult) error {
	room, uid, err := m.roomSnapshot()
	if err != nil {
		return err
	}
	result.RoomID = room.ID
	result.UserID = uid
	if result.OpenedAt.IsZero() {
		result.OpenedAt = m.opts.Now()
	}
	if result.Rarity.IsRare() {
		m.opts.Haptics.Trigger(telemetry.HapticHeavy)
	}
	return m.push(protocol.EventBoxOpened, result)
}

// PublishBetEvent relays a betting transition to the other members of the current room.
func (m *Manager) PublishBetEvent(ev protocol.BetEvent) error {
	if !protocol.IsBetEvent(ev.Type) {
		return fmt.Errorf("%w: %q is not a bet event", apperr.ErrValidation, ev.Type)
	}
	room, _, err := m.roomSnapshot()
	if err != nil {
		return err
	}
	if ev.RoomID == uuid.Nil {
		ev.RoomID = room.ID
	}
	return m.push(ev.Type, ev)
}

// roomSnapshot returns a copy of the cached room and the session user, or an error when
// the session is offline or outside any room.
func (m *Manager) roomSnapshot() (*models.SharedRoom, uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != stateConnected {
		return nil, uuid.Nil, fmt.Errorf("%w: not connected", apperr.ErrConnection)
	}
	if m.currentRoom == nil {
		return nil, uuid.Nil, fmt.Errorf("%w: not in a room", apperr.ErrState)
	}
	return m.currentRoom.Clone(), m.userID, nil
}

func (m *Manager) setCurrentRoom(room *models.SharedRoom, password string) {
	m.mu.Lock()
	m.currentRoom = room.Clone()
	m.roomPassword = password
	m.mu.Unlock()
}

func (m *Manager) replaceCurrentRoom(room *models.SharedRoom) {
	m.mu.Lock()
	if m.currentRoom != nil && m.currentRoom.ID == room.ID {
		m.currentRoom = room.Clone()
	}
	m.mu.Unlock()
}

func (m *Manager) removeReaction(r models.Reaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.currentRoom == nil {
		return
	}
	p := m.currentRoom.Participant(r.UserID)
	if p == nil {
		return
	}
	kept := p.RecentReactions[:0]
	for _, existing := range p.RecentReactions {
		if existing.ID != r.ID {
			kept = append(kept, existing)
		}
	}
	p.RecentReactions = kept
}
