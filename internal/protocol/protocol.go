// Package protocol is the wire format spoken between room clients and the social server.
//
// Every frame is a JSON Envelope. Requests carry an Ack id that the server echoes in a
// frame of type EventAck; everything else is a one-way push.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jason-s-yu/mysterybox/internal/models"
)

// Handshake frames.
const (
	EventAuth   = "auth"
	EventAuthOK = "auth:ok"
	EventAck    = "ack"
)

// Request/acknowledgement pairs.
const (
	RequestCreateRoom     = "room:create"
	RequestListRooms      = "room:list"
	RequestJoinRoom       = "room:join"
	RequestLeaveRoom      = "room:leave"
	RequestUpdateSettings = "room:update_settings"
)

// One-way pushes. Most travel in both directions.
const (
	EventRoomUpdate       = "room:update"
	EventParticipantJoin  = "participant:join"
	EventParticipantLeave = "participant:leave"
	EventParticipantReady = "participant:ready"
	EventReactionAdd      = "reaction:add"
	EventBoxOpened        = "box:opened"
	EventCountdownStart   = "countdown:start"
	EventError            = "error"

	EventBetCreated   = "bet:created"
	EventBetJoined    = "bet:joined"
	EventBetResolved  = "bet:resolved"
	EventBetCancelled = "bet:cancelled"
)

// IsBetEvent reports whether t is one of the relayed betting events.
func IsBetEvent(t string) bool {
	switch t {
	case EventBetCreated, EventBetJoined, EventBetResolved, EventBetCancelled:
		return true
	}
	return false
}

// Envelope is a single frame on the channel.
type Envelope struct {
	Type string          `json:"type"`
	Ack  string          `json:"ack,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into a frame of the given type.
func NewEnvelope(eventType, ack string, data any) (Envelope, error) {
	env := Envelope{Type: eventType, Ack: ack}
	if data == nil {
		return env, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return env, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	env.Data = raw
	return env, nil
}

// Decode unmarshals the frame payload into dst.
func (e Envelope) Decode(dst any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s frame has no payload", e.Type)
	}
	if err := json.Unmarshal(e.Data, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// AuthPayload is sent once, as the first frame after dialing.
type AuthPayload struct {
	UserID uuid.UUID         `json:"userId"`
	Token  string            `json:"token"`
	User   models.SocialUser `json:"user"`
}

// AckPayload answers a request.
type AckPayload struct {
	Success bool                 `json:"success"`
	Room    *models.SharedRoom   `json:"room,omitempty"`
	Rooms   []*models.SharedRoom `json:"rooms,omitempty"`
	Error   string               `json:"error,omitempty"`
}

// JoinRoomPayload is the body of RequestJoinRoom.
type JoinRoomPayload struct {
	RoomID   uuid.UUID `json:"roomId"`
	Password string    `json:"password,omitempty"`
}

// UpdateSettingsPayload is the body of RequestUpdateSettings.
type UpdateSettingsPayload struct {
	RoomID   uuid.UUID           `json:"roomId"`
	Settings models.RoomSettings `json:"settings"`
}

// ReadyPayload is the body of EventParticipantReady.
type ReadyPayload struct {
	RoomID uuid.UUID `json:"roomId"`
	UserID uuid.UUID `json:"userId"`
	Ready  bool      `json:"ready"`
}

// ReactionPayload is the body of EventReactionAdd.
type ReactionPayload struct {
	RoomID   uuid.UUID       `json:"roomId"`
	Reaction models.Reaction `json:"reaction"`
}

// ParticipantPayload is the body of participant join/leave pushes.
type ParticipantPayload struct {
	RoomID      uuid.UUID              `json:"roomId"`
	Participant models.RoomParticipant `json:"participant"`
}

// CountdownPayload is the body of EventCountdownStart.
type CountdownPayload struct {
	RoomID  uuid.UUID `json:"roomId"`
	Seconds int       `json:"seconds"`
}

// ErrorPayload is the body of EventError.
type ErrorPayload struct {
	Message string `json:"message"`
}

// BetEvent is relayed between clients in the same room so every engine mirrors the
// authoritative bet state. Bet is the full post-transition snapshot.
type BetEvent struct {
	Type   string      `json:"type"`
	RoomID uuid.UUID   `json:"roomId"`
	Bet    *models.Bet `json:"bet"`
}
