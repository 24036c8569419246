// internal/models/room.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// RoomStatus is the lifecycle state of a SharedRoom.
type RoomStatus string

const (
	RoomWaiting   RoomStatus = "waiting"   // Accepting participants.
	RoomCountdown RoomStatus = "countdown" // Host started the countdown.
	RoomOpening   RoomStatus = "opening"   // Boxes are being opened.
	RoomClosed    RoomStatus = "closed"
)

// RoomVisibility controls whether a room is listed publicly.
type RoomVisibility string

const (
	VisibilityPublic  RoomVisibility = "public"
	VisibilityPrivate RoomVisibility = "private"
)

// ParticipantRole is the room-scoped role of a participant.
type ParticipantRole string

const (
	RoleHost        ParticipantRole = "host"
	RoleParticipant ParticipantRole = "participant"
	RoleSpectator   ParticipantRole = "spectator"
)

// ReactionType enumerates the reactions a participant can send.
type ReactionType string

const (
	ReactionFire     ReactionType = "fire"
	ReactionHeart    ReactionType = "heart"
	ReactionWow      ReactionType = "wow"
	ReactionLaugh    ReactionType = "laugh"
	ReactionClap     ReactionType = "clap"
	ReactionSad      ReactionType = "sad"
	ReactionMoneyBag ReactionType = "money_bag"
)

// ValidReactionTypes is the set of reactions the server accepts.
var ValidReactionTypes = map[ReactionType]bool{
	ReactionFire:     true,
	ReactionHeart:    true,
	ReactionWow:      true,
	ReactionLaugh:    true,
	ReactionClap:     true,
	ReactionSad:      true,
	ReactionMoneyBag: true,
}

// Position is an optional on-screen anchor for a reaction.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Reaction is a short-lived emote from a participant. Reactions are never persisted.
type Reaction struct {
	ID        uuid.UUID    `json:"id"`
	UserID    uuid.UUID    `json:"userId"`
	Type      ReactionType `json:"type"`
	Position  *Position    `json:"position,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
}

// RoomParticipant is a SocialUser inside a room.
type RoomParticipant struct {
	User            SocialUser      `json:"user"`
	Role            ParticipantRole `json:"role"`
	Ready           bool            `json:"ready"`
	JoinedAt        time.Time       `json:"joinedAt"`
	RecentReactions []Reaction      `json:"recentReactions,omitempty"`
}

// RoomSettings are host-editable knobs of a room.
type RoomSettings struct {
	AllowSpectators  bool `json:"allowSpectators"`
	AllowBetting     bool `json:"allowBetting"`
	AutoStart        bool `json:"autoStart"`
	CountdownSeconds int  `json:"countdownSeconds"`
}

// RoomStatistics accumulates what happened in a room.
type RoomStatistics struct {
	BoxesOpened    int     `json:"boxesOpened"`
	TotalValue     float64 `json:"totalValue"`
	RareItems      int     `json:"rareItems"`
	ReactionsCount int     `json:"reactionsCount"`
}

// SharedRoom is a bounded multiplayer session for jointly opening boxes.
// CurrentParticipants always equals len(Participants) and never exceeds MaxParticipants.
type SharedRoom struct {
	ID                  uuid.UUID         `json:"id"`
	Name                string            `json:"name"`
	HostID              uuid.UUID         `json:"hostId"`
	Theme               string            `json:"theme"`
	MaxParticipants     int               `json:"maxParticipants"`
	CurrentParticipants int               `json:"currentParticipants"`
	Visibility          RoomVisibility    `json:"visibility"`
	HasPassword         bool              `json:"hasPassword"`
	Status              RoomStatus        `json:"status"`
	Participants        []RoomParticipant `json:"participants"`
	Settings            RoomSettings      `json:"settings"`
	Statistics          RoomStatistics    `json:"statistics"`
	CreatedAt           time.Time         `json:"createdAt"`
}

// Participant returns the participant with the given user id, or nil.
func (r *SharedRoom) Participant(userID uuid.UUID) *RoomParticipant {
	for i := range r.Participants {
		if r.Participants[i].User.ID == userID {
			return &r.Participants[i]
		}
	}
	return nil
}

// IsHost reports whether userID hosts the room.
func (r *SharedRoom) IsHost(userID uuid.UUID) bool {
	return r.HostID == userID
}

// Clone returns a deep copy so cached rooms can be mutated optimistically
// without touching the authoritative copy.
func (r *SharedRoom) Clone() *SharedRoom {
	if r == nil {
		return nil
	}
	c := *r
	c.Participants = make([]RoomParticipant, len(r.Participants))
	for i, p := range r.Participants {
		p.RecentReactions = append([]Reaction(nil), p.RecentReactions...)
		c.Participants[i] = p
	}
	return &c
}

// RoomConfig is what a host submits to create a room.
type RoomConfig struct {
	Name            string         `json:"name"`
	Theme           string         `json:"theme"`
	MaxParticipants int            `json:"maxParticipants"`
	Visibility      RoomVisibility `json:"visibility"`
	Password        string         `json:"password,omitempty"`
	Settings        RoomSettings   `json:"settings"`
}

// Rarity grades of an opened item.
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// IsRare reports whether the rarity counts toward the rare-item statistic.
func (r Rarity) IsRare() bool {
	return r == RarityRare || r == RarityEpic || r == RarityLegendary
}

// BoxOpenedResult is reported when a participant opens a box in a room.
type BoxOpenedResult struct {
	RoomID   uuid.UUID `json:"roomId"`
	UserID   uuid.UUID `json:"userId"`
	BoxID    string    `json:"boxId"`
	ItemName string    `json:"itemName"`
	Value    float64   `json:"value"`
	Rarity   Rarity    `json:"rarity"`
	Theme    string    `json:"theme"`
	OpenedAt time.Time `json:"openedAt"`
}
