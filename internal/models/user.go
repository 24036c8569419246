// internal/models/user.go
package models

import "github.com/google/uuid"

// PresenceStatus is the coarse online state shown next to a user.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceInRoom  PresenceStatus = "in_room"
	PresenceAway    PresenceStatus = "away"
	PresenceOffline PresenceStatus = "offline"
)

// SocialUser is the public identity of a player. It is owned by the profile flow;
// the social subsystem only ever holds snapshots of it.
type SocialUser struct {
	ID            uuid.UUID      `json:"id"`
	DisplayName   string         `json:"displayName"`
	Level         int            `json:"level"`
	FavoriteTheme string         `json:"favoriteTheme,omitempty"`
	Status        PresenceStatus `json:"status"`
}
