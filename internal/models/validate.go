package models

import (
	"fmt"
	"unicode/utf8"

	"github.com/jason-s-yu/mysterybox/internal/apperr"
)

// Room limits checked on both sides of the wire.
const (
	MinRoomNameLength  = 3
	MaxRoomNameLength  = 30
	MinRoomCapacity    = 2
	MaxRoomCapacity    = 8
	DefaultCountdown   = 5
	MaxCountdown       = 30
	MaxRecentReactions = 10
)

// Validate checks a room configuration before it is sent or accepted.
func (c RoomConfig) Validate() error {
	n := utf8.RuneCountInString(c.Name)
	if n < MinRoomNameLength || n > MaxRoomNameLength {
		return fmt.Errorf("%w: room name must be %d-%d characters", apperr.ErrValidation, MinRoomNameLength, MaxRoomNameLength)
	}
	if c.MaxParticipants < MinRoomCapacity || c.MaxParticipants > MaxRoomCapacity {
		return fmt.Errorf("%w: max participants must be between %d and %d", apperr.ErrValidation, MinRoomCapacity, MaxRoomCapacity)
	}
	switch c.Visibility {
	case VisibilityPublic, VisibilityPrivate, "":
	default:
		return fmt.Errorf("%w: unknown visibility %q", apperr.ErrValidation, c.Visibility)
	}
	if c.Visibility != VisibilityPrivate && c.Password != "" {
		return fmt.Errorf("%w: only private rooms take a password", apperr.ErrValidation)
	}
	return c.Settings.Validate()
}

// Validate checks host-editable settings.
func (s RoomSettings) Validate() error {
	if s.CountdownSeconds < 0 || s.CountdownSeconds > MaxCountdown {
		return fmt.Errorf("%w: countdown must be between 0 and %d seconds", apperr.ErrValidation, MaxCountdown)
	}
	return nil
}
