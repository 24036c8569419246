package telemetry

import (
	"sync"

	"github.com/jason-s-yu/mysterybox/internal/models"
)

// UserProvider returns a read-only snapshot of the signed-in user.
type UserProvider interface {
	CurrentUser() models.SocialUser
}

// StaticUser is a UserProvider whose snapshot can be replaced by the profile flow.
type StaticUser struct {
	mu   sync.RWMutex
	user models.SocialUser
}

// NewStaticUser returns a provider holding u.
func NewStaticUser(u models.SocialUser) *StaticUser {
	return &StaticUser{user: u}
}

func (s *StaticUser) CurrentUser() models.SocialUser {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// Set replaces the snapshot.
func (s *StaticUser) Set(u models.SocialUser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = u
}
