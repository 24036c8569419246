package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/mysterybox/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueVerifyRoundTrip(t *testing.T) {
	s, err := NewSigner("secret", time.Hour)
	require.NoError(t, err)

	id := uuid.New()
	token, err := s.Issue(id)
	require.NoError(t, err)

	got, err := s.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestVerifyRejects(t *testing.T) {
	s, _ := NewSigner("secret", time.Hour)
	other, _ := NewSigner("other", time.Hour)
	expired, _ := NewSigner("secret", time.Nanosecond)

	foreign, err := other.Issue(uuid.New())
	require.NoError(t, err)
	stale, err := expired.Issue(uuid.New())
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"wrong secret", foreign},
		{"expired", stale},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Verify(tc.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestNewSignerRequiresSecret(t *testing.T) {
	_, err := NewSigner("", time.Hour)
	assert.Error(t, err)
}

func TestStoredCredentials(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryStore()
	src := StoredCredentials{Store: kv}

	_, err := src.Credentials(ctx)
	assert.ErrorIs(t, err, store.ErrNotFound)

	want := Credentials{UserID: uuid.New(), Token: "tok"}
	require.NoError(t, SaveCredentials(ctx, kv, want))
	got, err := src.Credentials(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
