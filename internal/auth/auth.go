// Package auth mints and verifies the tokens presented during the room handshake,
// and reads the signed-in user's credentials from local storage.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jason-s-yu/mysterybox/internal/store"
)

const issuer = "mysterybox-social"

// ErrInvalidToken is returned for any token that does not verify.
var ErrInvalidToken = errors.New("auth: invalid token")

// Signer issues and verifies HS256 tokens whose subject is the user id.
type Signer struct {
	secret []byte
	ttl    time.Duration
}

// NewSigner returns a signer. An empty secret is rejected.
func NewSigner(secret string, ttl time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("auth: empty signing secret")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Signer{secret: []byte(secret), ttl: ttl}, nil
}

// Issue returns a signed token for userID.
func (s *Signer) Issue(userID uuid.UUID) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return token, nil
}

// Verify checks the token and returns the user id it was issued to.
func (s *Signer) Verify(token string) (uuid.UUID, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok {
		return uuid.Nil, ErrInvalidToken
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: bad subject: %v", ErrInvalidToken, err)
	}
	return id, nil
}

// Credentials are what the client presents at connect time.
type Credentials struct {
	UserID uuid.UUID
	Token  string
}

// CredentialSource yields the credentials for the handshake.
type CredentialSource interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// StoredCredentials reads user_id and auth_token from persistent storage.
type StoredCredentials struct {
	Store store.Store
}

func (s StoredCredentials) Credentials(ctx context.Context) (Credentials, error) {
	var creds Credentials
	if err := store.LoadJSON(ctx, s.Store, store.KeyUserID, &creds.UserID); err != nil {
		return creds, fmt.Errorf("auth: read user id: %w", err)
	}
	if err := store.LoadJSON(ctx, s.Store, store.KeyAuthToken, &creds.Token); err != nil {
		return creds, fmt.Errorf("auth: read token: %w", err)
	}
	return creds, nil
}

// SaveCredentials persists creds for StoredCredentials to read back.
func SaveCredentials(ctx context.Context, s store.Store, creds Credentials) error {
	if err := store.SaveJSON(ctx, s, store.KeyUserID, creds.UserID); err != nil {
		return err
	}
	return store.SaveJSON(ctx, s, store.KeyAuthToken, creds.Token)
}
