// Package store persists the small key-value records the social engines keep between runs.
//
// Records are JSON blobs addressed by a fixed key. Backends: in-memory (tests), SQLite
// (local device persistence), PostgreSQL and Redis (server-hosted sessions).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Record keys.
const (
	KeyUserBalance  = "user_balance"
	KeyBetHistory   = "bet_history"
	KeyLeaderboards = "leaderboards"
	KeyUserStats    = "user_stats"
	KeyUserID       = "user_id"
	KeyAuthToken    = "auth_token"
)

// ErrNotFound is returned by Get when no record exists under the key.
var ErrNotFound = errors.New("store: record not found")

// Store is a key-value record store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// LoadJSON reads key into dst. ErrNotFound is passed through so callers can fall back to defaults.
func LoadJSON(ctx context.Context, s Store, key string, dst any) error {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("store: corrupt record %q: %w", key, err)
	}
	return nil
}

// SaveJSON marshals v and writes it under key.
func SaveJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: marshal %q: %w", key, err)
	}
	return s.Set(ctx, key, raw)
}

type namespaced struct {
	Store
	prefix string
}

// Namespaced prefixes every key, letting several users share one backend.
func Namespaced(s Store, prefix string) Store {
	return &namespaced{Store: s, prefix: prefix + ":"}
}

func (n *namespaced) Get(ctx context.Context, key string) ([]byte, error) {
	return n.Store.Get(ctx, n.prefix+key)
}

func (n *namespaced) Set(ctx context.Context, key string, value []byte) error {
	return n.Store.Set(ctx, n.prefix+key, value)
}

func (n *namespaced) Delete(ctx context.Context, key string) error {
	return n.Store.Delete(ctx, n.prefix+key)
}
