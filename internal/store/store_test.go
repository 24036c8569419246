package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type balanceRecord struct {
	Coins  int64 `json:"coins"`
	Points int64 `json:"points"`
}

// exerciseStore runs the same contract against any backend.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, SaveJSON(ctx, s, KeyUserBalance, balanceRecord{Coins: 1000, Points: 500}))
	var got balanceRecord
	require.NoError(t, LoadJSON(ctx, s, KeyUserBalance, &got))
	assert.Equal(t, balanceRecord{Coins: 1000, Points: 500}, got)

	// Overwrite.
	require.NoError(t, SaveJSON(ctx, s, KeyUserBalance, balanceRecord{Coins: 950, Points: 500}))
	require.NoError(t, LoadJSON(ctx, s, KeyUserBalance, &got))
	assert.Equal(t, int64(950), got.Coins)

	require.NoError(t, s.Delete(ctx, KeyUserBalance))
	assert.ErrorIs(t, LoadJSON(ctx, s, KeyUserBalance, &got), ErrNotFound)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	s, err := ConnectPostgres(context.Background(), dsn)
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, Namespaced(s, t.Name()))
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	s, err := ConnectRedis(context.Background(), url)
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, Namespaced(s, t.Name()))
}

func TestLoadJSONCorruptRecord(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Set(ctx, KeyBetHistory, []byte("{not json")))

	var got []int
	err := LoadJSON(ctx, s, KeyBetHistory, &got)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestNamespacedIsolation(t *testing.T) {
	ctx := context.Background()
	base := NewMemoryStore()
	alice := Namespaced(base, "alice")
	bob := Namespaced(base, "bob")

	require.NoError(t, SaveJSON(ctx, alice, KeyUserBalance, balanceRecord{Coins: 1}))
	_, err := bob.Get(ctx, KeyUserBalance)
	assert.ErrorIs(t, err, ErrNotFound)

	raw, err := base.Get(ctx, "alice:"+KeyUserBalance)
	require.NoError(t, err)
	assert.JSONEq(t, `{"coins":1,"points":0}`, string(raw))
}
