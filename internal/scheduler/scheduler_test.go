package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryRunsUntilStopped(t *testing.T) {
	s := New(nil)
	var runs atomic.Int32
	_, err := s.Every("tick", time.Second, func() { runs.Add(1) })
	require.NoError(t, err)

	s.Start()
	s.Start() // idempotent
	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)

	s.Stop()
	after := runs.Load()
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, after, runs.Load(), "no runs after Stop")
}

func TestEveryRejectsNonPositiveInterval(t *testing.T) {
	s := New(nil)
	_, err := s.Every("bad", 0, func() {})
	assert.Error(t, err)
}

func TestStopWithoutStart(t *testing.T) {
	s := New(nil)
	assert.NotPanics(t, s.Stop)
}
