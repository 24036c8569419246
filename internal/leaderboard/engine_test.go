package leaderboard

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/mysterybox/internal/apperr"
	"github.com/jason-s-yu/mysterybox/internal/models"
	"github.com/jason-s-yu/mysterybox/internal/scheduler"
	"github.com/jason-s-yu/mysterybox/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestEngine(t *testing.T, kv store.Store) (*Engine, *fakeClock) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	clock := &fakeClock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
	if kv == nil {
		kv = store.NewMemoryStore()
	}
	e := New(Options{Themes: []string{"anime", "sneakers"}, Store: kv, Log: logger, Now: clock.Now})
	e.Load(context.Background())
	return e, clock
}

func user(name string) models.SocialUser {
	return models.SocialUser{ID: uuid.New(), DisplayName: name}
}

func intPtr(v int) *int { return &v }

func TestBoardsAreBuiltPerCategoryTimeframeAndTheme(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	all := e.GetLeaderboards(Filter{})
	assert.Len(t, all, 4*4+2*4)

	weekly := e.GetLeaderboards(Filter{Timeframe: models.TimeframeWeekly})
	assert.Len(t, weekly, 6)

	anime := e.GetLeaderboards(Filter{Category: models.CategoryThemeMaster, Theme: "Anime", Timeframe: models.TimeframeAllTime})
	require.Len(t, anime, 1)
	assert.Equal(t, "theme_master:anime:all_time", anime[0].ID)
	assert.Equal(t, "All Time Anime Master", anime[0].Name)

	assert.Empty(t, e.GetLeaderboards(Filter{Scope: models.ScopeFriends}))

	_, err := e.GetLeaderboard("nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUpdateUserStatsPatchesAndRanks(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()
	boardID := BoardID(models.CategoryBoxesOpened, models.TimeframeAllTime, "")

	alice, bob := user("alice"), user("bob")
	require.NoError(t, e.UpdateUserStats(ctx, alice, StatsPatch{BoxesOpened: intPtr(30)}))
	require.NoError(t, e.UpdateUserStats(ctx, bob, StatsPatch{BoxesOpened: intPtr(20), RareItems: intPtr(2)}))

	// A patch only touches the fields it sets.
	require.NoError(t, e.UpdateUserStats(ctx, bob, StatsPatch{StreakDays: intPtr(10)}))

	entry, err := e.GetUserPosition(boardID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, entry.Position)
	assert.EqualValues(t, 400, entry.Score)
	assert.Equal(t, 2, entry.Stats.RareItems)
	assert.Equal(t, models.TrendUp, entry.Trend)
	assert.Equal(t, "🥇", entry.Badge)

	entry, err = e.GetUserPosition(boardID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, entry.Position)

	_, err = e.GetUserPosition(BoardID(models.CategorySocialActivity, models.TimeframeAllTime, ""), alice.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound, "zero scores are not ranked")

	assert.ErrorIs(t, e.UpdateUserStats(ctx, models.SocialUser{}, StatsPatch{}), apperr.ErrValidation)
}

func TestApplyStatsDeltaAccumulatesAndTracksStreak(t *testing.T) {
	e, clock := newTestEngine(t, nil)
	ctx := context.Background()
	u := user("carol")
	delta := StatsDelta{BoxesOpened: 1, TotalValue: 80, RareItems: 1, Themes: map[string]int{"anime": 1}}

	require.NoError(t, e.ApplyStatsDelta(ctx, u, delta))
	require.NoError(t, e.ApplyStatsDelta(ctx, u, delta))
	clock.now = clock.now.Add(24 * time.Hour)
	require.NoError(t, e.ApplyStatsDelta(ctx, u, delta))

	entry, err := e.GetUserPosition(BoardID(models.CategoryBoxesOpened, models.TimeframeDaily, ""), u.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, entry.Stats.BoxesOpened)
	assert.Equal(t, 2, entry.Stats.StreakDays)
	assert.EqualValues(t, 36, entry.Score)

	theme, err := e.GetUserPosition(BoardID(models.CategoryThemeMaster, models.TimeframeWeekly, "anime"), u.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 75, theme.Score)

	clock.now = clock.now.Add(72 * time.Hour)
	require.NoError(t, e.ApplyStatsDelta(ctx, u, StatsDelta{Social: models.SocialCounters{Reactions: 1}}))
	entry, err = e.GetUserPosition(BoardID(models.CategoryBoxesOpened, models.TimeframeAllTime, ""), u.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, entry.Stats.StreakDays, "missed days restart the streak")
}

func TestRankingChangeEvents(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()
	boardID := BoardID(models.CategoryRareItems, models.TimeframeAllTime, "")

	var changes []RankingChange
	e.Subscribe(Listener{OnRankingChange: func(c RankingChange) {
		if c.BoardID == boardID {
			changes = append(changes, c)
		}
	}})

	leader, chaser := user("leader"), user("chaser")
	require.NoError(t, e.UpdateUserStats(ctx, leader, StatsPatch{RareItems: intPtr(5)}))
	require.NoError(t, e.UpdateUserStats(ctx, chaser, StatsPatch{RareItems: intPtr(3)}))
	require.NoError(t, e.UpdateUserStats(ctx, chaser, StatsPatch{RareItems: intPtr(3)}))
	require.NoError(t, e.UpdateUserStats(ctx, chaser, StatsPatch{RareItems: intPtr(8)}))

	require.Len(t, changes, 3)
	assert.Equal(t, RankingChange{BoardID: boardID, UserID: leader.ID, Previous: 0, Current: 1}, changes[0])
	assert.Equal(t, RankingChange{BoardID: boardID, UserID: chaser.ID, Previous: 0, Current: 2}, changes[1])
	assert.Equal(t, RankingChange{BoardID: boardID, UserID: chaser.ID, Previous: 2, Current: 1}, changes[2])

	board, err := e.GetLeaderboard(boardID)
	require.NoError(t, err)
	assert.Equal(t, models.TrendDown, board.Entries[1].Trend)
}

func TestSeasonRollover(t *testing.T) {
	e, clock := newTestEngine(t, nil)
	ctx := context.Background()

	var ended []SeasonEnd
	e.Subscribe(Listener{OnSeasonEnd: func(s SeasonEnd) { ended = append(ended, s) }})

	for i, n := range []int{40, 30, 20, 10} {
		require.NoError(t, e.UpdateUserStats(ctx, user(string(rune('a'+i))), StatsPatch{BoxesOpened: intPtr(n)}))
	}
	weeklyID := BoardID(models.CategoryBoxesOpened, models.TimeframeWeekly, "")

	clock.now = clock.now.Add(3 * 24 * time.Hour)
	e.CheckSeasons(ctx)
	var weeklyEnded bool
	for _, s := range ended {
		weeklyEnded = weeklyEnded || s.Board.ID == weeklyID
	}
	assert.False(t, weeklyEnded, "weekly window has not elapsed")

	clock.now = clock.now.Add(5 * 24 * time.Hour)
	ended = nil
	e.CheckSeasons(ctx)

	var weekly *SeasonEnd
	for i := range ended {
		switch ended[i].Board.Timeframe {
		case models.TimeframeAllTime:
			t.Fatalf("all-time board %s rolled over", ended[i].Board.ID)
		case models.TimeframeMonthly:
			t.Fatalf("monthly board %s rolled over early", ended[i].Board.ID)
		}
		if ended[i].Board.ID == weeklyID {
			weekly = &ended[i]
		}
	}
	require.NotNil(t, weekly)
	require.Len(t, weekly.Winners, 3)
	assert.EqualValues(t, 400, weekly.Winners[0].Score)
	assert.Len(t, weekly.Board.Entries, 4)

	board, err := e.GetLeaderboard(weeklyID)
	require.NoError(t, err)
	assert.Empty(t, board.Entries)
	assert.Equal(t, 2, board.Season)

	allTime, err := e.GetLeaderboard(BoardID(models.CategoryBoxesOpened, models.TimeframeAllTime, ""))
	require.NoError(t, err)
	assert.Len(t, allTime.Entries, 4)
	assert.Equal(t, 1, allTime.Season)
}

func TestStandingsSurviveReload(t *testing.T) {
	kv := store.NewMemoryStore()
	e, _ := newTestEngine(t, kv)
	ctx := context.Background()
	u := user("dora")
	require.NoError(t, e.ApplyStatsDelta(ctx, u, StatsDelta{BoxesOpened: 4, TotalValue: 200}))

	restored, _ := newTestEngine(t, kv)
	entry, err := restored.GetUserPosition(BoardID(models.CategoryTotalValue, models.TimeframeMonthly, ""), u.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, entry.Position)

	// The ledger was restored too, so deltas keep accumulating.
	require.NoError(t, restored.ApplyStatsDelta(ctx, u, StatsDelta{BoxesOpened: 1}))
	entry, err = restored.GetUserPosition(BoardID(models.CategoryBoxesOpened, models.TimeframeAllTime, ""), u.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, entry.Stats.BoxesOpened)
}

func TestCorruptRecordsStartEmpty(t *testing.T) {
	kv := store.NewMemoryStore()
	require.NoError(t, kv.Set(context.Background(), store.KeyLeaderboards, []byte("garbage")))
	require.NoError(t, kv.Set(context.Background(), store.KeyUserStats, []byte("{")))
	e, _ := newTestEngine(t, kv)
	for _, b := range e.GetLeaderboards(Filter{}) {
		assert.Empty(t, b.Entries)
	}
}

func TestStartStopWithScheduler(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	sched := scheduler.New(logger)
	e := New(Options{Scheduler: sched, Log: logger})

	require.NoError(t, e.Start())
	require.NoError(t, e.Start())
	first := e.checkID
	assert.NotZero(t, first)
	e.Stop()
	assert.Zero(t, e.checkID)
	e.Stop()
}
