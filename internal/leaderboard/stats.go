// internal/leaderboard/stats.go
package leaderboard

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/mysterybox/internal/apperr"
	"github.com/jason-s-yu/mysterybox/internal/models"
	"github.com/jason-s-yu/mysterybox/internal/store"
	"github.com/sirupsen/logrus"
)

// StatsPatch overwrites the fields that are set. ThemePreference entries are merged
// per theme.
type StatsPatch struct {
	BoxesOpened     *int
	TotalValue      *float64
	RareItems       *int
	Social          *models.SocialCounters
	ThemePreference map[string]int
	StreakDays      *int
}

// StatsDelta is added to the ledger.
type StatsDelta struct {
	BoxesOpened int
	TotalValue  float64
	RareItems   int
	Social      models.SocialCounters
	Themes      map[string]int
}

// UpdateUserStats patches user's ledger and re-ranks them on every board.
func (e *Engine) UpdateUserStats(ctx context.Context, user models.SocialUser, patch StatsPatch) error {
	if user.ID == uuid.Nil {
		return fmt.Errorf("%w: stats update without a user", apperr.ErrValidation)
	}
	e.mu.Lock()
	s := e.statsLocked(user)
	if patch.BoxesOpened != nil {
		s.BoxesOpened = *patch.BoxesOpened
	}
	if patch.TotalValue != nil {
		s.TotalValue = *patch.TotalValue
	}
	if patch.RareItems != nil {
		s.RareItems = *patch.RareItems
	}
	if patch.Social != nil {
		s.Social = *patch.Social
	}
	for theme, n := range patch.ThemePreference {
		s.ThemePreference[theme] = n
	}
	if patch.StreakDays != nil {
		s.StreakDays = *patch.StreakDays
	}
	s.LastActive = e.opts.Now()
	e.recomputeLocked(ctx, s)
	return nil
}

// ApplyStatsDelta adds delta to user's ledger, advances their daily streak and re-ranks them.
func (e *Engine) ApplyStatsDelta(ctx context.Context, user models.SocialUser, delta StatsDelta) error {
	if user.ID == uuid.Nil {
		return fmt.Errorf("%w: stats update without a user", apperr.ErrValidation)
	}
	now := e.opts.Now()
	e.mu.Lock()
	s := e.statsLocked(user)
	s.BoxesOpened += delta.BoxesOpened
	s.TotalValue += delta.TotalValue
	s.RareItems += delta.RareItems
	s.Social.Invites += delta.Social.Invites
	s.Social.Reactions += delta.Social.Reactions
	s.Social.RoomsHosted += delta.Social.RoomsHosted
	s.Social.BetsWon += delta.Social.BetsWon
	for theme, n := range delta.Themes {
		s.ThemePreference[theme] += n
	}
	s.StreakDays = nextStreak(s.StreakDays, s.LastActive, now)
	s.LastActive = now
	e.recomputeLocked(ctx, s)
	return nil
}

// nextStreak extends the streak on the first activity of the day after lastActive and
// restarts it after a missed day.
func nextStreak(streak int, lastActive, now time.Time) int {
	if lastActive.IsZero() {
		return 1
	}
	y1, m1, d1 := lastActive.Date()
	y2, m2, d2 := now.Date()
	last := time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC)
	today := time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC)
	switch days := int(today.Sub(last).Hours() / 24); {
	case days <= 0:
		if streak == 0 {
			return 1
		}
		return streak
	case days == 1:
		return streak + 1
	}
	return 1
}

// Assumes lock is held by caller.
func (e *Engine) statsLocked(user models.SocialUser) *models.UserStats {
	s, ok := e.stats[user.ID]
	if !ok {
		s = &models.UserStats{}
		e.stats[user.ID] = s
	}
	s.User = user
	if s.ThemePreference == nil {
		s.ThemePreference = make(map[string]int)
	}
	return s
}

// recomputeLocked re-ranks s on every board, then unlocks, persists and emits.
// Must be called with the lock held; returns with it released.
func (e *Engine) recomputeLocked(ctx context.Context, s *models.UserStats) {
	now := e.opts.Now()
	var changes []RankingChange
	for _, id := range e.order {
		b := e.boards[id]
		entry := models.LeaderboardEntry{
			User:  s.User,
			Score: CalculateScore(b.Category, b.Theme, s),
			Stats: models.EntryStats{
				BoxesOpened: s.BoxesOpened,
				TotalValue:  s.TotalValue,
				RareItems:   s.RareItems,
				StreakDays:  s.StreakDays,
			},
		}
		if entry.Score == 0 && b.EntryFor(s.User.ID) == nil {
			continue
		}
		before, after := updatePosition(b, entry, e.opts.MaxEntries)
		b.UpdatedAt = now
		if before != after {
			changes = append(changes, RankingChange{BoardID: id, UserID: s.User.ID, Previous: before, Current: after})
		}
	}
	boards := e.boardsSnapshotLocked()
	stats := e.statsSnapshotLocked()
	listeners := e.listenersLocked()
	e.mu.Unlock()

	e.persist(ctx, boards, stats)
	for _, c := range changes {
		e.log.WithFields(logrus.Fields{"board": c.BoardID, "user": c.UserID, "from": c.Previous, "to": c.Current}).Debug("leaderboard: ranking changed")
		e.opts.Analytics.TrackEngagement("ranking_change", c.BoardID, float64(c.Current))
		for _, l := range listeners {
			if l.OnRankingChange != nil {
				l.OnRankingChange(c)
			}
		}
	}
}

// CheckSeasons rolls over every board whose window elapsed since it was last updated.
// The top entries are reported as winners, the season counter advances and the entries
// clear. All-time boards never roll over.
func (e *Engine) CheckSeasons(ctx context.Context) []SeasonEnd {
	now := e.opts.Now()
	e.mu.Lock()
	var ended []SeasonEnd
	for _, id := range e.order {
		b := e.boards[id]
		window := b.Timeframe.Window()
		if window == 0 || now.Sub(b.UpdatedAt) < window {
			continue
		}
		final := b.Clone()
		n := WinnerCount
		if len(final.Entries) < n {
			n = len(final.Entries)
		}
		ended = append(ended, SeasonEnd{Board: final, Winners: append([]models.LeaderboardEntry(nil), final.Entries[:n]...)})

		b.Entries = nil
		b.Season++
		b.UpdatedAt = now
	}
	if len(ended) == 0 {
		e.mu.Unlock()
		return nil
	}
	boards := e.boardsSnapshotLocked()
	stats := e.statsSnapshotLocked()
	listeners := e.listenersLocked()
	e.mu.Unlock()

	e.persist(ctx, boards, stats)
	for _, s := range ended {
		e.log.WithFields(logrus.Fields{"board": s.Board.ID, "season": s.Board.Season, "winners": len(s.Winners)}).Info("leaderboard: season ended")
		for _, l := range listeners {
			if l.OnSeasonEnd != nil {
				l.OnSeasonEnd(s)
			}
		}
	}
	return ended
}

// GetUserPosition returns userID's entry on boardID.
func (e *Engine) GetUserPosition(boardID string, userID uuid.UUID) (models.LeaderboardEntry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.boards[boardID]
	if !ok {
		return models.LeaderboardEntry{}, fmt.Errorf("%w: board %q", apperr.ErrNotFound, boardID)
	}
	entry := b.EntryFor(userID)
	if entry == nil {
		return models.LeaderboardEntry{}, fmt.Errorf("%w: user not ranked on %q", apperr.ErrNotFound, boardID)
	}
	return *entry, nil
}

// GetLeaderboard returns a copy of one board.
func (e *Engine) GetLeaderboard(boardID string) (*models.Leaderboard, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.boards[boardID]
	if !ok {
		return nil, fmt.Errorf("%w: board %q", apperr.ErrNotFound, boardID)
	}
	return b.Clone(), nil
}

// GetLeaderboards returns copies of the boards matching f, in creation order.
func (e *Engine) GetLeaderboards(f Filter) []*models.Leaderboard {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*models.Leaderboard
	for _, id := range e.order {
		if b := e.boards[id]; f.match(b) {
			out = append(out, b.Clone())
		}
	}
	return out
}

// Assumes lock is held by caller.
func (e *Engine) boardsSnapshotLocked() map[string]*models.Leaderboard {
	out := make(map[string]*models.Leaderboard, len(e.boards))
	for id, b := range e.boards {
		out[id] = b.Clone()
	}
	return out
}

// Assumes lock is held by caller.
func (e *Engine) statsSnapshotLocked() map[uuid.UUID]*models.UserStats {
	out := make(map[uuid.UUID]*models.UserStats, len(e.stats))
	for id, s := range e.stats {
		c := *s
		c.ThemePreference = make(map[string]int, len(s.ThemePreference))
		for k, v := range s.ThemePreference {
			c.ThemePreference[k] = v
		}
		out[id] = &c
	}
	return out
}

// Assumes lock is held by caller.
func (e *Engine) listenersLocked() []Listener {
	ids := make([]int, 0, len(e.listeners))
	for id := range e.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]Listener, len(ids))
	for i, id := range ids {
		out[i] = e.listeners[id]
	}
	return out
}

func (e *Engine) persist(ctx context.Context, boards map[string]*models.Leaderboard, stats map[uuid.UUID]*models.UserStats) {
	if err := store.SaveJSON(ctx, e.opts.Store, store.KeyLeaderboards, boards); err != nil {
		e.log.WithError(err).Error("leaderboard: failed to persist boards")
	}
	if err := store.SaveJSON(ctx, e.opts.Store, store.KeyUserStats, stats); err != nil {
		e.log.WithError(err).Error("leaderboard: failed to persist stats")
	}
}
