// internal/leaderboard/board.go
package leaderboard

import (
	"github.com/google/uuid"
	"github.com/jason-s-yu/mysterybox/internal/models"
)

// Badge returns the badge for a 1-based position.
func Badge(position int) string {
	switch {
	case position == 1:
		return "🥇"
	case position == 2:
		return "🥈"
	case position == 3:
		return "🥉"
	case position >= 4 && position <= 10:
		return "🏆"
	}
	return ""
}

func trend(previous, current int) models.Trend {
	switch {
	case previous == 0:
		return models.TrendNew
	case current < previous:
		return models.TrendUp
	case current > previous:
		return models.TrendDown
	}
	return models.TrendStable
}

// updatePosition places entry on board by ordered insertion: it goes in front of the
// first entry with a lower score, so ties keep the earlier holder ahead. Positions,
// trends and badges are recomputed for every entry and the board is truncated to limit.
// A score of zero removes the user. It returns the user's position before and after,
// 0 meaning unranked.
func updatePosition(board *models.Leaderboard, entry models.LeaderboardEntry, limit int) (before, after int) {
	previous := make(map[uuid.UUID]int, len(board.Entries))
	kept := board.Entries[:0]
	for _, e := range board.Entries {
		previous[e.User.ID] = e.Position
		if e.User.ID == entry.User.ID {
			before = e.Position
			continue
		}
		kept = append(kept, e)
	}
	entries := kept

	if entry.Score > 0 {
		at := len(entries)
		for i, e := range entries {
			if e.Score < entry.Score {
				at = i
				break
			}
		}
		entries = append(entries, models.LeaderboardEntry{})
		copy(entries[at+1:], entries[at:])
		entries[at] = entry
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	for i := range entries {
		e := &entries[i]
		e.Position = i + 1
		e.PreviousPosition = previous[e.User.ID]
		e.Trend = trend(e.PreviousPosition, e.Position)
		e.Badge = Badge(e.Position)
		if e.User.ID == entry.User.ID {
			after = e.Position
		}
	}
	board.Entries = entries
	return before, after
}
