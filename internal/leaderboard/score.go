// internal/leaderboard/score.go
package leaderboard

import (
	"math"

	"github.com/jason-s-yu/mysterybox/internal/models"
)

// Scoring weights.
const (
	pointsPerBox          = 10
	streakBonusPerDay     = 0.1
	maxStreakBonus        = 2.0
	valueWeight           = 0.1
	efficiencyScale       = 1000.0
	maxEfficiencyBonus    = 0.5
	pointsPerRareItem     = 50
	rareCollectorAt       = 10
	rareCollectorBonus    = 100
	pointsPerInvite       = 20
	pointsPerReaction     = 2
	pointsPerRoomHosted   = 50
	pointsPerBetWon       = 30
	maxEngagementFactor   = 2.0
	pointsPerThemeOpening = 25
	themeMasterAt         = 50
	themeMasterBonus      = 500
)

// CalculateScore returns the floored score of stats on a board of the given category.
// theme is only used by theme_master boards.
func CalculateScore(category models.LeaderboardCategory, theme string, stats *models.UserStats) int64 {
	if stats == nil {
		return 0
	}
	var score float64
	switch category {
	case models.CategoryBoxesOpened:
		streak := math.Min(float64(stats.StreakDays)*streakBonusPerDay, maxStreakBonus)
		score = float64(stats.BoxesOpened*pointsPerBox) * (1 + streak)

	case models.CategoryTotalValue:
		efficiency := 1.0
		if stats.BoxesOpened > 0 {
			avg := stats.TotalValue / float64(stats.BoxesOpened)
			efficiency += math.Min(avg/efficiencyScale, maxEfficiencyBonus)
		}
		score = stats.TotalValue * valueWeight * efficiency

	case models.CategoryRareItems:
		score = float64(stats.RareItems * pointsPerRareItem)
		if stats.RareItems >= rareCollectorAt {
			score += rareCollectorBonus
		}

	case models.CategorySocialActivity:
		s := stats.Social
		base := s.Invites*pointsPerInvite + s.Reactions*pointsPerReaction + s.RoomsHosted*pointsPerRoomHosted + s.BetsWon*pointsPerBetWon
		engagement := math.Min(1+float64(stats.StreakDays)*streakBonusPerDay, maxEngagementFactor)
		score = float64(base) * engagement

	case models.CategoryThemeMaster:
		count := stats.ThemePreference[theme]
		score = float64(count * pointsPerThemeOpening)
		if count >= themeMasterAt {
			score += themeMasterBonus
		}
	}
	return int64(math.Floor(score))
}
