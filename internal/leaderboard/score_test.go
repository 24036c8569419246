package leaderboard

import (
	"testing"

	"github.com/jason-s-yu/mysterybox/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestCalculateScore(t *testing.T) {
	tests := []struct {
		name     string
		category models.LeaderboardCategory
		theme    string
		stats    models.UserStats
		want     int64
	}{
		{"boxes without streak", models.CategoryBoxesOpened, "", models.UserStats{BoxesOpened: 10}, 100},
		{"boxes with streak", models.CategoryBoxesOpened, "", models.UserStats{BoxesOpened: 10, StreakDays: 5}, 150},
		{"boxes streak capped", models.CategoryBoxesOpened, "", models.UserStats{BoxesOpened: 10, StreakDays: 30}, 300},
		{"value with full efficiency", models.CategoryTotalValue, "", models.UserStats{BoxesOpened: 2, TotalValue: 1000}, 150},
		{"value floors", models.CategoryTotalValue, "", models.UserStats{BoxesOpened: 10, TotalValue: 100}, 10},
		{"value without boxes", models.CategoryTotalValue, "", models.UserStats{TotalValue: 50}, 5},
		{"rare below collector", models.CategoryRareItems, "", models.UserStats{RareItems: 9}, 450},
		{"rare collector bonus", models.CategoryRareItems, "", models.UserStats{RareItems: 10}, 600},
		{"social weighted", models.CategorySocialActivity, "", models.UserStats{
			Social: models.SocialCounters{Invites: 1, Reactions: 5, RoomsHosted: 2, BetsWon: 1}, StreakDays: 3,
		}, 208},
		{"social engagement capped", models.CategorySocialActivity, "", models.UserStats{
			Social: models.SocialCounters{Invites: 1, Reactions: 5, RoomsHosted: 2, BetsWon: 1}, StreakDays: 20,
		}, 320},
		{"theme below master", models.CategoryThemeMaster, "anime", models.UserStats{ThemePreference: map[string]int{"anime": 49}}, 1225},
		{"theme master bonus", models.CategoryThemeMaster, "anime", models.UserStats{ThemePreference: map[string]int{"anime": 50}}, 1750},
		{"other theme ignored", models.CategoryThemeMaster, "sneakers", models.UserStats{ThemePreference: map[string]int{"anime": 50}}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats := tt.stats
			assert.Equal(t, tt.want, CalculateScore(tt.category, tt.theme, &stats))
		})
	}
	assert.Zero(t, CalculateScore(models.CategoryBoxesOpened, "", nil))
}
