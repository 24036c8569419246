// internal/betting/stats.go
package betting

import (
	"github.com/jason-s-yu/mysterybox/internal/models"
)

// GetUserBettingStats derives the local user's record from the settled history.
// Refunded and cancelled bets count as neither a win nor a loss.
func (e *Engine) GetUserBettingStats() models.BettingStats {
	me := e.userID()
	history := e.GetBetHistory()

	var stats models.BettingStats
	typeCounts := make(map[models.BetType]int)
	for _, b := range history {
		p := b.Participation(me)
		if p == nil {
			continue
		}
		stats.TotalBets++
		typeCounts[b.Type]++

		if b.Status == models.BetCancelled {
			stats.CancelledBets++
			continue
		}
		if b.Result == nil || b.Result.Refunded {
			continue
		}
		stats.TotalStaked += p.Amount
		if p.OptionID == b.Result.WinningOptionID {
			stats.Wins++
			stats.TotalWon += b.Result.PayoutFor(me)
		} else {
			stats.Losses++
		}
	}

	if decided := stats.Wins + stats.Losses; decided > 0 {
		stats.WinRate = float64(stats.Wins) / float64(decided)
	}
	stats.NetProfit = stats.TotalWon - stats.TotalStaked

	best := 0
	for _, t := range []models.BetType{models.BetValueGuess, models.BetRarityGuess, models.BetThemePreference, models.BetFirstToComplete} {
		if typeCounts[t] > best {
			best = typeCounts[t]
			stats.FavoriteType = t
		}
	}
	return stats
}
