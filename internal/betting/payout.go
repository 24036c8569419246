// internal/betting/payout.go
package betting

import (
	"fmt"
	"time"

	"github.com/jason-s-yu/mysterybox/internal/models"
	"github.com/shopspring/decimal"
)

// RemainderPolicy decides who keeps the units left over by floor rounding.
type RemainderPolicy string

const (
	RemainderHouse        RemainderPolicy = "house"
	RemainderLargestStake RemainderPolicy = "largest_stake"
)

// ParseRemainderPolicy maps a config string to a policy. Empty means house.
func ParseRemainderPolicy(s string) (RemainderPolicy, error) {
	switch RemainderPolicy(s) {
	case "", RemainderHouse:
		return RemainderHouse, nil
	case RemainderLargestStake:
		return RemainderLargestStake, nil
	}
	return "", fmt.Errorf("betting: unknown remainder policy %q", s)
}

// settle computes the pari-mutuel result of b with winningOptionID winning.
// Each winner receives floor(stake * pool / winnersTotal). When nobody staked on the
// winning option every participant is refunded.
func settle(b *models.Bet, winningOptionID string, policy RemainderPolicy, now time.Time) *models.BetResult {
	res := &models.BetResult{
		WinningOptionID: winningOptionID,
		TotalPool:       b.TotalPool(),
		ResolvedAt:      now,
	}
	for _, p := range b.Participants {
		if p.OptionID == winningOptionID {
			res.WinnersTotalBet += p.Amount
		}
	}

	if res.WinnersTotalBet == 0 {
		res.Refunded = len(b.Participants) > 0
		for _, p := range b.Participants {
			res.Payouts = append(res.Payouts, models.Payout{UserID: p.UserID, Stake: p.Amount, Amount: p.Amount})
		}
		return res
	}

	var paid int64
	largest := -1
	for _, p := range b.Participants {
		if p.OptionID != winningOptionID {
			continue
		}
		amount := p.Amount * res.TotalPool / res.WinnersTotalBet
		res.Payouts = append(res.Payouts, models.Payout{UserID: p.UserID, Stake: p.Amount, Amount: amount})
		paid += amount
		if largest < 0 || p.Amount > res.Payouts[largest].Stake {
			largest = len(res.Payouts) - 1
		}
	}
	res.Remainder = res.TotalPool - paid

	if policy == RemainderLargestStake && res.Remainder > 0 && largest >= 0 {
		res.Payouts[largest].Amount += res.Remainder
		res.Remainder = 0
	}
	return res
}

var hundred = decimal.NewFromInt(100)

// refreshOdds recomputes the implied odds of every staked option as pool / optionStake,
// rounded to two places. Options without stakes keep their seed odds.
func refreshOdds(b *models.Bet) {
	pool := decimal.NewFromInt(b.TotalPool())
	staked := make(map[string]int64, len(b.Options))
	counts := make(map[string]int, len(b.Options))
	for _, p := range b.Participants {
		staked[p.OptionID] += p.Amount
		counts[p.OptionID]++
	}
	for i := range b.Options {
		o := &b.Options[i]
		o.ParticipantCount = counts[o.ID]
		if s := staked[o.ID]; s > 0 {
			o.Odds = pool.Div(decimal.NewFromInt(s)).Round(2)
		}
	}
}

// impliedProbability is 1/odds as a percentage, used for analytics labels.
func impliedProbability(o models.BetOption) float64 {
	if o.Odds.IsZero() {
		return 0
	}
	return hundred.Div(o.Odds).Round(1).InexactFloat64()
}
