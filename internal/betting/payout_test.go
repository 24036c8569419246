package betting

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/mysterybox/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stake struct {
	option string
	amount int64
}

func betWithStakes(stakes ...stake) *models.Bet {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := &models.Bet{ID: uuid.New(), Options: []models.BetOption{{ID: "a", Label: "A"}, {ID: "b", Label: "B"}}}
	for i, s := range stakes {
		b.Participants = append(b.Participants, models.BetParticipant{
			UserID: uuid.New(), OptionID: s.option, Amount: s.amount, JoinedAt: start.Add(time.Duration(i) * time.Second),
		})
	}
	return b
}

func TestSettleConservesThePool(t *testing.T) {
	tests := []struct {
		name      string
		policy    RemainderPolicy
		stakes    []stake
		payouts   []int64 // Per winner, in join order.
		remainder int64
	}{
		{"house keeps the rounding", RemainderHouse, []stake{{"a", 30}, {"a", 30}, {"a", 30}, {"b", 10}}, []int64{33, 33, 33}, 1},
		{"equal largest stakes favour the earliest", RemainderLargestStake, []stake{{"a", 30}, {"a", 30}, {"a", 30}, {"b", 10}}, []int64{34, 33, 33}, 0},
		{"largest stake takes the rounding", RemainderLargestStake, []stake{{"a", 20}, {"a", 40}, {"b", 40}}, []int64{33, 67}, 0},
		{"house with uneven winners", RemainderHouse, []stake{{"a", 20}, {"a", 40}, {"b", 40}}, []int64{33, 66}, 1},
		{"even split has no remainder", RemainderHouse, []stake{{"a", 25}, {"a", 25}, {"b", 50}}, []int64{50, 50}, 0},
		{"sole winner takes the pool", RemainderLargestStake, []stake{{"b", 10}, {"a", 7}, {"b", 13}}, []int64{30}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := betWithStakes(tt.stakes...)
			res := settle(b, "a", tt.policy, time.Now())

			require.Len(t, res.Payouts, len(tt.payouts))
			var sum int64
			for i, p := range res.Payouts {
				assert.Equal(t, tt.payouts[i], p.Amount, "payout %d", i)
				sum += p.Amount
			}
			assert.Equal(t, b.TotalPool(), res.TotalPool)
			assert.LessOrEqual(t, sum, res.TotalPool)
			assert.Equal(t, tt.remainder, res.Remainder)
			assert.Equal(t, res.TotalPool, sum+res.Remainder)
			if tt.policy == RemainderLargestStake {
				assert.Equal(t, res.TotalPool, sum)
			}
			assert.False(t, res.Refunded)
		})
	}
}

func TestSettleRefundsWhenNobodyBackedTheWinner(t *testing.T) {
	b := betWithStakes(stake{"b", 40}, stake{"b", 60})
	res := settle(b, "a", RemainderLargestStake, time.Now())

	assert.True(t, res.Refunded)
	assert.Zero(t, res.Remainder)
	require.Len(t, res.Payouts, 2)
	for i, p := range res.Payouts {
		assert.Equal(t, b.Participants[i].Amount, p.Amount)
	}
}

func TestParseRemainderPolicy(t *testing.T) {
	p, err := ParseRemainderPolicy("")
	require.NoError(t, err)
	assert.Equal(t, RemainderHouse, p)
	p, err = ParseRemainderPolicy("largest_stake")
	require.NoError(t, err)
	assert.Equal(t, RemainderLargestStake, p)
	_, err = ParseRemainderPolicy("split")
	assert.Error(t, err)
}
