// internal/models/bet.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BetType is the kind of outcome a bet predicts.
type BetType string

const (
	BetValueGuess      BetType = "value_guess"
	BetRarityGuess     BetType = "rarity_guess"
	BetThemePreference BetType = "theme_preference"
	BetFirstToComplete BetType = "first_to_complete"
)

// Currency selects one of the three disjoint wallets.
type Currency string

const (
	CurrencyCoins  Currency = "coins"
	CurrencyPoints Currency = "points"
	CurrencyReal   Currency = "real" // Minor units (cents).
)

// Valid reports whether c names a known wallet.
func (c Currency) Valid() bool {
	return c == CurrencyCoins || c == CurrencyPoints || c == CurrencyReal
}

// BetStatus is the lifecycle state of a Bet: open → locked → completed, or open → cancelled.
type BetStatus string

const (
	BetOpen      BetStatus = "open"
	BetLocked    BetStatus = "locked" // Reserved; no operation transitions into it yet.
	BetCompleted BetStatus = "completed"
	BetCancelled BetStatus = "cancelled"
)

// OptionMatch describes which box outcome makes an option win.
// Only the fields relevant to the bet type are set.
type OptionMatch struct {
	MinValue *float64  `json:"minValue,omitempty"` // Inclusive.
	MaxValue *float64  `json:"maxValue,omitempty"` // Exclusive.
	Rarity   Rarity    `json:"rarity,omitempty"`
	Theme    string    `json:"theme,omitempty"`
	UserID   uuid.UUID `json:"userId,omitempty"`
}

// BetOption is one selectable outcome.
type BetOption struct {
	ID               string          `json:"id"`
	Label            string          `json:"label"`
	Odds             decimal.Decimal `json:"odds"`
	ParticipantCount int             `json:"participantCount"`
	Match            *OptionMatch    `json:"match,omitempty"`
}

// BetParticipant records one user's stake.
type BetParticipant struct {
	UserID   uuid.UUID `json:"userId"`
	OptionID string    `json:"optionId"`
	Amount   int64     `json:"amount"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Payout is the amount credited to a single winner.
type Payout struct {
	UserID uuid.UUID `json:"userId"`
	Stake  int64     `json:"stake"`
	Amount int64     `json:"amount"`
}

// BetResult is the immutable outcome of a resolved bet.
type BetResult struct {
	WinningOptionID string    `json:"winningOptionId"`
	TotalPool       int64     `json:"totalPool"`
	WinnersTotalBet int64     `json:"winnersTotalBet"`
	Payouts         []Payout  `json:"payouts"`
	Remainder       int64     `json:"remainder"`
	Refunded        bool      `json:"refunded,omitempty"` // No stake on the winning option; everyone got their stake back.
	ResolvedAt      time.Time `json:"resolvedAt"`
}

// PayoutFor returns the payout credited to userID, or 0.
func (r *BetResult) PayoutFor(userID uuid.UUID) int64 {
	if r == nil {
		return 0
	}
	for _, p := range r.Payouts {
		if p.UserID == userID {
			return p.Amount
		}
	}
	return 0
}

// Bet is a side stake among room participants.
type Bet struct {
	ID           uuid.UUID        `json:"id"`
	RoomID       uuid.UUID        `json:"roomId"`
	CreatorID    uuid.UUID        `json:"creatorId"`
	Type         BetType          `json:"type"`
	Title        string           `json:"title"`
	Options      []BetOption      `json:"options"`
	StakeAmount  int64            `json:"stakeAmount"`
	Currency     Currency         `json:"currency"`
	Status       BetStatus        `json:"status"`
	Participants []BetParticipant `json:"participants"`
	Deadline     time.Time        `json:"deadline"`
	CreatedAt    time.Time        `json:"createdAt"`
	Result       *BetResult       `json:"result,omitempty"`
	CancelReason string           `json:"cancelReason,omitempty"`
}

// Option returns the option with the given id, or nil.
func (b *Bet) Option(optionID string) *BetOption {
	for i := range b.Options {
		if b.Options[i].ID == optionID {
			return &b.Options[i]
		}
	}
	return nil
}

// Participation returns userID's stake on the bet, or nil.
func (b *Bet) Participation(userID uuid.UUID) *BetParticipant {
	for i := range b.Participants {
		if b.Participants[i].UserID == userID {
			return &b.Participants[i]
		}
	}
	return nil
}

// TotalPool is the sum of all stakes.
func (b *Bet) TotalPool() int64 {
	var total int64
	for _, p := range b.Participants {
		total += p.Amount
	}
	return total
}

// Clone returns a deep copy of the bet.
func (b *Bet) Clone() *Bet {
	if b == nil {
		return nil
	}
	c := *b
	c.Options = make([]BetOption, len(b.Options))
	for i, o := range b.Options {
		if o.Match != nil {
			m := *o.Match
			o.Match = &m
		}
		c.Options[i] = o
	}
	c.Participants = append([]BetParticipant(nil), b.Participants...)
	if b.Result != nil {
		r := *b.Result
		r.Payouts = append([]Payout(nil), b.Result.Payouts...)
		c.Result = &r
	}
	return &c
}

// UserBalance holds the three independent wallets of the local user. No wallet is ever negative.
type UserBalance struct {
	Coins  int64 `json:"coins"`
	Points int64 `json:"points"`
	Real   int64 `json:"real"`
}

// DefaultUserBalance is the balance used when nothing valid is persisted.
func DefaultUserBalance() UserBalance {
	return UserBalance{Coins: 1000, Points: 500, Real: 0}
}

// Get returns the wallet for c.
func (b UserBalance) Get(c Currency) int64 {
	switch c {
	case CurrencyCoins:
		return b.Coins
	case CurrencyPoints:
		return b.Points
	case CurrencyReal:
		return b.Real
	}
	return 0
}

// Add returns a copy with delta applied to the wallet for c.
func (b UserBalance) Add(c Currency, delta int64) UserBalance {
	switch c {
	case CurrencyCoins:
		b.Coins += delta
	case CurrencyPoints:
		b.Points += delta
	case CurrencyReal:
		b.Real += delta
	}
	return b
}

// Valid reports whether every wallet is non-negative.
func (b UserBalance) Valid() bool {
	return b.Coins >= 0 && b.Points >= 0 && b.Real >= 0
}

// BettingStats summarises the local user's history.
type BettingStats struct {
	TotalBets     int     `json:"totalBets"`
	Wins          int     `json:"wins"`
	Losses        int     `json:"losses"`
	WinRate       float64 `json:"winRate"` // 0..1 over decided bets.
	TotalStaked   int64   `json:"totalStaked"`
	TotalWon      int64   `json:"totalWon"`
	NetProfit     int64   `json:"netProfit"`
	FavoriteType  BetType `json:"favoriteType,omitempty"`
	CancelledBets int     `json:"cancelledBets"`
}
