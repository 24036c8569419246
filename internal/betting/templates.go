// internal/betting/templates.go
package betting

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jason-s-yu/mysterybox/internal/apperr"
	"github.com/jason-s-yu/mysterybox/internal/models"
	"github.com/shopspring/decimal"
)

func valueRange(lo, hi float64) *models.OptionMatch {
	m := &models.OptionMatch{MinValue: &lo}
	if hi > 0 {
		m.MaxValue = &hi
	}
	return m
}

// defaultOptions builds the template options for a bet type. Seed odds are shown until
// the first stake arrives, after which odds are implied by the pool.
func defaultOptions(cfg BetConfig) ([]models.BetOption, error) {
	switch cfg.Type {
	case models.BetValueGuess:
		return []models.BetOption{
			{ID: "under-50", Label: "Under R$50", Odds: decimal.NewFromFloat(2.0), Match: valueRange(0, 50)},
			{ID: "50-100", Label: "R$50–R$100", Odds: decimal.NewFromFloat(2.5), Match: valueRange(50, 100)},
			{ID: "100-250", Label: "R$100–R$250", Odds: decimal.NewFromFloat(4.0), Match: valueRange(100, 250)},
			{ID: "250-plus", Label: "R$250+", Odds: decimal.NewFromFloat(8.0), Match: valueRange(250, 0)},
		}, nil

	case models.BetRarityGuess:
		return []models.BetOption{
			{ID: "common", Label: "Common", Odds: decimal.NewFromFloat(1.5), Match: &models.OptionMatch{Rarity: models.RarityCommon}},
			{ID: "rare", Label: "Rare", Odds: decimal.NewFromFloat(3.0), Match: &models.OptionMatch{Rarity: models.RarityRare}},
			{ID: "epic", Label: "Epic", Odds: decimal.NewFromFloat(6.0), Match: &models.OptionMatch{Rarity: models.RarityEpic}},
			{ID: "legendary", Label: "Legendary", Odds: decimal.NewFromFloat(15.0), Match: &models.OptionMatch{Rarity: models.RarityLegendary}},
		}, nil

	case models.BetThemePreference:
		if len(cfg.Themes) < 2 {
			return nil, fmt.Errorf("%w: theme bets need at least two themes", apperr.ErrValidation)
		}
		seed := decimal.NewFromInt(int64(len(cfg.Themes)))
		opts := make([]models.BetOption, 0, len(cfg.Themes))
		for _, theme := range cfg.Themes {
			opts = append(opts, models.BetOption{
				ID:    "theme-" + strings.ToLower(strings.ReplaceAll(theme, " ", "-")),
				Label: theme,
				Odds:  seed,
				Match: &models.OptionMatch{Theme: theme},
			})
		}
		return opts, nil

	case models.BetFirstToComplete:
		if len(cfg.Contenders) < 2 {
			return nil, fmt.Errorf("%w: first-to-complete bets need at least two contenders", apperr.ErrValidation)
		}
		seed := decimal.NewFromInt(int64(len(cfg.Contenders)))
		opts := make([]models.BetOption, 0, len(cfg.Contenders))
		for _, c := range cfg.Contenders {
			label := c.DisplayName
			if label == "" {
				label = c.ID.String()[:8]
			}
			opts = append(opts, models.BetOption{
				ID:    c.ID.String(),
				Label: label,
				Odds:  seed,
				Match: &models.OptionMatch{UserID: c.ID},
			})
		}
		return opts, nil
	}
	return nil, fmt.Errorf("%w: unknown bet type %q", apperr.ErrValidation, cfg.Type)
}

func defaultTitle(t models.BetType) string {
	switch t {
	case models.BetValueGuess:
		return "How much will the next box be worth?"
	case models.BetRarityGuess:
		return "What rarity drops next?"
	case models.BetThemePreference:
		return "Which theme wins the room?"
	case models.BetFirstToComplete:
		return "Who opens their box first?"
	}
	return string(t)
}

// matches reports whether a box result satisfies option o of a bet of type t.
func matches(t models.BetType, o models.BetOption, res models.BoxOpenedResult) bool {
	m := o.Match
	if m == nil {
		return false
	}
	switch t {
	case models.BetValueGuess:
		if m.MinValue != nil && res.Value < *m.MinValue {
			return false
		}
		if m.MaxValue != nil && res.Value >= *m.MaxValue {
			return false
		}
		return m.MinValue != nil || m.MaxValue != nil
	case models.BetRarityGuess:
		return m.Rarity != "" && m.Rarity == res.Rarity
	case models.BetThemePreference:
		return m.Theme != "" && strings.EqualFold(m.Theme, res.Theme)
	case models.BetFirstToComplete:
		return m.UserID != uuid.Nil && m.UserID == res.UserID
	}
	return false
}

// winningOption returns the first option of b matched by res.
func winningOption(b *models.Bet, res models.BoxOpenedResult) (string, bool) {
	for _, o := range b.Options {
		if matches(b.Type, o, res) {
			return o.ID, true
		}
	}
	return "", false
}
