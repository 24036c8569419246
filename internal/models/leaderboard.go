// internal/models/leaderboard.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// LeaderboardCategory selects the scoring formula.
type LeaderboardCategory string

const (
	CategoryBoxesOpened    LeaderboardCategory = "boxes_opened"
	CategoryTotalValue     LeaderboardCategory = "total_value"
	CategoryRareItems      LeaderboardCategory = "rare_items"
	CategorySocialActivity LeaderboardCategory = "social_activity"
	CategoryThemeMaster    LeaderboardCategory = "theme_master"
)

// Timeframe is the season length of a board.
type Timeframe string

const (
	TimeframeDaily   Timeframe = "daily"
	TimeframeWeekly  Timeframe = "weekly"
	TimeframeMonthly Timeframe = "monthly"
	TimeframeAllTime Timeframe = "all_time"
)

// Window returns the season length; zero means the board never rolls over.
func (t Timeframe) Window() time.Duration {
	switch t {
	case TimeframeDaily:
		return 24 * time.Hour
	case TimeframeWeekly:
		return 7 * 24 * time.Hour
	case TimeframeMonthly:
		return 30 * 24 * time.Hour
	}
	return 0
}

// LeaderboardScope is who a board ranks.
type LeaderboardScope string

const (
	ScopeGlobal  LeaderboardScope = "global"
	ScopeFriends LeaderboardScope = "friends"
)

// Trend compares an entry's position with its previous one.
type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
	TrendNew    Trend = "new"
)

// EntryStats are auxiliary numbers shown next to a score.
type EntryStats struct {
	BoxesOpened int     `json:"boxesOpened"`
	TotalValue  float64 `json:"totalValue"`
	RareItems   int     `json:"rareItems"`
	StreakDays  int     `json:"streakDays"`
}

// LeaderboardEntry is one ranked row. Position is 1-based and contiguous.
type LeaderboardEntry struct {
	Position         int        `json:"position"`
	PreviousPosition int        `json:"previousPosition,omitempty"` // 0 when the user was not ranked before.
	User             SocialUser `json:"user"`
	Score            int64      `json:"score"`
	Stats            EntryStats `json:"stats"`
	Badge            string     `json:"badge,omitempty"`
	Trend            Trend      `json:"trend"`
}

// Leaderboard is an ordered ranking keyed by (category, timeframe, theme).
// Entries are sorted by score descending and Entries[i].Position == i+1.
type Leaderboard struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"`
	Scope     LeaderboardScope    `json:"scope"`
	Category  LeaderboardCategory `json:"category"`
	Theme     string              `json:"theme,omitempty"`
	Timeframe Timeframe           `json:"timeframe"`
	Entries   []LeaderboardEntry  `json:"entries"`
	UpdatedAt time.Time           `json:"updatedAt"`
	Season    int                 `json:"season"`
}

// Clone returns a deep copy of the board.
func (l *Leaderboard) Clone() *Leaderboard {
	if l == nil {
		return nil
	}
	c := *l
	c.Entries = append([]LeaderboardEntry(nil), l.Entries...)
	return &c
}

// EntryFor returns the entry for userID, or nil.
func (l *Leaderboard) EntryFor(userID uuid.UUID) *LeaderboardEntry {
	for i := range l.Entries {
		if l.Entries[i].User.ID == userID {
			return &l.Entries[i]
		}
	}
	return nil
}

// SocialCounters are the social-activity inputs of the score.
type SocialCounters struct {
	Invites     int `json:"invites"`
	Reactions   int `json:"reactions"`
	RoomsHosted int `json:"roomsHosted"`
	BetsWon     int `json:"betsWon"`
}

// UserStats is the private per-user ledger that scores are computed from.
type UserStats struct {
	User            SocialUser     `json:"user"`
	BoxesOpened     int            `json:"boxesOpened"`
	TotalValue      float64        `json:"totalValue"`
	RareItems       int            `json:"rareItems"`
	Social          SocialCounters `json:"social"`
	ThemePreference map[string]int `json:"themePreference"`
	StreakDays      int            `json:"streakDays"`
	LastActive      time.Time      `json:"lastActive"`
}
