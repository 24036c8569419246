// internal/leaderboard/engine.go
package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/mysterybox/internal/models"
	"github.com/jason-s-yu/mysterybox/internal/scheduler"
	"github.com/jason-s-yu/mysterybox/internal/store"
	"github.com/jason-s-yu/mysterybox/internal/telemetry"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// MaxEntries is the default board size.
const MaxEntries = 100

// WinnerCount is how many entries are recorded when a season ends.
const WinnerCount = 3

var (
	rankedCategories = []models.LeaderboardCategory{
		models.CategoryBoxesOpened,
		models.CategoryTotalValue,
		models.CategoryRareItems,
		models.CategorySocialActivity,
	}
	timeframes = []models.Timeframe{
		models.TimeframeDaily,
		models.TimeframeWeekly,
		models.TimeframeMonthly,
		models.TimeframeAllTime,
	}
)

// RankingChange reports a user moving on a board. Zero means unranked.
type RankingChange struct {
	BoardID  string
	UserID   uuid.UUID
	Previous int
	Current  int
}

// SeasonEnd reports a board rolling over. Board holds the final standings.
type SeasonEnd struct {
	Board   *models.Leaderboard
	Winners []models.LeaderboardEntry
}

// Listener receives engine events. Nil fields are skipped.
type Listener struct {
	OnRankingChange func(RankingChange)
	OnSeasonEnd     func(SeasonEnd)
}

// Filter selects boards. Empty fields match everything; set fields are ANDed.
type Filter struct {
	Category  models.LeaderboardCategory
	Timeframe models.Timeframe
	Theme     string
	Scope     models.LeaderboardScope
}

func (f Filter) match(b *models.Leaderboard) bool {
	return (f.Category == "" || f.Category == b.Category) &&
		(f.Timeframe == "" || f.Timeframe == b.Timeframe) &&
		(f.Theme == "" || strings.EqualFold(f.Theme, b.Theme)) &&
		(f.Scope == "" || f.Scope == b.Scope)
}

// Options configures an Engine.
type Options struct {
	Themes        []string // One theme_master board per theme and timeframe.
	MaxEntries    int
	Store         store.Store
	Analytics     telemetry.Analytics
	Scheduler     *scheduler.Scheduler
	CheckInterval time.Duration // Season check period. Default 1h.
	Log           logrus.FieldLogger
	Now           func() time.Time
}

// Engine turns the private per-user ledger into ordered boards.
type Engine struct {
	opts Options
	log  logrus.FieldLogger

	mu        sync.Mutex
	boards    map[string]*models.Leaderboard
	order     []string
	stats     map[uuid.UUID]*models.UserStats
	listeners map[int]Listener
	nextID    int
	checkID   cron.EntryID
}

// BoardID is the id of the board for (category, timeframe, theme).
func BoardID(category models.LeaderboardCategory, timeframe models.Timeframe, theme string) string {
	if category == models.CategoryThemeMaster {
		return fmt.Sprintf("%s:%s:%s", category, strings.ToLower(theme), timeframe)
	}
	return fmt.Sprintf("%s:%s", category, timeframe)
}

func boardName(category models.LeaderboardCategory, timeframe models.Timeframe, theme string) string {
	title := func(s string) string {
		words := strings.Split(s, "_")
		for i, w := range words {
			if w != "" {
				words[i] = strings.ToUpper(w[:1]) + w[1:]
			}
		}
		return strings.Join(words, " ")
	}
	if category == models.CategoryThemeMaster {
		return fmt.Sprintf("%s %s Master", title(string(timeframe)), title(theme))
	}
	return fmt.Sprintf("%s %s", title(string(timeframe)), title(string(category)))
}

// New builds the empty set of boards. Call Load to restore persisted standings.
func New(opts Options) *Engine {
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if opts.Store == nil {
		opts.Store = store.NewMemoryStore()
	}
	if opts.Analytics == nil {
		opts.Analytics = telemetry.LogAnalytics{Log: opts.Log}
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = MaxEntries
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	e := &Engine{
		opts:      opts,
		log:       opts.Log,
		boards:    make(map[string]*models.Leaderboard),
		stats:     make(map[uuid.UUID]*models.UserStats),
		listeners: make(map[int]Listener),
	}
	now := opts.Now()
	for _, tf := range timeframes {
		for _, cat := range rankedCategories {
			e.addBoard(cat, tf, "", now)
		}
		for _, theme := range opts.Themes {
			e.addBoard(models.CategoryThemeMaster, tf, theme, now)
		}
	}
	return e
}

func (e *Engine) addBoard(cat models.LeaderboardCategory, tf models.Timeframe, theme string, now time.Time) {
	id := BoardID(cat, tf, theme)
	if _, ok := e.boards[id]; ok {
		return
	}
	e.boards[id] = &models.Leaderboard{
		ID:        id,
		Name:      boardName(cat, tf, theme),
		Scope:     models.ScopeGlobal,
		Category:  cat,
		Theme:     theme,
		Timeframe: tf,
		UpdatedAt: now,
		Season:    1,
	}
	e.order = append(e.order, id)
}

// Load restores boards and the stats ledger. Unreadable records are logged and ignored.
// Persisted boards that are no longer configured are dropped.
func (e *Engine) Load(ctx context.Context) {
	var boards map[string]*models.Leaderboard
	if err := store.LoadJSON(ctx, e.opts.Store, store.KeyLeaderboards, &boards); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			e.log.WithError(err).Warn("leaderboard: boards unreadable, starting empty")
		}
		boards = nil
	}
	var stats map[uuid.UUID]*models.UserStats
	if err := store.LoadJSON(ctx, e.opts.Store, store.KeyUserStats, &stats); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			e.log.WithError(err).Warn("leaderboard: stats unreadable, starting empty")
		}
		stats = nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for id, b := range boards {
		if _, ok := e.boards[id]; !ok || b == nil {
			continue
		}
		if len(b.Entries) > e.opts.MaxEntries {
			b.Entries = b.Entries[:e.opts.MaxEntries]
		}
		e.boards[id] = b
	}
	for id, s := range stats {
		if s != nil {
			e.stats[id] = s
		}
	}
}

// Start schedules the periodic season check. No-op without a scheduler.
func (e *Engine) Start() error {
	if e.opts.Scheduler == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.checkID != 0 {
		return nil
	}
	id, err := e.opts.Scheduler.Every("season-check", e.opts.CheckInterval, func() {
		e.CheckSeasons(context.Background())
	})
	if err != nil {
		return err
	}
	e.checkID = id
	return nil
}

// Stop removes the season check.
func (e *Engine) Stop() {
	e.mu.Lock()
	id := e.checkID
	e.checkID = 0
	e.mu.Unlock()
	if id != 0 && e.opts.Scheduler != nil {
		e.opts.Scheduler.Remove(id)
	}
}

// Subscribe registers l and returns a func that removes it.
func (e *Engine) Subscribe(l Listener) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = l
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}
