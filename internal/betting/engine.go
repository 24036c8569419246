// internal/betting/engine.go
package betting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/mysterybox/internal/apperr"
	"github.com/jason-s-yu/mysterybox/internal/models"
	"github.com/jason-s-yu/mysterybox/internal/protocol"
	"github.com/jason-s-yu/mysterybox/internal/scheduler"
	"github.com/jason-s-yu/mysterybox/internal/store"
	"github.com/jason-s-yu/mysterybox/internal/telemetry"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Stake limits and defaults.
const (
	MinStake        int64 = 10
	MaxStake        int64 = 10000
	DefaultDeadline       = 5 * time.Minute
	MaxHistory            = 100
	CancelExpired         = "expired"
)

// BetConfig describes a new bet. Options may be left empty to use the type's template.
type BetConfig struct {
	RoomID      uuid.UUID
	Type        models.BetType
	Title       string
	Options     []models.BetOption
	StakeAmount int64
	Currency    models.Currency
	Deadline    time.Duration // Zero means DefaultDeadline.

	// CreatorOptionID, when set, stakes StakeAmount for the creator on that option.
	CreatorOptionID string

	Themes     []string            // theme_preference template.
	Contenders []models.SocialUser // first_to_complete template.
}

// Event is a bet transition. Remote events were mirrored from another client and must
// not be relayed again.
type Event struct {
	Type   string // One of the protocol.EventBet* names.
	Bet    *models.Bet
	Remote bool
}

// Listener receives engine events. Nil fields are skipped.
type Listener struct {
	OnBetEvent      func(ev Event)
	OnBalanceChange func(balance models.UserBalance)
}

// Options configures an Engine.
type Options struct {
	User            telemetry.UserProvider
	Store           store.Store
	Analytics       telemetry.Analytics
	Haptics         telemetry.Haptics
	Scheduler       *scheduler.Scheduler
	CleanupInterval time.Duration // Default 1m.
	RemainderPolicy RemainderPolicy
	Log             logrus.FieldLogger
	Now             func() time.Time
}

// Engine is the local user's betting state: active bets of joined rooms, the wallet and
// the settled history. Wallet mutations happen only here and only for the local user.
type Engine struct {
	opts Options
	log  logrus.FieldLogger

	mu        sync.Mutex
	saveMu    sync.Mutex // Serialises writes; acquired before mu, never while holding it.
	active    map[uuid.UUID]*models.Bet
	history   []*models.Bet // Newest first.
	balance   models.UserBalance
	listeners map[int]Listener
	nextID    int
	cleanupID cron.EntryID
}

// New returns an engine with the default balance. Call Load to restore persisted state.
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
	if opts.Haptics == nil {
		opts.Haptics = telemetry.NoopHaptics{}
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = time.Minute
	}
	if opts.RemainderPolicy == "" {
		opts.RemainderPolicy = RemainderHouse
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		opts:      opts,
		log:       opts.Log,
		active:    make(map[uuid.UUID]*models.Bet),
		balance:   models.DefaultUserBalance(),
		listeners: make(map[int]Listener),
	}
}

// Load restores the wallet and history. Missing or corrupt records fall back to defaults
// and are logged, never returned.
func (e *Engine) Load(ctx context.Context) {
	balance := models.DefaultUserBalance()
	if err := store.LoadJSON(ctx, e.opts.Store, store.KeyUserBalance, &balance); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			e.log.WithError(err).Warn("betting: balance unreadable, using defaults")
		}
		balance = models.DefaultUserBalance()
	} else if !balance.Valid() {
		e.log.WithField("balance", balance).Warn("betting: persisted balance is negative, using defaults")
		balance = models.DefaultUserBalance()
	}

	var history []*models.Bet
	if err := store.LoadJSON(ctx, e.opts.Store, store.KeyBetHistory, &history); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			e.log.WithError(err).Warn("betting: history unreadable, starting empty")
		}
		history = nil
	}
	if len(history) > MaxHistory {
		history = history[:MaxHistory]
	}

	e.mu.Lock()
	e.balance = balance
	e.history = history
	e.mu.Unlock()
}

// Start schedules the periodic expired-bet cleanup. No-op without a scheduler.
func (e *Engine) Start() error {
	if e.opts.Scheduler == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cleanupID != 0 {
		return nil
	}
	id, err := e.opts.Scheduler.Every("bet-cleanup", e.opts.CleanupInterval, func() {
		e.CleanupExpired(context.Background())
	})
	if err != nil {
		return err
	}
	e.cleanupID = id
	return nil
}

// Stop removes the cleanup job.
func (e *Engine) Stop() {
	e.mu.Lock()
	id := e.cleanupID
	e.cleanupID = 0
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

func (e *Engine) userID() uuid.UUID {
	if e.opts.User == nil {
		return uuid.Nil
	}
	return e.opts.User.CurrentUser().ID
}

// CreateBet validates cfg, opens the bet and, when the creator picks an option, debits
// their stake. Insufficient funds fail before anything changes.
func (e *Engine) CreateBet(ctx context.Context, cfg BetConfig) (*models.Bet, error) {
	if cfg.RoomID == uuid.Nil {
		return nil, fmt.Errorf("%w: bet needs a room", apperr.ErrValidation)
	}
	if cfg.Currency == "" {
		cfg.Currency = models.CurrencyCoins
	}
	if !cfg.Currency.Valid() {
		return nil, fmt.Errorf("%w: unknown currency %q", apperr.ErrValidation, cfg.Currency)
	}
	if err := checkStake(cfg.StakeAmount); err != nil {
		return nil, err
	}

	options := cfg.Options
	if len(options) == 0 {
		var err error
		if options, err = defaultOptions(cfg); err != nil {
			return nil, err
		}
	}
	if err := checkOptions(options); err != nil {
		return nil, err
	}

	deadline := cfg.Deadline
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	title := cfg.Title
	if title == "" {
		title = defaultTitle(cfg.Type)
	}

	creator := e.userID()
	now := e.opts.Now()
	bet := &models.Bet{
		ID:          uuid.New(),
		RoomID:      cfg.RoomID,
		CreatorID:   creator,
		Type:        cfg.Type,
		Title:       title,
		StakeAmount: cfg.StakeAmount,
		Currency:    cfg.Currency,
		Status:      models.BetOpen,
		Deadline:    now.Add(deadline),
		CreatedAt:   now,
	}
	bet.Options = make([]models.BetOption, len(options))
	copy(bet.Options, options)
	for i := range bet.Options {
		bet.Options[i].ParticipantCount = 0
	}

	e.mu.Lock()
	if cfg.CreatorOptionID != "" {
		if bet.Option(cfg.CreatorOptionID) == nil {
			e.mu.Unlock()
			return nil, fmt.Errorf("%w: option %q", apperr.ErrNotFound, cfg.CreatorOptionID)
		}
		if e.balance.Get(cfg.Currency) < cfg.StakeAmount {
			e.mu.Unlock()
			return nil, fmt.Errorf("%w: need %d %s", apperr.ErrInsufficientFunds, cfg.StakeAmount, cfg.Currency)
		}
		e.balance = e.balance.Add(cfg.Currency, -cfg.StakeAmount)
		bet.Participants = append(bet.Participants, models.BetParticipant{
			UserID: creator, OptionID: cfg.CreatorOptionID, Amount: cfg.StakeAmount, JoinedAt: now,
		})
		refreshOdds(bet)
	}
	e.active[bet.ID] = bet
	snapshot := bet.Clone()
	balance := e.balance
	listeners := e.listenersLocked()
	e.mu.Unlock()

	e.log.WithFields(logrus.Fields{"bet": bet.ID, "room": bet.RoomID, "type": bet.Type}).Info("betting: bet created")
	if cfg.CreatorOptionID != "" {
		e.saveBalance(ctx)
		emitBalance(listeners, balance)
	}
	e.opts.Analytics.TrackEngagement("bet_created", string(bet.Type), float64(bet.StakeAmount))
	emit(listeners, Event{Type: protocol.EventBetCreated, Bet: snapshot})
	return snapshot.Clone(), nil
}

// JoinBet stakes amount on optionID. Zero amount means the bet's stake unit. The wallet
// is debited before any event is emitted.
func (e *Engine) JoinBet(ctx context.Context, betID uuid.UUID, optionID string, amount int64) (*models.Bet, error) {
	me := e.userID()
	now := e.opts.Now()

	e.mu.Lock()
	bet, err := e.activeLocked(betID)
	if err == nil {
		err = e.checkJoinLocked(bet, me, optionID, amount, now)
	}
	if err != nil {
		e.mu.Unlock()
		e.opts.Haptics.Trigger(telemetry.HapticError)
		return nil, err
	}
	if amount == 0 {
		amount = bet.StakeAmount
	}

	e.balance = e.balance.Add(bet.Currency, -amount)
	bet.Participants = append(bet.Participants, models.BetParticipant{UserID: me, OptionID: optionID, Amount: amount, JoinedAt: now})
	refreshOdds(bet)
	snapshot := bet.Clone()
	balance := e.balance
	listeners := e.listenersLocked()
	e.mu.Unlock()

	e.log.WithFields(logrus.Fields{"bet": betID, "option": optionID, "amount": amount}).Info("betting: joined bet")
	e.saveBalance(ctx)
	emitBalance(listeners, balance)
	e.opts.Haptics.Trigger(telemetry.HapticSuccess)
	if o := snapshot.Option(optionID); o != nil {
		e.opts.Analytics.TrackEngagement("bet_joined", o.Label, impliedProbability(*o))
	}
	emit(listeners, Event{Type: protocol.EventBetJoined, Bet: snapshot})
	return snapshot.Clone(), nil
}

// checkJoinLocked runs every join precondition. Deadline is checked before funds.
func (e *Engine) checkJoinLocked(bet *models.Bet, me uuid.UUID, optionID string, amount int64, now time.Time) error {
	if bet.Status != models.BetOpen {
		return fmt.Errorf("%w: bet is %s", apperr.ErrState, bet.Status)
	}
	if !now.Before(bet.Deadline) {
		return fmt.Errorf("%w: bet closed at %s", apperr.ErrState, bet.Deadline.Format(time.RFC3339))
	}
	if bet.Participation(me) != nil {
		return fmt.Errorf("%w: already joined this bet", apperr.ErrState)
	}
	if bet.Option(optionID) == nil {
		return fmt.Errorf("%w: option %q", apperr.ErrNotFound, optionID)
	}
	if amount == 0 {
		amount = bet.StakeAmount
	}
	if err := checkStake(amount); err != nil {
		return err
	}
	if e.balance.Get(bet.Currency) < amount {
		return fmt.Errorf("%w: need %d %s", apperr.ErrInsufficientFunds, amount, bet.Currency)
	}
	return nil
}

// ResolveBet settles the bet with winningOptionID winning. Creator only. The local user's
// payout, if any, is credited here; other winners are credited by their own clients from
// the relayed result.
func (e *Engine) ResolveBet(ctx context.Context, betID uuid.UUID, winningOptionID string) (*models.Bet, error) {
	me := e.userID()

	e.mu.Lock()
	bet, err := e.activeLocked(betID)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if bet.CreatorID != me {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: only the creator can resolve a bet", apperr.ErrPermission)
	}
	if bet.Status != models.BetOpen && bet.Status != models.BetLocked {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: bet is %s", apperr.ErrState, bet.Status)
	}
	if bet.Option(winningOptionID) == nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: option %q", apperr.ErrNotFound, winningOptionID)
	}

	bet.Result = settle(bet, winningOptionID, e.opts.RemainderPolicy, e.opts.Now())
	bet.Status = models.BetCompleted
	credit := bet.Result.PayoutFor(me)
	if credit > 0 {
		e.balance = e.balance.Add(bet.Currency, credit)
	}
	e.archiveLocked(bet)
	snapshot := bet.Clone()
	balance := e.balance
	listeners := e.listenersLocked()
	e.mu.Unlock()

	e.log.WithFields(logrus.Fields{
		"bet": betID, "winner": winningOptionID, "pool": snapshot.Result.TotalPool, "remainder": snapshot.Result.Remainder,
	}).Info("betting: bet resolved")
	e.saveHistory(ctx)
	if credit > 0 {
		e.saveBalance(ctx)
		emitBalance(listeners, balance)
	}
	e.opts.Analytics.TrackEngagement("bet_resolved", string(snapshot.Type), float64(snapshot.Result.TotalPool))
	emit(listeners, Event{Type: protocol.EventBetResolved, Bet: snapshot})
	return snapshot.Clone(), nil
}

// CancelBet cancels an open bet. Creator only. The local user's stake is refunded here;
// every other participant is refunded by their own client from the relayed event.
func (e *Engine) CancelBet(ctx context.Context, betID uuid.UUID, reason string) (*models.Bet, error) {
	me := e.userID()

	e.mu.Lock()
	bet, err := e.activeLocked(betID)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if bet.CreatorID != me {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: only the creator can cancel a bet", apperr.ErrPermission)
	}
	if bet.Status != models.BetOpen {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: bet is %s", apperr.ErrState, bet.Status)
	}
	snapshot, balance, refunded := e.cancelLocked(bet, me, reason)
	listeners := e.listenersLocked()
	e.mu.Unlock()

	e.log.WithFields(logrus.Fields{"bet": betID, "reason": reason}).Info("betting: bet cancelled")
	e.saveHistory(ctx)
	if refunded {
		e.saveBalance(ctx)
		emitBalance(listeners, balance)
	}
	emit(listeners, Event{Type: protocol.EventBetCancelled, Bet: snapshot})
	return snapshot.Clone(), nil
}

// cancelLocked marks bet cancelled, refunds me and archives it.
func (e *Engine) cancelLocked(bet *models.Bet, me uuid.UUID, reason string) (*models.Bet, models.UserBalance, bool) {
	bet.Status = models.BetCancelled
	bet.CancelReason = reason
	refunded := false
	if p := bet.Participation(me); p != nil {
		e.balance = e.balance.Add(bet.Currency, p.Amount)
		refunded = true
	}
	e.archiveLocked(bet)
	return bet.Clone(), e.balance, refunded
}

// CleanupExpired cancels the local user's open bets whose deadline has passed.
func (e *Engine) CleanupExpired(ctx context.Context) int {
	me := e.userID()
	now := e.opts.Now()

	e.mu.Lock()
	var expired []uuid.UUID
	for id, b := range e.active {
		if b.CreatorID == me && b.Status == models.BetOpen && !now.Before(b.Deadline) {
			expired = append(expired, id)
		}
	}
	e.mu.Unlock()

	n := 0
	for _, id := range expired {
		if _, err := e.CancelBet(ctx, id, CancelExpired); err != nil {
			e.log.WithError(err).WithField("bet", id).Debug("betting: expired bet already settled")
			continue
		}
		n++
	}
	return n
}

// GetBet returns an active or settled bet.
func (e *Engine) GetBet(betID uuid.UUID) (*models.Bet, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok := e.active[betID]; ok {
		return b.Clone(), nil
	}
	for _, b := range e.history {
		if b.ID == betID {
			return b.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: bet %s", apperr.ErrNotFound, betID)
}

// GetActiveBets returns the active bets of roomID, or of every room when roomID is Nil,
// oldest first.
func (e *Engine) GetActiveBets(roomID uuid.UUID) []*models.Bet {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*models.Bet, 0, len(e.active))
	for _, b := range e.active {
		if roomID == uuid.Nil || b.RoomID == roomID {
			out = append(out, b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// GetBetHistory returns settled bets, newest first.
func (e *Engine) GetBetHistory() []*models.Bet {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.historyLocked()
}

// GetBalance returns the local user's wallets.
func (e *Engine) GetBalance() models.UserBalance {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balance
}

// Assumes lock is held by caller.
func (e *Engine) activeLocked(betID uuid.UUID) (*models.Bet, error) {
	bet, ok := e.active[betID]
	if !ok {
		for _, b := range e.history {
			if b.ID == betID {
				return nil, fmt.Errorf("%w: bet is %s", apperr.ErrState, b.Status)
			}
		}
		return nil, fmt.Errorf("%w: bet %s", apperr.ErrNotFound, betID)
	}
	return bet, nil
}

// Assumes lock is held by caller.
func (e *Engine) archiveLocked(bet *models.Bet) {
	delete(e.active, bet.ID)
	e.history = append([]*models.Bet{bet.Clone()}, e.history...)
	if len(e.history) > MaxHistory {
		e.history = e.history[:MaxHistory]
	}
}

// Assumes lock is held by caller.
func (e *Engine) historyLocked() []*models.Bet {
	out := make([]*models.Bet, len(e.history))
	for i, b := range e.history {
		out[i] = b.Clone()
	}
	return out
}

// Assumes lock is held by caller.
func (e *Engine) listenersLocked() []Listener {
	ids := make([]int, 0, len(e.listeners))
	for id := range e.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]Listener, len(ids))
	for i, id := range ids {
		out[i] = e.listeners[id]
	}
	return out
}

// saveBalance writes the current wallet. Writes are serialised and each one reads the
// state at write time, so the last write is never older than an earlier one.
func (e *Engine) saveBalance(ctx context.Context) {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()
	e.mu.Lock()
	b := e.balance
	e.mu.Unlock()
	if err := store.SaveJSON(ctx, e.opts.Store, store.KeyUserBalance, b); err != nil {
		e.log.WithError(err).Error("betting: failed to persist balance")
	}
}

func (e *Engine) saveHistory(ctx context.Context) {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()
	e.mu.Lock()
	history := e.historyLocked()
	e.mu.Unlock()
	if err := store.SaveJSON(ctx, e.opts.Store, store.KeyBetHistory, history); err != nil {
		e.log.WithError(err).Error("betting: failed to persist history")
	}
}

func emit(listeners []Listener, ev Event) {
	for _, l := range listeners {
		if l.OnBetEvent != nil {
			l.OnBetEvent(ev)
		}
	}
}

func emitBalance(listeners []Listener, b models.UserBalance) {
	for _, l := range listeners {
		if l.OnBalanceChange != nil {
			l.OnBalanceChange(b)
		}
	}
}

func checkStake(amount int64) error {
	if amount < MinStake || amount > MaxStake {
		return fmt.Errorf("%w: stake %d outside [%d, %d]", apperr.ErrValidation, amount, MinStake, MaxStake)
	}
	return nil
}

func checkOptions(options []models.BetOption) error {
	if len(options) < 2 {
		return fmt.Errorf("%w: a bet needs at least two options", apperr.ErrValidation)
	}
	seen := make(map[string]bool, len(options))
	for _, o := range options {
		if o.ID == "" || o.Label == "" {
			return fmt.Errorf("%w: options need an id and a label", apperr.ErrValidation)
		}
		if seen[o.ID] {
			return fmt.Errorf("%w: duplicate option %q", apperr.ErrValidation, o.ID)
		}
		seen[o.ID] = true
	}
	return nil
}
