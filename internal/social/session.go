// Package social wires the room connection, betting and leaderboard engines of one user
// session together.
//
// Box results pushed by the room resolve bets and feed the leaderboard; local bet
// transitions are relayed to the room so every other client can mirror them.
package social

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/mysterybox/internal/betting"
	"github.com/jason-s-yu/mysterybox/internal/leaderboard"
	"github.com/jason-s-yu/mysterybox/internal/models"
	"github.com/jason-s-yu/mysterybox/internal/protocol"
	"github.com/jason-s-yu/mysterybox/internal/room"
	"github.com/jason-s-yu/mysterybox/internal/scheduler"
	"github.com/jason-s-yu/mysterybox/internal/store"
	"github.com/jason-s-yu/mysterybox/internal/telemetry"
	"github.com/sirupsen/logrus"
)

// Options configures a Session.
type Options struct {
	User            telemetry.UserProvider
	Store           store.Store
	Analytics       telemetry.Analytics
	Haptics         telemetry.Haptics
	Log             logrus.FieldLogger
	Room            room.Options
	Themes          []string
	RemainderPolicy betting.RemainderPolicy
	BetCleanup      time.Duration
	SeasonCheck     time.Duration
	Now             func() time.Time
}

// Session owns one instance of each engine for the lifetime of a signed-in user.
type Session struct {
	Room        *room.Manager
	Betting     *betting.Engine
	Leaderboard *leaderboard.Engine

	opts      Options
	log       logrus.FieldLogger
	sched     *scheduler.Scheduler
	teardown  []func()
	opTimeout time.Duration
}

// NewSession builds the engines and subscribes them to each other. Nothing runs until Start.
func NewSession(opts Options) *Session {
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
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ro := opts.Room
	if ro.User == nil {
		ro.User = opts.User
	}
	if ro.Log == nil {
		ro.Log = opts.Log.WithField("component", "room")
	}
	if ro.Haptics == nil {
		ro.Haptics = opts.Haptics
	}

	sched := scheduler.New(opts.Log.WithField("component", "scheduler"))
	s := &Session{
		opts:      opts,
		log:       opts.Log,
		sched:     sched,
		opTimeout: 5 * time.Second,
		Room:      room.NewManager(ro),
		Betting: betting.New(betting.Options{
			User:            opts.User,
			Store:           opts.Store,
			Analytics:       opts.Analytics,
			Haptics:         opts.Haptics,
			Scheduler:       sched,
			CleanupInterval: opts.BetCleanup,
			RemainderPolicy: opts.RemainderPolicy,
			Log:             opts.Log.WithField("component", "betting"),
			Now:             opts.Now,
		}),
		Leaderboard: leaderboard.New(leaderboard.Options{
			Themes:        opts.Themes,
			Store:         opts.Store,
			Analytics:     opts.Analytics,
			Scheduler:     sched,
			CheckInterval: opts.SeasonCheck,
			Log:           opts.Log.WithField("component", "leaderboard"),
			Now:           opts.Now,
		}),
	}

	s.teardown = append(s.teardown,
		s.Room.Subscribe(room.EventCallbacks{
			OnBoxOpened:   s.onBoxOpened,
			OnBetEvent:    s.onRemoteBet,
			OnReactionAdd: s.onReaction,
		}),
		s.Betting.Subscribe(betting.Listener{OnBetEvent: s.onBetEvent}),
	)
	return s
}

// Start restores persisted state and starts the periodic jobs.
func (s *Session) Start(ctx context.Context) error {
	s.Betting.Load(ctx)
	s.Leaderboard.Load(ctx)
	if err := s.Betting.Start(); err != nil {
		return err
	}
	if err := s.Leaderboard.Start(); err != nil {
		s.Betting.Stop()
		return err
	}
	s.sched.Start()
	return nil
}

// Connect opens the room channel.
func (s *Session) Connect(ctx context.Context, serverURL string) error {
	return s.Room.Connect(ctx, serverURL)
}

// CreateRoom creates a room and credits the host's social score.
func (s *Session) CreateRoom(ctx context.Context, cfg models.RoomConfig) (*models.SharedRoom, error) {
	r, err := s.Room.CreateRoom(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.opts.Analytics.TrackEngagement("room_created", cfg.Theme, float64(cfg.MaxParticipants))
	s.applyDelta(s.me(), leaderboard.StatsDelta{Social: models.SocialCounters{RoomsHosted: 1}})
	return r, nil
}

// Close disconnects and stops every job. The session cannot be restarted.
func (s *Session) Close() {
	for _, fn := range s.teardown {
		fn()
	}
	s.teardown = nil
	s.Room.Disconnect()
	s.Betting.Stop()
	s.Leaderboard.Stop()
	s.sched.Stop()
}

func (s *Session) me() models.SocialUser {
	if s.opts.User == nil {
		return models.SocialUser{}
	}
	return s.opts.User.CurrentUser()
}

// participant resolves a user id to the snapshot cached for the current room.
func (s *Session) participant(id uuid.UUID) models.SocialUser {
	if me := s.me(); me.ID == id {
		return me
	}
	if r := s.Room.CurrentRoom(); r != nil {
		if p := r.Participant(id); p != nil {
			return p.User
		}
	}
	return models.SocialUser{ID: id}
}

func (s *Session) applyDelta(u models.SocialUser, delta leaderboard.StatsDelta) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()
	if err := s.Leaderboard.ApplyStatsDelta(ctx, u, delta); err != nil {
		s.log.WithError(err).WithField("user", u.ID).Warn("social: stats update dropped")
	}
}

func (s *Session) onBoxOpened(res models.BoxOpenedResult) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()

	delta := leaderboard.StatsDelta{BoxesOpened: 1, TotalValue: res.Value}
	if res.Rarity.IsRare() {
		delta.RareItems = 1
	}
	if res.Theme != "" {
		delta.Themes = map[string]int{res.Theme: 1}
	}
	s.applyDelta(s.participant(res.UserID), delta)
	s.opts.Analytics.TrackEngagement("box_opened", string(res.Rarity), res.Value)

	if resolved := s.Betting.HandleBoxOpened(ctx, res); len(resolved) > 0 {
		s.log.WithFields(logrus.Fields{"room": res.RoomID, "bets": len(resolved)}).Info("social: bets resolved by box result")
	}
}

func (s *Session) onRemoteBet(ev protocol.BetEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()
	if err := s.Betting.ApplyRemoteEvent(ctx, ev); err != nil {
		s.log.WithError(err).WithField("type", ev.Type).Warn("social: ignoring bet event")
	}
}

func (s *Session) onReaction(r models.Reaction) {
	s.applyDelta(s.participant(r.UserID), leaderboard.StatsDelta{Social: models.SocialCounters{Reactions: 1}})
}

// onBetEvent relays local transitions and credits winners on the leaderboard. Every
// resolution reaches each client exactly once, either locally or mirrored.
func (s *Session) onBetEvent(ev betting.Event) {
	if !ev.Remote {
		err := s.Room.PublishBetEvent(protocol.BetEvent{Type: ev.Type, RoomID: ev.Bet.RoomID, Bet: ev.Bet})
		if err != nil {
			s.log.WithError(err).WithField("bet", ev.Bet.ID).Warn("social: bet event not relayed")
		}
	}
	if ev.Type != protocol.EventBetResolved || ev.Bet.Result == nil || ev.Bet.Result.Refunded {
		return
	}
	me := s.me().ID
	for _, p := range ev.Bet.Result.Payouts {
		s.applyDelta(s.participant(p.UserID), leaderboard.StatsDelta{Social: models.SocialCounters{BetsWon: 1}})
		if p.UserID == me {
			s.opts.Haptics.Trigger(telemetry.HapticSuccess)
		}
	}
}
