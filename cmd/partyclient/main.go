// Command partyclient is a headless social session: it connects, creates or joins a room
// and logs everything the room, betting and leaderboard engines report.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/jason-s-yu/mysterybox/internal/auth"
	"github.com/jason-s-yu/mysterybox/internal/betting"
	"github.com/jason-s-yu/mysterybox/internal/config"
	"github.com/jason-s-yu/mysterybox/internal/leaderboard"
	"github.com/jason-s-yu/mysterybox/internal/models"
	"github.com/jason-s-yu/mysterybox/internal/protocol"
	"github.com/jason-s-yu/mysterybox/internal/room"
	"github.com/jason-s-yu/mysterybox/internal/social"
	"github.com/jason-s-yu/mysterybox/internal/store"
	"github.com/jason-s-yu/mysterybox/internal/telemetry"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	var (
		name     = flag.String("name", "guest", "display name")
		userID   = flag.String("user", "", "user id to store with -token")
		token    = flag.String("token", "", "auth token to store")
		create   = flag.String("create", "", "create a room with this name")
		theme    = flag.String("theme", "anime", "room theme")
		capacity = flag.Int("capacity", 4, "room capacity")
		join     = flag.String("join", "", "join the room with this id")
		password = flag.String("password", "", "room password")
		themes   = flag.String("themes", "anime,sneakers,tech", "themes with a theme_master board")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("could not load config")
	}
	logrus.SetLevel(cfg.LogLevel)
	log := logrus.WithField("client", *name)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kv, err := store.Open(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("could not open store")
	}
	defer kv.Close()

	if *userID != "" && *token != "" {
		id, err := uuid.Parse(*userID)
		if err != nil {
			log.WithError(err).Fatal("invalid -user")
		}
		if err := auth.SaveCredentials(ctx, kv, auth.Credentials{UserID: id, Token: *token}); err != nil {
			log.WithError(err).Fatal("could not store credentials")
		}
	}
	creds := auth.StoredCredentials{Store: kv}
	c, err := creds.Credentials(ctx)
	if err != nil {
		log.WithError(err).Fatal("no credentials stored; pass -user and -token once")
	}

	policy, err := betting.ParseRemainderPolicy(cfg.PayoutRemainderPolicy)
	if err != nil {
		log.WithError(err).Fatal("invalid PAYOUT_REMAINDER_POLICY")
	}

	var analytics telemetry.Analytics = telemetry.LogAnalytics{Log: log}
	if cfg.RedisURL != "" {
		rs, err := store.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			log.WithError(err).Fatal("redis connection failed")
		}
		defer rs.Close()
		analytics = telemetry.MultiAnalytics{analytics, telemetry.NewRedisAnalytics(rs.Client(), log)}
	}

	me := c.UserID
	session := social.NewSession(social.Options{
		User:            telemetry.NewStaticUser(models.SocialUser{ID: c.UserID, DisplayName: *name, Status: models.PresenceOnline}),
		Store:           kv,
		Analytics:       analytics,
		Haptics:         telemetry.LogHaptics{Log: log},
		Log:             log,
		Themes:          strings.Split(*themes, ","),
		RemainderPolicy: policy,
		BetCleanup:      cfg.BetCleanupInterval,
		SeasonCheck:     cfg.SeasonCheckInterval,
		Room: room.Options{
			Credentials:       creds,
			ConnectTimeout:    cfg.ConnectTimeout,
			ReconnectAttempts: cfg.ReconnectAttempts,
			ReconnectBackoff:  cfg.ReconnectBackoff,
		},
	})
	defer session.Close()

	session.Room.SetEventCallbacks(room.EventCallbacks{
		OnRoomUpdate: func(r *models.SharedRoom) {
			log.WithFields(logrus.Fields{"room": r.ID, "status": r.Status, "participants": r.CurrentParticipants}).Info("room updated")
		},
		OnParticipantJoin: func(p models.RoomParticipant) {
			log.WithField("user", p.User.DisplayName).Info("participant joined")
		},
		OnParticipantLeave: func(p models.RoomParticipant) {
			log.WithField("user", p.User.DisplayName).Info("participant left")
		},
		OnCountdownStart: func(seconds int) {
			log.WithField("seconds", seconds).Info("countdown started")
		},
		OnBoxOpened: func(res models.BoxOpenedResult) {
			log.WithFields(logrus.Fields{"item": res.ItemName, "value": res.Value, "rarity": res.Rarity}).Info("box opened")
		},
		OnBetEvent: func(ev protocol.BetEvent) {
			log.WithFields(logrus.Fields{"type": ev.Type, "bet": ev.Bet.ID}).Info("bet event")
		},
		OnError: func(err error) {
			log.WithError(err).Warn("room error")
		},
	})
	session.Betting.Subscribe(betting.Listener{
		OnBalanceChange: func(b models.UserBalance) {
			log.WithFields(logrus.Fields{"coins": b.Coins, "points": b.Points, "real": b.Real}).Info("balance changed")
		},
	})
	session.Leaderboard.Subscribe(leaderboard.Listener{
		OnRankingChange: func(c leaderboard.RankingChange) {
			if c.UserID == me {
				log.WithFields(logrus.Fields{"board": c.BoardID, "from": c.Previous, "to": c.Current}).Info("ranking changed")
			}
		},
		OnSeasonEnd: func(s leaderboard.SeasonEnd) {
			log.WithFields(logrus.Fields{"board": s.Board.ID, "winners": len(s.Winners)}).Info("season ended")
		},
	})

	if err := session.Start(ctx); err != nil {
		log.WithError(err).Fatal("could not start session")
	}
	if err := session.Connect(ctx, cfg.ServerURL); err != nil {
		log.WithError(err).Fatal("could not connect")
	}

	switch {
	case *create != "":
		r, err := session.CreateRoom(ctx, models.RoomConfig{
			Name: *create, Theme: *theme, MaxParticipants: *capacity, Password: *password,
			Settings: models.RoomSettings{AllowBetting: true, AutoStart: true},
		})
		if err != nil {
			log.WithError(err).Fatal("could not create room")
		}
		log.WithField("room", r.ID).Info("room created")
	case *join != "":
		id, err := uuid.Parse(*join)
		if err != nil {
			log.WithError(err).Fatal("invalid -join")
		}
		if _, err := session.Room.JoinRoom(ctx, id, *password); err != nil {
			log.WithError(err).Fatal("could not join room")
		}
		if err := session.Room.SetReady(true); err != nil {
			log.WithError(err).Warn("could not mark ready")
		}
	default:
		rooms, err := session.Room.ListRooms(ctx)
		if err != nil {
			log.WithError(err).Fatal("could not list rooms")
		}
		for _, r := range rooms {
			log.WithFields(logrus.Fields{"room": r.ID, "name": r.Name, "theme": r.Theme, "participants": r.CurrentParticipants}).Info("open room")
		}
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		leaveCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
		defer cancel()
		if err := session.Room.LeaveRoom(leaveCtx); err != nil {
			log.WithError(err).Warn("could not leave room cleanly")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		stats := session.Betting.GetUserBettingStats()
		log.WithFields(logrus.Fields{"bets": stats.TotalBets, "wins": stats.Wins, "net": stats.NetProfit}).Info("betting summary")
		return nil
	})
	if err := g.Wait(); err != nil {
		log.WithError(err).Error("client stopped with error")
	}
}
