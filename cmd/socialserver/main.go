// Command socialserver runs the room server that party clients connect to.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/mysterybox/internal/auth"
	"github.com/jason-s-yu/mysterybox/internal/config"
	"github.com/jason-s-yu/mysterybox/internal/roomserver"
	"github.com/jason-s-yu/mysterybox/internal/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const tokenTTL = 24 * time.Hour

func main() {
	mint := flag.String("mint", "", "print a token for this user id and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("could not load config")
	}
	logrus.SetLevel(cfg.LogLevel)

	if cfg.JWTSecret == "" {
		logrus.Fatal("JWT_SECRET must be set")
	}
	signer, err := auth.NewSigner(cfg.JWTSecret, tokenTTL)
	if err != nil {
		logrus.WithError(err).Fatal("could not create token signer")
	}

	if *mint != "" {
		id, err := uuid.Parse(*mint)
		if err != nil {
			logrus.WithError(err).Fatal("invalid user id")
		}
		token, err := signer.Issue(id)
		if err != nil {
			logrus.WithError(err).Fatal("could not issue token")
		}
		fmt.Println(token)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := roomserver.Options{
		Verifier:    signer,
		Log:         logrus.WithField("component", "roomserver"),
		IdleTimeout: cfg.RoomIdleTimeout,
	}
	if cfg.RedisURL != "" {
		rs, err := store.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			logrus.WithError(err).Fatal("redis connection failed")
		}
		defer rs.Close()
		opts.ActionLog = roomserver.RedisActionLog{Rdb: rs.Client()}
		logrus.Info("publishing room actions to redis")
	}

	srv := roomserver.New(opts)
	mux := http.NewServeMux()
	mux.Handle("/ws", srv)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok rooms=%d\n", srv.RoomCount())
	})
	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logrus.WithField("addr", cfg.ListenAddr).Info("social server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		srv.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logrus.WithError(err).Error("social server stopped with error")
		os.Exit(1)
	}
	logrus.Info("social server stopped")
}
