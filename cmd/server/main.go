package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/focus-room-backend/internal/config"
	"github.com/DoyleJ11/focus-room-backend/internal/httpapi"
	"github.com/DoyleJ11/focus-room-backend/internal/hub"
	"github.com/DoyleJ11/focus-room-backend/internal/logger"
	"github.com/DoyleJ11/focus-room-backend/internal/ranking"
	"github.com/DoyleJ11/focus-room-backend/internal/relay"
	"github.com/DoyleJ11/focus-room-backend/internal/room"
	"github.com/DoyleJ11/focus-room-backend/internal/scoring"
	"github.com/DoyleJ11/focus-room-backend/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	lg, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	if err := run(cfg, lg); err != nil {
		lg.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, lg *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		pubs     []relay.Publisher
		loader   hub.Loader
		eventLog httpapi.EventLog
		st       *store.Store
	)
	if cfg.Database.DSN != "" {
		var err error
		st, err = store.Open(cfg.Database.Driver, cfg.Database.DSN, lg)
		if err != nil {
			return err
		}
		if err := st.AutoMigrate(); err != nil {
			_ = st.Close()
			return err
		}
		pubs = append(pubs, st)
		loader = st
		eventLog = st
		lg.Info("event store enabled", zap.String("driver", cfg.Database.Driver))
	}
	if cfg.NATS.URL != "" {
		np, err := relay.DialNATS(cfg.NATS.URL, cfg.NATS.SubjectPrefix, lg.Named("nats"))
		if err != nil {
			return err
		}
		pubs = append(pubs, np)
		lg.Info("nats mirroring enabled", zap.String("url", cfg.NATS.URL))
	}

	// The relay and rooms outlive the signal context so shutdown can drain
	// them in order.
	rl := relay.New(lg, cfg.Relay.QueueSize, pubs...)
	rl.Start(context.Background())

	h := hub.NewHub(context.Background(), roomConfig(cfg), hub.Options{
		Log:    lg.Named("hub"),
		Sink:   rl,
		Loader: loader,
	})

	srv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: httpapi.SetupRoutes(h, lg, httpapi.Options{
			AllowedOrigins: cfg.HTTP.AllowedOrigins,
			OutboxSize:     cfg.Room.SubscriberBuffer,
			EventLog:       eventLog,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		lg.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			lg.Warn("http shutdown", zap.Error(err))
		}
		if err := h.Shutdown(sctx); err != nil {
			lg.Warn("hub shutdown", zap.Error(err))
		}
		if err := rl.Close(sctx); err != nil {
			lg.Warn("relay close", zap.Error(err))
		}
		if n := rl.Dropped(); n > 0 {
			lg.Warn("events dropped by relay", zap.Uint64("count", n))
		}
		if st != nil {
			if err := st.Close(); err != nil {
				lg.Warn("store close", zap.Error(err))
			}
		}
		return nil
	})
	return g.Wait()
}

func roomConfig(cfg config.Config) room.Config {
	badges := make([]ranking.Badge, 0, len(cfg.Badges))
	for _, b := range cfg.Badges {
		badges = append(badges, ranking.Badge{Name: b.Name, MinScore: b.MinScore})
	}
	return room.Config{
		MaxParticipants:    cfg.Room.MaxParticipants,
		DefaultGoalMinutes: cfg.Room.DefaultGoalMinutes,
		MinParticipants:    cfg.Room.MinParticipants,
		HeartbeatInterval:  cfg.Room.HeartbeatInterval,
		MissedHeartbeats:   cfg.Room.MissedHeartbeats,
		EmptyGrace:         cfg.Room.EmptyGrace,
		SubscriberBuffer:   cfg.Room.SubscriberBuffer,
		Scoring: scoring.Config{
			Coefficient:   cfg.Scoring.Coefficient,
			MinConfidence: cfg.Scoring.MinConfidence,
			MaxSkew:       cfg.Scoring.MaxSkew,
		},
		Badges: badges,
	}
}
