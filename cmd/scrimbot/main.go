package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/zeroremorse/scrimbot/internal/admin"
	appcfg "github.com/zeroremorse/scrimbot/internal/config"
	"github.com/zeroremorse/scrimbot/internal/msgcat"
	"github.com/zeroremorse/scrimbot/internal/obslog"
	"github.com/zeroremorse/scrimbot/internal/oracle"
	"github.com/zeroremorse/scrimbot/internal/platform"
	"github.com/zeroremorse/scrimbot/internal/publish"
	"github.com/zeroremorse/scrimbot/internal/session"
	"github.com/zeroremorse/scrimbot/internal/store"
	"github.com/zeroremorse/scrimbot/internal/upload"
)

func main() {
	_ = godotenv.Load()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()

	cat, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		logger.Fatal("message catalog init failed", zap.Error(err))
	}

	headers := func() map[string]string {
		return map[string]string{"Authorization": "Bot " + cfg.BotToken}
	}
	client := platform.NewClient(cfg.PlatformBaseURL, platform.WithHeaderProvider(headers))

	gw := platform.NewGateway(cfg.PlatformWSURL, 5, time.Second)
	gw.SetHeaderProvider(headers)
	gw.OnStateChange(func(state platform.GatewayState) {
		logger.Info("gateway_state", zap.String("state", string(state)))
	})

	records := store.Open(cfg.StorePath)

	sessions, closeSessions, err := buildSessionStore(cfg)
	if err != nil {
		logger.Fatal("session store init failed", zap.Error(err))
	}
	defer closeSessions()

	extractor := oracle.NewExtractor(oracle.NewClient(cfg.OracleBaseURL, cfg.OracleAPIKey, oracle.WithModel(cfg.OracleModel)))
	publisher := publish.New(client, records, cfg.ScrimChannelID, cfg.TournamentChannelID)

	uploadMgr := upload.NewManager(client, cat, sessions, records, extractor, publisher, cfg.GuildID, cfg.UploaderRoleID)
	adminHandler := admin.NewHandler(admin.NewService(records), client, cat, cfg.BotPrefix, cfg.GuildID, cfg.AdminRoleID)

	sched, err := gocron.NewScheduler()
	if err != nil {
		logger.Fatal("scheduler init failed", zap.Error(err))
	}
	if err := session.StartJanitor(sched, sessions, cfg.SessionTTL); err != nil {
		logger.Fatal("janitor init failed", zap.Error(err))
	}
	if cfg.BackupInterval > 0 {
		_, err := sched.NewJob(gocron.DurationJob(cfg.BackupInterval), gocron.NewTask(func() {
			path, err := records.Backup()
			if err != nil {
				logger.Warn("scheduled_backup_failed", zap.Error(err))
				return
			}
			logger.Info("scheduled_backup", zap.String("path", path))
		}))
		if err != nil {
			logger.Fatal("backup job init failed", zap.Error(err))
		}
	}
	sched.Start()

	gw.OnEvent(func(ev *platform.Event) {
		// handlers must not block the gateway read loop
		switch ev.Type {
		case platform.EventMessage:
			if ev.Message == nil {
				return
			}
			msg := ev.Message
			go func() {
				defer recoverHandler("message")
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
				defer cancel()
				if msg.DM {
					uploadMgr.HandleMessage(ctx, msg)
					return
				}
				adminHandler.HandleMessage(ctx, msg)
			}()
		case platform.EventInteraction:
			if ev.Interaction == nil {
				return
			}
			inter := ev.Interaction
			go func() {
				defer recoverHandler("interaction")
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
				defer cancel()
				uploadMgr.HandleInteraction(ctx, inter)
			}()
		}
	})

	cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := gw.Connect(cctx); err != nil {
		cancel()
		logger.Fatal("gateway connect failed", zap.Error(err))
	}
	cancel()

	if cfg.HubChannelID != "" {
		content, comps := uploadMgr.HubComponents()
		hctx, hcancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := client.SendComponents(hctx, cfg.HubChannelID, content, comps); err != nil {
			logger.Warn("hub_message_failed", zap.Error(err))
		}
		hcancel()
	}

	logger.Info("scrimbot started",
		zap.String("store", cfg.StorePath),
		zap.String("scrim_channel", cfg.ScrimChannelID),
		zap.String("tournament_channel", cfg.TournamentChannelID))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := sched.Shutdown(); err != nil {
		logger.Warn("scheduler shutdown failed", zap.Error(err))
	}
	if err := gw.Close(shutdownCtx); err != nil {
		logger.Warn("gateway close failed", zap.Error(err))
	}
}

// buildSessionStore picks Redis when configured, in-memory otherwise.
func buildSessionStore(cfg *appcfg.AppConfig) (session.Store, func(), error) {
	if cfg.RedisURL == "" {
		return session.NewMemoryStore(), func() {}, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}
	return session.NewRedisStore(rdb, cfg.SessionTTL), func() { _ = rdb.Close() }, nil
}

func recoverHandler(kind string) {
	if r := recover(); r != nil {
		obslog.L().Error("handler_panic", zap.String("kind", kind), zap.Any("panic", r))
	}
}
