package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/latiaodream/zuizhonghg-sub000/internal/browserflow"
	"github.com/latiaodream/zuizhonghg-sub000/internal/feed"
	pkgconfig "github.com/latiaodream/zuizhonghg-sub000/internal/pkg/config"
	"github.com/latiaodream/zuizhonghg-sub000/internal/pkg/health"
	"github.com/latiaodream/zuizhonghg-sub000/internal/pkg/logging"
	"github.com/latiaodream/zuizhonghg-sub000/internal/pkg/notify"
	"github.com/latiaodream/zuizhonghg-sub000/internal/pkg/storage"
	"github.com/latiaodream/zuizhonghg-sub000/internal/session"
	"github.com/latiaodream/zuizhonghg-sub000/internal/trader"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	if err := run(); err != nil {
		slog.Error("Trader service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", defaultConfigPath, "path to config file")
	flag.Parse()

	slog.Info("Loading config", "path", *configPath)
	cfg, err := pkgconfig.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logging.SetupLogger(&cfg.Logging, "trader-service")

	store, err := storage.NewPostgresAccountStore(&cfg.Postgres)
	if err != nil {
		return fmt.Errorf("failed to init account store: %w", err)
	}
	defer store.Close()

	cache, err := storage.NewRedisMarketCache(&cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to init market cache: %w", err)
	}
	defer cache.Close()

	notifier := notify.NewTelegramNotifier(cfg.Notify.TelegramBotToken, cfg.Notify.TelegramChatID)
	defer notifier.Close()

	registry := session.NewRegistry(cfg.Platform.SessionTTL, store)
	browser := browserflow.NewDriver(cfg.Platform.BaseURL, cfg.Platform.UserAgent, 0)
	core := trader.NewCore(cfg, registry, store, browser, notifier)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Sessions younger than the TTL survive a restart without re-login.
	if err := registry.Rehydrate(ctx, core.ClientFactory()); err != nil {
		slog.Warn("session rehydration failed", "error", err)
	}

	if cfg.Feed.AccountID != "" {
		if _, err := core.EnsureSession(ctx, cfg.Feed.AccountID); err != nil {
			slog.Warn("feed account login failed, feed will retry on tick", "account_id", cfg.Feed.AccountID, "error", err)
		}
		loop := feed.NewLoop(cfg.Feed, registry, cache)
		core.AttachFeed(loop)
		go func() {
			if err := loop.Run(ctx); err != nil {
				slog.Error("feed loop exited", "error", err)
			}
		}()
	} else {
		slog.Warn("no feed account configured, market polling disabled")
	}

	if cfg.Health.Addr != "" {
		go func() {
			if err := health.Run(ctx, cfg.Health.Addr, cfg.Health.ReadHeaderTimeout, core); err != nil {
				slog.Error("health server exited", "error", err)
			}
		}()
	}

	slog.Info("Trader service started")
	<-ctx.Done()
	slog.Info("Shutting down")
	return nil
}
