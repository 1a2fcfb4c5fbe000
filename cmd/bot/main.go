package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"replybot/internal/bot"
	"replybot/internal/config"
	"replybot/internal/llm"
	"replybot/internal/scheduler"
	"replybot/internal/storage"
	"replybot/internal/xapi"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	if cfg.RetentionDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -cfg.RetentionDays)
		if n, err := store.Cleanup(context.Background(), cutoff); err != nil {
			log.Warn("cleanup old records", "error", err)
		} else if n > 0 {
			log.Info("cleaned up old records", "removed", n)
		}
	}

	client := xapi.New(
		cfg.TwitterAPIKey,
		cfg.TwitterAPISecret,
		cfg.TwitterAccessToken,
		cfg.TwitterAccessTokenSecret,
	)
	gen := llm.New(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL)

	engine := scheduler.New(store, gen, client, client, cfg, log)

	b, err := bot.New(cfg.TelegramBotToken, engine, store, cfg, log)
	if err != nil {
		log.Error("create bot", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("starting bot")

	b.Run(ctx)

	// The long poll is down. Halt any in-flight run and wait for its records
	// to land before the store closes.
	engine.Stop()
	engine.Wait()

	log.Info("bot stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
