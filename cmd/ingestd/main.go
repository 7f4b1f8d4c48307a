package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/marandu/sifen-ingest/internal/config"
	"github.com/marandu/sifen-ingest/internal/database"
	"github.com/marandu/sifen-ingest/internal/mailbox"
	"github.com/marandu/sifen-ingest/internal/notify"
	"github.com/marandu/sifen-ingest/internal/sifen"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting SIFEN mail ingestion daemon")

	// Connect to database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Run migrations
	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations completed")

	// Create components
	normalizer := sifen.NewNormalizer(db, logger)
	poller := mailbox.NewPoller(db, db, normalizer, mailbox.Config{
		WindowDays:   cfg.MailWindowDays,
		MaxMessages:  cfg.MailMaxMessages,
		ErrorDir:     cfg.ErrorXMLDir,
		DialTimeout:  cfg.IMAPDialTimeout,
		GraphBaseURL: cfg.GraphBaseURL,
	}, logger)

	// Create Telegram notifier (optional)
	var notifier *notify.Notifier
	if cfg.TelegramEnabled() {
		notifier, err = notify.New(cfg.TelegramToken, cfg.TelegramChatID, logger)
		if err != nil {
			logger.Error("failed to create telegram notifier", "error", err)
			os.Exit(1)
		}
		logger.Info("telegram poll summaries enabled", "chat_id", cfg.TelegramChatID)
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Poll immediately, then on every tick until shutdown. Cycles run
	// to completion; cancellation takes effect between cycles.
	logger.Info("polling mailboxes", "interval", cfg.PollInterval)
	runCycle(ctx, poller, notifier)

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("daemon stopped")
			return
		case <-ticker.C:
			runCycle(ctx, poller, notifier)
		}
	}
}

func runCycle(ctx context.Context, poller *mailbox.Poller, notifier *notify.Notifier) {
	stats := poller.Poll(ctx)
	if notifier != nil {
		notifier.PollSummary(ctx, stats)
	}
}

func setupLogger(level, format string) *slog.Logger {
	var handler slog.Handler
	logLevel := parseLevel(level)

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		})
	} else {
		// Pretty colored output for console
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.DateTime,
			NoColor:    false,
		})
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
