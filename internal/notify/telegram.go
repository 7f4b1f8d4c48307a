// Package notify sends operational summaries of poll cycles. It is an
// optional side channel; failures to deliver are logged and ignored.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-telegram/bot"

	"github.com/marandu/sifen-ingest/internal/mailbox"
)

// Notifier posts poll cycle summaries to a Telegram chat.
type Notifier struct {
	bot    *bot.Bot
	chatID int64
	logger *slog.Logger
}

// New creates a Notifier for the given bot token and chat.
func New(token string, chatID int64, logger *slog.Logger) (*Notifier, error) {
	b, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &Notifier{
		bot:    b,
		chatID: chatID,
		logger: logger.With("component", "notify"),
	}, nil
}

// PollSummary sends one message describing a finished poll cycle.
// Quiet cycles (nothing ingested, nothing failed) are not reported.
func (n *Notifier) PollSummary(ctx context.Context, stats mailbox.CycleStats) {
	if stats.Created == 0 && stats.Failures == 0 && stats.Skipped == 0 {
		return
	}

	text := fmt.Sprintf(
		"SIFEN ingestion cycle\naccounts: %d (skipped %d)\nmessages: %d, removed: %d\ndocuments: %d new, %d existing\nfailures: %d",
		stats.Accounts, stats.Skipped, stats.Messages, stats.Deleted,
		stats.Created, stats.Existing, stats.Failures)

	_, err := n.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: n.chatID,
		Text:   text,
	})
	if err != nil {
		n.logger.Warn("failed to send poll summary", "error", err)
	}
}
