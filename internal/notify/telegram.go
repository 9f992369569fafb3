// Package notify delivers real-time detections to Telegram. Delivery is
// fire-and-forget: a slow or failing bot API never blocks ingestion.
package notify

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/officialn8/prediction-market-movers-sub000/internal/config"
	"github.com/officialn8/prediction-market-movers-sub000/internal/domain"
	"github.com/officialn8/prediction-market-movers-sub000/internal/ingest"
)

const sendRetries = 3

// sender is the bot API surface used, extracted for tests.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram broadcasts instant movers and alerts to one chat. A disabled
// notifier is a valid value whose broadcasts are no-ops.
type Telegram struct {
	bot    sender
	chatID int64
	logger *log.Logger
}

// NewTelegram builds a notifier from config. Disabled or tokenless config
// yields a no-op notifier and no error.
func NewTelegram(cfg config.TelegramConfig, logger *log.Logger) (*Telegram, error) {
	if logger == nil {
		logger = log.Default()
	}
	if !cfg.Enabled || cfg.BotToken == "" {
		return &Telegram{logger: logger}, nil
	}

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Telegram{bot: bot, chatID: cfg.ChatID, logger: logger}, nil
}

// Enabled reports whether broadcasts actually go anywhere.
func (t *Telegram) Enabled() bool { return t.bot != nil }

// BroadcastInstantMover sends a mover notification without blocking the
// caller.
func (t *Telegram) BroadcastInstantMover(_ context.Context, venue domain.Source, mover *ingest.InstantMover) {
	if t.bot == nil {
		return
	}
	go t.send(formatInstantMover(venue, mover))
}

// BroadcastAlert sends an alert notification without blocking the caller.
func (t *Telegram) BroadcastAlert(_ context.Context, a *domain.Alert, title string) {
	if t.bot == nil {
		return
	}
	go t.send(formatAlert(a, title))
}

// send delivers one MarkdownV2 message with linear-backoff retry.
func (t *Telegram) send(text string) {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < sendRetries; i++ {
		if _, err := t.bot.Send(msg); err == nil {
			return
		} else {
			lastErr = err
		}
		time.Sleep(time.Second * time.Duration(i+1))
	}
	t.logger.Printf("[notify] telegram send failed after %d retries: %v", sendRetries, lastErr)
}

func formatInstantMover(venue domain.Source, m *ingest.InstantMover) string {
	emoji := "📈"
	if m.NewPrice < m.OldPrice {
		emoji = "📉"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s *Instant mover* \\(%s\\)\n", emoji, escapeMarkdownV2(string(venue))))
	b.WriteString(fmt.Sprintf("%s \\(%s → %s\\)\n",
		escapeMarkdownV2(fmt.Sprintf("%+.1fpp", m.MovePP)),
		escapeMarkdownV2(fmt.Sprintf("%.1f%%", m.OldPrice*100)),
		escapeMarkdownV2(fmt.Sprintf("%.1f%%", m.NewPrice*100))))
	if m.Quality != nil {
		b.WriteString(fmt.Sprintf("quality %s\n", escapeMarkdownV2(fmt.Sprintf("%.1f", *m.Quality))))
	}
	return b.String()
}

func formatAlert(a *domain.Alert, title string) string {
	emoji := "🚨"
	if a.AlertType == domain.AlertTypeVolumeSpike {
		emoji = "📊"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s *%s*\n", emoji, escapeMarkdownV2(strings.ReplaceAll(a.AlertType, "_", " "))))
	if title != "" {
		b.WriteString(escapeMarkdownV2(title))
		b.WriteString("\n")
	}
	b.WriteString(escapeMarkdownV2(a.Reason))
	b.WriteString("\n")
	return b.String()
}

// escapeMarkdownV2 escapes the characters Telegram's MarkdownV2 mode reserves.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4)
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
