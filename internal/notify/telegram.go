package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/prophit/market-tracker/internal/model"
)

// maxTelegramRows keeps a message well under Telegram's 4096 character limit.
const maxTelegramRows = 15

// TelegramConfig configures the Telegram notifier.
type TelegramConfig struct {
	BotToken   string
	ChatID     string
	MaxRetries int
	RetryDelay time.Duration
	// APIEndpoint overrides the Bot API URL template, e.g. for tests.
	APIEndpoint string
}

// Telegram sends movement alerts to a chat.
type Telegram struct {
	bot        *tgbotapi.BotAPI
	chatID     int64
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewTelegram authenticates the bot and validates the chat ID.
func NewTelegram(cfg TelegramConfig, logger *slog.Logger) (*Telegram, error) {
	if logger == nil {
		logger = slog.Default()
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(cfg.ChatID), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram chat ID: %w", err)
	}
	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithClient(cfg.BotToken, endpoint, &http.Client{Timeout: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &Telegram{
		bot:        bot,
		chatID:     chatID,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     logger,
	}, nil
}

// NotifyMovements sends one message summarizing the movements.
func (t *Telegram) NotifyMovements(ctx context.Context, movements []model.MovementView) error {
	if len(movements) == 0 {
		return nil
	}
	return t.send(ctx, FormatMovements(movements))
}

// send posts a MarkdownV2 message with linear-backoff retry.
func (t *Telegram) send(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.DisableWebPagePreview = true

	var lastErr error
	for i := 0; i < t.maxRetries; i++ {
		if _, err := t.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
			t.logger.Warn("telegram send failed", "attempt", i+1, "err", err)
		}
		if i == t.maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("telegram send: %w", ctx.Err())
		case <-time.After(t.retryDelay * time.Duration(i+1)):
		}
	}
	return fmt.Errorf("telegram send failed after %d attempts: %w", t.maxRetries, lastErr)
}

// FormatMovements renders movements as a Telegram MarkdownV2 message.
func FormatMovements(movements []model.MovementView) string {
	var b strings.Builder
	b.WriteString("🚨 *Significant Price Movements*\n\n")

	shown := movements
	if len(shown) > maxTelegramRows {
		shown = shown[:maxTelegramRows]
	}
	for i, mv := range shown {
		arrow := "📈"
		if mv.ChangePercent < 0 {
			arrow = "📉"
		}
		fmt.Fprintf(&b, "%d\\. %s\n", i+1, escapeMarkdownV2(mv.MarketQuestion))
		fmt.Fprintf(&b, "   %s *%s* %s \\(%s → %s\\)\n",
			arrow,
			escapeMarkdownV2(mv.Outcome),
			escapeMarkdownV2(fmt.Sprintf("%+.2f%%", mv.ChangePercent)),
			escapeMarkdownV2(fmt.Sprintf("%.1f%%", mv.OldPrice*100)),
			escapeMarkdownV2(fmt.Sprintf("%.1f%%", mv.NewPrice*100)),
		)
	}
	if extra := len(movements) - len(shown); extra > 0 {
		fmt.Fprintf(&b, "\n_and %d more_\n", extra)
	}
	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4)
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
