package alerts

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"tradewarden/internal/config"
)

// TelegramAlerter delivers alerts to one or more Telegram chats.
type TelegramAlerter struct {
	api     *tgbotapi.BotAPI
	chatIDs []int64
	logger  zerolog.Logger
}

// NewTelegramAlerter connects the bot API with the given token.
func NewTelegramAlerter(botToken string, chatIDs []int64) (*TelegramAlerter, error) {
	if botToken == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot API: %w", err)
	}

	logger := config.NewLogger("alerts.telegram")
	logger.Info().
		Str("bot_username", api.Self.UserName).
		Int("chat_count", len(chatIDs)).
		Msg("Telegram alerter initialized")

	return &TelegramAlerter{api: api, chatIDs: chatIDs, logger: logger}, nil
}

// Send delivers the alert to every configured chat. Delivery fails only
// when no chat accepts the message.
func (t *TelegramAlerter) Send(ctx context.Context, alert Alert) error {
	if len(t.chatIDs) == 0 {
		t.logger.Warn().Msg("No Telegram chat IDs configured, skipping alert")
		return nil
	}

	message := t.formatAlert(alert)
	var lastErr error
	delivered := 0
	for _, chatID := range t.chatIDs {
		msg := tgbotapi.NewMessage(chatID, message)
		msg.ParseMode = "Markdown"
		if _, err := t.api.Send(msg); err != nil {
			t.logger.Error().
				Err(err).
				Int64("chat_id", chatID).
				Str("alert_title", alert.Title).
				Msg("Failed to send Telegram alert")
			lastErr = err
			continue
		}
		delivered++
	}
	if delivered == 0 && lastErr != nil {
		return fmt.Errorf("failed to deliver alert to any chat: %w", lastErr)
	}
	return nil
}

func (t *TelegramAlerter) formatAlert(alert Alert) string {
	var marker string
	switch alert.Severity {
	case SeverityCritical:
		marker = "🚨"
	case SeverityWarning:
		marker = "⚠️"
	default:
		marker = "ℹ️"
	}

	message := fmt.Sprintf("%s *%s*\n\n%s", marker, alert.Title, alert.Message)
	if len(alert.Metadata) > 0 {
		message += "\n\n*Details:*"
		for key, value := range alert.Metadata {
			message += fmt.Sprintf("\n• %s: `%v`", key, value)
		}
	}
	message += fmt.Sprintf("\n\n_Time: %s_", alert.Timestamp.Format("2006-01-02 15:04:05"))
	return message
}
