// Package telegram delivers notifications to a Telegram chat.
package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sink sends messages to a fixed Telegram chat.
type Sink struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// New creates a Telegram sink. Creating the bot validates the token against
// the Telegram API.
func New(token string, chatID int64) (*Sink, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return &Sink{bot: bot, chatID: chatID}, nil
}

func (s *Sink) Name() string { return "telegram" }

func (s *Sink) Send(_ context.Context, _, title, message string) error {
	msg := tgbotapi.NewMessage(s.chatID, title+"\n\n"+message)
	if _, err := s.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send Telegram message: %w", err)
	}
	return nil
}
