package notify

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// TelegramNotifier pushes error-severity outcomes to an ops chat. Success
// and info stay local; the chat is for things that need a human.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *zerolog.Logger
}

// NewTelegramNotifier connects the bot and verifies the token.
func NewTelegramNotifier(token string, chatID int64, logger *zerolog.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &TelegramNotifier{bot: bot, chatID: chatID, logger: logger}, nil
}

func (n *TelegramNotifier) Notify(message, severity string) {
	if severity != SeverityError {
		return
	}
	msg := tgbotapi.NewMessage(n.chatID, "⚠️ "+message)
	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Warn().Err(err).Msg("telegram notification failed")
	}
}
