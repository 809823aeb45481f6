package notify

import (
	"context"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramNotifier pushes ops alerts (refunds, chargebacks, payment failures)
// to a Telegram chat. Delivery is best effort; failures are logged and
// dropped so billing processing never stalls on the messenger.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    *slog.Logger
}

// NewTelegramNotifier returns nil when the token or chat id is missing;
// callers treat a nil notifier as "alerts disabled".
func NewTelegramNotifier(token string, chatID int64, log *slog.Logger) (*TelegramNotifier, error) {
	if token == "" || chatID == 0 {
		return nil, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &TelegramNotifier{bot: bot, chatID: chatID, log: log}, nil
}

func (n *TelegramNotifier) Notify(ctx context.Context, text string) {
	if n == nil || n.bot == nil {
		return
	}
	if err := ctx.Err(); err != nil {
		return
	}
	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.bot.Send(msg); err != nil {
		n.log.Warn("ops alert delivery failed", "error", err)
	}
}
