// Package notify delivers user messages and audit-channel entries through
// the Telegram Bot API.
package notify

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/levantcash/bursar/pkg/logging"
)

// Notifier sends Telegram messages. Delivery is fire and forget: every
// call returns immediately and failures are only logged, because
// notification outcomes must never influence ledger state.
type Notifier struct {
	bot            *tgbotapi.BotAPI
	auditChannelID int64
	logger         logging.Entry
}

// New creates a Telegram notifier. auditChannelID addresses the operator
// audit channel; zero disables audit entries.
func New(botToken string, auditChannelID int64, logger logging.Logger) (*Notifier, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, err
	}
	return &Notifier{
		bot:            bot,
		auditChannelID: auditChannelID,
		logger:         logging.WithComponent(logger, "notifier"),
	}, nil
}

// Notify sends a message to one user. Telegram chat ids for direct chats
// equal the user id.
func (n *Notifier) Notify(ctx context.Context, userID int64, text string) {
	n.send(userID, text)
}

// LogToAudit posts an entry to the operator audit channel.
func (n *Notifier) LogToAudit(ctx context.Context, text string) {
	if n.auditChannelID == 0 {
		return
	}
	n.send(n.auditChannelID, text)
}

func (n *Notifier) send(chatID int64, text string) {
	go func() {
		msg := tgbotapi.NewMessage(chatID, text)
		if _, err := n.bot.Send(msg); err != nil {
			n.logger.WithError(err).WithField("chat_id", chatID).Warn("Notification delivery failed")
		}
	}()
}
