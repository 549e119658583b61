// Package notify pushes operator alerts. The Telegram notifier is nil-safe:
// an unconfigured bot simply drops messages, so callers never branch on it.
package notify

import (
	"fmt"
	"strconv"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Notifier interface {
	Send(msg string)
	Sendf(format string, args ...any)
}

type Telegram struct {
	bot    *tgbot.BotAPI
	chatID int64
	log    *zap.Logger
}

// NewTelegram builds a notifier, or (nil, nil) when token/chat are empty;
// alerts are optional.
func NewTelegram(token, chatID string, log *zap.Logger) (*Telegram, error) {
	if token == "" || chatID == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "telegram chat id %q", chatID)
	}
	bot, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, errors.Wrap(err, "telegram auth")
	}
	return &Telegram{bot: bot, chatID: id, log: log.Named("telegram")}, nil
}

func (t *Telegram) Send(msg string) {
	if t == nil || t.bot == nil {
		return
	}
	if _, err := t.bot.Send(tgbot.NewMessage(t.chatID, msg)); err != nil {
		t.log.Warn("telegram send failed", zap.Error(err))
	}
}

func (t *Telegram) Sendf(format string, args ...any) {
	t.Send(fmt.Sprintf(format, args...))
}
