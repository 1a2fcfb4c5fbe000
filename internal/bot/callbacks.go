package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	cmdStop   = "stop"
	cmdStatus = "status"

	cbStop    = "run:stop"
	cbRefresh = "status:refresh"
)

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	callback := tgbotapi.NewCallback(cb.ID, "")
	if _, err := b.api.Send(callback); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	chatID := cb.Message.Chat.ID
	if !b.cfg.IsUserAllowed(cb.From.ID) {
		return
	}

	b.log.Info("callback",
		"action", cb.Data,
		"chat_id", chatID,
		"user_id", cb.From.ID,
		"username", cb.From.UserName,
	)

	switch cb.Data {
	case cbStop:
		b.handleStop(chatID)
	case cbRefresh:
		b.handleStatus(ctx, chatID)
	}
}
