package bot

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"replybot/internal/config"
	"replybot/internal/fetcher"
	"replybot/internal/links"
	"replybot/internal/scheduler"
	"replybot/internal/storage"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// replyEngine is the part of the scheduler the bot drives.
type replyEngine interface {
	Start(ctx context.Context, inputs []links.Input, target int) (*scheduler.StartInfo, error)
	Stop() bool
	Status(ctx context.Context) (*scheduler.Status, error)
	LastReport() *scheduler.Report
	Wait()
}

// Bot is the Telegram control surface for the reply engine.
type Bot struct {
	api     telegramAPI
	engine  replyEngine
	store   storage.Storage
	cfg     *config.Config
	fetcher *fetcher.Fetcher
	log     *slog.Logger
}

// New creates a Bot with the given Telegram token, engine, storage, and config.
func New(token string, engine *scheduler.Engine, store storage.Storage, cfg *config.Config, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	return &Bot{
		api:     api,
		engine:  engine,
		store:   store,
		cfg:     cfg,
		fetcher: fetcher.New(http.DefaultClient),
		log:     log,
	}, nil
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			if update.CallbackQuery != nil {
				b.handleCallback(ctx, update.CallbackQuery)
				continue
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if !b.cfg.IsUserAllowed(update.Message.From.ID) {
				b.reply(update.Message.Chat.ID, "Access denied.")
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
	}
}

// SendMessage sends a text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case "run":
		b.handleRun(ctx, chatID, args)
	case "runfeed":
		b.handleRunFeed(ctx, chatID, args)
	case cmdStop:
		b.handleStop(chatID)
	case cmdStatus:
		b.handleStatus(ctx, chatID)
	case "history":
		b.handleHistory(ctx, chatID, args)
	case "prompt":
		b.handlePrompt(ctx, chatID)
	case "setprompt":
		b.handleSetPrompt(ctx, chatID, args)
	case "resetprompt":
		b.handleResetPrompt(ctx, chatID)
	case "feed":
		b.handleFeed(ctx, chatID, args)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}
