package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"replybot/internal/fetcher"
	"replybot/internal/links"
	"replybot/internal/llm"
	"replybot/internal/scheduler"
)

// settingFeedURL stores the operator-set feed, overriding FEED_URL.
const settingFeedURL = "feed_url"

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to ReplyBot!

I reply to X posts for you, slowly and carefully: duplicate and
similarity guards, randomized delays, batch breaks and a daily cap.

Quick start:
1. /run <paste text with post links> - queue them and go
2. /status - watch the run
3. /stop - halt it any time

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Runs:
/run [n] <text with links> - reply to the posts found in the text, at most n of them
/runfeed [url] [n] - pull post links from a feed and run on those
/stop - halt the active run
/status - what the engine is doing right now

Records:
/history [days] - outcomes of recent jobs (default 3 days)

Reply style:
/prompt - show the generation prompt in use
/setprompt <text> - use your own prompt
/resetprompt - back to the built-in prompt

Feed:
/feed - show the configured feed
/feed <url> - set the feed (nitter and RSSHub bridges work well)`)
}

func (b *Bot) handleRun(ctx context.Context, chatID int64, args string) {
	limit, text := ParseRunArgs(args)
	inputs := links.Extract(text)
	if len(inputs) == 0 {
		b.reply(chatID, "No post links found. Paste x.com or twitter.com status links after /run.")
		return
	}
	b.startRun(ctx, chatID, inputs, limit)
}

func (b *Bot) handleRunFeed(ctx context.Context, chatID int64, args string) {
	url, limit, err := ParseRunFeedArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	if url == "" {
		if url, err = b.feedURL(ctx); err != nil {
			b.reply(chatID, fmt.Sprintf("Error: %v", err))
			return
		}
	}
	if url == "" {
		b.reply(chatID, "No feed configured. Use /runfeed <url> or set one with /feed <url>.")
		return
	}

	feed, err := b.fetcher.Fetch(ctx, url)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to fetch feed: %v", err))
		return
	}
	inputs, skipped := fetcher.PostInputs(feed.Items)
	if skipped > 0 {
		b.log.Debug("feed items without post links", "url", url, "skipped", skipped)
	}
	if len(inputs) == 0 {
		b.reply(chatID, "The feed has no post links to reply to.")
		return
	}
	b.startRun(ctx, chatID, inputs, limit)
}

func (b *Bot) startRun(ctx context.Context, chatID int64, inputs []links.Input, limit int) {
	info, err := b.engine.Start(ctx, inputs, limit)
	switch {
	case errors.Is(err, scheduler.ErrRunActive):
		b.reply(chatID, "A run is already active. Use /status to watch it or /stop to cancel it.")
		return
	case errors.Is(err, scheduler.ErrDailyBudget):
		b.reply(chatID, "The daily reply limit is already reached. Try again tomorrow (UTC).")
		return
	case errors.Is(err, scheduler.ErrEmptyQueue):
		b.reply(chatID, FormatStartRefused(info.Stats))
		return
	case err != nil:
		b.reply(chatID, fmt.Sprintf("Failed to start run: %v", err))
		return
	}

	b.reply(chatID, FormatStartInfo(info))
	go b.watchRun(chatID, info.RunID)
}

// watchRun delivers the final report to the chat once the run is over.
func (b *Bot) watchRun(chatID int64, runID string) {
	b.engine.Wait()
	rep := b.engine.LastReport()
	if rep == nil || rep.RunID != runID {
		return
	}
	b.SendMessage(chatID, FormatReport(rep))
}

func (b *Bot) handleStop(chatID int64) {
	if b.engine.Stop() {
		b.reply(chatID, "Stop requested. The run halts at its next checkpoint; the report follows.")
		return
	}
	b.reply(chatID, "No run is active.")
}

func (b *Bot) handleStatus(ctx context.Context, chatID int64) {
	st, err := b.engine.Status(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	msg := tgbotapi.NewMessage(chatID, FormatStatus(st))
	msg.DisableWebPagePreview = true
	if st.Running {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Stop run", cbStop),
				tgbotapi.NewInlineKeyboardButtonData("Refresh", cbRefresh),
			),
		)
	}
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send status", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleHistory(ctx context.Context, chatID int64, args string) {
	days, err := ParseDaysArg(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	since := time.Now().UTC().AddDate(0, 0, -days)
	records, err := b.store.History(ctx, since)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	counts, err := b.store.CountByOutcome(ctx, since)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatHistory(days, records, counts))
}

func (b *Bot) handlePrompt(ctx context.Context, chatID int64) {
	prompt, err := b.store.Setting(ctx, scheduler.SettingReplyPrompt, "")
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	if prompt == "" {
		b.reply(chatID, "Using the built-in reply prompt:\n\n"+llm.DefaultPrompt+"\n\nSet your own with /setprompt <text>.")
		return
	}
	b.reply(chatID, "Current reply prompt:\n\n"+prompt+"\n\nReset with /resetprompt.")
}

func (b *Bot) handleSetPrompt(ctx context.Context, chatID int64, args string) {
	if args == "" {
		b.reply(chatID, "Usage: /setprompt <instructions for the reply style>")
		return
	}
	if err := b.store.SetSetting(ctx, scheduler.SettingReplyPrompt, args); err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to save prompt: %v", err))
		return
	}
	b.reply(chatID, "Reply prompt updated. New drafts will use it.")
}

func (b *Bot) handleResetPrompt(ctx context.Context, chatID int64) {
	if err := b.store.DeleteSetting(ctx, scheduler.SettingReplyPrompt); err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to reset prompt: %v", err))
		return
	}
	b.reply(chatID, "Reply prompt reset to the built-in default.")
}

func (b *Bot) handleFeed(ctx context.Context, chatID int64, args string) {
	if args == "" {
		url, err := b.feedURL(ctx)
		if err != nil {
			b.reply(chatID, fmt.Sprintf("Error: %v", err))
			return
		}
		if url == "" {
			b.reply(chatID, "No feed configured. Set one with /feed <url>.")
			return
		}
		b.reply(chatID, "Current feed: "+url)
		return
	}

	if !strings.HasPrefix(args, "http://") && !strings.HasPrefix(args, "https://") {
		b.reply(chatID, "Feed URL must start with http:// or https://.")
		return
	}
	if err := b.store.SetSetting(ctx, settingFeedURL, args); err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to save feed: %v", err))
		return
	}
	b.reply(chatID, "Feed set. Use /runfeed to reply to its posts.")
}

func (b *Bot) feedURL(ctx context.Context) (string, error) {
	return b.store.Setting(ctx, settingFeedURL, b.cfg.FeedURL)
}
