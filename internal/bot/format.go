package bot

import (
	"fmt"
	"strings"
	"time"

	"replybot/internal/model"
	"replybot/internal/queue"
	"replybot/internal/scheduler"
)

// historyCap bounds how many records one /history reply lists.
const historyCap = 20

// progressLines bounds how many progress lines /status shows.
const progressLines = 10

// FormatStartInfo summarizes a freshly started run.
func FormatStartInfo(info *scheduler.StartInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run started: %d post(s) queued, replying to up to %d.\n", info.Stats.Queued, info.Target)
	writeAdmission(&b, info.Stats)
	b.WriteString("\nI'll report back when the run finishes. /status shows progress.")
	return b.String()
}

// FormatStartRefused explains why a submission produced no run.
func FormatStartRefused(stats queue.BuildStats) string {
	var b strings.Builder
	b.WriteString("Nothing to do.\n")
	writeAdmission(&b, stats)
	return b.String()
}

func writeAdmission(b *strings.Builder, stats queue.BuildStats) {
	if stats.AlreadySent > 0 {
		fmt.Fprintf(b, "Dropped %d already replied to.\n", stats.AlreadySent)
	}
	if stats.Repeated > 0 {
		fmt.Fprintf(b, "Dropped %d repeated in the submission.\n", stats.Repeated)
	}
	if stats.Invalid > 0 {
		fmt.Fprintf(b, "Ignored %d link(s) without a post ID:\n%s\n", stats.Invalid, strings.Join(stats.InvalidLinks, "\n"))
	}
}

// FormatStatus renders an engine snapshot for the chat.
func FormatStatus(st *scheduler.Status) string {
	var b strings.Builder
	if !st.Running {
		b.WriteString("Engine idle.\n")
		fmt.Fprintf(&b, "Today: %d/%d replies sent.", st.SentToday, st.DailyLimit)
		if len(st.Progress) > 0 {
			b.WriteString("\n\nLast run:\n")
			writeProgress(&b, st.Progress)
		}
		return b.String()
	}

	fmt.Fprintf(&b, "Run %s: %s\n", shortID(st.RunID), stateLabel(st.State))
	if st.CurrentWait > 0 {
		fmt.Fprintf(&b, "Current wait: %s.\n", st.CurrentWait.Round(time.Second))
	}
	fmt.Fprintf(&b, "Sent %d/%d, skipped %d, failed %d, %d queued.\n",
		st.Sent, st.Target, st.Skipped, st.Failed, st.QueueLen)
	fmt.Fprintf(&b, "Today: %d/%d replies sent.\n", st.SentToday, st.DailyLimit)
	if len(st.Progress) > 0 {
		b.WriteString("\nProgress:\n")
		writeProgress(&b, st.Progress)
	}
	return b.String()
}

// FormatReport renders a finished run for the chat.
func FormatReport(rep *scheduler.Report) string {
	var b strings.Builder
	switch rep.Outcome {
	case scheduler.RunCompleted:
		b.WriteString("Run finished.\n")
	case scheduler.RunStopped:
		b.WriteString("Run stopped on request.\n")
	case scheduler.RunDailyLimit:
		b.WriteString("Run halted: daily reply limit reached.\n")
	default:
		b.WriteString("Run aborted on an internal error.\n")
	}
	fmt.Fprintf(&b, "Sent %d, skipped %d, failed %d in %s.\n",
		rep.Sent, rep.Skipped, rep.Failed, rep.EndedAt.Sub(rep.StartedAt).Round(time.Second))

	if len(rep.SentLinks) > 0 {
		b.WriteString("\nReplied to:\n")
		for _, link := range rep.SentLinks {
			b.WriteString(link)
			b.WriteByte('\n')
		}
	}
	if len(rep.Errors) > 0 {
		b.WriteString("\nProblems:\n")
		for _, e := range rep.Errors {
			b.WriteString(e)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// FormatHistory renders recent records, newest first, with a summary line.
func FormatHistory(days int, records []model.ReplyRecord, counts map[model.Outcome]int) string {
	if len(records) == 0 {
		return fmt.Sprintf("No activity in the last %d day(s).", days)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Last %d day(s): %s\n", days, formatCounts(counts))

	shown := records
	if len(shown) > historyCap {
		shown = shown[:historyCap]
	}
	for _, rec := range shown {
		fmt.Fprintf(&b, "\n%s  %s\n%s\n", rec.CreatedAt.Format("2006-01-02 15:04"), outcomeLabel(rec.Outcome), rec.Link)
		switch {
		case rec.Outcome == model.OutcomeSent:
			fmt.Fprintf(&b, "  %q\n", rec.ReplyText)
		case rec.Reason != "":
			fmt.Fprintf(&b, "  %s\n", rec.Reason)
		}
	}
	if len(records) > historyCap {
		fmt.Fprintf(&b, "\n...and %d more.", len(records)-historyCap)
	}
	return b.String()
}

func formatCounts(counts map[model.Outcome]int) string {
	if len(counts) == 0 {
		return "no records"
	}
	order := []model.Outcome{
		model.OutcomeSent,
		model.OutcomeSkippedDuplicate,
		model.OutcomeSkippedSimilar,
		model.OutcomeSkippedUnread,
		model.OutcomeRateLimited,
		model.OutcomeFailed,
	}
	var parts []string
	for _, o := range order {
		if n := counts[o]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, outcomeLabel(o)))
		}
	}
	return strings.Join(parts, ", ")
}

func outcomeLabel(o model.Outcome) string {
	switch o {
	case model.OutcomeSent:
		return "sent"
	case model.OutcomeSkippedDuplicate:
		return "skipped (duplicate)"
	case model.OutcomeSkippedSimilar:
		return "skipped (too similar)"
	case model.OutcomeSkippedUnread:
		return "skipped (unreadable)"
	case model.OutcomeRateLimited:
		return "rate limited"
	case model.OutcomeFailed:
		return "failed"
	default:
		return string(o)
	}
}

func stateLabel(s scheduler.State) string {
	switch s {
	case scheduler.StateGuarding:
		return "checking duplicates"
	case scheduler.StateGenerating:
		return "drafting a reply"
	case scheduler.StateGoverning:
		return "checking limits"
	case scheduler.StateBreaking:
		return "on a batch break"
	case scheduler.StateDelaying:
		return "waiting between replies"
	case scheduler.StatePosting:
		return "posting"
	case scheduler.StateCommitting:
		return "recording"
	default:
		return string(s)
	}
}

func writeProgress(b *strings.Builder, lines []string) {
	start := 0
	if len(lines) > progressLines {
		start = len(lines) - progressLines
	}
	for _, line := range lines[start:] {
		b.WriteString(line)
		b.WriteByte('\n')
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
