package bot

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"replybot/internal/model"
	"replybot/internal/queue"
	"replybot/internal/scheduler"
)

func TestParseRunArgs(t *testing.T) {
	tests := []struct {
		name      string
		args      string
		wantLimit int
		wantText  string
	}{
		{name: "empty", args: "", wantLimit: 0, wantText: ""},
		{
			name:     "text only",
			args:     "check this https://x.com/a/status/1",
			wantText: "check this https://x.com/a/status/1",
		},
		{
			name:      "limit then text",
			args:      "5 https://x.com/a/status/1",
			wantLimit: 5,
			wantText:  "https://x.com/a/status/1",
		},
		{
			name:      "limit then multiline text",
			args:      "7\nhttps://x.com/a/status/1\nhttps://x.com/b/status/2",
			wantLimit: 7,
			wantText:  "https://x.com/a/status/1\nhttps://x.com/b/status/2",
		},
		{name: "bare limit", args: "5", wantLimit: 5, wantText: ""},
		{name: "zero is not a limit", args: "0 words", wantText: "0 words"},
		{name: "negative is not a limit", args: "-3 words", wantText: "-3 words"},
		{name: "word first", args: "reply to these", wantText: "reply to these"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limit, text := ParseRunArgs(tt.args)
			if diff := cmp.Diff(tt.wantLimit, limit); diff != "" {
				t.Errorf("limit mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantText, text); diff != "" {
				t.Errorf("text mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseDaysArg(t *testing.T) {
	tests := []struct {
		name    string
		args    string
		want    int
		wantErr bool
	}{
		{name: "default", args: "", want: 3},
		{name: "valid", args: "7", want: 7},
		{name: "min boundary", args: "1", want: 1},
		{name: "max boundary", args: "90", want: 90},
		{name: "extra tokens ignored", args: "14 whatever", want: 14},
		{name: "too low", args: "0", wantErr: true},
		{name: "too high", args: "91", wantErr: true},
		{name: "not a number", args: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDaysArg(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseRunFeedArgs(t *testing.T) {
	tests := []struct {
		name      string
		args      string
		wantURL   string
		wantLimit int
		wantErr   bool
	}{
		{name: "empty", args: ""},
		{name: "url only", args: "https://nitter.net/golang/rss", wantURL: "https://nitter.net/golang/rss"},
		{name: "limit only", args: "5", wantLimit: 5},
		{
			name:      "url then limit",
			args:      "https://nitter.net/golang/rss 5",
			wantURL:   "https://nitter.net/golang/rss",
			wantLimit: 5,
		},
		{
			name:      "limit then url",
			args:      "5 https://nitter.net/golang/rss",
			wantURL:   "https://nitter.net/golang/rss",
			wantLimit: 5,
		},
		{name: "junk", args: "abc", wantErr: true},
		{name: "zero limit", args: "0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url, limit, err := ParseRunFeedArgs(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.wantURL, url); diff != "" {
				t.Errorf("url mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantLimit, limit); diff != "" {
				t.Errorf("limit mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFormatStartInfo(t *testing.T) {
	info := &scheduler.StartInfo{
		RunID:  "run-1",
		Target: 2,
		Stats: queue.BuildStats{
			Queued:       2,
			AlreadySent:  1,
			Repeated:     1,
			Invalid:      1,
			InvalidLinks: []string{"https://x.com/someone"},
		},
	}
	got := FormatStartInfo(info)
	for _, want := range []string{
		"2 post(s) queued, replying to up to 2",
		"Dropped 1 already replied to",
		"Dropped 1 repeated",
		"Ignored 1 link(s)",
		"https://x.com/someone",
		"/status",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestFormatStatus(t *testing.T) {
	t.Run("idle", func(t *testing.T) {
		st := &scheduler.Status{
			State:      scheduler.StateIdle,
			SentToday:  3,
			DailyLimit: 50,
			Progress:   []string{"[10:00:05] replied to post 111 (1/1)"},
		}
		got := FormatStatus(st)
		for _, want := range []string{"Engine idle.", "Today: 3/50 replies sent.", "Last run:", "replied to post 111"} {
			if !strings.Contains(got, want) {
				t.Errorf("output missing %q:\n%s", want, got)
			}
		}
	})

	t.Run("running", func(t *testing.T) {
		st := &scheduler.Status{
			Running:     true,
			RunID:       "0b7d95f3-1c44-4be2-9c7a-12e4a6d80f21",
			State:       scheduler.StateGenerating,
			QueueLen:    2,
			Target:      3,
			Sent:        1,
			CurrentWait: 90 * time.Second,
			SentToday:   12,
			DailyLimit:  50,
		}
		got := FormatStatus(st)
		for _, want := range []string{
			"Run 0b7d95f3: drafting a reply",
			"Current wait: 1m30s.",
			"Sent 1/3, skipped 0, failed 0, 2 queued.",
			"Today: 12/50 replies sent.",
		} {
			if !strings.Contains(got, want) {
				t.Errorf("output missing %q:\n%s", want, got)
			}
		}
	})

	t.Run("progress trimmed to the tail", func(t *testing.T) {
		var lines []string
		for i := 1; i <= 12; i++ {
			lines = append(lines, fmt.Sprintf("line-%d", i))
		}
		got := FormatStatus(&scheduler.Status{State: scheduler.StateIdle, Progress: lines})
		if strings.Contains(got, "line-1\n") || strings.Contains(got, "line-2\n") {
			t.Errorf("old progress lines should be trimmed:\n%s", got)
		}
		if !strings.Contains(got, "line-12") {
			t.Errorf("latest progress line missing:\n%s", got)
		}
	})
}

func TestFormatReport(t *testing.T) {
	start := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)

	t.Run("completed", func(t *testing.T) {
		rep := &scheduler.Report{
			RunID:     "r1",
			Outcome:   scheduler.RunCompleted,
			Sent:      2,
			Skipped:   1,
			SentLinks: []string{"https://x.com/a/status/1", "https://x.com/b/status/2"},
			StartedAt: start,
			EndedAt:   start.Add(5 * time.Minute),
		}
		got := FormatReport(rep)
		for _, want := range []string{
			"Run finished.",
			"Sent 2, skipped 1, failed 0 in 5m0s.",
			"Replied to:",
			"https://x.com/a/status/1",
			"https://x.com/b/status/2",
		} {
			if !strings.Contains(got, want) {
				t.Errorf("output missing %q:\n%s", want, got)
			}
		}
	})

	t.Run("stopped", func(t *testing.T) {
		got := FormatReport(&scheduler.Report{Outcome: scheduler.RunStopped, StartedAt: start, EndedAt: start})
		if !strings.Contains(got, "stopped on request") {
			t.Errorf("output missing stop notice:\n%s", got)
		}
	})

	t.Run("daily limit", func(t *testing.T) {
		got := FormatReport(&scheduler.Report{Outcome: scheduler.RunDailyLimit, StartedAt: start, EndedAt: start})
		if !strings.Contains(got, "daily reply limit reached") {
			t.Errorf("output missing limit notice:\n%s", got)
		}
	})

	t.Run("aborted with errors", func(t *testing.T) {
		rep := &scheduler.Report{
			Outcome:   scheduler.RunAborted,
			Errors:    []string{"post 123: post failed: x api: status 500"},
			StartedAt: start,
			EndedAt:   start,
		}
		got := FormatReport(rep)
		for _, want := range []string{"aborted on an internal error", "Problems:", "post 123"} {
			if !strings.Contains(got, want) {
				t.Errorf("output missing %q:\n%s", want, got)
			}
		}
	})
}

func TestFormatHistory(t *testing.T) {
	now := time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC)

	t.Run("empty", func(t *testing.T) {
		got := FormatHistory(3, nil, nil)
		if diff := cmp.Diff("No activity in the last 3 day(s).", got); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("mixed outcomes", func(t *testing.T) {
		records := []model.ReplyRecord{
			{
				PostID:    "2",
				Link:      "https://x.com/b/status/2",
				ReplyText: "Nice angle on the rollout.",
				Outcome:   model.OutcomeSent,
				CreatedAt: now,
			},
			{
				PostID:    "1",
				Link:      "https://x.com/a/status/1",
				Outcome:   model.OutcomeSkippedDuplicate,
				Reason:    "already replied",
				CreatedAt: now.Add(-time.Hour),
			},
		}
		counts := map[model.Outcome]int{
			model.OutcomeSent:             1,
			model.OutcomeSkippedDuplicate: 1,
		}
		got := FormatHistory(3, records, counts)
		for _, want := range []string{
			"Last 3 day(s): 1 sent, 1 skipped (duplicate)",
			"2026-02-03 12:00  sent",
			`"Nice angle on the rollout."`,
			"skipped (duplicate)",
			"already replied",
		} {
			if !strings.Contains(got, want) {
				t.Errorf("output missing %q:\n%s", want, got)
			}
		}
	})

	t.Run("long history capped", func(t *testing.T) {
		var records []model.ReplyRecord
		for i := 0; i < 25; i++ {
			records = append(records, model.ReplyRecord{
				PostID:    fmt.Sprintf("%d", i),
				Link:      fmt.Sprintf("https://x.com/u/status/%d", i),
				ReplyText: "text",
				Outcome:   model.OutcomeSent,
				CreatedAt: now,
			})
		}
		got := FormatHistory(7, records, map[model.Outcome]int{model.OutcomeSent: 25})
		if !strings.Contains(got, "...and 5 more.") {
			t.Errorf("output missing overflow notice:\n%s", got)
		}
	})
}

func TestOutcomeLabel(t *testing.T) {
	tests := []struct {
		outcome model.Outcome
		want    string
	}{
		{model.OutcomeSent, "sent"},
		{model.OutcomeSkippedDuplicate, "skipped (duplicate)"},
		{model.OutcomeSkippedSimilar, "skipped (too similar)"},
		{model.OutcomeSkippedUnread, "skipped (unreadable)"},
		{model.OutcomeRateLimited, "rate limited"},
		{model.OutcomeFailed, "failed"},
		{"unknown", "unknown"},
	}

	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			got := outcomeLabel(tt.outcome)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("outcomeLabel(%q) mismatch (-want +got):\n%s", tt.outcome, diff)
			}
		})
	}
}
