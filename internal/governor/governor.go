// Package governor decides whether the engine may send right now, based on
// the persisted daily counter and the batch counter. It only ever answers;
// waiting out a break and recording the send are the caller's job.
package governor

import (
	"context"
	"time"

	"replybot/internal/model"
	"replybot/internal/storage"
)

// Decision is the governor's answer to "may I send now?".
type Decision int

const (
	// Allowed means the send may proceed immediately.
	Allowed Decision = iota
	// BreakRequired means a batch break must be observed first. The
	// decision repeats until BreakObserved resets the batch counter.
	BreakRequired
	// DailyExceeded means the daily ceiling is reached and the run must
	// halt. Nothing resets this before the next UTC day.
	DailyExceeded
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case BreakRequired:
		return "break_required"
	case DailyExceeded:
		return "daily_exceeded"
	default:
		return "unknown"
	}
}

// Governor reads both counters fresh from the store on every decision, so
// restarts and concurrent processes cannot desynchronize it.
type Governor struct {
	store      storage.Storage
	dailyLimit int
	batchSize  int
	now        func() time.Time
}

// New creates a Governor. now supplies the clock for daily bucketing.
func New(store storage.Storage, dailyLimit, batchSize int, now func() time.Time) *Governor {
	return &Governor{store: store, dailyLimit: dailyLimit, batchSize: batchSize, now: now}
}

// MaySend returns the decision for an immediate send. The daily ceiling is
// checked first: once the day is exhausted no amount of breaks helps.
func (g *Governor) MaySend(ctx context.Context) (Decision, error) {
	date := g.now().UTC().Format(model.DateLayout)
	sent, err := g.store.SentCount(ctx, date)
	if err != nil {
		return DailyExceeded, err
	}
	if sent >= g.dailyLimit {
		return DailyExceeded, nil
	}

	inBatch, err := g.store.JobsSinceBreak(ctx)
	if err != nil {
		return DailyExceeded, err
	}
	if inBatch >= g.batchSize {
		return BreakRequired, nil
	}
	return Allowed, nil
}

// BreakObserved resets the batch counter after the caller finished waiting
// out a break. Only an observed break resets it; halting mid-break leaves
// the counter full so the next run breaks first.
func (g *Governor) BreakObserved(ctx context.Context) error {
	return g.store.ResetBatch(ctx)
}

// SentToday returns the current value of today's counter.
func (g *Governor) SentToday(ctx context.Context) (int, error) {
	return g.store.SentCount(ctx, g.now().UTC().Format(model.DateLayout))
}

// Remaining returns how many sends are left under today's ceiling.
func (g *Governor) Remaining(ctx context.Context) (int, error) {
	sent, err := g.SentToday(ctx)
	if err != nil {
		return 0, err
	}
	if sent >= g.dailyLimit {
		return 0, nil
	}
	return g.dailyLimit - sent, nil
}
