// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"replybot/internal/model"
)

// ErrDailyLimit is returned by CommitSent when the day's counter is already
// at the configured ceiling. The record is not written and the counter is
// not incremented.
var ErrDailyLimit = errors.New("daily reply limit reached")

// Storage is the interface for all persistence operations.
type Storage interface {
	// InsertRecord persists a terminal record for a job that was not sent
	// (skips, failures, rate limits).
	InsertRecord(ctx context.Context, rec *model.ReplyRecord) error
	// CommitSent atomically records a sent reply, increments the daily
	// counter for the record's UTC date, and advances the batch counter.
	// Returns ErrDailyLimit without side effects if the counter is full.
	CommitSent(ctx context.Context, rec *model.ReplyRecord, dailyLimit int) error

	IsSent(ctx context.Context, postID string) (bool, error)
	SentCount(ctx context.Context, date string) (int, error)
	RecentReplyTexts(ctx context.Context, limit int) ([]string, error)
	ReplyTextsForPost(ctx context.Context, postID string) ([]string, error)

	History(ctx context.Context, since time.Time) ([]model.ReplyRecord, error)
	CountByOutcome(ctx context.Context, since time.Time) (map[model.Outcome]int, error)

	JobsSinceBreak(ctx context.Context) (int, error)
	ResetBatch(ctx context.Context) error

	Setting(ctx context.Context, key, def string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	DeleteSetting(ctx context.Context, key string) error

	// Cleanup deletes non-sent records older than the cutoff. Sent records
	// are kept: they back the duplicate guard.
	Cleanup(ctx context.Context, before time.Time) (int64, error)

	Close() error
}
