package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"replybot/internal/model"
	"replybot/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite allows one writer at a time; a single pooled connection avoids
	// SQLITE_BUSY and keeps :memory: databases shared across callers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=OFF"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("disable foreign keys: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// InsertRecord persists a terminal record for a job that was not sent.
func (s *SQLite) InsertRecord(ctx context.Context, rec *model.ReplyRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reply_records (post_id, link, reply_text, outcome, reason, confirmation_id, run_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.PostID, rec.Link, rec.ReplyText, string(rec.Outcome), rec.Reason, rec.ConfirmationID, rec.RunID,
		rec.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	rec.ID = id
	return nil
}

// CommitSent records a sent reply, the daily counter increment and the batch
// counter advance in a single transaction. The counter is checked inside the
// transaction: at the ceiling nothing is written and ErrDailyLimit is
// returned.
func (s *SQLite) CommitSent(ctx context.Context, rec *model.ReplyRecord, dailyLimit int) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.Outcome = model.OutcomeSent
	date := rec.CreatedAt.UTC().Format(model.DateLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO daily_counters (date, count) VALUES (?, 0) ON CONFLICT(date) DO NOTHING`, date,
	); err != nil {
		return fmt.Errorf("init daily counter: %w", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT count FROM daily_counters WHERE date = ?`, date,
	).Scan(&count); err != nil {
		return fmt.Errorf("read daily counter: %w", err)
	}
	if count >= dailyLimit {
		return fmt.Errorf("commit sent on %s: %w", date, ErrDailyLimit)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE daily_counters SET count = count + 1 WHERE date = ?`, date,
	); err != nil {
		return fmt.Errorf("increment daily counter: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO reply_records (post_id, link, reply_text, outcome, reason, confirmation_id, run_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.PostID, rec.Link, rec.ReplyText, string(rec.Outcome), rec.Reason, rec.ConfirmationID, rec.RunID,
		rec.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert sent record: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE batch_state SET jobs_since_break = jobs_since_break + 1 WHERE id = 1`,
	); err != nil {
		return fmt.Errorf("advance batch counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	rec.ID = id
	return nil
}

// IsSent checks whether a reply was ever successfully sent to the post.
func (s *SQLite) IsSent(ctx context.Context, postID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reply_records WHERE post_id = ? AND outcome = 'sent'`,
		postID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check sent: %w", err)
	}
	return count > 0, nil
}

// SentCount returns the daily counter value for a UTC date ("2006-01-02").
// Days with no activity report zero.
func (s *SQLite) SentCount(ctx context.Context, date string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT count FROM daily_counters WHERE date = ?`, date,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read daily counter: %w", err)
	}
	return count, nil
}

// RecentReplyTexts returns the texts of the most recently sent replies,
// newest first, capped at limit.
func (s *SQLite) RecentReplyTexts(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT reply_text FROM reply_records WHERE outcome = 'sent' ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent texts: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanTexts(rows)
}

// ReplyTextsForPost returns every reply text ever recorded against the post,
// regardless of outcome.
func (s *SQLite) ReplyTextsForPost(ctx context.Context, postID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT reply_text FROM reply_records WHERE post_id = ? AND reply_text != '' ORDER BY id`,
		postID,
	)
	if err != nil {
		return nil, fmt.Errorf("query post texts: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanTexts(rows)
}

// History returns all records created at or after since, newest first.
func (s *SQLite) History(ctx context.Context, since time.Time) ([]model.ReplyRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, post_id, link, reply_text, outcome, reason, confirmation_id, run_id, created_at
		 FROM reply_records WHERE created_at >= ? ORDER BY id DESC`,
		since.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []model.ReplyRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountByOutcome returns per-outcome record counts since the given time.
func (s *SQLite) CountByOutcome(ctx context.Context, since time.Time) (map[model.Outcome]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT outcome, COUNT(*) FROM reply_records WHERE created_at >= ? GROUP BY outcome`,
		since.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("query outcome counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[model.Outcome]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scan outcome count: %w", err)
		}
		counts[model.Outcome(outcome)] = n
	}
	return counts, rows.Err()
}

// JobsSinceBreak returns the number of replies sent since the last observed
// batch break.
func (s *SQLite) JobsSinceBreak(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT jobs_since_break FROM batch_state WHERE id = 1`,
	).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read batch state: %w", err)
	}
	return n, nil
}

// ResetBatch zeroes the batch counter after a break has been observed.
func (s *SQLite) ResetBatch(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE batch_state SET jobs_since_break = 0 WHERE id = 1`,
	)
	if err != nil {
		return fmt.Errorf("reset batch state: %w", err)
	}
	return nil
}

// Setting returns the stored value for key, or def when the key is unset.
func (s *SQLite) Setting(ctx context.Context, key, def string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return "", fmt.Errorf("get setting: %w", err)
	}
	return value, nil
}

// SetSetting stores or replaces a settings value.
func (s *SQLite) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

// DeleteSetting removes a settings key so its default applies again.
func (s *SQLite) DeleteSetting(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete setting: %w", err)
	}
	return nil
}

// Cleanup deletes non-sent records created before the cutoff, along with
// daily counters older than the cutoff's date. Sent records stay: they are
// the duplicate guard's memory.
func (s *SQLite) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	cutoff := before.UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM reply_records WHERE outcome != 'sent' AND created_at < ?`, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("cleanup records: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM daily_counters WHERE date < ?`, before.UTC().Format(model.DateLayout),
	); err != nil {
		return deleted, fmt.Errorf("cleanup counters: %w", err)
	}
	return deleted, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (model.ReplyRecord, error) {
	var rec model.ReplyRecord
	var outcome, created string
	err := row.Scan(&rec.ID, &rec.PostID, &rec.Link, &rec.ReplyText, &outcome,
		&rec.Reason, &rec.ConfirmationID, &rec.RunID, &created)
	if err != nil {
		return rec, fmt.Errorf("scan record: %w", err)
	}
	rec.Outcome = model.Outcome(outcome)
	rec.CreatedAt, err = time.Parse(timeLayout, created)
	if err != nil {
		return rec, fmt.Errorf("parse created_at: %w", err)
	}
	return rec, nil
}

func scanTexts(rows *sql.Rows) ([]string, error) {
	var texts []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan text: %w", err)
		}
		texts = append(texts, t)
	}
	return texts, rows.Err()
}
