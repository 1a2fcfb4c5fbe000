// Package model defines the domain types used across the application.
package model

import "time"

// DateLayout is the UTC calendar-day format used for daily counters.
const DateLayout = "2006-01-02"

// JobState tracks a reply job through its lifecycle.
type JobState string

// Job lifecycle states. The first three are transient; the rest are terminal
// and double as record outcomes.
const (
	JobQueued       JobState = "queued"
	JobGenerating   JobState = "generating"
	JobAwaitingSend JobState = "awaiting_send"

	JobSent             JobState = "sent"
	JobSkippedDuplicate JobState = "skipped_duplicate"
	JobSkippedSimilar   JobState = "skipped_similar"
	JobSkippedUnread    JobState = "skipped_unreadable"
	JobRateLimited      JobState = "rate_limited"
	JobFailed           JobState = "failed"
)

var terminalStates = map[JobState]bool{
	JobSent:             true,
	JobSkippedDuplicate: true,
	JobSkippedSimilar:   true,
	JobSkippedUnread:    true,
	JobRateLimited:      true,
	JobFailed:           true,
}

// IsTerminal reports whether s is a final state.
func (s JobState) IsTerminal() bool { return terminalStates[s] }

// Outcome is the terminal disposition stored on a ReplyRecord.
type Outcome string

// Record outcomes.
const (
	OutcomeSent             Outcome = Outcome(JobSent)
	OutcomeSkippedDuplicate Outcome = Outcome(JobSkippedDuplicate)
	OutcomeSkippedSimilar   Outcome = Outcome(JobSkippedSimilar)
	OutcomeSkippedUnread    Outcome = Outcome(JobSkippedUnread)
	OutcomeRateLimited      Outcome = Outcome(JobRateLimited)
	OutcomeFailed           Outcome = Outcome(JobFailed)
)

// ReplyJob is one unit of work: reply once to the post behind Link.
type ReplyJob struct {
	PostID  string
	Link    string
	Content string
	State   JobState
}

// ReplyRecord is the persisted trace of a finished job. Records with
// OutcomeSent are what the duplicate guard and the daily counter key off.
type ReplyRecord struct {
	ID             int64
	PostID         string
	Link           string
	ReplyText      string
	Outcome        Outcome
	Reason         string
	ConfirmationID string
	RunID          string
	CreatedAt      time.Time
}
