// Package scheduler drives reply runs. The engine walks each queued job
// through the duplicate guard, generation with the similarity guard, the
// rate governor and the pacing waits, and finally posts and records the
// reply. One run is active at a time and one goroutine owns it.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"replybot/internal/config"
	"replybot/internal/governor"
	"replybot/internal/guard"
	"replybot/internal/links"
	"replybot/internal/model"
	"replybot/internal/pacing"
	"replybot/internal/queue"
	"replybot/internal/storage"
)

// SettingReplyPrompt is the settings key for the operator's stored system
// prompt. When unset, the generator's built-in prompt applies.
const SettingReplyPrompt = "reply_prompt"

// Submission text shorter than this is treated as absent and the post is
// read from the platform instead.
const minContentRunes = 5

const progressCap = 100

// Generator drafts a reply for a post.
type Generator interface {
	Generate(ctx context.Context, content, prompt string) (string, error)
}

// Poster publishes a reply under a post and returns the confirmation ID.
type Poster interface {
	PostReply(ctx context.Context, postID, text string) (string, error)
}

// PostReader fetches a post's text when the submission carried none.
type PostReader interface {
	GetPost(ctx context.Context, postID string) (string, error)
}

// State names what the engine is doing right now.
type State string

// Engine states, surfaced through Status.
const (
	StateIdle       State = "idle"
	StateGuarding   State = "checking_duplicates"
	StateGenerating State = "generating"
	StateGoverning  State = "checking_limits"
	StateBreaking   State = "batch_break"
	StateDelaying   State = "delaying"
	StatePosting    State = "posting"
	StateCommitting State = "recording"
)

// Run outcomes for Report.Outcome.
const (
	RunCompleted  = "completed"
	RunStopped    = "stopped"
	RunDailyLimit = "daily_limit_reached"
	RunAborted    = "aborted"
)

// Errors returned by Start.
var (
	ErrRunActive   = errors.New("a run is already active")
	ErrEmptyQueue  = errors.New("no workable post links in the submission")
	ErrDailyBudget = errors.New("daily reply limit already reached")
)

var errStore = errors.New("store failure")
var errTooSimilar = errors.New("draft too similar to recent replies")

// StartInfo describes what a freshly started run will work on.
type StartInfo struct {
	RunID  string
	Target int
	Stats  queue.BuildStats
}

// Status is a point-in-time snapshot for the control surface.
type Status struct {
	Running     bool
	RunID       string
	State       State
	QueueLen    int
	Target      int
	Sent        int
	Skipped     int
	Failed      int
	CurrentWait time.Duration
	SentToday   int
	DailyLimit  int
	Progress    []string
}

// Report summarizes a finished run.
type Report struct {
	RunID     string
	Outcome   string
	Sent      int
	Skipped   int
	Failed    int
	SentLinks []string
	Errors    []string
	StartedAt time.Time
	EndedAt   time.Time
}

type session struct {
	runID  string
	ctx    context.Context
	cancel context.CancelFunc
	queue  *queue.Queue
	target int
	done   chan struct{}

	// Mutated by the run goroutine under the engine mutex, read by Status.
	state       State
	sent        int
	skipped     int
	failed      int
	sentLinks   []string
	errs        []string
	currentWait time.Duration
	startedAt   time.Time
}

// Engine owns the active run and everything needed to execute it.
type Engine struct {
	store  storage.Storage
	gen    Generator
	poster Poster
	reader PostReader

	resolver links.Resolver
	dup      *guard.Duplicate
	sim      *guard.Similarity
	gov      *governor.Governor
	pace     *pacing.Policy

	clock     Clock
	log       *slog.Logger
	retryBase time.Duration

	dailyLimit      int
	maxGenAttempts  int
	maxCallAttempts int
	delayFirst      bool

	mu         sync.Mutex
	sess       *session
	lastReport *Report
	progress   []string
}

// New wires an Engine from configuration. Guards, governor and pacing are
// built here; callers supply only the store and the external capabilities.
func New(store storage.Storage, gen Generator, poster Poster, reader PostReader, cfg *config.Config, log *slog.Logger) *Engine {
	e := &Engine{
		store:           store,
		gen:             gen,
		poster:          poster,
		reader:          reader,
		resolver:        links.RegexResolver{},
		dup:             guard.NewDuplicate(store),
		sim:             guard.NewSimilarity(store, guard.DiffScorer{}, cfg.SimilarityThreshold, cfg.SimilarityWindow),
		pace:            pacing.New(cfg.ReplyDelayMin, cfg.ReplyDelayMax, cfg.BatchBreakMin, cfg.BatchBreakMax),
		clock:           realClock{},
		log:             log,
		retryBase:       2 * time.Second,
		dailyLimit:      cfg.DailyReplyLimit,
		maxGenAttempts:  cfg.MaxGenerationAttempts,
		maxCallAttempts: cfg.MaxCallAttempts,
		delayFirst:      cfg.DelayFirstReply,
	}
	e.gov = governor.New(store, cfg.DailyReplyLimit, cfg.BatchSize, e.now)
	return e
}

// SetClock replaces the wall clock (useful for testing).
func (e *Engine) SetClock(c Clock) { e.clock = c }

// SetPacing replaces the pacing policy (useful for testing with seeded
// draws).
func (e *Engine) SetPacing(p *pacing.Policy) { e.pace = p }

// SetRetryBase overrides the default 2s base backoff for external calls.
func (e *Engine) SetRetryBase(d time.Duration) { e.retryBase = d }

func (e *Engine) now() time.Time { return e.clock.Now() }

// Start admits the submitted inputs into a queue and launches a run over
// them in the background. target caps how many replies the run sends;
// zero or negative means as many as the queue and the daily budget allow.
// When every link is filtered out at admission, the returned info still
// carries the admission stats alongside ErrEmptyQueue.
func (e *Engine) Start(ctx context.Context, inputs []links.Input, target int) (*StartInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess != nil {
		return nil, ErrRunActive
	}

	remaining, err := e.gov.Remaining(ctx)
	if err != nil {
		return nil, fmt.Errorf("read daily budget: %w", err)
	}
	if remaining == 0 {
		return nil, ErrDailyBudget
	}

	q, stats, err := queue.Build(ctx, e.store, e.resolver, inputs)
	if err != nil {
		return nil, fmt.Errorf("build queue: %w", err)
	}
	if q.Len() == 0 {
		return &StartInfo{Stats: stats}, ErrEmptyQueue
	}

	if target <= 0 || target > q.Len() {
		target = q.Len()
	}
	if target > remaining {
		target = remaining
	}

	sctx, cancel := context.WithCancel(context.Background())
	sess := &session{
		runID:     uuid.NewString(),
		ctx:       sctx,
		cancel:    cancel,
		queue:     q,
		target:    target,
		done:      make(chan struct{}),
		state:     StateIdle,
		startedAt: e.now(),
	}
	e.sess = sess
	e.progress = nil
	go e.runSession(sess)

	return &StartInfo{RunID: sess.runID, Target: target, Stats: stats}, nil
}

// Stop cancels the active run. The run halts at its next cancellation
// point (all sleeps and external calls are cancellable) and jobs in flight
// are left unrecorded. Reports whether a run was active.
func (e *Engine) Stop() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return false
	}
	e.sess.cancel()
	return true
}

// Wait blocks until the active run finishes, if one is active.
func (e *Engine) Wait() {
	e.mu.Lock()
	sess := e.sess
	e.mu.Unlock()
	if sess != nil {
		<-sess.done
	}
}

// Status snapshots the engine and today's budget.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	sentToday, err := e.gov.SentToday(ctx)
	if err != nil {
		return nil, fmt.Errorf("read daily counter: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	st := &Status{
		State:      StateIdle,
		SentToday:  sentToday,
		DailyLimit: e.dailyLimit,
		Progress:   append([]string(nil), e.progress...),
	}
	if e.sess != nil {
		st.Running = true
		st.RunID = e.sess.runID
		st.State = e.sess.state
		st.QueueLen = e.sess.queue.Len()
		st.Target = e.sess.target
		st.Sent = e.sess.sent
		st.Skipped = e.sess.skipped
		st.Failed = e.sess.failed
		st.CurrentWait = e.sess.currentWait
	}
	return st, nil
}

// LastReport returns the report of the most recently finished run, or nil.
func (e *Engine) LastReport() *Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastReport
}

func (e *Engine) runSession(sess *session) {
	rep := &Report{RunID: sess.runID, Outcome: RunCompleted, StartedAt: sess.startedAt}
	defer func() {
		e.mu.Lock()
		rep.Sent = sess.sent
		rep.Skipped = sess.skipped
		rep.Failed = sess.failed
		rep.SentLinks = sess.sentLinks
		rep.Errors = sess.errs
		rep.EndedAt = e.clock.Now()
		e.lastReport = rep
		e.sess = nil
		e.mu.Unlock()
		sess.cancel()
		close(sess.done)

		e.log.Info("run finished",
			"run_id", sess.runID,
			"outcome", rep.Outcome,
			"sent", rep.Sent,
			"skipped", rep.Skipped,
			"failed", rep.Failed,
		)
	}()

	e.progressf(sess, "run started: %d queued, target %d", sess.queue.Len(), sess.target)

	for {
		if sess.ctx.Err() != nil {
			rep.Outcome = RunStopped
			return
		}
		if e.sent(sess) >= sess.target {
			e.progressf(sess, "target of %d replies reached", sess.target)
			return
		}
		job := sess.queue.Next()
		if job == nil {
			e.progressf(sess, "queue drained")
			return
		}
		if halt := e.processJob(sess, job); halt != "" {
			rep.Outcome = halt
			return
		}
	}
}

// processJob runs one job through the pipeline. A non-empty return is a
// run-level halt outcome; job-level outcomes are recorded and return "".
func (e *Engine) processJob(sess *session, job *model.ReplyJob) (halt string) {
	ctx := sess.ctx

	// First duplicate checkpoint, before any tokens are spent.
	e.setState(sess, StateGuarding)
	dup, err := e.dup.Check(ctx, job.PostID)
	if err != nil {
		return e.abort(sess, job, fmt.Errorf("duplicate check: %w", err))
	}
	if dup {
		e.finishJob(sess, job, model.OutcomeSkippedDuplicate, "already replied", "")
		return ""
	}

	// Post content: the submission text when it is substantial, otherwise
	// read the post from the platform. Fetched text gets the same length
	// check: a media-only or near-empty post has nothing to react to.
	content := strings.TrimSpace(job.Content)
	if len([]rune(content)) < minContentRunes {
		text, err := e.reader.GetPost(ctx, job.PostID)
		if err != nil {
			if ctx.Err() != nil {
				return e.halted(job)
			}
			e.finishJob(sess, job, model.OutcomeSkippedUnread, "cannot read post: "+err.Error(), "")
			return ""
		}
		content = strings.TrimSpace(text)
		if len([]rune(content)) < minContentRunes {
			e.finishJob(sess, job, model.OutcomeSkippedUnread, "post text too short to reply to", "")
			return ""
		}
	}

	e.setState(sess, StateGenerating)
	job.State = model.JobGenerating
	text, err := e.draftReply(ctx, sess, job, content)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return e.halted(job)
	case errors.Is(err, errStore):
		return e.abort(sess, job, err)
	case errors.Is(err, errTooSimilar):
		e.finishJob(sess, job, model.OutcomeSkippedSimilar, err.Error(), "")
		return ""
	default:
		e.finishJob(sess, job, model.OutcomeFailed, "generation failed: "+err.Error(), "")
		return ""
	}

	// Rate governor. A break answer loops back for a fresh decision; the
	// daily ceiling halts the run with the job left queued for another day.
	e.setState(sess, StateGoverning)
	justBroke := false
	for {
		dec, err := e.gov.MaySend(ctx)
		if err != nil {
			return e.abort(sess, job, fmt.Errorf("governor: %w", err))
		}
		if dec == governor.DailyExceeded {
			e.progressf(sess, "daily limit reached, halting run")
			job.State = model.JobQueued
			return RunDailyLimit
		}
		if dec == governor.Allowed {
			break
		}

		d := e.pace.NextBreak()
		e.progressf(sess, "batch full, taking a %s break", d.Round(time.Second))
		e.setState(sess, StateBreaking)
		if err := e.sleep(sess, d); err != nil {
			return e.halted(job)
		}
		if err := e.gov.BreakObserved(ctx); err != nil {
			return e.abort(sess, job, fmt.Errorf("reset batch: %w", err))
		}
		justBroke = true
		e.setState(sess, StateGoverning)
	}

	// Pacing delay between consecutive replies. A break already spaced us
	// out, and the first reply of a run goes out immediately unless
	// configured otherwise.
	if (e.sent(sess) > 0 || e.delayFirst) && !justBroke {
		d := e.pace.NextDelay()
		e.setState(sess, StateDelaying)
		e.progressf(sess, "waiting %s before replying to post %s", d.Round(time.Second), job.PostID)
		if err := e.sleep(sess, d); err != nil {
			return e.halted(job)
		}
	}

	// Second duplicate checkpoint: the waits above take minutes.
	e.setState(sess, StateGuarding)
	dup, err = e.dup.Check(ctx, job.PostID)
	if err != nil {
		return e.abort(sess, job, fmt.Errorf("duplicate re-check: %w", err))
	}
	if dup {
		e.finishJob(sess, job, model.OutcomeSkippedDuplicate, "reply appeared while waiting", text)
		return ""
	}

	e.setState(sess, StatePosting)
	job.State = model.JobAwaitingSend
	confID, err := e.postWithRetry(ctx, job.PostID, text)
	if err != nil {
		if ctx.Err() != nil {
			return e.halted(job)
		}
		outcome := model.OutcomeFailed
		if isRateLimited(err) {
			outcome = model.OutcomeRateLimited
		}
		e.finishJob(sess, job, outcome, "post failed: "+err.Error(), text)
		return ""
	}

	e.setState(sess, StateCommitting)
	rec := &model.ReplyRecord{
		PostID:         job.PostID,
		Link:           job.Link,
		ReplyText:      text,
		ConfirmationID: confID,
		RunID:          sess.runID,
		CreatedAt:      e.now().UTC(),
	}
	if err := e.store.CommitSent(context.WithoutCancel(ctx), rec, e.dailyLimit); err != nil {
		if errors.Is(err, storage.ErrDailyLimit) {
			// Another writer filled the day while we were posting. The
			// reply is live but uncounted; surface that and halt.
			e.log.Error("sent reply refused by daily counter",
				"run_id", sess.runID, "post_id", job.PostID, "confirmation_id", confID)
			e.mu.Lock()
			sess.errs = append(sess.errs, fmt.Sprintf("reply %s published but refused by daily counter", confID))
			e.mu.Unlock()
			job.State = model.JobSent
			return RunDailyLimit
		}
		// The reply is out either way; losing its record is serious.
		return e.abort(sess, job, fmt.Errorf("commit sent reply %s: %w", confID, err))
	}

	job.State = model.JobSent
	e.mu.Lock()
	sess.sent++
	sess.sentLinks = append(sess.sentLinks, job.Link)
	sent, target := sess.sent, sess.target
	e.mu.Unlock()
	e.progressf(sess, "replied to post %s (%d/%d)", job.PostID, sent, target)
	return ""
}

// draftReply generates until the similarity guard accepts, bounded by the
// configured attempt count.
func (e *Engine) draftReply(ctx context.Context, sess *session, job *model.ReplyJob, content string) (string, error) {
	prompt, err := e.store.Setting(ctx, SettingReplyPrompt, "")
	if err != nil {
		return "", fmt.Errorf("%w: load prompt: %w", errStore, err)
	}

	var lastScore float64
	for attempt := 1; attempt <= e.maxGenAttempts; attempt++ {
		text, err := e.generateWithRetry(ctx, content, prompt)
		if err != nil {
			return "", err
		}

		v, err := e.sim.Check(ctx, text, job.PostID)
		if err != nil {
			return "", fmt.Errorf("%w: similarity check: %w", errStore, err)
		}
		if !v.TooSimilar {
			return text, nil
		}
		lastScore = v.Score
		e.progressf(sess, "draft for post %s too close to an earlier reply (%.2f), regenerating", job.PostID, v.Score)
	}
	return "", fmt.Errorf("%w after %d attempts (last score %.2f)", errTooSimilar, e.maxGenAttempts, lastScore)
}

func (e *Engine) generateWithRetry(ctx context.Context, content, prompt string) (string, error) {
	var text string
	backoff := retry.WithMaxRetries(uint64(e.maxCallAttempts-1), retry.NewExponential(e.retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		t, err := e.gen.Generate(ctx, content, prompt)
		if err != nil {
			return retry.RetryableError(err)
		}
		text = t
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	return text, nil
}

func (e *Engine) postWithRetry(ctx context.Context, postID, text string) (string, error) {
	var confID string
	backoff := retry.WithMaxRetries(uint64(e.maxCallAttempts-1), retry.NewExponential(e.retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		id, err := e.poster.PostReply(ctx, postID, text)
		if err != nil {
			if isPermanent(err) {
				return err
			}
			return retry.RetryableError(err)
		}
		confID = id
		return nil
	})
	if err != nil {
		return "", err
	}
	return confID, nil
}

// finishJob records a terminal, non-sent outcome. Record writes survive a
// concurrent stop.
func (e *Engine) finishJob(sess *session, job *model.ReplyJob, outcome model.Outcome, reason, text string) {
	job.State = model.JobState(outcome)
	rec := &model.ReplyRecord{
		PostID:    job.PostID,
		Link:      job.Link,
		ReplyText: text,
		Outcome:   outcome,
		Reason:    reason,
		RunID:     sess.runID,
		CreatedAt: e.now().UTC(),
	}
	if err := e.store.InsertRecord(context.WithoutCancel(sess.ctx), rec); err != nil {
		e.log.Error("record job outcome", "run_id", sess.runID, "post_id", job.PostID, "error", err)
		e.mu.Lock()
		sess.errs = append(sess.errs, fmt.Sprintf("record %s: %v", job.PostID, err))
		e.mu.Unlock()
	}

	e.mu.Lock()
	switch outcome {
	case model.OutcomeFailed, model.OutcomeRateLimited:
		sess.failed++
		sess.errs = append(sess.errs, fmt.Sprintf("post %s: %s", job.PostID, reason))
	default:
		sess.skipped++
	}
	e.mu.Unlock()
	e.progressf(sess, "post %s: %s (%s)", job.PostID, outcome, reason)
}

// halted resets the in-flight job and reports a stop.
func (e *Engine) halted(job *model.ReplyJob) string {
	job.State = model.JobQueued
	return RunStopped
}

// abort handles run-fatal errors (store I/O, lost records).
func (e *Engine) abort(sess *session, job *model.ReplyJob, err error) string {
	if sess.ctx.Err() != nil {
		return e.halted(job)
	}
	e.log.Error("run aborted", "run_id", sess.runID, "post_id", job.PostID, "error", err)
	e.mu.Lock()
	sess.errs = append(sess.errs, err.Error())
	e.mu.Unlock()
	job.State = model.JobQueued
	return RunAborted
}

func (e *Engine) sent(sess *session) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return sess.sent
}

func (e *Engine) setState(sess *session, st State) {
	e.mu.Lock()
	sess.state = st
	e.mu.Unlock()
}

func (e *Engine) sleep(sess *session, d time.Duration) error {
	e.mu.Lock()
	sess.currentWait = d
	e.mu.Unlock()
	err := e.clock.Sleep(sess.ctx, d)
	e.mu.Lock()
	sess.currentWait = 0
	e.mu.Unlock()
	return err
}

// progressf appends a timestamped line to the operator-visible progress
// log and mirrors it to the structured log.
func (e *Engine) progressf(sess *session, format string, args ...any) {
	line := fmt.Sprintf("[%s] %s", e.now().Format("15:04:05"), fmt.Sprintf(format, args...))
	e.mu.Lock()
	e.progress = append(e.progress, line)
	if len(e.progress) > progressCap {
		e.progress = e.progress[len(e.progress)-progressCap:]
	}
	e.mu.Unlock()
	e.log.Info("run progress", "run_id", sess.runID, "msg", fmt.Sprintf(format, args...))
}

func isPermanent(err error) bool {
	var p interface{ Permanent() bool }
	return errors.As(err, &p) && p.Permanent()
}

func isRateLimited(err error) bool {
	var r interface{ RateLimited() bool }
	return errors.As(err, &r) && r.RateLimited()
}
