// Package guard implements the safety checks that run before a reply is
// generated or posted: the duplicate guard (never reply to the same post
// twice) and the similarity guard (never post near-identical text twice).
package guard

import (
	"context"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"replybot/internal/storage"
)

// Scorer computes a similarity ratio between two texts in [0, 1], where 1
// means identical.
type Scorer interface {
	Score(a, b string) float64
}

// DiffScorer scores with a diff-based Levenshtein ratio, the same shape of
// measure classic sequence matchers produce.
type DiffScorer struct{}

// Score implements Scorer. Comparison is case-insensitive and ignores
// leading and trailing whitespace.
func (DiffScorer) Score(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == b {
		return 1
	}
	longest := max(len([]rune(a)), len([]rune(b)))
	if longest == 0 {
		return 1
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(a, b, false)
	distance := dmp.DiffLevenshtein(diffs)
	// The diff is not guaranteed minimal, so the distance can exceed the
	// longer text's rune count; clamp to keep the ratio in [0, 1].
	return min(1, max(0, 1-float64(distance)/float64(longest)))
}

// Duplicate refuses jobs whose post already has a sent reply. It is checked
// twice per job: before generation and again right before posting, since
// time passes between the two.
type Duplicate struct {
	store storage.Storage
}

// NewDuplicate creates a duplicate guard over the given store.
func NewDuplicate(store storage.Storage) *Duplicate {
	return &Duplicate{store: store}
}

// Check reports whether the post already received a reply.
func (d *Duplicate) Check(ctx context.Context, postID string) (bool, error) {
	return d.store.IsSent(ctx, postID)
}

// Verdict is the similarity guard's answer for one candidate text.
type Verdict struct {
	TooSimilar bool
	// Score is the highest similarity found against the comparison set.
	Score float64
	// Against is the existing text that produced Score.
	Against string
}

// Similarity refuses candidate replies that read like something already
// sent. The comparison set is the most recent sent replies (a bounded
// window) plus every prior draft for the same post.
type Similarity struct {
	store     storage.Storage
	scorer    Scorer
	threshold float64
	window    int
}

// NewSimilarity creates a similarity guard. threshold is the ratio at or
// above which a candidate is refused; window bounds how many recent sent
// texts are compared.
func NewSimilarity(store storage.Storage, scorer Scorer, threshold float64, window int) *Similarity {
	return &Similarity{store: store, scorer: scorer, threshold: threshold, window: window}
}

// Check scores candidate against the comparison set for postID.
func (s *Similarity) Check(ctx context.Context, candidate, postID string) (Verdict, error) {
	recent, err := s.store.RecentReplyTexts(ctx, s.window)
	if err != nil {
		return Verdict{}, err
	}
	prior, err := s.store.ReplyTextsForPost(ctx, postID)
	if err != nil {
		return Verdict{}, err
	}

	var v Verdict
	for _, existing := range append(recent, prior...) {
		score := s.scorer.Score(candidate, existing)
		if score > v.Score {
			v.Score = score
			v.Against = existing
		}
		if score >= s.threshold {
			v.TooSimilar = true
		}
	}
	return v, nil
}
