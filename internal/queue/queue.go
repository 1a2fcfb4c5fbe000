// Package queue builds and holds the ordered set of reply jobs for one run.
package queue

import (
	"context"

	"replybot/internal/links"
	"replybot/internal/model"
	"replybot/internal/storage"
)

// BuildStats summarizes what happened to each submitted link during
// admission.
type BuildStats struct {
	Queued       int
	AlreadySent  int
	Repeated     int // same post submitted more than once; first wins
	Invalid      int
	InvalidLinks []string
}

// Queue is a FIFO of jobs. It is owned by a single run and is not
// synchronized.
type Queue struct {
	jobs []*model.ReplyJob
}

// Build resolves, deduplicates and admission-filters the submitted inputs,
// preserving submission order. Posts that already have a sent reply are
// dropped here; the in-run duplicate guard still re-checks each job later.
// A store failure aborts the build.
func Build(ctx context.Context, store storage.Storage, resolver links.Resolver, inputs []links.Input) (*Queue, BuildStats, error) {
	q := &Queue{}
	var stats BuildStats
	seen := make(map[string]bool)

	for _, in := range inputs {
		postID, err := resolver.Resolve(in.Link)
		if err != nil {
			stats.Invalid++
			stats.InvalidLinks = append(stats.InvalidLinks, in.Link)
			continue
		}
		if seen[postID] {
			stats.Repeated++
			continue
		}
		seen[postID] = true

		sent, err := store.IsSent(ctx, postID)
		if err != nil {
			return nil, stats, err
		}
		if sent {
			stats.AlreadySent++
			continue
		}

		q.jobs = append(q.jobs, &model.ReplyJob{
			PostID:  postID,
			Link:    in.Link,
			Content: in.Content,
			State:   model.JobQueued,
		})
		stats.Queued++
	}
	return q, stats, nil
}

// Next pops the oldest job, or nil when the queue is empty.
func (q *Queue) Next() *model.ReplyJob {
	if len(q.jobs) == 0 {
		return nil
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	return job
}

// Len reports how many jobs are still queued.
func (q *Queue) Len() int {
	return len(q.jobs)
}
