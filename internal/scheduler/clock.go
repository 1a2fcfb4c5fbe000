package scheduler

import (
	"context"
	"time"
)

// Clock abstracts time for the engine so tests can observe and skip the
// long pacing waits.
type Clock interface {
	Now() time.Time
	// Sleep waits for d or until ctx is cancelled, returning the context
	// error in the second case.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
