// Package pacing draws the randomized waits that make reply timing look
// human: a short delay between consecutive replies and a long break between
// batches.
package pacing

import (
	"math/rand"
	"time"
)

// Policy draws delays uniformly from configured ranges. Bounds are
// inclusive on both ends.
type Policy struct {
	delayMin, delayMax time.Duration
	breakMin, breakMax time.Duration
	rng                *rand.Rand
}

// New creates a Policy seeded from the wall clock.
func New(delayMin, delayMax, breakMin, breakMax time.Duration) *Policy {
	return NewWithRand(delayMin, delayMax, breakMin, breakMax,
		rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewWithRand creates a Policy with a caller-supplied source, for
// deterministic draws in tests.
func NewWithRand(delayMin, delayMax, breakMin, breakMax time.Duration, rng *rand.Rand) *Policy {
	return &Policy{
		delayMin: delayMin,
		delayMax: delayMax,
		breakMin: breakMin,
		breakMax: breakMax,
		rng:      rng,
	}
}

// NextDelay draws the wait before the next reply.
func (p *Policy) NextDelay() time.Duration {
	return p.draw(p.delayMin, p.delayMax)
}

// NextBreak draws the pause between batches.
func (p *Policy) NextBreak() time.Duration {
	return p.draw(p.breakMin, p.breakMax)
}

func (p *Policy) draw(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(p.rng.Int63n(int64(max-min)+1))
}
