package subscription

import (
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultBackoffBase = time.Second
	DefaultBackoffCap  = 30 * time.Second
)

// fullJitter is an exponential backoff.BackOff that waits a uniformly random duration
// in [0, min(limit, base*2^attempt)]. It is owned by a single topic actor.
type fullJitter struct {
	base    time.Duration
	limit   time.Duration
	attempt uint
	rnd     func(n int64) int64
}

func newFullJitter(base, limit time.Duration) *fullJitter {
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if limit < base {
		limit = base
	}
	return &fullJitter{base: base, limit: limit, rnd: rand.Int63n}
}

// ceiling is the upper bound of the next wait.
func (b *fullJitter) ceiling() time.Duration {
	if b.attempt >= 32 {
		return b.limit
	}
	d := b.base << b.attempt
	if d <= 0 || d > b.limit {
		return b.limit
	}
	return d
}

func (b *fullJitter) NextBackOff() time.Duration {
	ceil := b.ceiling()
	b.attempt++
	return time.Duration(b.rnd(int64(ceil) + 1))
}

func (b *fullJitter) Reset() { b.attempt = 0 }

var _ backoff.BackOff = (*fullJitter)(nil)
