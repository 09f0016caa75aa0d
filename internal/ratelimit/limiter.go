// Package ratelimit implements the dual sliding-window admission control that
// sits in front of every upstream API call. One Limiter instance is shared by
// all concurrent refresh runs.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	shortWindow = time.Second
	longWindow  = 2 * time.Minute
)

// Limiter admits requests under two sliding windows: a short window capping
// requests per second and a long window capping requests per two minutes.
// Each window is a queue of admission timestamps; an admission is allowed when
// both queues, after expiring old entries, are below capacity.
type Limiter struct {
	mu sync.Mutex

	perShort int
	perLong  int

	short []time.Time
	long  []time.Time

	clock clockwork.Clock
}

// New constructs a Limiter. Both limits must be positive: a zero limit would
// otherwise admit everything, which is the opposite of what the caller asked
// for.
func New(perSecond, perTwoMinutes int, clock clockwork.Clock) (*Limiter, error) {
	if perSecond <= 0 {
		return nil, fmt.Errorf("ratelimit: per-second limit must be positive, got %d", perSecond)
	}
	if perTwoMinutes <= 0 {
		return nil, fmt.Errorf("ratelimit: per-two-minutes limit must be positive, got %d", perTwoMinutes)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Limiter{
		perShort: perSecond,
		perLong:  perTwoMinutes,
		clock:    clock,
	}, nil
}

// Admit blocks until one upstream request may be issued, then records the
// admission in both windows. It returns an error only when ctx is cancelled
// while waiting. Admission order across goroutines is first-come-first-served
// on the internal mutex, not fair per team.
func (l *Limiter) Admit(ctx context.Context) error {
	for {
		wait, ok := l.tryAdmit()
		if ok {
			return nil
		}

		// A window is full. Sleep until its oldest entry ages out, then
		// re-evaluate from scratch: the other window may have filled up in
		// the meantime.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.clock.After(wait):
		}
	}
}

// tryAdmit expires stale entries, then either records an admission (true) or
// reports how long to wait before the fullest window frees a slot (false).
func (l *Limiter) tryAdmit() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.short = expire(l.short, now.Add(-shortWindow))
	l.long = expire(l.long, now.Add(-longWindow))

	if len(l.short) >= l.perShort {
		return l.short[0].Add(shortWindow).Sub(now), false
	}
	if len(l.long) >= l.perLong {
		return l.long[0].Add(longWindow).Sub(now), false
	}

	l.short = append(l.short, now)
	l.long = append(l.long, now)
	return 0, true
}

// expire drops timestamps at or before cutoff. Entries are appended in
// monotonic order, so the survivors are a suffix.
func expire(queue []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(queue) && !queue[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return queue
	}
	return append(queue[:0], queue[i:]...)
}
