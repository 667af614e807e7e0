package host

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads wall time.
var SystemClock Clock = ClockFunc(time.Now)

// monotonicClock never returns a time before one it already returned.
type monotonicClock struct {
	mu   sync.Mutex
	src  Clock
	last time.Time
}

func newMonotonicClock(src Clock) *monotonicClock {
	if src == nil {
		src = SystemClock
	}
	return &monotonicClock{src: src}
}

func (c *monotonicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.src.Now().UTC().Truncate(time.Second)
	if now.Before(c.last) {
		now = c.last
	}
	c.last = now
	return now
}
