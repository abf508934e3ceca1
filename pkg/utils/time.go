package utils

import (
	"fmt"
	"sync"
	"time"
)

// FormatDuration formats duration in human-readable format
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	if d < time.Hour {
		minutes := d / time.Minute
		seconds := (d % time.Minute) / time.Second
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	hours := d / time.Hour
	minutes := (d % time.Hour) / time.Minute
	return fmt.Sprintf("%dh%dm", hours, minutes)
}

// MonotonicClock hands out UTC timestamps at microsecond precision that
// strictly increase across calls, even when the wall clock stalls or steps back.
type MonotonicClock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{now: time.Now}
}

// NewMonotonicClockFrom uses source as the wall clock.
func NewMonotonicClockFrom(source func() time.Time) *MonotonicClock {
	return &MonotonicClock{now: source}
}

func (c *MonotonicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC().Truncate(time.Microsecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}

// Observe raises the floor so later Now calls come after t.
func (c *MonotonicClock) Observe(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t = t.UTC().Truncate(time.Microsecond)
	if t.After(c.last) {
		c.last = t
	}
}

var defaultClock = NewMonotonicClock()

// Now returns the next timestamp from the process-wide monotonic clock.
func Now() time.Time {
	return defaultClock.Now()
}
