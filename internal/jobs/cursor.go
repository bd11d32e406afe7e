package jobs

import (
	"sync"
	"time"

	"cronhost/internal/cronexpr"
)

// Cursor holds the next expected occurrence of one recurring job.
//
// The scheduler loop is the only writer; the mutex lets diagnostics read it.
type Cursor struct {
	sched *cronexpr.Schedule

	mu   sync.Mutex
	next time.Time
}

func newCursor(sched *cronexpr.Schedule) *Cursor {
	return &Cursor{sched: sched}
}

// Reset recomputes the next occurrence strictly after now.
func (c *Cursor) Reset(now time.Time) error {
	n, err := c.sched.Next(now)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.next = n
	c.mu.Unlock()
	return nil
}

// Due reports whether the occurrence the cursor points at has been reached.
func (c *Cursor) Due(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.next.IsZero() && !now.Before(c.next)
}

// Advance moves the cursor past now. A cursor never moves backwards.
func (c *Cursor) Advance(now time.Time) error {
	n, err := c.sched.Next(now)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if n.After(c.next) {
		c.next = n
	}
	c.mu.Unlock()
	return nil
}

func (c *Cursor) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}
