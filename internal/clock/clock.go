// Package clock abstracts the wall clock so expiry and scheduling logic can be
// driven deterministically in tests.
package clock

import (
	"sync"
	"time"
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

// Real implements Clock using the system time.
type Real struct{}

// Now returns the current system time.
func (Real) Now() time.Time {
	return time.Now()
}

// Fake implements Clock with a manually controlled time. It is safe for use
// from the sweeper goroutine and the test goroutine at once.
type Fake struct {
	mu      sync.Mutex
	current time.Time
}

// NewFake creates a Fake clock set to t.
func NewFake(t time.Time) *Fake {
	return &Fake{current: t}
}

// Now returns the fixed time.
func (c *Fake) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Set updates the fixed time.
func (c *Fake) Set(t time.Time) {
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

// Advance moves the fixed time forward by d.
func (c *Fake) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	c.mu.Unlock()
}
