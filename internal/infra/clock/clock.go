// Package clock supplies the current time to the services.
//
// Services never call time.Now() directly; they receive a Clock so that
// reminder windows and invitation expiry can be tested deterministically.
package clock

import (
	"sync"
	"time"
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

// Real returns the system time in a fixed location.
type Real struct {
	Location *time.Location
}

// Now returns the current system time.
func (c Real) Now() time.Time {
	if c.Location == nil {
		return time.Now()
	}
	return time.Now().In(c.Location)
}

// Fixed always returns T.
type Fixed struct {
	T time.Time
}

func (c Fixed) Now() time.Time {
	return c.T
}

// Func wraps a function as a Clock. Handy for tests that advance time.
type Func func() time.Time

func (f Func) Now() time.Time {
	return f()
}

// NewReal returns a Clock backed by the system time in loc.
// Use only at the application entry point.
func NewReal(loc *time.Location) Clock {
	return Real{Location: loc}
}

// NewFixed returns a Clock that always returns t.
func NewFixed(t time.Time) Clock {
	return Fixed{T: t}
}

// Manual is a settable clock for tests. Safe for concurrent use.
type Manual struct {
	mu sync.Mutex
	t  time.Time
}

func NewManual(t time.Time) *Manual {
	return &Manual{t: t}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t
}

func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.t = t
	m.mu.Unlock()
}

// Advance moves the clock forward by d and returns the new time.
func (m *Manual) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = m.t.Add(d)
	return m.t
}
