// Package clock supplies "now" to every component.
// The accelerated clock compresses real time so multi-day reminder
// cadences can be exercised in seconds.
package clock

import (
	"fmt"
	"sync"
	"time"

	"github.com/quantumlife/companion/internal/core"
)

// DefaultMultiplier makes one real second equal ten fake minutes.
const DefaultMultiplier = 600.0

// Clock is the single source of the current time.
type Clock interface {
	Now() time.Time
}

// Real is the wall clock.
type Real struct{}

// Now returns time.Now.
func (Real) Now() time.Time { return time.Now() }

// Status describes an accelerated clock.
type Status struct {
	Running    bool      `json:"running"`
	Multiplier float64   `json:"multiplier"`
	FakeNow    time.Time `json:"fake_now"`
	RealNow    time.Time `json:"real_now"`
	FakeStart  time.Time `json:"fake_start,omitempty"`
	RealStart  time.Time `json:"real_start,omitempty"`
}

// Accelerated runs fake time at a multiple of real time once started.
// While stopped it reports real time.
type Accelerated struct {
	mu         sync.RWMutex
	running    bool
	fakeStart  time.Time
	realStart  time.Time
	multiplier float64
	realNow    func() time.Time
}

// NewAccelerated creates a stopped accelerated clock.
func NewAccelerated() *Accelerated {
	return &Accelerated{multiplier: DefaultMultiplier, realNow: time.Now}
}

// Start begins fake time at start. A non-positive multiplier keeps the
// current one.
func (a *Accelerated) Start(start time.Time, multiplier float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if multiplier > 0 {
		a.multiplier = multiplier
	}
	a.fakeStart = start
	a.realStart = a.realNow()
	a.running = true
}

// Stop returns the clock to real time.
func (a *Accelerated) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.running = false
}

// SetMultiplier changes the speed without jumping the fake time.
func (a *Accelerated) SetMultiplier(multiplier float64) error {
	if multiplier <= 0 {
		return fmt.Errorf("%w: multiplier must be positive", core.ErrInvalidInput)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return core.ErrClockNotRunning
	}
	realNow := a.realNow()
	a.fakeStart = a.fakeAt(realNow)
	a.realStart = realNow
	a.multiplier = multiplier
	return nil
}

// JumpTo moves fake time to t and keeps running from there.
func (a *Accelerated) JumpTo(t time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return core.ErrClockNotRunning
	}
	a.fakeStart = t
	a.realStart = a.realNow()
	return nil
}

// Now returns the fake time, or real time when stopped.
func (a *Accelerated) Now() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()

	realNow := a.realNow()
	if !a.running {
		return realNow
	}
	return a.fakeAt(realNow)
}

// Running reports whether fake time is active.
func (a *Accelerated) Running() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.running
}

// Multiplier returns the effective speed: 1 when stopped.
func (a *Accelerated) Multiplier() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.running {
		return 1
	}
	return a.multiplier
}

// Status returns a snapshot for the debug surface.
func (a *Accelerated) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()

	realNow := a.realNow()
	st := Status{
		Running:    a.running,
		Multiplier: a.multiplier,
		RealNow:    realNow,
		FakeNow:    realNow,
	}
	if a.running {
		st.FakeNow = a.fakeAt(realNow)
		st.FakeStart = a.fakeStart
		st.RealStart = a.realStart
	}
	return st
}

// fakeAt must be called with the lock held.
func (a *Accelerated) fakeAt(realNow time.Time) time.Time {
	elapsed := realNow.Sub(a.realStart)
	return a.fakeStart.Add(time.Duration(float64(elapsed) * a.multiplier))
}

// Manual is a clock that only moves when told to.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual returns a manual clock set to t.
func NewManual(t time.Time) *Manual {
	return &Manual{now: t}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}
