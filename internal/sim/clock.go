package sim

import (
	"sync"
	"time"

	"github.com/coruna-salud/gemelo/internal/shared/errors"
)

// Clock maps wall time onto simulated time at a configurable speed.
// Simulated time never moves backwards: speed changes and skips rebase
// the mapping from the current simulated instant.
type Clock struct {
	mu       sync.Mutex
	speed    float64
	simBase  time.Time
	wallBase time.Time
	paused   bool
}

// NewClock starts paused at the given simulated time
func NewClock(start time.Time, speed float64) (*Clock, error) {
	if speed <= 0 {
		return nil, errors.Configf("clock speed must be positive, got %v", speed)
	}
	return &Clock{
		speed:    speed,
		simBase:  start,
		wallBase: time.Now(),
		paused:   true,
	}, nil
}

// Now returns the current simulated time
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowLocked()
}

func (c *Clock) nowLocked() time.Time {
	if c.paused {
		return c.simBase
	}
	elapsed := time.Since(c.wallBase)
	return c.simBase.Add(time.Duration(float64(elapsed) * c.speed))
}

// Pause freezes simulated time. Idempotent.
func (c *Clock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		return
	}
	c.simBase = c.nowLocked()
	c.paused = true
}

// Resume unfreezes simulated time. Idempotent.
func (c *Clock) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		return
	}
	c.wallBase = time.Now()
	c.paused = false
}

// Paused reports whether the clock is frozen
func (c *Clock) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Speed returns the current real-time multiplier
func (c *Clock) Speed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speed
}

// SetSpeed changes the real-time multiplier without moving simulated time
func (c *Clock) SetSpeed(speed float64) error {
	if speed <= 0 {
		return errors.Configf("clock speed must be positive, got %v", speed)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.simBase = c.nowLocked()
	c.wallBase = time.Now()
	c.speed = speed
	return nil
}

// AdvanceTo jumps simulated time forward to t. Jumps into the past are
// ignored.
func (c *Clock) AdvanceTo(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.Before(c.nowLocked()) {
		return
	}
	c.simBase = t
	c.wallBase = time.Now()
}
