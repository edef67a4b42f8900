package sim

import (
	"testing"
	"time"
)

var clockStart = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func TestNewClockRejectsBadSpeed(t *testing.T) {
	if _, err := NewClock(clockStart, 0); err == nil {
		t.Error("Expected zero speed to be rejected")
	}
	if _, err := NewClock(clockStart, -1); err == nil {
		t.Error("Expected negative speed to be rejected")
	}
}

func TestClockStartsPaused(t *testing.T) {
	c, err := NewClock(clockStart, 60)
	if err != nil {
		t.Fatalf("NewClock failed: %v", err)
	}
	if !c.Paused() {
		t.Error("Expected new clock to start paused")
	}
	if !c.Now().Equal(clockStart) {
		t.Errorf("Expected paused clock at start time, got %v", c.Now())
	}

	time.Sleep(10 * time.Millisecond)
	if !c.Now().Equal(clockStart) {
		t.Error("Expected paused clock not to advance")
	}
}

func TestClockAdvancesWhenRunning(t *testing.T) {
	c, _ := NewClock(clockStart, 3600) // one sim hour per wall second
	c.Resume()
	time.Sleep(20 * time.Millisecond)

	elapsed := c.Now().Sub(clockStart)
	if elapsed <= 0 {
		t.Error("Expected running clock to advance")
	}
	// 20ms of wall time at 3600x is 72s of sim time; allow generous slack
	if elapsed > 10*time.Minute {
		t.Errorf("Expected roughly a minute of sim time, got %v", elapsed)
	}
}

func TestPauseResumeIdempotent(t *testing.T) {
	c, _ := NewClock(clockStart, 60)

	c.Pause()
	c.Pause()
	at := c.Now()

	c.Resume()
	c.Resume()
	time.Sleep(5 * time.Millisecond)
	if !c.Now().After(at) {
		t.Error("Expected clock to advance after Resume")
	}

	c.Pause()
	frozen := c.Now()
	time.Sleep(5 * time.Millisecond)
	if !c.Now().Equal(frozen) {
		t.Error("Expected clock frozen after Pause")
	}
}

func TestSetSpeedValidation(t *testing.T) {
	c, _ := NewClock(clockStart, 60)

	if err := c.SetSpeed(0); err == nil {
		t.Error("Expected zero speed to be rejected")
	}
	if err := c.SetSpeed(-5); err == nil {
		t.Error("Expected negative speed to be rejected")
	}
	if c.Speed() != 60 {
		t.Errorf("Expected rejected speed change to leave 60, got %f", c.Speed())
	}
	if err := c.SetSpeed(120); err != nil {
		t.Errorf("Expected valid speed to be accepted, got %v", err)
	}
	if c.Speed() != 120 {
		t.Errorf("Expected speed 120, got %f", c.Speed())
	}
}

func TestSetSpeedDoesNotMoveTime(t *testing.T) {
	c, _ := NewClock(clockStart, 60)
	before := c.Now()
	if err := c.SetSpeed(7200); err != nil {
		t.Fatalf("SetSpeed failed: %v", err)
	}
	after := c.Now()
	if after.Sub(before) > time.Minute {
		t.Errorf("Expected speed change not to jump sim time, moved %v", after.Sub(before))
	}
}

func TestAdvanceTo(t *testing.T) {
	c, _ := NewClock(clockStart, 60)

	target := clockStart.Add(6 * time.Hour)
	c.AdvanceTo(target)
	if !c.Now().Equal(target) {
		t.Errorf("Expected clock at %v after AdvanceTo, got %v", target, c.Now())
	}

	// Jumps into the past are ignored
	c.AdvanceTo(clockStart)
	if !c.Now().Equal(target) {
		t.Errorf("Expected backwards AdvanceTo to be ignored, got %v", c.Now())
	}
}
