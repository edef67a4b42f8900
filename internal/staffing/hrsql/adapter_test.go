package hrsql

import (
	"context"
	"testing"
	"time"

	"github.com/coruna-salud/gemelo/internal/shared/config"
	"github.com/coruna-salud/gemelo/internal/staffing"
)

// TestStopReturnsWithInFlightPoll covers shutdown against a worker that is
// past its context check and about to record lastPoll: Stop must not hold
// the mutex while waiting for the worker, or the two deadlock.
func TestStopReturnsWithInFlightPoll(t *testing.T) {
	a := New(config.HRConfig{PollInterval: time.Second}, staffing.NewStaticProvider(nil))

	ctx, cancel := context.WithCancel(context.Background())
	a.running = true
	a.cancel = cancel

	started := make(chan struct{})
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		close(started)
		// The tail of a poll: cancellation already missed, lastPoll still
		// to be recorded under the mutex
		<-ctx.Done()
		a.mu.Lock()
		a.lastPoll = time.Now()
		a.mu.Unlock()
	}()
	<-started

	done := make(chan error, 1)
	go func() { done <- a.Stop() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Stop failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return while a poll was finishing")
	}

	if a.LastPoll().IsZero() {
		t.Error("Expected the in-flight poll to record its completion")
	}

	if err := a.Stop(); err != nil {
		t.Errorf("Expected second Stop to be a no-op, got %v", err)
	}
}
