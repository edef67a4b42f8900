package hospital

import (
	"testing"
	"time"

	"github.com/coruna-salud/gemelo/internal/shared/types"
	"github.com/coruna-salud/gemelo/internal/triage"
)

func TestEventQueueTimeOrder(t *testing.T) {
	q := &eventQueue{}
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	q.push(&event{at: base.Add(2 * time.Minute), kind: evArrival, seq: 1})
	q.push(&event{at: base, kind: evArrival, seq: 2})
	q.push(&event{at: base.Add(time.Minute), kind: evArrival, seq: 3})

	var got []time.Time
	for !q.empty() {
		got = append(got, q.pop().at)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Before(got[i-1]) {
			t.Fatalf("Expected chronological order, got %v before %v", got[i-1], got[i])
		}
	}
}

func TestEventQueueKindTieBreak(t *testing.T) {
	q := &eventQueue{}
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	// Same instant: triage completion must fire before the next arrival so
	// the finished patient enters the wait queue first
	q.push(&event{at: at, kind: evDischarge, seq: 1})
	q.push(&event{at: at, kind: evArrival, seq: 2})
	q.push(&event{at: at, kind: evTriageDone, seq: 3})
	q.push(&event{at: at, kind: evAttentionStart, seq: 4})

	want := []eventKind{evTriageDone, evArrival, evAttentionStart, evDischarge}
	for i, k := range want {
		if got := q.pop().kind; got != k {
			t.Fatalf("Expected %s at position %d, got %s", k, i, got)
		}
	}
}

func TestEventQueueStableSeqTieBreak(t *testing.T) {
	q := &eventQueue{}
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	for seq := uint64(5); seq >= 1; seq-- {
		q.push(&event{at: at, kind: evArrival, seq: seq})
	}
	for want := uint64(1); want <= 5; want++ {
		if got := q.pop().seq; got != want {
			t.Fatalf("Expected seq %d, got %d", want, got)
		}
	}
}

func waitingPatient(level triage.Level, arrived time.Time, seq uint64) *Patient {
	return &Patient{
		ID:        types.NewID(),
		Hospital:  types.HospitalCHUAC,
		Level:     level,
		State:     StateWaitingAttention,
		ArrivedAt: arrived,
		seq:       seq,
	}
}

func TestWaitQueueLevelPriority(t *testing.T) {
	w := newWaitQueue()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	p5 := waitingPatient(triage.LevelNonUrgent, base, 1)
	p1 := waitingPatient(triage.LevelImmediate, base.Add(30*time.Minute), 2)
	p3 := waitingPatient(triage.LevelUrgent, base.Add(10*time.Minute), 3)

	w.add(p5)
	w.add(p1)
	w.add(p3)

	// Level 1 jumps the queue even though it arrived last
	if got := w.next(); got != p1 {
		t.Fatalf("Expected level 1 first, got level %d", got.Level)
	}
	if got := w.next(); got != p3 {
		t.Fatalf("Expected level 3 second, got level %d", got.Level)
	}
	if got := w.next(); got != p5 {
		t.Fatalf("Expected level 5 last, got level %d", got.Level)
	}
	if w.next() != nil {
		t.Error("Expected empty queue to return nil")
	}
}

func TestWaitQueueFIFOWithinLevel(t *testing.T) {
	w := newWaitQueue()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	var inOrder []*Patient
	for i := 0; i < 10; i++ {
		p := waitingPatient(triage.LevelStandard, base.Add(time.Duration(i)*time.Minute), uint64(i+1))
		inOrder = append(inOrder, p)
	}
	// Insert out of order
	for _, i := range []int{4, 0, 9, 2, 7, 1, 5, 3, 8, 6} {
		w.add(inOrder[i])
	}

	for i, want := range inOrder {
		got := w.next()
		if got != want {
			t.Fatalf("Expected FIFO position %d to arrive at %v, got %v", i, want.ArrivedAt, got.ArrivedAt)
		}
	}
}

func TestWaitQueueRemove(t *testing.T) {
	w := newWaitQueue()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	a := waitingPatient(triage.LevelStandard, base, 1)
	b := waitingPatient(triage.LevelStandard, base.Add(time.Minute), 2)
	c := waitingPatient(triage.LevelStandard, base.Add(2*time.Minute), 3)
	w.add(a)
	w.add(b)
	w.add(c)

	if got := w.remove(b.ID.String()); got != b {
		t.Fatal("Expected remove to return the queued patient")
	}
	if w.remove(b.ID.String()) != nil {
		t.Error("Expected second remove of same ID to return nil")
	}
	if w.Len() != 2 {
		t.Fatalf("Expected 2 remaining, got %d", w.Len())
	}
	if got := w.next(); got != a {
		t.Error("Expected removal to preserve ordering of the rest")
	}
	if got := w.next(); got != c {
		t.Error("Expected removal to preserve ordering of the rest")
	}
}
