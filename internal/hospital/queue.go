package hospital

import (
	"container/heap"
	"time"
)

// eventKind identifies a scheduled simulation event. The numeric order is
// the tie-break rank for events at the same simulated instant: triage
// completion fires before the next arrival, attention start before the rest,
// and everything else in stable insertion order.
type eventKind int

const (
	evTriageDone eventKind = iota
	evArrival
	evAttentionStart
	evAttentionEnd
	evObservationEnd
	evDischarge
)

func (k eventKind) String() string {
	switch k {
	case evTriageDone:
		return "triage_done"
	case evArrival:
		return "arrival"
	case evAttentionStart:
		return "attention_start"
	case evAttentionEnd:
		return "attention_end"
	case evObservationEnd:
		return "observation_end"
	case evDischarge:
		return "discharge"
	}
	return "unknown"
}

// event is one scheduled entry in the hospital's event queue
type event struct {
	at      time.Time
	kind    eventKind
	patient *Patient
	seq     uint64
}

// eventQueue is a time-ordered priority queue of simulation events
type eventQueue struct {
	items []*event
}

func (q *eventQueue) Len() int { return len(q.items) }

func (q *eventQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if !a.at.Equal(b.at) {
		return a.at.Before(b.at)
	}
	if a.kind != b.kind {
		return a.kind < b.kind
	}
	return a.seq < b.seq
}

func (q *eventQueue) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }

func (q *eventQueue) Push(x any) { q.items = append(q.items, x.(*event)) }

func (q *eventQueue) Pop() any {
	old := q.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	q.items = old[:n-1]
	return it
}

func (q *eventQueue) push(e *event) { heap.Push(q, e) }
func (q *eventQueue) pop() *event   { return heap.Pop(q).(*event) }
func (q *eventQueue) peek() *event  { return q.items[0] }
func (q *eventQueue) empty() bool   { return len(q.items) == 0 }

// waitEntry is one patient in the attention-wait queue
type waitEntry struct {
	patient *Patient
	index   int
}

// waitQueue orders patients waiting for a box: strict priority by triage
// level, FIFO (arrival time, then admission sequence) within a level.
// Level 1 always preempts level >= 2 for the next free box; within a tier
// arrival order is strictly preserved so nobody starves.
type waitQueue struct {
	entries []*waitEntry
	byID    map[string]*waitEntry
}

func newWaitQueue() *waitQueue {
	return &waitQueue{byID: make(map[string]*waitEntry)}
}

func (w *waitQueue) Len() int { return len(w.entries) }

func (w *waitQueue) Less(i, j int) bool {
	a, b := w.entries[i].patient, w.entries[j].patient
	if a.Level != b.Level {
		return a.Level < b.Level
	}
	if !a.ArrivedAt.Equal(b.ArrivedAt) {
		return a.ArrivedAt.Before(b.ArrivedAt)
	}
	return a.seq < b.seq
}

func (w *waitQueue) Swap(i, j int) {
	w.entries[i], w.entries[j] = w.entries[j], w.entries[i]
	w.entries[i].index = i
	w.entries[j].index = j
}

func (w *waitQueue) Push(x any) {
	entry := x.(*waitEntry)
	entry.index = len(w.entries)
	w.entries = append(w.entries, entry)
}

func (w *waitQueue) Pop() any {
	old := w.entries
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	w.entries = old[:n-1]
	return entry
}

// add enqueues a patient
func (w *waitQueue) add(p *Patient) {
	entry := &waitEntry{patient: p}
	heap.Push(w, entry)
	w.byID[p.ID.String()] = entry
}

// next dequeues the highest-priority patient, or nil when empty
func (w *waitQueue) next() *Patient {
	if len(w.entries) == 0 {
		return nil
	}
	entry := heap.Pop(w).(*waitEntry)
	delete(w.byID, entry.patient.ID.String())
	return entry.patient
}

// remove extracts a patient by ID, or nil when absent
func (w *waitQueue) remove(id string) *Patient {
	entry, ok := w.byID[id]
	if !ok {
		return nil
	}
	heap.Remove(w, entry.index)
	delete(w.byID, id)
	return entry.patient
}

// patients returns the queued patients in no particular order
func (w *waitQueue) patients() []*Patient {
	out := make([]*Patient, 0, len(w.entries))
	for _, e := range w.entries {
		out = append(out, e.patient)
	}
	return out
}
