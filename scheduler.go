package reactor

import (
	"container/heap"
)

// Task is a one-shot scheduled callback.
type Task func()

// TaskID identifies one pending entry in the Scheduler's queue. A zero value
// (Timestamp == 0) marks a cancelled or never-scheduled id (spec §3 "Timer
// queue").
type TaskID struct {
	Timestamp int64
	seq       uint64 // FIFO tiebreak + heap-index invalidation guard
}

// IsEmpty reports whether the id refers to nothing.
func (t TaskID) IsEmpty() bool { return t.Timestamp == 0 }

type schedEntry struct {
	due   int64
	seq   uint64
	task  Task
	index int // heap.Interface bookkeeping
}

type schedHeap []*schedEntry

func (h schedHeap) Len() int { return len(h) }
func (h schedHeap) Less(i, j int) bool {
	if h[i].due != h[j].due {
		return h[i].due < h[j].due
	}
	return h[i].seq < h[j].seq // FIFO among same-timestamp entries
}
func (h schedHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *schedHeap) Push(x any) {
	e := x.(*schedEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *schedHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Scheduler is an ordered multimap from absolute-second timestamp to task
// (spec §4.E). All time comparisons use a Clock snapshot, never wall time
// read directly, so a turn's decisions stay internally consistent.
type Scheduler struct {
	clock   *Clock
	heap    schedHeap
	byID    map[uint64]*schedEntry
	nextSeq uint64
}

// NewScheduler creates an empty Scheduler reading time from clock.
func NewScheduler(clock *Clock) *Scheduler {
	return &Scheduler{clock: clock, byID: make(map[uint64]*schedEntry)}
}

// At schedules task to run at absolute unix timestamp `when`.
func (s *Scheduler) At(when int64, task Task) TaskID {
	if when <= 0 {
		when = 1 // 0 is reserved for "empty"
	}
	s.nextSeq++
	e := &schedEntry{due: when, seq: s.nextSeq, task: task}
	heap.Push(&s.heap, e)
	s.byID[e.seq] = e
	return TaskID{Timestamp: when, seq: e.seq}
}

// In schedules task to run `seconds` from the Clock's current snapshot.
func (s *Scheduler) In(seconds int64, task Task) TaskID {
	sec, _ := s.clock.Now()
	return s.At(sec+seconds, task)
}

// Cancel removes a pending task. Returns true if it was pending and is now
// removed, false if it already fired or the id is unknown/stale — both are
// cheap, tolerated outcomes (spec §4.E).
func (s *Scheduler) Cancel(id TaskID) bool {
	if id.IsEmpty() {
		return false
	}
	e, ok := s.byID[id.seq]
	if !ok || e.due != id.Timestamp {
		return false
	}
	heap.Remove(&s.heap, e.index)
	delete(s.byID, id.seq)
	return true
}

// Empty reports whether no tasks are pending.
func (s *Scheduler) Empty() bool { return len(s.heap) == 0 }

// run pops and invokes every entry whose due-time has passed, using the
// current Clock snapshot, and returns the (non-negative) number of seconds
// until the new earliest entry — 0 if the queue is now empty. A task may
// schedule more tasks; those are visible to subsequent iterations of this
// same call if they're already due.
func (s *Scheduler) run() int64 {
	now, _ := s.clock.Now()
	for len(s.heap) > 0 && s.heap[0].due <= now {
		e := heap.Pop(&s.heap).(*schedEntry)
		delete(s.byID, e.seq)
		e.task()
		now, _ = s.clock.Now()
	}
	if len(s.heap) == 0 {
		return 0
	}
	delay := s.heap[0].due - now
	if delay < 0 {
		delay = 0
	}
	return delay
}

// Timeout is a scoped handle owning at most one TaskID; its Cancel method
// (and, in Go, an explicit Stop or Close rather than a destructor) cancels
// the owned id. Safe zero value: an empty Timeout owns nothing.
type Timeout struct {
	sched *Scheduler
	id    TaskID
}

// NewTimeout creates a Timeout rooted at sched with no task scheduled yet.
func NewTimeout(sched *Scheduler) *Timeout {
	return &Timeout{sched: sched}
}

// At cancels any previously owned id, then schedules task at the absolute
// timestamp, taking ownership of the new id.
func (t *Timeout) At(when int64, task Task) {
	t.sched.Cancel(t.id)
	t.id = t.sched.At(when, task)
}

// In cancels any previously owned id, then schedules task `seconds` out.
func (t *Timeout) In(seconds int64, task Task) {
	t.sched.Cancel(t.id)
	t.id = t.sched.In(seconds, task)
}

// Cancel releases the owned id, if any.
func (t *Timeout) Cancel() {
	t.sched.Cancel(t.id)
	t.id = TaskID{}
}

// Active reports whether the Timeout currently owns a pending id.
func (t *Timeout) Active() bool { return !t.id.IsEmpty() }

// Swap exchanges the owned ids of two Timeouts rooted in the same Scheduler.
func (t *Timeout) Swap(other *Timeout) {
	t.id, other.id = other.id, t.id
}

// Stop is Cancel under the name Go readers expect from scoped-resource
// types (time.Timer.Stop); Close calls through to it so a Timeout can also
// be used with a defer.
func (t *Timeout) Stop() { t.Cancel() }

// Close implements io.Closer so `defer timeout.Close()` reads naturally,
// standing in for the scoped handle's C++ destructor (spec §4.E "Timeout").
func (t *Timeout) Close() error {
	t.Cancel()
	return nil
}
