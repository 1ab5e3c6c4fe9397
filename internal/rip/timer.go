package rip

import (
	"container/heap"
	"time"
)

// Timer is a single scheduled callback inside the dispatcher's timer
// queue. RouteEntry holds Timer back-references for
// their timeout/garbage-collection deadlines; the queue is the owner,
// the entry only observes and may Cancel it. This mirrors the design
// note that a route never owns its timer outright, since a single timer
// queue — not one goroutine per route — drives the whole dispatcher.
type Timer struct {
	deadline time.Time
	fire     func(now time.Time)
	cancelled bool
	index    int // heap index, maintained by container/heap
}

// Cancel marks the timer as dead. It is idempotent and safe to call
// whether or not the timer has already fired; TimerQueue skips cancelled
// timers lazily when they reach the front of the heap instead of
// searching the heap to remove them eagerly.
func (t *Timer) Cancel() {
	if t == nil {
		return
	}

	t.cancelled = true
}

// Deadline reports when the timer is scheduled to fire.
func (t *Timer) Deadline() time.Time {
	return t.deadline
}

// timerHeap implements container/heap.Interface over *Timer, ordered by
// deadline.
type timerHeap []*Timer

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t, ok := x.(*Timer)
	if !ok {
		return
	}

	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]

	return t
}

// TimerQueue is the single timer facility the dispatcher's event loop
// polls each iteration: it reports the duration until the next live
// timer so the loop can bound its socket select/poll, and it pops and
// fires everything due.
type TimerQueue struct {
	heap timerHeap
}

// NewTimerQueue returns an empty TimerQueue.
func NewTimerQueue() *TimerQueue {
	return &TimerQueue{}
}

// Schedule adds a new timer firing at now.Add(d) and returns it so the
// caller can keep a back-reference for cancellation/rescheduling.
func (q *TimerQueue) Schedule(now time.Time, d time.Duration, fire func(now time.Time)) *Timer {
	t := &Timer{deadline: now.Add(d), fire: fire}
	heap.Push(&q.heap, t)

	return t
}

// NextDeadline reports the time of the next live timer, skipping (and
// discarding) any cancelled timers at the front of the queue. ok is false
// if the queue has no live timers.
func (q *TimerQueue) NextDeadline() (deadline time.Time, ok bool) {
	for q.heap.Len() > 0 {
		t := q.heap[0]
		if t.cancelled {
			heap.Pop(&q.heap)
			continue
		}

		return t.deadline, true
	}

	return time.Time{}, false
}

// FireDue pops and invokes every timer whose deadline is at or before
// now, skipping cancelled ones. It returns the number of timers fired.
func (q *TimerQueue) FireDue(now time.Time) int {
	fired := 0

	for q.heap.Len() > 0 {
		t := q.heap[0]
		if t.cancelled {
			heap.Pop(&q.heap)
			continue
		}

		if t.deadline.After(now) {
			break
		}

		heap.Pop(&q.heap)
		t.fire(now)
		fired++
	}

	return fired
}

// Len reports the number of timers currently queued, including any not
// yet lazily reaped cancelled ones.
func (q *TimerQueue) Len() int {
	return q.heap.Len()
}
