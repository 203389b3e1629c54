// Package sched provides single-threaded timer scheduling. Every callback of a
// scheduler runs on one goroutine, so callbacks may share state without locks.
package sched

import (
	"container/heap"
	"time"
)

// Handle identifies a scheduled callback. The zero Handle is never issued.
type Handle uint64

// Scheduler arms and cancels one-shot timers.
type Scheduler interface {
	// Now returns the scheduler's current time.
	Now() time.Time
	// After runs fn once, d from now, on the scheduler goroutine.
	After(d time.Duration, fn func()) Handle
	// Cancel prevents a pending callback from running. Cancelling a fired,
	// cancelled or zero handle is a no-op.
	Cancel(h Handle)
}

type timer struct {
	handle Handle
	when   time.Time
	fn     func()
	index  int
}

// timerQueue orders timers by deadline, then by arming order.
type timerQueue struct {
	items []*timer
	live  map[Handle]*timer
	next  Handle
}

func newTimerQueue() timerQueue {
	return timerQueue{live: make(map[Handle]*timer)}
}

func (q *timerQueue) Len() int { return len(q.items) }

func (q *timerQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.when.Equal(b.when) {
		return a.handle < b.handle
	}
	return a.when.Before(b.when)
}

func (q *timerQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index = i
	q.items[j].index = j
}

func (q *timerQueue) Push(x any) {
	t := x.(*timer)
	t.index = len(q.items)
	q.items = append(q.items, t)
}

func (q *timerQueue) Pop() any {
	n := len(q.items)
	t := q.items[n-1]
	q.items[n-1] = nil
	q.items = q.items[:n-1]
	t.index = -1
	return t
}

func (q *timerQueue) add(when time.Time, fn func()) Handle {
	q.next++
	t := &timer{handle: q.next, when: when, fn: fn}
	heap.Push(q, t)
	q.live[t.handle] = t
	return t.handle
}

func (q *timerQueue) cancel(h Handle) {
	t, ok := q.live[h]
	if !ok {
		return
	}
	delete(q.live, h)
	heap.Remove(q, t.index)
}

// popDue removes and returns the earliest timer due at or before now.
func (q *timerQueue) popDue(now time.Time) *timer {
	if len(q.items) == 0 || q.items[0].when.After(now) {
		return nil
	}
	t := heap.Pop(q).(*timer)
	delete(q.live, t.handle)
	return t
}

// nextDeadline returns the earliest pending deadline.
func (q *timerQueue) nextDeadline() (time.Time, bool) {
	if len(q.items) == 0 {
		return time.Time{}, false
	}
	return q.items[0].when, true
}
