// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sched

import (
	"container/heap"
	"sync"
)

// band is one of the three Normal-class FIFO demand bands. Threads move
// between bands as the dispatcher observes their recent CPU demand; this
// package only models the three queues themselves; the band-transition
// policy (what counts as "hot" vs "cold") is the Dispatcher's bandFor,
// applied each time a thread is enqueued.
type band int

const (
	bandHot band = iota
	bandNormal
	bandCold
	bandCount
)

// fifoQueue is a plain slice-backed FIFO of thread ids.
type fifoQueue struct {
	items []ThreadID
}

func (f *fifoQueue) push(id ThreadID) { f.items = append(f.items, id) }

func (f *fifoQueue) pop() (ThreadID, bool) {
	if len(f.items) == 0 {
		return 0, false
	}
	id := f.items[0]
	f.items = f.items[1:]
	return id, true
}

func (f *fifoQueue) len() int { return len(f.items) }

// remove deletes the first occurrence of id, if present, e.g. when a
// thread is re-bucketed between bands. Reports whether it was found.
func (f *fifoQueue) remove(id ThreadID) bool {
	for i, v := range f.items {
		if v == id {
			f.items = append(f.items[:i], f.items[i+1:]...)
			return true
		}
	}
	return false
}

// rtQueue is a priority-ordered structure for FIFO/RoundRobin threads: one
// FIFO bucket per static priority level (1..99), with the highest
// nonempty bucket served first. This gives O(1) push/highest-priority
// lookup (amortized, by tracking the current ceiling) rather than a
// comparison-based heap, matching the spec's "priority-ordered structure"
// without over-specifying its internals.
type rtQueue struct {
	buckets [100]fifoQueue
	top     int // highest known nonempty bucket, 0 if none
}

func newRTQueue() *rtQueue { return &rtQueue{} }

func (q *rtQueue) push(id ThreadID, priority int32) {
	p := int(priority)
	if p < 1 {
		p = 1
	}
	if p > 99 {
		p = 99
	}
	q.buckets[p].push(id)
	if p > q.top {
		q.top = p
	}
}

func (q *rtQueue) pop() (ThreadID, bool) {
	for q.top > 0 && q.buckets[q.top].len() == 0 {
		q.top--
	}
	if q.top == 0 {
		return 0, false
	}
	return q.buckets[q.top].pop()
}

func (q *rtQueue) len() int {
	n := 0
	for i := range q.buckets {
		n += q.buckets[i].len()
	}
	return n
}

func (q *rtQueue) isEmpty() bool { return q.len() == 0 }

// edfEntry is one Deadline-class thread's position in the EDF queue.
type edfEntry struct {
	id       ThreadID
	deadline uint64
}

// edfHeap is a container/heap min-heap over edfEntry.deadline, ties
// broken by thread id, implementing the spec's "earliest absolute
// deadline wins; ties broken by thread id" rule directly in the ordering
// relation.
type edfHeap []edfEntry

func (h edfHeap) Len() int { return len(h) }
func (h edfHeap) Less(i, j int) bool {
	if h[i].deadline != h[j].deadline {
		return h[i].deadline < h[j].deadline
	}
	return h[i].id < h[j].id
}
func (h edfHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *edfHeap) Push(x any)        { *h = append(*h, x.(edfEntry)) }
func (h *edfHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// edfQueue wraps edfHeap behind the package's push/pop vocabulary.
type edfQueue struct {
	h edfHeap
}

func (q *edfQueue) push(id ThreadID, deadline uint64) {
	heap.Push(&q.h, edfEntry{id: id, deadline: deadline})
}

func (q *edfQueue) pop() (ThreadID, bool) {
	if q.h.Len() == 0 {
		return 0, false
	}
	e := heap.Pop(&q.h).(edfEntry)
	return e.id, true
}

func (q *edfQueue) isEmpty() bool { return q.h.Len() == 0 }
func (q *edfQueue) len() int      { return q.h.Len() }

// RunQueue is one CPU's full set of Ready structures: three Normal-class
// FIFO bands, an RT priority queue, an EDF queue, a single Idle slot, and
// a lock-free PendingQueue other CPUs push newly-Ready threads onto. Only
// the owning CPU's dispatcher touches the bands/rtQueue/edfQueue/idle
// slot directly; cross-CPU placement always goes through Pending.
type RunQueue struct {
	mu      sync.Mutex
	bands   [bandCount]fifoQueue
	rt      *rtQueue
	edf     *edfQueue
	idle    ThreadID
	hasIdle bool

	Pending *PendingQueue
}

// NewRunQueue creates an empty per-CPU run queue with a pending inbox of
// the given capacity.
func NewRunQueue(pendingCapacity int) *RunQueue {
	return &RunQueue{
		rt:      newRTQueue(),
		edf:     &edfQueue{},
		Pending: NewPendingQueue(pendingCapacity),
	}
}

// EnqueueNormal adds id to the given Normal/Batch band.
func (q *RunQueue) EnqueueNormal(id ThreadID, b band) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.bands[b].push(id)
}

// EnqueueRT adds id to the RT priority structure at priority.
func (q *RunQueue) EnqueueRT(id ThreadID, priority int32) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rt.push(id, priority)
}

// EnqueueDeadline adds id to the EDF structure at the given absolute
// deadline.
func (q *RunQueue) EnqueueDeadline(id ThreadID, absDeadline uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.edf.push(id, absDeadline)
}

// SetIdle installs id as this CPU's idle thread.
func (q *RunQueue) SetIdle(id ThreadID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.idle = id
	q.hasIdle = true
}

// PickNext selects the next thread to run, in strict class order:
// Deadline, FIFO/RoundRobin (by priority), Normal/Batch (hot, then
// normal, then cold band), Idle. Returns the thread id and the class it
// came from (PolicyDeadline, PolicyFIFO for either RT class, PolicyNormal
// for any band, or PolicyIdle; the band is not reported), or false if
// truly nothing is runnable (no Idle thread registered either).
func (q *RunQueue) PickNext() (id ThreadID, cls Policy, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if id, ok := q.edf.pop(); ok {
		return id, PolicyDeadline, true
	}
	if id, ok := q.rt.pop(); ok {
		return id, PolicyFIFO, true
	}
	for _, b := range [...]band{bandHot, bandNormal, bandCold} {
		if id, ok := q.bands[b].pop(); ok {
			return id, PolicyNormal, true
		}
	}
	if q.hasIdle {
		return q.idle, PolicyIdle, true
	}
	return 0, 0, false
}

// ReadyCount returns the total number of Ready threads across every band
// and class queue on this CPU (excluding the idle slot), the "load"
// figure QuantumUs scales the Normal-class quantum by.
func (q *RunQueue) ReadyCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.rt.len() + q.edf.len()
	for i := range q.bands {
		n += q.bands[i].len()
	}
	return n
}

// IsEmpty reports whether every band and class queue is empty (ignoring
// the idle slot).
func (q *RunQueue) IsEmpty() bool { return q.ReadyCount() == 0 }

// RemoveFromBands best-effort removes id from whichever Normal/Batch band
// currently holds it, used when re-bucketing a thread between bands.
func (q *RunQueue) RemoveFromBands(id ThreadID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.bands {
		if q.bands[i].remove(id) {
			return true
		}
	}
	return false
}
