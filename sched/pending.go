// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sched

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"

	"code.hybscloud.com/exocore/errs"
)

// pendingPad is cache-line padding between the queue's hot counters,
// matching the teacher's false-sharing guard in mpmc.go.
type pendingPad [64]byte

// pendingSlot is one physical slot of the pending queue: a cycle-tagged
// thread id, matching the teacher's SCQ slot shape (mpmcSlot[T]) but
// specialized to ThreadID instead of a generic payload since the pending
// queue only ever carries "this thread became Ready".
type pendingSlot struct {
	cycle atomix.Uint64
	tid   ThreadID
	_     [56]byte // round the slot up to one cache line
}

// PendingQueue is a bounded, lock-free, multi-producer multi-consumer
// queue of ThreadIDs: other CPUs push a newly-Ready thread onto a target
// CPU's PendingQueue without taking any lock, and the owning CPU's
// dispatcher drains it into its local class queues at each scheduling
// point. It is the FAA-based SCQ algorithm from the teacher's mpmc.go,
// narrowed from a generic MPMC[T] to a fixed ThreadID payload.
type PendingQueue struct {
	_         pendingPad
	tail      atomix.Uint64
	_         pendingPad
	head      atomix.Uint64
	_         pendingPad
	threshold atomix.Int64
	_         pendingPad
	buffer    []pendingSlot
	capacity  uint64
	size      uint64
	mask      uint64
}

// NewPendingQueue creates a pending queue of at least capacity entries
// (rounded up to the next power of two).
func NewPendingQueue(capacity int) *PendingQueue {
	if capacity < 2 {
		capacity = 2
	}
	n := uint64(roundToPow2(capacity))
	size := n * 2
	q := &PendingQueue{
		buffer:   make([]pendingSlot, size),
		capacity: n,
		size:     size,
		mask:     size - 1,
	}
	q.threshold.StoreRelaxed(3*int64(n) - 1)
	for i := uint64(0); i < size; i++ {
		q.buffer[i].cycle.StoreRelaxed(i / n)
	}
	return q
}

func roundToPow2(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Push enqueues tid, returning PendingQueueFull if the queue is at
// capacity.
func (q *PendingQueue) Push(tid ThreadID) error {
	sw := spin.Wait{}
	for {
		tail := q.tail.LoadAcquire()
		head := q.head.LoadAcquire()
		if tail >= head+q.capacity {
			return errs.New(errs.CodePendingQueueFull)
		}

		myTail := q.tail.AddAcqRel(1) - 1
		slot := &q.buffer[myTail&q.mask]
		expected := myTail / q.capacity
		cycle := slot.cycle.LoadAcquire()

		if cycle == expected {
			slot.tid = tid
			slot.cycle.StoreRelease(expected + 1)
			q.threshold.StoreRelaxed(3*int64(q.capacity) - 1)
			return nil
		}
		if int64(cycle) < int64(expected) {
			return errs.New(errs.CodePendingQueueFull)
		}
		sw.Once()
	}
}

// Pop dequeues the next ThreadID, or returns false if the queue is empty.
func (q *PendingQueue) Pop() (ThreadID, bool) {
	if q.threshold.LoadRelaxed() < 0 {
		return 0, false
	}

	sw := spin.Wait{}
	for {
		myHead := q.head.AddAcqRel(1) - 1
		slot := &q.buffer[myHead&q.mask]
		expected := myHead/q.capacity + 1
		cycle := slot.cycle.LoadAcquire()

		if cycle == expected {
			tid := slot.tid
			slot.tid = 0
			nextCycle := (myHead + q.size) / q.capacity
			slot.cycle.StoreRelease(nextCycle)
			return tid, true
		}
		if int64(cycle) < int64(expected) {
			q.threshold.AddAcqRel(-1) // -1, matching the teacher's livelock-prevention decrement
			if q.threshold.LoadRelaxed() < 0 {
				return 0, false
			}
			continue
		}
		sw.Once()
	}
}

// DrainInto pops every currently available ThreadID and calls fn for
// each, stopping early if fn returns false. Used by the dispatcher to
// move an entire CPU's pending arrivals into its local class queues at a
// scheduling point.
func (q *PendingQueue) DrainInto(fn func(ThreadID) bool) {
	for {
		tid, ok := q.Pop()
		if !ok {
			return
		}
		if !fn(tid) {
			return
		}
	}
}
