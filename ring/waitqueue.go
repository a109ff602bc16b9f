// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ring

import (
	"context"
	"sync/atomic"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// WakeReason explains why a waiter was released.
type WakeReason uint64

const (
	// WakeReady means data or space became available.
	WakeReady WakeReason = iota
	// WakeTimeout means the wait's deadline elapsed.
	WakeTimeout
	// WakeInterrupted means the wait was cancelled (e.g. context done).
	WakeInterrupted
	// WakeClosed means the ring was closed while waiting.
	WakeClosed
	// WakeSpurious is the zero-information default before any wake.
	WakeSpurious
)

// Scheduler is the minimal hook ring needs into the scheduler for the
// "block the calling thread" half of a two-phase wait. sched.Scheduler
// satisfies this.
type Scheduler interface {
	// BlockCurrent parks the calling goroutine's thread until Unblock(id)
	// is called for its thread id, or ctx is done.
	BlockCurrent(ctx context.Context, threadID uint64) error
	// Unblock wakes a previously blocked thread, a no-op if it isn't
	// blocked.
	Unblock(threadID uint64)
	// CurrentThreadID returns the calling goroutine's thread id, or 0 if
	// none is registered.
	CurrentThreadID() uint64
}

// WaitNode is one waiter's entry in a WaitQueue's lock-free list.
type WaitNode struct {
	threadID uint64
	woken    atomix.Bool
	reason   atomix.Uint64
	next     atomic.Pointer[WaitNode]
	priority uint8
	isSender bool
}

// NewWaitNode creates a wait node for threadID, queued on the sender or
// receiver side at the given priority (higher wakes first when a queue
// chooses to wake in priority order).
func NewWaitNode(threadID uint64, isSender bool, priority uint8) *WaitNode {
	n := &WaitNode{threadID: threadID, isSender: isSender, priority: priority}
	n.reason.StoreRelaxed(uint64(WakeSpurious))
	return n
}

// IsWoken reports whether this node has been woken.
func (n *WaitNode) IsWoken() bool { return n.woken.LoadAcquire() }

// WakeReason returns why this node was woken.
func (n *WaitNode) WakeReason() WakeReason { return WakeReason(n.reason.LoadAcquire()) }

func (n *WaitNode) wake(reason WakeReason, sched Scheduler) {
	n.reason.StoreRelease(uint64(reason))
	n.woken.StoreRelease(true)
	if sched != nil && n.threadID != 0 {
		sched.Unblock(n.threadID)
	}
}

// WaitQueue is a lock-free list of blocked senders and a lock-free list
// of blocked receivers for one ring, plus a closed flag. Waking is
// best-effort: removal after wake or timeout is lazy, matching the
// original's "simplified, in production would use hazard pointers" note.
type WaitQueue struct {
	senderHead    atomic.Pointer[WaitNode]
	receiverHead  atomic.Pointer[WaitNode]
	senderCount   atomix.Uint64
	receiverCount atomix.Uint64
	closed        atomix.Bool
}

// Wait registers node on its side of the queue. Returns false if the
// queue is already closed.
func (q *WaitQueue) Wait(node *WaitNode) bool {
	if q.closed.LoadAcquire() {
		return false
	}
	head := &q.receiverHead
	if node.isSender {
		head = &q.senderHead
		q.senderCount.AddAcqRel(1)
	} else {
		q.receiverCount.AddAcqRel(1)
	}
	for {
		cur := head.Load()
		node.next.Store(cur)
		if head.CompareAndSwap(cur, node) {
			return true
		}
	}
}

// Remove decrements the side's waiter count after node has been woken or
// timed out. The node itself is left in the list for lazy cleanup: a
// woken node is skipped by future wake passes since IsWoken is already
// true.
func (q *WaitQueue) Remove(node *WaitNode) {
	if node.isSender {
		q.senderCount.AddAcqRel(negate(1))
	} else {
		q.receiverCount.AddAcqRel(negate(1))
	}
}

func negate(n uint64) uint64 { return ^n + 1 }

// WakeOneSender wakes the first not-yet-woken sender, if any.
func (q *WaitQueue) WakeOneSender(sched Scheduler) bool {
	return q.wakeOne(&q.senderHead, WakeReady, sched)
}

// WakeOneReceiver wakes the first not-yet-woken receiver, if any.
func (q *WaitQueue) WakeOneReceiver(sched Scheduler) bool {
	return q.wakeOne(&q.receiverHead, WakeReady, sched)
}

func (q *WaitQueue) wakeOne(head *atomic.Pointer[WaitNode], reason WakeReason, sched Scheduler) bool {
	for cur := head.Load(); cur != nil; cur = cur.next.Load() {
		if !cur.IsWoken() {
			cur.wake(reason, sched)
			return true
		}
	}
	return false
}

// WakeAllSenders wakes every not-yet-woken sender, returning how many.
func (q *WaitQueue) WakeAllSenders(reason WakeReason, sched Scheduler) int {
	return q.wakeAll(&q.senderHead, reason, sched)
}

// WakeAllReceivers wakes every not-yet-woken receiver, returning how many.
func (q *WaitQueue) WakeAllReceivers(reason WakeReason, sched Scheduler) int {
	return q.wakeAll(&q.receiverHead, reason, sched)
}

func (q *WaitQueue) wakeAll(head *atomic.Pointer[WaitNode], reason WakeReason, sched Scheduler) int {
	count := 0
	for cur := head.Load(); cur != nil; cur = cur.next.Load() {
		if !cur.IsWoken() {
			cur.wake(reason, sched)
			count++
		}
	}
	return count
}

// Close marks the queue closed and wakes every waiter with WakeClosed.
func (q *WaitQueue) Close(sched Scheduler) {
	q.closed.StoreRelease(true)
	q.WakeAllSenders(WakeClosed, sched)
	q.WakeAllReceivers(WakeClosed, sched)
}

// IsClosed reports whether the queue has been closed.
func (q *WaitQueue) IsClosed() bool { return q.closed.LoadAcquire() }

// SenderCount returns the number of currently registered waiting senders.
func (q *WaitQueue) SenderCount() uint64 { return q.senderCount.LoadRelaxed() }

// ReceiverCount returns the number of currently registered waiting
// receivers.
func (q *WaitQueue) ReceiverCount() uint64 { return q.receiverCount.LoadRelaxed() }

// HasWaiters reports whether any sender or receiver is currently waiting.
func (q *WaitQueue) HasWaiters() bool { return q.SenderCount() > 0 || q.ReceiverCount() > 0 }

// spinPhaseIterations bounds the first phase of a two-phase blocking
// wait: a bounded spin before falling back to a real scheduler block,
// avoiding a syscall-equivalent cost for waits that resolve almost
// immediately.
const spinPhaseIterations = 256

// BlockingWait is a scoped wait against a WaitQueue: register, spin
// briefly, then hand off to the scheduler to actually block the calling
// thread, waking either on a WaitQueue wake or ctx cancellation.
type BlockingWait struct {
	queue   *WaitQueue
	node    *WaitNode
	sched   Scheduler
	recheck func() bool
}

// NewBlockingWait creates a blocking wait on queue for isSender, using
// sched to identify and block the current thread. sched may be nil, in
// which case Wait spins indefinitely (useful in tests with no scheduler
// wired in).
func NewBlockingWait(queue *WaitQueue, isSender bool, sched Scheduler) *BlockingWait {
	return NewBlockingWaitWithRecheck(queue, isSender, sched, nil)
}

// NewBlockingWaitWithRecheck is NewBlockingWait plus a recheck predicate
// consulted immediately after enrollment: a producer/consumer commit that
// lands in the window between the caller's failed try-claim and this
// node's enrollment would otherwise wake nobody (§5 "no lost wakeups"),
// since the waking side only scans waiters already in the list. recheck
// closes that window by re-testing availability once the node is
// guaranteed visible to a concurrent waker; a true result is treated as
// an immediate WakeReady so the caller's retry loop re-attempts its claim.
func NewBlockingWaitWithRecheck(queue *WaitQueue, isSender bool, sched Scheduler, recheck func() bool) *BlockingWait {
	var threadID uint64
	if sched != nil {
		threadID = sched.CurrentThreadID()
	}
	return &BlockingWait{queue: queue, node: NewWaitNode(threadID, isSender, 128), sched: sched, recheck: recheck}
}

// Wait blocks until the node is woken or ctx is done, spinning briefly
// first before falling back to a scheduler block.
func (w *BlockingWait) Wait(ctx context.Context) WakeReason {
	if !w.queue.Wait(w.node) {
		return WakeClosed
	}
	defer w.queue.Remove(w.node)

	if w.recheck != nil && !w.node.IsWoken() && w.recheck() {
		// The resource became available in the enroll/wake race window: no
		// wake is coming for this node (the committing side saw no waiter
		// yet, or already woke someone else), so self-deliver WakeReady
		// rather than spin or block waiting for one.
		w.node.reason.StoreRelease(uint64(WakeReady))
		w.node.woken.StoreRelease(true)
		return WakeReady
	}

	sw := spin.Wait{}
	for i := 0; i < spinPhaseIterations; i++ {
		if w.node.IsWoken() {
			return w.node.WakeReason()
		}
		sw.Once()
	}

	if w.sched == nil {
		for !w.node.IsWoken() {
			sw.Once()
		}
		return w.node.WakeReason()
	}

	for !w.node.IsWoken() {
		if err := w.sched.BlockCurrent(ctx, w.node.threadID); err != nil {
			w.node.reason.StoreRelease(uint64(WakeInterrupted))
			w.node.woken.StoreRelease(true)
			return WakeInterrupted
		}
	}
	return w.node.WakeReason()
}

// EventNotifier is an edge-triggered event bitmap with a single backing
// WaitQueue (consumers always block as receivers).
type EventNotifier struct {
	events atomix.Uint64
	queue  WaitQueue
}

// Event bits for ring channel readiness.
const (
	EventReadable uint64 = 1 << iota
	EventWritable
	EventError
	EventHangup
	EventPriority
)

// Signal ORs event into the pending bitmap, waking one receiver if any
// bit in event was not already pending.
func (e *EventNotifier) Signal(event uint64, sched Scheduler) {
	// atomix has no fetch-or; emulate with CAS so a bit already pending
	// does not trigger a redundant wake (edge-triggered semantics).
	for {
		cur := e.events.LoadAcquire()
		next := cur | event
		if next == cur {
			return // bit already set, no new event, no wake
		}
		if e.events.CompareAndSwapAcqRel(cur, next) {
			e.queue.WakeOneReceiver(sched)
			return
		}
	}
}

// Consume atomically clears and returns the pending event bitmap.
func (e *EventNotifier) Consume() uint64 {
	for {
		cur := e.events.LoadAcquire()
		if e.events.CompareAndSwapAcqRel(cur, 0) {
			return cur
		}
	}
}

// IsPending reports whether any bit in event is currently pending.
func (e *EventNotifier) IsPending(event uint64) bool {
	return e.events.LoadAcquire()&event != 0
}

// Queue exposes the notifier's backing wait queue, e.g. for a caller that
// wants to register its own BlockingWait against event readiness.
func (e *EventNotifier) Queue() *WaitQueue { return &e.queue }
