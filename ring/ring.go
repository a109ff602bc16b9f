// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ring

import (
	"context"

	"code.hybscloud.com/exocore/errs"
	"code.hybscloud.com/spin"
)

// Ring is a bounded MPMC message ring: a cache-line Slot array coordinated
// by a SequenceGroup, with a WaitQueue for callers that choose to block
// instead of spin. Capacity is always a power of two, matching the
// teacher's own queue family.
type Ring struct {
	slots    []*Slot
	capacity uint64
	mask     uint64
	seq      SequenceGroup
	waiters  WaitQueue
	sched    Scheduler
}

// New creates a ring with the given capacity (rounded up to the next
// power of two, minimum 2), optionally wired to a Scheduler for blocking
// sends/receives. sched may be nil for a purely non-blocking ring.
func New(capacity int, sched Scheduler) *Ring {
	if capacity < 2 {
		capacity = 2
	}
	n := uint64(roundToPow2(capacity))
	r := &Ring{
		slots:    make([]*Slot, n),
		capacity: n,
		mask:     n - 1,
		sched:    sched,
	}
	for i := range r.slots {
		r.slots[i] = NewSlotWithSequence(uint32(i))
	}
	return r
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

// Cap returns the ring's usable capacity.
func (r *Ring) Cap() int { return int(r.capacity) }

// Len returns the number of committed, unread messages currently in the
// ring.
func (r *Ring) Len() int { return int(r.seq.Len()) }

// Close wakes every blocked sender and receiver with WakeClosed. Further
// sends/receives still operate mechanically (Close does not itself
// reject new operations); callers coordinate shutdown at a higher layer
// the way the rest of this module's subsystems do.
func (r *Ring) Close() { r.waiters.Close(r.sched) }

// SendInline enqueues data (at most MaxInlinePayload bytes) as an inline
// message, blocking until a slot is free or ctx is done.
func (r *Ring) SendInline(ctx context.Context, data []byte, flags Flag) error {
	if len(data) > MaxInlinePayload {
		return &errs.Error{Code: errs.CodeInvalidSize, Msg: "payload exceeds inline slot capacity", Requested: uint64(len(data)), Available: MaxInlinePayload}
	}
	for {
		if err := ctx.Err(); err != nil {
			return errs.Wrap(errs.CodeInterrupted, "context done while sending", err)
		}
		seq, ok := r.seq.TryClaimProduce(r.capacity)
		if ok {
			slot := r.slots[seq.ToIndex(r.mask)]
			sw := spin.Wait{}
			for !slot.TryBeginWrite(uint32(seq)) {
				// Another lap's consumer hasn't finished vacating this slot
				// index yet; this only happens transiently under heavy
				// contention since TryClaimProduce already reserved order.
				sw.Once()
			}
			slot.WriteInline(data, flags)
			r.seq.CommitProduce(seq)
			r.waiters.WakeOneReceiver(r.sched)
			return nil
		}
		w := NewBlockingWaitWithRecheck(&r.waiters, true, r.sched, func() bool { return r.seq.HasProduceCapacity(r.capacity) })
		reason := w.Wait(ctx)
		switch reason {
		case WakeClosed:
			return errs.New(errs.CodeRingClosed)
		case WakeInterrupted:
			return errs.New(errs.CodeInterrupted)
		}
	}
}

// RecvInline dequeues the next message into buf, returning its size and
// flags, blocking until a message is available or ctx is done. buf must
// be at least MaxInlinePayload bytes.
func (r *Ring) RecvInline(ctx context.Context, buf []byte) (size int, flags Flag, err error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, 0, errs.Wrap(errs.CodeInterrupted, "context done while receiving", err)
		}
		seq, ok := r.seq.TryClaimConsume()
		if ok {
			slot := r.slots[seq.ToIndex(r.mask)]
			var sz int
			var fl Flag
			sw := spin.Wait{}
			for {
				sz, fl, ok = slot.TryBeginRead(uint32(seq))
				if ok {
					break
				}
				sw.Once()
			}
			if fl.IsZeroCopyFlag() {
				// Wrong consumer API for this message: the claim is already
				// won, so the slot must still be vacated. Callers that mix
				// RecvInline and RecvZeroCopy on the same ring lose this
				// message; a ring's messages should be consistently one
				// kind or the other.
				slot.FinishRead(uint32(r.capacity))
				r.seq.CommitConsume(seq)
				r.waiters.WakeOneSender(r.sched)
				return 0, fl, &errs.Error{Code: errs.CodeInvalidParameter, Msg: "use RecvZeroCopy for zero-copy messages"}
			}
			slot.ReadInline(buf, sz)
			slot.FinishRead(uint32(r.capacity))
			r.seq.CommitConsume(seq)
			r.waiters.WakeOneSender(r.sched)
			return sz, fl, nil
		}
		w := NewBlockingWaitWithRecheck(&r.waiters, false, r.sched, r.seq.HasConsumeAvailable)
		reason := w.Wait(ctx)
		switch reason {
		case WakeClosed:
			return 0, 0, errs.New(errs.CodeRingClosed)
		case WakeInterrupted:
			return 0, 0, errs.New(errs.CodeInterrupted)
		}
	}
}

// TrySendInline is the non-blocking form of SendInline: it returns
// errs.CodeQueueFull immediately instead of waiting for a free slot.
func (r *Ring) TrySendInline(data []byte, flags Flag) error {
	if len(data) > MaxInlinePayload {
		return &errs.Error{Code: errs.CodeInvalidSize, Msg: "payload exceeds inline slot capacity", Requested: uint64(len(data)), Available: MaxInlinePayload}
	}
	seq, ok := r.seq.TryClaimProduce(r.capacity)
	if !ok {
		return errs.New(errs.CodeQueueFull)
	}
	slot := r.slots[seq.ToIndex(r.mask)]
	sw := spin.Wait{}
	for !slot.TryBeginWrite(uint32(seq)) {
		sw.Once()
	}
	slot.WriteInline(data, flags)
	r.seq.CommitProduce(seq)
	r.waiters.WakeOneReceiver(r.sched)
	return nil
}

// IsZeroCopyFlag reports whether f has the zero-copy bit set; exported as
// a method on Flag so callers outside this package can branch on a
// TryBeginRead result without importing the header-decoding details.
func (f Flag) IsZeroCopyFlag() bool { return f&FlagZeroCopy != 0 }
