// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sched

import (
	"code.hybscloud.com/exocore/arch"
)

// Dispatcher owns one CPU's scheduling point: draining its pending
// queue, deciding whether to preempt the running thread, accounting
// elapsed quantum, picking the next thread, and driving the
// architectural context switch. Scheduler owns one Dispatcher per CPU.
type Dispatcher struct {
	cpuID int
	sched *Scheduler
	// idleSince is the TSC reading at which this CPU last entered idle.
	idleSince uint64
}

// demandHotCeiling/demandColdFloor classify a Normal/Batch thread's band
// by how many quanta it has fully consumed (a running count that stops at
// demandColdFloor and is never reset): a thread that never exhausts its
// quantum (interactive) stays Hot; one that repeatedly does (CPU-bound)
// sinks to Cold.
const (
	demandHotCeiling  = 0
	demandColdFloor   = 3
)

func bandFor(demand uint8) band {
	switch {
	case demand <= demandHotCeiling:
		return bandHot
	case demand >= demandColdFloor:
		return bandCold
	default:
		return bandNormal
	}
}

// classify enqueues a Ready thread onto its CPU's class-appropriate
// structure: EDF for Deadline, the RT priority queue for FIFO/
// RoundRobin, and the appropriate demand band for Normal/Batch.
func (d *Dispatcher) classify(t *Thread, nowTSC uint64) {
	rq := d.sched.runQueues[d.cpuID]
	switch t.Params().Policy {
	case PolicyDeadline:
		if t.AbsoluteDeadline() == 0 {
			t.SetAbsoluteDeadline(nowTSC)
		}
		rq.EnqueueDeadline(t.ID, t.AbsoluteDeadline())
	case PolicyFIFO, PolicyRoundRobin:
		rq.EnqueueRT(t.ID, t.Params().Priority)
	default:
		if idleID, ok := d.sched.idle.IdleThreadFor(d.cpuID); ok && idleID == t.ID {
			break // the per-CPU idle thread stays in the run queue's idle slot
		}
		rq.EnqueueNormal(t.ID, bandFor(t.demand))
	}
	t.MarkReadyAt(nowTSC)
}

// Tick is one scheduling point: called on a timer tick, a blocking call,
// an explicit yield, or a cross-CPU wake targeting this CPU. It drains
// the pending queue, decides whether to preempt the currently running
// thread, accounts elapsed time, and performs the context switch to
// whichever thread should run next (possibly the same one).
func (d *Dispatcher) Tick(nowTSC uint64) {
	s := d.sched
	rq := s.runQueues[d.cpuID]

	rq.Pending.DrainInto(func(id ThreadID) bool {
		if t := s.lookupThread(id); t != nil {
			d.classify(t, nowTSC)
		}
		return true
	})

	runningID := ThreadID(s.current[d.cpuID].LoadAcquire())
	var running *Thread
	if runningID != 0 {
		running = s.lookupThread(runningID)
	}

	if running != nil && running.State() == StateRunning {
		elapsedUs := tscDeltaUs(running.quantumStart, nowTSC)
		quantum := QuantumUs(running.Params(), rq.ReadyCount())
		preempt := elapsedUs >= quantum
		if !preempt && running.Params().Policy != PolicyDeadline {
			// A higher scheduling class may have just arrived via the
			// pending drain above; peek without consuming by checking
			// whether anything currently outranks the running thread's
			// own class/priority.
			preempt = d.higherClassReady(running)
		}
		if !preempt {
			return // running thread keeps the CPU
		}

		if elapsedUs >= quantum && running.demand < demandColdFloor {
			running.demand++
		}
		if err := running.SetState(StateReady); err == nil {
			d.classify(running, nowTSC)
		}
		s.current[d.cpuID].StoreRelease(0)
	}

	nextID, cls, ok := rq.PickNext()
	if !ok {
		return
	}
	next := s.lookupThread(nextID)
	if next == nil {
		return
	}

	if cls == PolicyIdle {
		if !s.idle.IsIdle(d.cpuID) {
			s.idle.EnterIdle(d.cpuID)
			d.idleSince = nowTSC
		}
	} else if s.idle.IsIdle(d.cpuID) {
		s.idle.ExitIdle(d.cpuID, d.idleSince)
	}

	if err := next.SetState(StateRunning); err != nil {
		return
	}
	next.SetCPU(d.cpuID)
	next.quantumStart = nowTSC
	s.current[d.cpuID].StoreRelease(uint64(nextID))

	var outCtx *arch.Context
	if running != nil {
		outCtx = running.Context()
	}
	s.ctxSwitch.Switch(outCtx, next.Context())

	s.log.Debug("dispatch", "cpu", d.cpuID, "thread", uint64(nextID), "class", cls.String())
}

// higherClassReady reports whether rq currently holds a thread that
// would outrank running by class order (Deadline > RT > Normal/Batch >
// Idle), without consuming it.
func (d *Dispatcher) higherClassReady(running *Thread) bool {
	rq := d.sched.runQueues[d.cpuID]
	if !rq.edf.isEmpty() {
		return true
	}
	if running.Params().Policy == PolicyIdle {
		return rq.ReadyCount() > 0
	}
	if running.Params().Policy.IsRealtime() || running.Params().Policy == PolicyDeadline {
		return false
	}
	return !rq.rt.isEmpty()
}

// tscDeltaUs converts a TSC/monotonic-ns delta into microseconds, per
// arch.Clock's documented ns-per-tick convention (see arch.NewWallClock).
func tscDeltaUs(start, now uint64) uint64 {
	if now <= start {
		return 0
	}
	return (now - start) / 1000
}

// newDispatchers creates one Dispatcher per CPU for sched.
func newDispatchers(s *Scheduler, n int) []*Dispatcher {
	ds := make([]*Dispatcher, n)
	for i := range ds {
		ds[i] = &Dispatcher{cpuID: i, sched: s}
	}
	return ds
}
