// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sched

import (
	"code.hybscloud.com/atomix"

	"code.hybscloud.com/exocore/arch"
)

// IdleVector is the IPI vector used to wake an idle CPU, matching the
// original's scheduler-IPI vector convention (0x20).
const IdleVector uint8 = 0x20

// idlePerCPU is one CPU's idle bookkeeping: its registered idle thread
// id, an is-idle flag, and power-saving statistics.
type idlePerCPU struct {
	tid        atomix.Uint64
	registered atomix.Bool
	isIdle     atomix.Bool
	idleCount  atomix.Uint64
	idleCycles atomix.Uint64
}

// IdleSubsystem registers one idle thread per CPU and tracks which CPUs
// are currently halted, so a thread becoming Ready on an idle CPU knows
// to send it an IPI (§4.11). It never itself runs the idle loop — that is
// the dispatcher's job when PickNext returns the idle thread — it only
// tracks registration and entry/exit.
type IdleSubsystem struct {
	cpus []idlePerCPU
	cpu  arch.CPU
	clk  arch.Clock
}

// NewIdleSubsystem creates an idle subsystem for maxCPUs logical CPUs,
// using cpu for IPI delivery and clk for idle-cycle accounting.
func NewIdleSubsystem(maxCPUs int, cpu arch.CPU, clk arch.Clock) *IdleSubsystem {
	return &IdleSubsystem{cpus: make([]idlePerCPU, maxCPUs), cpu: cpu, clk: clk}
}

// RegisterIdleThreadForCPU records id as cpu's idle thread.
func (s *IdleSubsystem) RegisterIdleThreadForCPU(cpu int, id ThreadID) {
	if cpu < 0 || cpu >= len(s.cpus) {
		return
	}
	s.cpus[cpu].tid.StoreRelease(uint64(id))
	s.cpus[cpu].registered.StoreRelease(true)
}

// IdleThreadFor returns the idle thread id registered for cpu, or false
// if none is registered yet. When no idle thread is registered and
// nothing is Ready, the dispatcher's Tick returns without switching and
// without logging.
func (s *IdleSubsystem) IdleThreadFor(cpu int) (ThreadID, bool) {
	if cpu < 0 || cpu >= len(s.cpus) {
		return 0, false
	}
	if !s.cpus[cpu].registered.LoadAcquire() {
		return 0, false
	}
	return ThreadID(s.cpus[cpu].tid.LoadAcquire()), true
}

// EnterIdle marks cpu as idle and bumps its idle-entry counter. Called by
// the dispatcher immediately before it halts cpu (i.e. picks its idle
// thread because nothing else is Ready).
func (s *IdleSubsystem) EnterIdle(cpu int) {
	if cpu < 0 || cpu >= len(s.cpus) {
		return
	}
	s.cpus[cpu].isIdle.StoreRelease(true)
	s.cpus[cpu].idleCount.AddAcqRel(1)
}

// ExitIdle clears cpu's idle flag and accrues the cycles spent idle,
// measured from enteredAtTSC (an arch.Clock.ReadTSC() reading taken at
// EnterIdle time) to now.
func (s *IdleSubsystem) ExitIdle(cpu int, enteredAtTSC uint64) {
	if cpu < 0 || cpu >= len(s.cpus) {
		return
	}
	s.cpus[cpu].isIdle.StoreRelease(false)
	if s.clk != nil {
		now := s.clk.ReadTSC()
		if now > enteredAtTSC {
			s.cpus[cpu].idleCycles.AddAcqRel(now - enteredAtTSC)
		}
	}
}

// IsIdle reports whether cpu is currently halted.
func (s *IdleSubsystem) IsIdle(cpu int) bool {
	if cpu < 0 || cpu >= len(s.cpus) {
		return false
	}
	return s.cpus[cpu].isIdle.LoadAcquire()
}

// IdleStats reports cpu's idle-entry count and accumulated idle cycles.
func (s *IdleSubsystem) IdleStats(cpu int) (count, cycles uint64) {
	if cpu < 0 || cpu >= len(s.cpus) {
		return 0, 0
	}
	return s.cpus[cpu].idleCount.LoadRelaxed(), s.cpus[cpu].idleCycles.LoadRelaxed()
}

// WakeCPU sends an IPI to cpu if it is currently idle, asking its
// dispatcher to re-enter its scheduling point and pick up the thread that
// just became Ready.
func (s *IdleSubsystem) WakeCPU(cpu int) {
	if s.IsIdle(cpu) && s.cpu != nil {
		s.cpu.SendIPI(cpu, IdleVector)
	}
}

// WakeAllIdle sends an IPI to every currently-idle CPU.
func (s *IdleSubsystem) WakeAllIdle() {
	for cpu := range s.cpus {
		s.WakeCPU(cpu)
	}
}
