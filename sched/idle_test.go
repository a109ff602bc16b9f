// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sched

import (
	"testing"

	"code.hybscloud.com/exocore/arch"
)

func TestIdleSubsystemRegisterAndQuery(t *testing.T) {
	s := NewIdleSubsystem(4, arch.NewSoftCPU(4), arch.NewWallClock())
	s.RegisterIdleThreadForCPU(1, 42)

	id, ok := s.IdleThreadFor(1)
	if !ok || id != 42 {
		t.Fatalf("expected idle thread 42 for cpu 1, got %d ok=%v", id, ok)
	}
	if _, ok := s.IdleThreadFor(2); ok {
		t.Fatalf("expected no idle thread registered for cpu 2")
	}
}

func TestIdleSubsystemEnterExitTracksStats(t *testing.T) {
	clk := arch.NewWallClock()
	s := NewIdleSubsystem(2, arch.NewSoftCPU(2), clk)

	if s.IsIdle(0) {
		t.Fatalf("cpu should not start idle")
	}
	s.EnterIdle(0)
	if !s.IsIdle(0) {
		t.Fatalf("expected cpu 0 idle after EnterIdle")
	}
	s.ExitIdle(0, clk.ReadTSC())
	if s.IsIdle(0) {
		t.Fatalf("expected cpu 0 not idle after ExitIdle")
	}
	count, _ := s.IdleStats(0)
	if count != 1 {
		t.Fatalf("expected 1 idle entry recorded, got %d", count)
	}
}

func TestIdleSubsystemWakeCPUOnlySignalsIdleCPUs(t *testing.T) {
	cpu := arch.NewSoftCPU(2)
	var woken bool
	cpu.RegisterIPIHandler(0, func(c int, v uint8) { woken = true })

	s := NewIdleSubsystem(2, cpu, arch.NewWallClock())
	s.WakeCPU(0)
	if woken {
		t.Fatalf("should not IPI a CPU that isn't idle")
	}

	s.EnterIdle(0)
	s.WakeCPU(0)
	if !woken {
		t.Fatalf("expected IPI to an idle CPU")
	}
}

func TestIdleSubsystemOutOfRangeCPUIsSafe(t *testing.T) {
	s := NewIdleSubsystem(2, arch.NewSoftCPU(2), arch.NewWallClock())
	s.RegisterIdleThreadForCPU(99, 1)
	if _, ok := s.IdleThreadFor(99); ok {
		t.Fatalf("expected out-of-range cpu to report not-registered")
	}
	s.EnterIdle(-1)
	s.WakeAllIdle()
}
