// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sched

import (
	"testing"

	"code.hybscloud.com/exocore/errs"
	"code.hybscloud.com/exocore/stack"
)

func newTestThread(t *testing.T, params Params) *Thread {
	t.Helper()
	kstack, err := stack.New(0x1000, stack.DefaultKernelSize, true)
	if err != nil {
		t.Fatalf("stack.New: %v", err)
	}
	return NewThread(1, params, kstack)
}

func TestThreadLifecycleHappyPath(t *testing.T) {
	th := newTestThread(t, DefaultNormal())
	transitions := []State{StateReady, StateRunning, StateBlocked, StateReady, StateRunning, StateTerminated}
	for _, to := range transitions {
		if err := th.SetState(to); err != nil {
			t.Fatalf("transition to %v: %v", to, err)
		}
	}
	if err := th.SetState(StateZombie); err != nil {
		t.Fatalf("terminated->zombie: %v", err)
	}
	if th.State() != StateZombie {
		t.Fatalf("expected zombie, got %v", th.State())
	}
}

func TestThreadLifecycleRejectsIllegalEdge(t *testing.T) {
	th := newTestThread(t, DefaultNormal())
	err := th.SetState(StateBlocked)
	if err == nil {
		t.Fatalf("expected Created->Blocked to be rejected")
	}
	if errs.CodeOf(err) != errs.CodeInvalidStateTransition {
		t.Fatalf("expected InvalidStateTransition, got %v", errs.CodeOf(err))
	}
}

func TestThreadLifecycleZombieIsTerminal(t *testing.T) {
	th := newTestThread(t, DefaultNormal())
	_ = th.SetState(StateReady)
	_ = th.SetState(StateRunning)
	_ = th.SetState(StateTerminated)
	_ = th.SetState(StateZombie)
	if err := th.SetState(StateReady); err == nil {
		t.Fatalf("expected Zombie to be terminal")
	}
}

func TestThreadSetStateIdempotent(t *testing.T) {
	th := newTestThread(t, DefaultNormal())
	_ = th.SetState(StateReady)
	if err := th.SetState(StateReady); err != nil {
		t.Fatalf("setting the same state twice should be a no-op, got %v", err)
	}
}

func TestThreadParamsRoundTrip(t *testing.T) {
	th := newTestThread(t, DefaultNormal())
	rt := RealtimeFIFO(80)
	th.setParams(rt)
	if got := th.Params(); got.Policy != PolicyFIFO || got.Priority != 80 {
		t.Fatalf("expected updated params, got %+v", got)
	}
}

func TestThreadSignalMaskAndPending(t *testing.T) {
	th := newTestThread(t, DefaultNormal())
	th.SetSignalMask(0b0001)
	th.RaiseSignal(0b0011)
	if got := th.PendingUnmasked(); got != 0b0010 {
		t.Fatalf("expected unmasked pending 0b0010, got %b", got)
	}
	th.ClearSignal(0b0010)
	if got := th.PendingUnmasked(); got != 0 {
		t.Fatalf("expected no unmasked pending after clear, got %b", got)
	}
}

func TestThreadAbsoluteDeadline(t *testing.T) {
	th := newTestThread(t, DeadlineParams(1_000_000, 2_000_000, 4_000_000))
	th.SetAbsoluteDeadline(100)
	if got := th.AbsoluteDeadline(); got != 100+2_000_000 {
		t.Fatalf("expected deadline 2000100, got %d", got)
	}
}

func TestThreadWaitTimeUs(t *testing.T) {
	th := newTestThread(t, DefaultNormal())
	th.MarkReadyAt(1_000_000)
	if got := th.WaitTimeUs(1_100_000); got != 100 {
		t.Fatalf("expected 100us wait, got %d", got)
	}
	if got := th.WaitTimeUs(900_000); got != 0 {
		t.Fatalf("expected 0 wait when tNow precedes mark, got %d", got)
	}
}
