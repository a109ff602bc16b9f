// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sched

import (
	"context"
	"sync"
	"testing"
	"time"

	"code.hybscloud.com/exocore/errs"
)

func newTestScheduler(cpuCount int) *Scheduler {
	return New(Config{CPUCount: cpuCount, KernelStackBase: 0x10000})
}

func TestSchedulerSpawnRunsEntryAndExits(t *testing.T) {
	s := newTestScheduler(1)
	done := make(chan ThreadID, 1)

	id, err := s.Spawn(DefaultNormal(), func(id ThreadID) {
		done <- id
	}, 0)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	select {
	case got := <-done:
		if got != id {
			t.Fatalf("entry ran with wrong id: want %d got %d", id, got)
		}
	case <-time.After(time.Second):
		t.Fatalf("entry never ran")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		s.mu.RLock()
		th := s.threads[id]
		s.mu.RUnlock()
		if th != nil && th.State() == StateTerminated {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("thread never reached Terminated after entry returned")
}

func TestSchedulerReapAndCollect(t *testing.T) {
	s := newTestScheduler(1)
	id, err := s.Spawn(DefaultNormal(), nil, 0)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	th := s.lookupThread(id)
	if err := th.SetState(StateTerminated); err != nil {
		t.Fatalf("force terminated: %v", err)
	}
	th.setExitCode(42)

	if err := s.Reap(id); err != nil {
		t.Fatalf("Reap: %v", err)
	}
	if th.State() != StateZombie {
		t.Fatalf("expected zombie after reap, got %v", th.State())
	}

	code, err := s.Collect(id)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if code != 42 {
		t.Fatalf("expected exit code 42, got %d", code)
	}
	if s.lookupThread(id) != nil {
		t.Fatalf("expected thread removed from table after Collect")
	}
}

func TestSchedulerCollectRejectsNonZombie(t *testing.T) {
	s := newTestScheduler(1)
	id, err := s.Spawn(DefaultNormal(), nil, 0)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if _, err := s.Collect(id); err == nil {
		t.Fatalf("expected Collect to reject a non-zombie thread")
	}
}

func TestSchedulerSetParamsRejectsOnZombie(t *testing.T) {
	s := newTestScheduler(1)
	id, err := s.Spawn(DefaultNormal(), nil, 0)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	th := s.lookupThread(id)
	_ = th.SetState(StateTerminated)
	_ = th.SetState(StateZombie)

	if err := s.SetParams(id, RealtimeFIFO(10)); errs.CodeOf(err) != errs.CodeThreadIsZombie {
		t.Fatalf("expected ThreadIsZombie, got %v", err)
	}
}

func TestSchedulerBlockUnblockRoundTrip(t *testing.T) {
	s := newTestScheduler(1)
	var wg sync.WaitGroup
	wg.Add(1)

	started := make(chan ThreadID, 1)
	dispatched := make(chan struct{})
	blocked := make(chan struct{})
	woken := make(chan error, 1)

	_, err := s.Spawn(DefaultNormal(), func(id ThreadID) {
		defer wg.Done()
		started <- id
		<-dispatched
		close(blocked)
		woken <- s.BlockCurrent(context.Background(), uint64(id))
	}, 0)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	id := <-started
	s.Tick(0) // dispatch the thread so it is Running when it blocks
	close(dispatched)
	<-blocked

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s.lookupThread(id).State() == StateBlocked {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if s.lookupThread(id).State() != StateBlocked {
		t.Fatalf("expected thread to reach Blocked")
	}

	s.Unblock(uint64(id))

	select {
	case err := <-woken:
		if err != nil {
			t.Fatalf("BlockCurrent returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Unblock never woke the blocked thread")
	}
	wg.Wait()
}

func TestSchedulerBlockCurrentRespectsContextCancellation(t *testing.T) {
	s := newTestScheduler(1)
	id, err := s.Spawn(DefaultNormal(), nil, 0)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	s.Tick(0) // dispatch the thread so it is Running when it blocks

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.BlockCurrent(ctx, uint64(id)) }()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s.lookupThread(id).State() == StateBlocked {
			break
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-errCh:
		if errs.CodeOf(err) != errs.CodeInterrupted {
			t.Fatalf("expected Interrupted, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("BlockCurrent never returned after context cancellation")
	}
}

func TestSchedulerUnblockIsNoOpWhenNotBlocked(t *testing.T) {
	s := newTestScheduler(1)
	id, err := s.Spawn(DefaultNormal(), nil, 0)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	s.Unblock(uint64(id)) // thread is Ready, not Blocked; must not panic or corrupt state
	if s.lookupThread(id).State() != StateReady {
		t.Fatalf("expected state to remain Ready, got %v", s.lookupThread(id).State())
	}
}

func TestSchedulerThreadLimitReached(t *testing.T) {
	s := New(Config{CPUCount: 1, MaxThreads: 1, KernelStackBase: 0x20000})
	if _, err := s.Spawn(DefaultNormal(), nil, 0); err != nil {
		t.Fatalf("first spawn: %v", err)
	}
	if _, err := s.Spawn(DefaultNormal(), nil, 0); errs.CodeOf(err) != errs.CodeThreadLimitReached {
		t.Fatalf("expected ThreadLimitReached, got %v", err)
	}
}

func TestSchedulerSpawnValidatesParams(t *testing.T) {
	s := newTestScheduler(1)
	_, err := s.Spawn(Params{Policy: PolicyFIFO, Priority: 0}, nil, 0)
	if errs.CodeOf(err) != errs.CodeInvalidPriority {
		t.Fatalf("expected InvalidPriority, got %v", err)
	}
}
