// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package sched implements the preemptive, multi-policy scheduler core
// (§4): per-CPU run queues spanning Deadline/FIFO/RoundRobin/Normal/
// Batch/Idle, a dispatcher driving the six-step scheduling point at each
// CPU, and the Scheduler facade gluing threads, pending cross-CPU
// handoff, and idle management into the ring.Scheduler interface the
// IPC layer blocks and wakes threads through.
package sched

import (
	"context"
	"sync"

	"code.hybscloud.com/atomix"

	"code.hybscloud.com/exocore/arch"
	"code.hybscloud.com/exocore/errs"
	"code.hybscloud.com/exocore/logging"
	"code.hybscloud.com/exocore/stack"
)

// EntryFunc is the body a spawned thread runs, given its own id.
type EntryFunc func(id ThreadID)

// Config configures a Scheduler.
type Config struct {
	// CPUCount is the number of logical CPUs to schedule across. Defaults
	// to 1.
	CPUCount int
	// MaxCPUs bounds the idle subsystem's per-CPU registry, mirroring the
	// original's MAX_CPUS. Defaults to 256.
	MaxCPUs int
	// PendingQueueCapacity sizes each CPU's lock-free pending inbox.
	// Defaults to 1024.
	PendingQueueCapacity int
	// MaxThreads caps spawned threads that have not yet been collected
	// (idle threads are not counted). Defaults to 4096.
	MaxThreads int
	// KernelStackBase is the virtual address the stack allocator hands
	// out kernel stacks from.
	KernelStackBase uint64

	CPU           arch.CPU
	Clock         arch.Clock
	ContextSwitch arch.ContextSwitcher
	Logger        *logging.Logger
}

func (c Config) withDefaults() Config {
	if c.CPUCount <= 0 {
		c.CPUCount = 1
	}
	if c.MaxCPUs <= 0 {
		c.MaxCPUs = 256
	}
	if c.PendingQueueCapacity <= 0 {
		c.PendingQueueCapacity = 1024
	}
	if c.MaxThreads <= 0 {
		c.MaxThreads = 4096
	}
	if c.CPU == nil {
		c.CPU = arch.NewSoftCPU(c.CPUCount)
	}
	if c.Clock == nil {
		c.Clock = arch.NewWallClock()
	}
	if c.ContextSwitch == nil {
		c.ContextSwitch = arch.NewSoftContextSwitcher()
	}
	if c.Logger == nil {
		c.Logger = logging.Default()
	}
	return c
}

// Scheduler is the facade tying together per-CPU run queues and
// dispatchers, the thread table, idle management, and the goroutine-id
// bookkeeping that lets a spawned thread's own goroutine answer "who am
// I" without a parameter. It implements ring.Scheduler so the IPC layer
// can block/unblock threads waiting on a ring.
type Scheduler struct {
	cfg Config

	mu      sync.RWMutex
	threads map[ThreadID]*Thread
	nextID  atomix.Uint64

	runQueues   []*RunQueue
	dispatchers []*Dispatcher
	current     []atomix.Uint64 // per-CPU currently-Running ThreadID, 0 = none

	threadCount atomix.Uint64

	cpu       arch.CPU
	clk       arch.Clock
	ctxSwitch arch.ContextSwitcher
	stacks    *stack.Allocator
	idle      *IdleSubsystem
	log       *logging.Logger

	goroutineThreads sync.Map // goroutine id (uint64) -> ThreadID
	wakeChans        sync.Map // ThreadID -> chan struct{}
}

// New creates a Scheduler with one idle thread spawned and registered
// per configured CPU, ready to accept Spawn calls.
func New(cfg Config) *Scheduler {
	cfg = cfg.withDefaults()

	s := &Scheduler{
		cfg:     cfg,
		threads: make(map[ThreadID]*Thread),
		current: make([]atomix.Uint64, cfg.CPUCount),
		cpu:     cfg.CPU,
		clk:     cfg.Clock,
		ctxSwitch: cfg.ContextSwitch,
		stacks:  stack.NewAllocator(cfg.KernelStackBase),
		idle:    NewIdleSubsystem(cfg.MaxCPUs, cfg.CPU, cfg.Clock),
		log:     cfg.Logger,
	}

	s.runQueues = make([]*RunQueue, cfg.CPUCount)
	for i := range s.runQueues {
		s.runQueues[i] = NewRunQueue(cfg.PendingQueueCapacity)
	}
	s.dispatchers = newDispatchers(s, cfg.CPUCount)

	if rc, ok := s.cpu.(*arch.SoftCPU); ok {
		for i := 0; i < cfg.CPUCount; i++ {
			cpuID := i
			rc.RegisterIPIHandler(cpuID, func(cpu int, vector uint8) {
				s.Tick(cpu)
			})
		}
	}

	for i := 0; i < cfg.CPUCount; i++ {
		if err := s.spawnIdleThread(i); err != nil {
			s.log.LogError("spawn idle thread", err)
		}
	}
	return s
}

// Tick drives CPU's dispatcher through one scheduling point; exported so
// an embedder's timer-interrupt handler (or this package's own IPI
// handler above) can call it directly.
func (s *Scheduler) Tick(cpu int) {
	if cpu < 0 || cpu >= len(s.dispatchers) {
		return
	}
	s.dispatchers[cpu].Tick(s.clk.ReadTSC())
}

func (s *Scheduler) spawnIdleThread(cpu int) error {
	kstack, err := s.stacks.AllocCustom(stack.DefaultKernelSize/4, true)
	if err != nil {
		return errs.Wrap(errs.CodeStackAllocationFailed, "idle thread stack", err)
	}
	id := ThreadID(s.nextID.AddAcqRel(1))
	t := NewThread(id, IdleParams(), kstack)
	if err := t.SetState(StateReady); err != nil {
		return err
	}
	t.SetCPU(cpu)

	s.mu.Lock()
	s.threads[id] = t
	s.mu.Unlock()

	s.idle.RegisterIdleThreadForCPU(cpu, id)
	s.runQueues[cpu].SetIdle(id)
	return nil
}

// Spawn creates a Ready thread with params, running entry (if non-nil)
// on a fresh goroutine standing in for the new thread's execution
// context, and places it on its target CPU's pending queue (§4.1-4.3).
func (s *Scheduler) Spawn(params Params, entry EntryFunc, stackSize int) (ThreadID, error) {
	if err := params.Validate(); err != nil {
		return 0, err
	}
	if s.threadCount.LoadAcquire() >= uint64(s.cfg.MaxThreads) {
		return 0, &errs.Error{Code: errs.CodeThreadLimitReached, Current: int64(s.threadCount.LoadAcquire()), Max: int64(s.cfg.MaxThreads)}
	}

	if stackSize <= 0 {
		stackSize = stack.DefaultKernelSize
	}
	kstack, err := s.stacks.AllocCustom(stackSize, true)
	if err != nil {
		return 0, errs.Wrap(errs.CodeStackAllocationFailed, "spawn", err)
	}

	id := ThreadID(s.nextID.AddAcqRel(1))
	t := NewThread(id, params, kstack)
	parentID := ThreadID(s.CurrentThreadID())
	t.parent = parentID

	s.mu.Lock()
	s.threads[id] = t
	s.mu.Unlock()
	s.threadCount.AddAcqRel(1)

	if err := t.SetState(StateReady); err != nil {
		return 0, err
	}
	cpu := s.pickTargetCPU(params.Affinity)
	t.SetCPU(cpu)

	if entry != nil {
		go s.runThread(id, entry)
	}

	if err := s.runQueues[cpu].Pending.Push(id); err != nil {
		return id, err
	}
	s.idle.WakeCPU(cpu)
	return id, nil
}

func (s *Scheduler) runThread(id ThreadID, entry EntryFunc) {
	gid := callerGoroutineID()
	s.goroutineThreads.Store(gid, id)
	defer s.goroutineThreads.Delete(gid)

	entry(id)
	_ = s.Exit(0)
}

// Exit transitions the calling thread to Terminated and records its
// exit code (§4.12). The thread remains visible to Reap/Collect until
// its parent reaps it.
func (s *Scheduler) Exit(code ExitCode) error {
	id := ThreadID(s.CurrentThreadID())
	t := s.lookupThread(id)
	if t == nil {
		return &errs.Error{Code: errs.CodeThreadNotFound, ThreadID: uint64(id)}
	}
	if err := t.SetState(StateTerminated); err != nil {
		return err
	}
	t.setExitCode(code)

	cpu := t.CPU()
	if cpu >= 0 && cpu < len(s.current) {
		s.current[cpu].CompareAndSwapAcqRel(uint64(id), 0)
	}
	return nil
}

// Reap transitions a Terminated thread to Zombie, per this module's
// reading of §4.12's literal "Terminated --reap--> Zombie" edge: Reap
// marks a thread as collected-but-not-yet-freed, and Collect (the
// diagram's "gc" edge) removes it from the table and returns its exit
// code. Most callers only need Collect; Reap exists so a parent can
// observe "this child has exited" before deciding to read its exit code.
func (s *Scheduler) Reap(tid ThreadID) error {
	t := s.lookupThread(tid)
	if t == nil {
		return &errs.Error{Code: errs.CodeThreadNotFound, ThreadID: uint64(tid)}
	}
	return t.SetState(StateZombie)
}

// Collect removes tid from the thread table and returns its exit code,
// the diagram's Zombie --gc--> ∅ edge. tid must already be a Zombie.
func (s *Scheduler) Collect(tid ThreadID) (ExitCode, error) {
	t := s.lookupThread(tid)
	if t == nil {
		return 0, &errs.Error{Code: errs.CodeThreadNotFound, ThreadID: uint64(tid)}
	}
	if t.State() != StateZombie {
		return 0, &errs.Error{Code: errs.CodeInvalidStateTransition, From: t.State().String(), To: StateZombie.String(), ThreadID: uint64(tid)}
	}
	code := t.ExitCode()

	s.mu.Lock()
	delete(s.threads, tid)
	s.mu.Unlock()
	s.threadCount.AddAcqRel(negate(1))
	s.wakeChans.Delete(tid)
	return code, nil
}

// Yield voluntarily gives up the calling thread's remaining quantum
// (§4.10's "explicit yield" scheduling-point trigger).
func (s *Scheduler) Yield() error {
	id := ThreadID(s.CurrentThreadID())
	t := s.lookupThread(id)
	if t == nil {
		return &errs.Error{Code: errs.CodeThreadNotFound, ThreadID: uint64(id)}
	}
	cpu := t.CPU()
	s.Tick(cpu)
	return nil
}

// BlockCurrent implements ring.Scheduler: it transitions the calling
// thread to Blocked, frees its CPU, and waits until Unblock (or ctx) wakes
// it, the second phase of ring.BlockingWait's two-phase spin-then-block.
func (s *Scheduler) BlockCurrent(ctx context.Context, threadID uint64) error {
	id := ThreadID(threadID)
	t := s.lookupThread(id)
	if t == nil {
		return &errs.Error{Code: errs.CodeThreadNotFound, ThreadID: threadID}
	}
	if err := t.SetState(StateBlocked); err != nil {
		return err
	}
	cpu := t.CPU()
	if cpu >= 0 && cpu < len(s.current) {
		s.current[cpu].CompareAndSwapAcqRel(threadID, 0)
	}

	ch := s.wakeChanFor(id)
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		_ = t.SetState(StateReady)
		return &errs.Error{Code: errs.CodeInterrupted, ThreadID: threadID, Err: ctx.Err()}
	}
}

// Unblock implements ring.Scheduler: it transitions threadID back to
// Ready (a no-op if it is not currently Blocked), places it on its CPU's
// pending queue, and wakes that CPU if idle.
func (s *Scheduler) Unblock(threadID uint64) {
	id := ThreadID(threadID)
	t := s.lookupThread(id)
	if t == nil {
		return
	}
	if t.State() != StateBlocked {
		return
	}
	if err := t.SetState(StateReady); err != nil {
		return
	}
	cpu := t.CPU()
	if err := s.runQueues[cpu].Pending.Push(id); err != nil {
		s.log.LogError("unblock push pending", err)
	}
	s.idle.WakeCPU(cpu)

	ch := s.wakeChanFor(id)
	select {
	case ch <- struct{}{}:
	default:
	}
}

// CurrentThreadID implements ring.Scheduler: it identifies the calling
// goroutine (see callerGoroutineID) and looks up the ThreadID it was
// spawned under, returning 0 if the caller is not a scheduled thread's
// own goroutine (e.g. the process's initial goroutine).
func (s *Scheduler) CurrentThreadID() uint64 {
	gid := callerGoroutineID()
	v, ok := s.goroutineThreads.Load(gid)
	if !ok {
		return 0
	}
	return uint64(v.(ThreadID))
}

// WithCurrentThread looks up the calling goroutine's Thread and runs f
// against it, returning ThreadNotFound if the caller is not a scheduled
// thread.
func (s *Scheduler) WithCurrentThread(f func(t *Thread) error) error {
	id := ThreadID(s.CurrentThreadID())
	t := s.lookupThread(id)
	if t == nil {
		return &errs.Error{Code: errs.CodeThreadNotFound, ThreadID: uint64(id)}
	}
	return f(t)
}

// SetParams validates and replaces tid's scheduling parameters (§4.4's
// policy/priority/nice changes), rejecting the change outright once the
// thread has reached Zombie.
func (s *Scheduler) SetParams(tid ThreadID, params Params) error {
	if err := params.Validate(); err != nil {
		return err
	}
	t := s.lookupThread(tid)
	if t == nil {
		return &errs.Error{Code: errs.CodeThreadNotFound, ThreadID: uint64(tid)}
	}
	if t.State() == StateZombie {
		return &errs.Error{Code: errs.CodeThreadIsZombie, ThreadID: uint64(tid)}
	}
	t.setParams(params)
	return nil
}

func (s *Scheduler) wakeChanFor(id ThreadID) chan struct{} {
	v, _ := s.wakeChans.LoadOrStore(id, make(chan struct{}, 1))
	return v.(chan struct{})
}

func (s *Scheduler) lookupThread(id ThreadID) *Thread {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threads[id]
}

// pickTargetCPU honors an affinity mask by returning the lowest set bit
// among configured CPUs, falling back to round-robin-by-id when the mask
// excludes every CPU this Scheduler runs (§4.6's CPU affinity rules).
func (s *Scheduler) pickTargetCPU(affinity uint64) int {
	n := len(s.runQueues)
	if affinity != 0 {
		for cpu := 0; cpu < n && cpu < 64; cpu++ {
			if affinity&(1<<uint(cpu)) != 0 {
				return cpu
			}
		}
	}
	return int(s.nextID.LoadRelaxed()) % n
}

func negate(n uint64) uint64 { return ^n + 1 }
