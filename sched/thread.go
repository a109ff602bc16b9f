// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sched

import (
	"sync"

	"code.hybscloud.com/atomix"

	"code.hybscloud.com/exocore/arch"
	"code.hybscloud.com/exocore/errs"
	"code.hybscloud.com/exocore/stack"
)

// ThreadID uniquely identifies a thread for the lifetime of the process.
type ThreadID uint64

// State is a thread's position in the lifecycle state machine (§4.12).
type State uint32

const (
	StateCreated State = iota
	StateReady
	StateRunning
	StateBlocked
	StateSleeping
	StateTerminated
	StateZombie
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateBlocked:
		return "blocked"
	case StateSleeping:
		return "sleeping"
	case StateTerminated:
		return "terminated"
	case StateZombie:
		return "zombie"
	default:
		return "unknown"
	}
}

// validTransitions enumerates every legal (from, to) edge in the thread
// lifecycle diagram. Anything not listed here is rejected with
// InvalidStateTransition.
var validTransitions = map[State]map[State]bool{
	StateCreated:    {StateReady: true},
	StateReady:      {StateRunning: true, StateTerminated: true},
	StateRunning:    {StateReady: true, StateBlocked: true, StateSleeping: true, StateTerminated: true},
	StateBlocked:    {StateReady: true, StateTerminated: true},
	StateSleeping:   {StateReady: true, StateTerminated: true},
	StateTerminated: {StateZombie: true},
	StateZombie:     {},
}

// CanTransition reports whether from->to is a legal lifecycle edge.
func CanTransition(from, to State) bool {
	return validTransitions[from][to]
}

// ExitCode is the value a thread terminated with, observed by its
// reaping parent.
type ExitCode int32

// Thread is one schedulable unit: identity, scheduling parameters, the
// lifecycle state, its saved architectural context, an owned kernel
// stack (and optional user stack), and a signal mask/pending-signals
// bitset. Exported fields that multiple goroutines touch are backed by
// atomix types or guarded by mu; Params and the stacks are set once at
// spawn and read-mostly thereafter.
type Thread struct {
	ID       ThreadID
	ctx      arch.Context
	kernel   *stack.Stack
	user     *stack.Stack
	cpu      atomix.Uint64 // CPU this thread is bound to / ran on last
	deadline atomix.Uint64 // absolute deadline (ns), Deadline class only
	readySince atomix.Uint64 // TSC reading of the last enqueue onto a run queue (including re-enqueue after preemption), for anti-starvation accounting

	mu           sync.Mutex
	params       Params
	state        State
	exitCode     ExitCode
	signalMask   uint64
	pendingSigs  uint64
	parent       ThreadID

	// demand and quantumStart are touched only by the Dispatcher of the
	// CPU this thread is currently assigned to, never concurrently, so
	// they need no synchronization of their own.
	demand       uint8
	quantumStart uint64
}

// NewThread creates a Created thread with the given id, parameters, and
// kernel stack. Validate params before calling; NewThread does not
// re-validate.
func NewThread(id ThreadID, params Params, kernelStack *stack.Stack) *Thread {
	return &Thread{
		ID:     id,
		params: params,
		kernel: kernelStack,
		state:  StateCreated,
	}
}

// Params returns a copy of the thread's current scheduling parameters.
func (t *Thread) Params() Params {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.params
}

// setParams replaces the thread's scheduling parameters; callers must
// have already validated them (see Scheduler.SetParams).
func (t *Thread) setParams(p Params) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.params = p
}

// SetUserStack attaches an optional user-mode stack, for threads that run
// user code.
func (t *Thread) SetUserStack(s *stack.Stack) { t.user = s }

// KernelStack returns the thread's kernel stack.
func (t *Thread) KernelStack() *stack.Stack { return t.kernel }

// UserStack returns the thread's user stack, or nil if it has none.
func (t *Thread) UserStack() *stack.Stack { return t.user }

// Context returns a pointer to the thread's saved architectural context,
// for use with arch.ContextSwitcher.
func (t *Thread) Context() *arch.Context { return &t.ctx }

// State returns the thread's current lifecycle state.
func (t *Thread) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SetState attempts from->to; returns InvalidStateTransition if the edge
// is illegal. The write uses release ordering semantics (the mutex
// itself provides that here) so a CPU that later observes the new state
// also observes every field this call's caller set beforehand.
func (t *Thread) SetState(to State) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == to {
		return nil
	}
	if !CanTransition(t.state, to) {
		return &errs.Error{Code: errs.CodeInvalidStateTransition, From: t.state.String(), To: to.String(), ThreadID: uint64(t.ID)}
	}
	t.state = to
	return nil
}

// ExitCode returns the code a terminated thread exited with.
func (t *Thread) ExitCode() ExitCode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exitCode
}

// setExitCode records the exit code; only meaningful once the thread
// reaches Terminated.
func (t *Thread) setExitCode(code ExitCode) {
	t.exitCode = code
}

// CPU returns the id of the CPU this thread is currently assigned to (or
// last ran on while not runnable elsewhere).
func (t *Thread) CPU() int { return int(t.cpu.LoadAcquire()) }

// SetCPU records which CPU this thread is assigned to.
func (t *Thread) SetCPU(cpu int) { t.cpu.StoreRelease(uint64(cpu)) }

// AbsoluteDeadline returns the Deadline-class thread's absolute deadline
// in nanoseconds (0 for non-Deadline threads until set).
func (t *Thread) AbsoluteDeadline() uint64 { return t.deadline.LoadAcquire() }

// SetAbsoluteDeadline records tNow+Params.DeadlineNs as this thread's
// current period's absolute deadline.
func (t *Thread) SetAbsoluteDeadline(tNow uint64) {
	t.deadline.StoreRelease(tNow + t.Params().DeadlineNs)
}

// MarkReadyAt records tNow as the instant this thread became Ready, the
// basis for the anti-starvation boost computed from elapsed wait time.
func (t *Thread) MarkReadyAt(tNow uint64) { t.readySince.StoreRelease(tNow) }

// WaitTimeUs returns how long (in microseconds, assuming tNow and the
// stored mark share a nanosecond-like monotonic unit) this thread has
// been waiting since MarkReadyAt.
func (t *Thread) WaitTimeUs(tNow uint64) uint64 {
	since := t.readySince.LoadAcquire()
	if tNow <= since {
		return 0
	}
	return (tNow - since) / 1000
}

// SignalMask returns the thread's current signal mask.
func (t *Thread) SignalMask() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.signalMask
}

// SetSignalMask replaces the thread's signal mask.
func (t *Thread) SetSignalMask(mask uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.signalMask = mask
}

// RaiseSignal ORs sig into the pending-signals bitset.
func (t *Thread) RaiseSignal(sig uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pendingSigs |= sig
}

// PendingUnmasked returns the pending signals not blocked by the current
// mask.
func (t *Thread) PendingUnmasked() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pendingSigs &^ t.signalMask
}

// ClearSignal clears sig from the pending-signals bitset, e.g. after
// delivery via the signal layer's RestoreSignalContext hook.
func (t *Thread) ClearSignal(sig uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pendingSigs &^= sig
}

// Parent returns the id of the thread that spawned this one (0 if none).
func (t *Thread) Parent() ThreadID { return t.parent }
