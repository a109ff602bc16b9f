// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package arch is the seam between this module's subsystems and the
// architecture layer the spec treats as an external collaborator: CPU
// identity and cross-CPU IPI, a monotonic cycle counter, a context-switch
// primitive, and interrupt enable/disable. On bare metal these are a
// handful of inline assembly instructions; running as an ordinary Go
// process there is no literal "interrupt" to disable, so this package
// gives every caller the same acquire/release shape the teacher's
// internal/asm stub gives its unsupported-architecture fallback: a
// working software implementation, swappable by an embedder that wires
// this module into a real bare-metal runtime.
package arch

import (
	"sync"
	"sync/atomic"
	"time"
)

// InterruptController models the CLI/STI pair the heap's reentrancy guard
// needs. Disable reports whether interrupts were enabled before the call
// (so the guard knows whether to re-enable on release); Enable restores
// them.
type InterruptController interface {
	Disable() (wereEnabled bool)
	Enable()
}

// softInterruptController is the default InterruptController: a single
// mutex stands in for "the CPU can only run one interrupt handler or
// critical section at a time." Only a Disable that flips the enabled flag
// from true to false takes the mutex (and may wait for it); a Disable
// while interrupts are already disabled returns false at once without
// waiting. Enable releases the mutex only when it flips the flag back.
type softInterruptController struct {
	mu      sync.Mutex
	enabled atomic.Bool
}

// NewSoftInterruptController returns the default, process-local
// InterruptController used when no bare-metal backend is wired in.
func NewSoftInterruptController() InterruptController {
	c := &softInterruptController{}
	c.enabled.Store(true)
	return c
}

func (c *softInterruptController) Disable() bool {
	wasEnabled := c.enabled.Swap(false)
	if wasEnabled {
		c.mu.Lock()
	}
	return wasEnabled
}

func (c *softInterruptController) Enable() {
	if c.enabled.CompareAndSwap(false, true) {
		c.mu.Unlock()
	}
}

// CPU models per-CPU identity and the ability to interrupt another CPU.
type CPU interface {
	// CurrentCPUID returns the logical id of the CPU the calling goroutine
	// is pinned to. The software backend has no real CPU pinning and
	// always returns 0.
	CurrentCPUID() int
	// SendIPI asks cpu to re-enter its scheduling point, e.g. because a
	// thread just became Ready on its pending queue.
	SendIPI(cpu int, vector uint8)
	// CPUCount returns the number of logical CPUs this backend models.
	CPUCount() int
}

// IPIHandler is invoked when SendIPI targets a given CPU.
type IPIHandler func(cpu int, vector uint8)

// SoftCPU is a software CPU topology: N logical CPUs, IPIs delivered by
// direct callback invocation (synchronous, since there is no real
// interrupt controller to queue them on).
type SoftCPU struct {
	mu       sync.RWMutex
	count    int
	handlers map[int]IPIHandler
}

// NewSoftCPU creates a CPU backend exposing n logical CPUs.
func NewSoftCPU(n int) *SoftCPU {
	return &SoftCPU{count: n, handlers: make(map[int]IPIHandler)}
}

func (c *SoftCPU) CPUCount() int { return c.count }

// CurrentCPUID always returns 0 for the software backend: this module
// does not pin goroutines to OS threads, so "current CPU" is meaningful
// only where a caller explicitly threads a CPU id through (the scheduler
// does this itself; see sched.Scheduler).
func (c *SoftCPU) CurrentCPUID() int { return 0 }

// RegisterIPIHandler installs the callback invoked when cpu receives an
// IPI. Used by sched.Scheduler to wire "wake this CPU's dispatcher".
func (c *SoftCPU) RegisterIPIHandler(cpu int, h IPIHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[cpu] = h
}

func (c *SoftCPU) SendIPI(cpu int, vector uint8) {
	c.mu.RLock()
	h := c.handlers[cpu]
	c.mu.RUnlock()
	if h != nil {
		h(cpu, vector)
	}
}

// Clock models read_tsc(): a monotonic cycle counter used for deadline
// comparisons and quantum accounting.
type Clock interface {
	ReadTSC() uint64
}

// wallClock maps TSC cycles onto wall-clock nanoseconds: one tick is one
// nanosecond since the clock was created. The scheduler's microsecond
// quantum and wait-time accounting divides tick differences by 1000 and so
// relies on this ratio.
type wallClock struct{ start time.Time }

// NewWallClock returns a Clock backed by time.Now(), monotonic and
// good enough to stand in for RDTSC in a userspace rendition of the core.
func NewWallClock() Clock { return &wallClock{start: time.Now()} }

func (w *wallClock) ReadTSC() uint64 { return uint64(time.Since(w.start)) }

// Context is an opaque saved-register-context handle. The real contents
// are architecture-defined; this module only ever swaps pointers to it.
type Context struct {
	ThreadID uint64
}

// ContextSwitcher performs the architectural context switch: given the
// outgoing and incoming contexts, it must be atomic with respect to the
// scheduling-point caller. The software backend has no registers to
// save — Go's own goroutine scheduler already does that — so this is a
// no-op marker kept for interface parity with a bare-metal backend.
type ContextSwitcher interface {
	Switch(out, in *Context)
}

type softContextSwitcher struct{}

// NewSoftContextSwitcher returns the default, no-op ContextSwitcher.
func NewSoftContextSwitcher() ContextSwitcher { return softContextSwitcher{} }

func (softContextSwitcher) Switch(out, in *Context) {}
