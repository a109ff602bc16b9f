// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package stack allocates and tracks thread stacks: zeroed, 16-byte
// aligned byte slices with a guard band checked against a caller-supplied
// stack pointer rather than a real guard page (there is no MMU to fault
// on in this userspace rendition).
package stack

import (
	"sync"

	"code.hybscloud.com/exocore/errs"
)

const (
	// DefaultKernelSize is the default kernel thread stack size.
	DefaultKernelSize = 16 * 1024
	// DefaultUserSize is the default user thread stack size.
	DefaultUserSize = 1024 * 1024
	// GuardSize is the width of the low-address guard band: an RSP below
	// base+GuardSize is treated as an overflow.
	GuardSize = 4096
	// Alignment is the x86_64 ABI's required stack alignment.
	Alignment = 16
	minSize   = 4096
)

// Stack is one thread's stack: a zeroed, aligned byte region plus the
// bookkeeping needed to answer "how much is used" and "has this
// overflowed" given a current stack pointer reading.
type Stack struct {
	mem      []byte
	base     uint64 // lowest address
	top      uint64 // highest address, initial RSP
	isKernel bool
}

// New allocates a zeroed stack of at least size bytes (rounded up to
// Alignment, floored at minSize), tagged as a kernel or user stack. base
// is a caller-chosen virtual address the stack is deemed to start at;
// this module has no address space of its own to assign one from.
func New(base uint64, size int, isKernel bool) (*Stack, error) {
	if size < minSize {
		size = minSize
	}
	aligned := (size + Alignment - 1) &^ (Alignment - 1)
	if base%Alignment != 0 {
		return nil, &errs.Error{Code: errs.CodeInvalidAddress, Msg: "stack base must be 16-byte aligned"}
	}

	mem := make([]byte, aligned) // already zeroed by Go's allocator

	return &Stack{
		mem:      mem,
		base:     base,
		top:      base + uint64(aligned),
		isKernel: isKernel,
	}, nil
}

// Base returns the stack's lowest address.
func (s *Stack) Base() uint64 { return s.base }

// Top returns the stack's highest address, the initial stack pointer a
// new thread should start executing with.
func (s *Stack) Top() uint64 { return s.top }

// Size returns the stack's total size in bytes.
func (s *Stack) Size() int { return len(s.mem) }

// IsKernel reports whether this is a kernel stack.
func (s *Stack) IsKernel() bool { return s.isKernel }

// Contains reports whether addr falls within [base, top).
func (s *Stack) Contains(addr uint64) bool {
	return addr >= s.base && addr < s.top
}

// Used returns how many bytes of the stack are in use given the current
// stack pointer (stacks grow down, so used space is top - rsp).
func (s *Stack) Used(rsp uint64) uint64 {
	if rsp < s.top {
		return s.top - rsp
	}
	return 0
}

// Remaining returns how many bytes lie between the current stack pointer
// and the stack's base, the guard band included.
func (s *Stack) Remaining(rsp uint64) uint64 {
	if rsp > s.base {
		return rsp - s.base
	}
	return 0
}

// CheckOverflow reports whether rsp has entered the guard band at the
// stack's low address end.
func (s *Stack) CheckOverflow(rsp uint64) bool {
	return rsp < s.base+GuardSize
}

// Bytes exposes the backing storage, for a caller that needs to actually
// place a context-switch frame into the stack.
func (s *Stack) Bytes() []byte { return s.mem }

// Release zeroes the stack's memory. There is no explicit free: the
// backing slice is reclaimed by the garbage collector once unreferenced,
// matching the original's "zero before freeing" security property
// without needing an explicit deallocation call.
func (s *Stack) Release() {
	for i := range s.mem {
		s.mem[i] = 0
	}
}

// Stats reports aggregate stack allocator statistics.
type Stats struct {
	Allocated   uint64
	Deallocated uint64
	TotalBytes  uint64
}

// Allocator hands out kernel and user stacks at configurable default
// sizes and tracks aggregate allocation statistics.
type Allocator struct {
	mu          sync.Mutex
	kernelSize  int
	userSize    int
	nextBase    uint64
	allocated   uint64
	deallocated uint64
	totalBytes  uint64
}

// NewAllocator creates a stack allocator with the default kernel and
// user stack sizes, handing out stack base addresses starting at
// addrBase (a caller-chosen virtual address range).
func NewAllocator(addrBase uint64) *Allocator {
	return &Allocator{
		kernelSize: DefaultKernelSize,
		userSize:   DefaultUserSize,
		nextBase:   addrBase,
	}
}

// SetKernelStackSize overrides the default kernel stack size (floored at
// the minimum stack size).
func (a *Allocator) SetKernelStackSize(size int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if size < minSize {
		size = minSize
	}
	a.kernelSize = size
}

// SetUserStackSize overrides the default user stack size (floored at the
// minimum stack size).
func (a *Allocator) SetUserStackSize(size int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if size < minSize {
		size = minSize
	}
	a.userSize = size
}

// AllocKernelStack allocates a stack at the configured kernel stack size.
func (a *Allocator) AllocKernelStack() (*Stack, error) {
	return a.allocCustom(a.kernelSizeLocked(), true)
}

// AllocUserStack allocates a stack at the configured user stack size.
func (a *Allocator) AllocUserStack() (*Stack, error) {
	return a.allocCustom(a.userSizeLocked(), false)
}

// AllocCustom allocates a stack of a caller-specified size.
func (a *Allocator) AllocCustom(size int, isKernel bool) (*Stack, error) {
	return a.allocCustom(size, isKernel)
}

func (a *Allocator) kernelSizeLocked() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.kernelSize
}

func (a *Allocator) userSizeLocked() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.userSize
}

func (a *Allocator) allocCustom(size int, isKernel bool) (*Stack, error) {
	a.mu.Lock()
	base := a.nextBase
	aligned := (maxInt(size, minSize) + Alignment - 1) &^ (Alignment - 1)
	a.nextBase += uint64(aligned) + GuardSize // leave a guard gap between stacks
	a.mu.Unlock()

	s, err := New(base, size, isKernel)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.allocated++
	a.totalBytes += uint64(s.Size())
	a.mu.Unlock()
	return s, nil
}

// Free records that stk has been released. Go's garbage collector owns
// the actual memory reclamation; this only keeps the allocator's
// statistics accurate.
func (a *Allocator) Free(stk *Stack) {
	stk.Release()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deallocated++
	if a.totalBytes >= uint64(stk.Size()) {
		a.totalBytes -= uint64(stk.Size())
	} else {
		a.totalBytes = 0
	}
}

// Stats reports aggregate allocator statistics.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{Allocated: a.allocated, Deallocated: a.deallocated, TotalBytes: a.totalBytes}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
