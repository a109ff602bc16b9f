// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package frame is a bitmap physical-frame allocator: it hands out
// 4 KiB-aligned frame numbers from a fixed-size region and takes them
// back, with a next-free hint for the common single-frame path and a
// run-length scan for contiguous allocation.
package frame

import (
	"sync"

	"code.hybscloud.com/atomix"
	"github.com/bits-and-blooms/bitset"

	"code.hybscloud.com/exocore/errs"
)

// Size is the fixed frame size in bytes.
const Size = 4096

// Frame is a 4 KiB-aligned physical frame, identified by its base address.
type Frame uint64

// Addr returns the frame's base physical address.
func (f Frame) Addr() uint64 { return uint64(f) }

// Stats reports the allocator's current accounting.
type Stats struct {
	TotalFrames uint64
	FreeFrames  uint64
	UsedFrames  uint64
}

// Allocator is a single bitmap over [base, base+total*Size). One bit per
// frame: 1 means allocated. Safe for concurrent use.
type Allocator struct {
	mu            sync.Mutex
	bits          *bitset.BitSet
	base          uint64
	total         uint64
	nextFreeHint  uint64
	freeFrames    atomix.Uint64
}

// New creates an allocator over total frames starting at base (which must
// already be frame-aligned by the caller; this package does not own page
// table setup).
func New(base uint64, total uint64) *Allocator {
	a := &Allocator{
		bits:  bitset.New(uint(total)),
		base:  base,
		total: total,
	}
	a.freeFrames.StoreRelaxed(total)
	return a
}

func (a *Allocator) frameAt(i uint64) Frame {
	return Frame(a.base + i*Size)
}

func (a *Allocator) indexOf(f Frame) (uint64, bool) {
	addr := f.Addr()
	if addr < a.base {
		return 0, false
	}
	off := addr - a.base
	if off%Size != 0 {
		return 0, false
	}
	idx := off / Size
	return idx, idx < a.total
}

// Allocate returns one free frame, scanning from the next-free hint and
// wrapping once around the bitmap.
func (a *Allocator) Allocate() (Frame, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for pass := 0; pass < 2; pass++ {
		start := a.nextFreeHint
		for i := start; i < a.total; i++ {
			if !a.bits.Test(uint(i)) {
				a.bits.Set(uint(i))
				a.nextFreeHint = i + 1
				a.freeFrames.AddAcqRel(^uint64(0)) // -1
				return a.frameAt(i), nil
			}
		}
		a.nextFreeHint = 0
	}

	return 0, errs.Wrap(errs.CodeOutOfMemory, "no free frames", nil)
}

// AllocateContiguous returns n physically contiguous free frames via a
// run-length scan, or fails with OutOfMemory.
func (a *Allocator) AllocateContiguous(n uint64) (Frame, error) {
	if n == 0 {
		return 0, &errs.Error{Code: errs.CodeInvalidParameter, Msg: "n must be > 0"}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var runStart, runLen uint64
	found := false
	for i := uint64(0); i < a.total; i++ {
		if a.bits.Test(uint(i)) {
			runLen = 0
			continue
		}
		if runLen == 0 {
			runStart = i
		}
		runLen++
		if runLen == n {
			found = true
			break
		}
	}
	if !found {
		return 0, errs.Wrap(errs.CodeOutOfMemory, "no contiguous run", nil)
	}

	for i := runStart; i < runStart+n; i++ {
		a.bits.Set(uint(i))
	}
	a.freeFrames.AddAcqRel(negate(n))
	a.nextFreeHint = runStart + n
	return a.frameAt(runStart), nil
}

// Deallocate releases a previously allocated frame. Returns InvalidAddress
// if f is not frame-aligned within the managed region, or DoubleFree if
// the frame is already marked free.
func (a *Allocator) Deallocate(f Frame) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx, ok := a.indexOf(f)
	if !ok {
		return &errs.Error{Code: errs.CodeInvalidAddress, Msg: "frame outside managed region", Requested: f.Addr()}
	}
	if !a.bits.Test(uint(idx)) {
		return &errs.Error{Code: errs.CodeDoubleFree, Msg: "frame already free", Requested: f.Addr()}
	}
	a.bits.Clear(uint(idx))
	a.freeFrames.AddAcqRel(1)
	if idx < a.nextFreeHint {
		a.nextFreeHint = idx
	}
	return nil
}

// MarkRegionUsed claims [addr, addr+length) as permanently allocated,
// e.g. for kernel/reserved regions discovered at boot. Frames already
// marked used are left untouched (idempotent).
func (a *Allocator) MarkRegionUsed(addr, length uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if addr < a.base {
		return &errs.Error{Code: errs.CodeInvalidAddress, Msg: "region starts before managed base"}
	}
	startIdx := (addr - a.base) / Size
	endIdx := (addr - a.base + length + Size - 1) / Size
	if endIdx > a.total {
		endIdx = a.total
	}
	for i := startIdx; i < endIdx; i++ {
		if !a.bits.Test(uint(i)) {
			a.bits.Set(uint(i))
			a.freeFrames.AddAcqRel(^uint64(0))
		}
	}
	return nil
}

// IsFree reports whether f is currently unallocated. Used to detect
// double frees before they corrupt accounting.
func (a *Allocator) IsFree(f Frame) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx, ok := a.indexOf(f)
	if !ok {
		return false
	}
	return !a.bits.Test(uint(idx))
}

// Stats reports total/free/used frame counts.
func (a *Allocator) Stats() Stats {
	free := a.freeFrames.LoadAcquire()
	return Stats{
		TotalFrames: a.total,
		FreeFrames:  free,
		UsedFrames:  a.total - free,
	}
}

// negate returns the two's complement of n, so AddAcqRel(negate(n)) on an
// atomix.Uint64 performs a wraparound decrement by n.
func negate(n uint64) uint64 {
	return ^n + 1
}
