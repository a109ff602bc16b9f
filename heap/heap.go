// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package heap

import (
	"code.hybscloud.com/exocore/arch"
	"code.hybscloud.com/exocore/errs"
)

// LockedHeap is the three-tier hybrid kernel heap: it routes a request to
// the thread cache (<=256B), the slab (<=4KiB), or the free list
// (everything larger, or aligned above 16), matching the spec's tier
// boundaries. An error from the cache or slab tier is returned as is; the
// request is not retried on a larger tier. Every tier shares the same
// InterruptController so a simulated timer interrupt sees one consistent
// critical section no matter which tier it lands in.
type LockedHeap struct {
	ctl   arch.InterruptController
	free  *FreeList
	slab  *Slab
	cache *ThreadCache
}

// New creates a LockedHeap over region (the entire backing store this
// heap will ever hand addresses into), with ncpu per-CPU slab magazine
// sets. If ctl is nil, a software InterruptController is created.
func New(region []byte, ncpu int, ctl arch.InterruptController) *LockedHeap {
	if ctl == nil {
		ctl = arch.NewSoftInterruptController()
	}
	guardNew := func() *InterruptGuard { return NewInterruptGuard(ctl) }
	fl := NewFreeList(region, guardNew)
	slab := NewSlab(fl, ncpu, guardNew)
	cache := NewThreadCache(slab, guardNew)
	return &LockedHeap{ctl: ctl, free: fl, slab: slab, cache: cache}
}

// Allocate returns the region offset of a block of at least size bytes
// aligned to align, owned by thread owner running on cpu. owner only
// affects which thread-cache magazine is used; it carries no other
// meaning here (the scheduler's ThreadID is the natural value to pass).
func (h *LockedHeap) Allocate(owner, cpu int, size, align uint64) (uint64, error) {
	if size == 0 {
		return 0, &errs.Error{Code: errs.CodeInvalidParameter, Msg: "size must be > 0"}
	}
	switch {
	case size <= threadCacheClasses[len(threadCacheClasses)-1] && align <= 16:
		off, err := h.cache.Allocate(owner, cpu, size)
		if err == nil {
			return off, nil
		}
		// Thread cache exhausted and its backing slab/free-list are also
		// out of memory; nothing smaller to fall back to.
		if errs.CodeOf(err) == errs.CodeOutOfMemory {
			return 0, err
		}
		return 0, err
	case size <= slabClasses[len(slabClasses)-1] && align <= 16:
		return h.slab.Allocate(cpu, size)
	default:
		return h.free.Allocate(size, align)
	}
}

// Deallocate releases a block previously returned by Allocate. Callers
// must pass the same size and align used at allocation time, and the same
// owner/cpu pair the tier routing would have picked for that size (the
// scheduler is expected to deallocate from the same thread it allocated
// on, matching how a real thread-local cache works).
func (h *LockedHeap) Deallocate(owner, cpu int, off, size, align uint64) error {
	switch {
	case size <= threadCacheClasses[len(threadCacheClasses)-1] && align <= 16:
		return h.cache.Deallocate(owner, off, size)
	case size <= slabClasses[len(slabClasses)-1] && align <= 16:
		return h.slab.Deallocate(cpu, off, size)
	default:
		return h.free.Deallocate(off, size)
	}
}

// HeapStats aggregates accounting across all three tiers. The free list's
// own Allocated figure counts every byte checked out of it, including
// whole pages handed to the slab tier that are sitting idle in a magazine
// rather than held by a caller; cached subtracts that idle inventory back
// out so Allocated reflects only bytes actually in a caller's hands.
func (h *LockedHeap) Stats() HeapStats {
	st := h.free.Stats()
	cached := h.slab.Stats() + h.cache.Stats()
	if st.Allocated >= cached {
		st.Allocated -= cached
	} else {
		st.Allocated = 0
	}
	st.Free += cached
	return st
}

// FreeListNodeCount exposes the free list tier's node count, e.g. for
// asserting the "fully coalesced back to one node" invariant after a
// stress test drains all three tiers back to empty.
func (h *LockedHeap) FreeListNodeCount() int {
	return h.free.FreeNodeCount()
}
