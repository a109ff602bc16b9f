// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package heap

import (
	"sync"

	"code.hybscloud.com/exocore/errs"
)

// slabMagazine is a size class's free stack of region offsets for one CPU.
type slabMagazine struct {
	class uint64
	free  []uint64
}

// Slab is the middle tier: one magazine per (CPU, size class), refilled a
// page at a time from a FreeList when it runs dry. Allocations up to
// pageSize go through here; larger requests fall straight through to the
// free list.
type Slab struct {
	mu       sync.Mutex
	fl       *FreeList
	guardNew func() *InterruptGuard
	cpus     []map[uint64]*slabMagazine
}

// NewSlab creates a Slab tier over fl with ncpu independent per-CPU magazine
// sets.
func NewSlab(fl *FreeList, ncpu int, guardNew func() *InterruptGuard) *Slab {
	s := &Slab{fl: fl, guardNew: guardNew, cpus: make([]map[uint64]*slabMagazine, ncpu)}
	for i := range s.cpus {
		s.cpus[i] = make(map[uint64]*slabMagazine, len(slabClasses))
		for _, c := range slabClasses {
			s.cpus[i][c] = &slabMagazine{class: c}
		}
	}
	return s
}

// Allocate returns an offset of a block in the given size class on cpu,
// refilling the magazine from the free list if it is empty.
func (s *Slab) Allocate(cpu int, size uint64) (uint64, error) {
	class, ok := sizeClassFor(size, slabClasses)
	if !ok {
		return 0, &errs.Error{Code: errs.CodeInvalidParameter, Msg: "size exceeds slab tier"}
	}
	g := s.guardNew()
	defer g.Release()
	s.mu.Lock()
	defer s.mu.Unlock()

	mag := s.cpus[cpu%len(s.cpus)][class]
	if len(mag.free) == 0 {
		if err := s.refill(mag); err != nil {
			return 0, err
		}
	}
	off := mag.free[len(mag.free)-1]
	mag.free = mag.free[:len(mag.free)-1]
	return off, nil
}

// Deallocate returns a block to the owning CPU's magazine for its size
// class. Slab magazines are never shipped back to the free list tier
// during normal operation; a full heap rebuild (not modeled here) would
// reclaim them.
func (s *Slab) Deallocate(cpu int, off, size uint64) error {
	class, ok := sizeClassFor(size, slabClasses)
	if !ok {
		return &errs.Error{Code: errs.CodeInvalidParameter, Msg: "size exceeds slab tier"}
	}
	g := s.guardNew()
	defer g.Release()
	s.mu.Lock()
	defer s.mu.Unlock()

	mag := s.cpus[cpu%len(s.cpus)][class]
	mag.free = append(mag.free, off)
	return nil
}

// refill carves one page from the free list and splits it into mag.class
// sized chunks, pushing every chunk onto the magazine; Allocate then pops
// one of them.
func (s *Slab) refill(mag *slabMagazine) error {
	pageOff, err := s.fl.Allocate(pageSize, 16)
	if err != nil {
		return err
	}
	n := pageSize / mag.class
	for i := uint64(0); i < n; i++ {
		mag.free = append(mag.free, pageOff+i*mag.class)
	}
	return nil
}

// Stats reports how many bytes are currently parked in magazines across
// all CPUs and size classes, i.e. memory checked out of the free list but
// not yet handed to a caller.
func (s *Slab) Stats() (cached uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, classes := range s.cpus {
		for _, mag := range classes {
			cached += uint64(len(mag.free)) * mag.class
		}
	}
	return cached
}
