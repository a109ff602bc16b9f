// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package heap

import (
	"sync"

	"code.hybscloud.com/exocore/errs"
)

// threadCacheRefillBatch is how many chunks a thread-local cache pulls
// from the slab tier on a miss, amortizing slab-lock contention across
// several subsequent allocations by the same thread.
const threadCacheRefillBatch = 16

type cacheMagazine struct {
	class uint64
	free  []uint64
}

// ThreadCache is the bottom (smallest-request, hottest-path) tier: one
// magazine set per owning thread, refilled in batches from a Slab. There
// is no real thread-local storage in this userspace rendition, so callers
// identify "the current thread" with an explicit owner id (sched.ThreadID
// in the wired-up scheduler).
type ThreadCache struct {
	mu       sync.Mutex
	slab     *Slab
	guardNew func() *InterruptGuard
	owners   map[uint64]map[uint64]*cacheMagazine
}

// NewThreadCache creates a ThreadCache tier over slab.
func NewThreadCache(slab *Slab, guardNew func() *InterruptGuard) *ThreadCache {
	return &ThreadCache{slab: slab, guardNew: guardNew, owners: make(map[uint64]map[uint64]*cacheMagazine)}
}

func (tc *ThreadCache) magazinesFor(owner uint64) map[uint64]*cacheMagazine {
	m, ok := tc.owners[owner]
	if !ok {
		m = make(map[uint64]*cacheMagazine, len(threadCacheClasses))
		for _, c := range threadCacheClasses {
			m[c] = &cacheMagazine{class: c}
		}
		tc.owners[owner] = m
	}
	return m
}

// Allocate returns an offset of a block in the given size class owned by
// owner (a thread id), refilling from the slab tier in batches on a miss.
func (tc *ThreadCache) Allocate(owner, cpu int, size uint64) (uint64, error) {
	class, ok := sizeClassFor(size, threadCacheClasses)
	if !ok {
		return 0, &errs.Error{Code: errs.CodeInvalidParameter, Msg: "size exceeds thread cache tier"}
	}
	g := tc.guardNew()
	defer g.Release()
	tc.mu.Lock()
	defer tc.mu.Unlock()

	mag := tc.magazinesFor(uint64(owner))[class]
	if len(mag.free) == 0 {
		if err := tc.refill(mag, cpu); err != nil {
			return 0, err
		}
	}
	off := mag.free[len(mag.free)-1]
	mag.free = mag.free[:len(mag.free)-1]
	return off, nil
}

// Deallocate returns a block to owner's magazine for its size class.
func (tc *ThreadCache) Deallocate(owner int, off, size uint64) error {
	class, ok := sizeClassFor(size, threadCacheClasses)
	if !ok {
		return &errs.Error{Code: errs.CodeInvalidParameter, Msg: "size exceeds thread cache tier"}
	}
	g := tc.guardNew()
	defer g.Release()
	tc.mu.Lock()
	defer tc.mu.Unlock()

	mag := tc.magazinesFor(uint64(owner))[class]
	mag.free = append(mag.free, off)
	return nil
}

func (tc *ThreadCache) refill(mag *cacheMagazine, cpu int) error {
	for i := 0; i < threadCacheRefillBatch; i++ {
		off, err := tc.slab.Allocate(cpu, mag.class)
		if err != nil {
			if len(mag.free) > 0 {
				// Partial refill is still useful; only fail if we got nothing.
				return nil
			}
			return err
		}
		mag.free = append(mag.free, off)
	}
	return nil
}

// Stats reports how many bytes are currently parked in per-thread
// magazines across all owners and size classes.
func (tc *ThreadCache) Stats() (cached uint64) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	for _, classes := range tc.owners {
		for _, mag := range classes {
			cached += uint64(len(mag.free)) * mag.class
		}
	}
	return cached
}
