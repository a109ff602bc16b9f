// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package heap

// threadCacheClasses are the size classes served by the thread-local
// cache tier (requests <=256B).
var threadCacheClasses = []uint64{16, 32, 64, 128, 256}

// slabClasses are the size classes served by the per-CPU slab tier
// (requests <=4KiB, refilled from the free list tier as whole pages).
var slabClasses = []uint64{16, 32, 64, 128, 256, 512, 1024, 2048, 4096}

// pageSize is the unit the slab tier refills in from the free list.
const pageSize = 4096

func sizeClassFor(size uint64, classes []uint64) (uint64, bool) {
	for _, c := range classes {
		if size <= c {
			return c, true
		}
	}
	return 0, false
}
