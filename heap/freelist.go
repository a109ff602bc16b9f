// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package heap is the three-tier hybrid allocator: a thread-local cache
// for size classes <=256B, a per-CPU slab for size classes <=4KiB, and a
// coalescing sorted free list for everything larger. Every public entry
// point is reentrancy-safe against a concurrent "timer interrupt"
// (arch.InterruptController) touching the same tier.
package heap

import (
	"sort"
	"sync"

	"code.hybscloud.com/exocore/errs"
)

// minBlockSize is the smallest block the free list will hand out or
// track; it must be large enough to hold a freeListNode header.
const minBlockSize = 16

// freeListNode is the header written into the first bytes of every free
// block. Per the design note, the list is modeled as offsets from the
// region base rather than raw pointers, so traversal can be bounds
// checked in debug builds.
type freeListNode struct {
	size uint64
	next uint64 // offset of next node, or noNext
}

const noNext = ^uint64(0)

const nodeHeaderSize = 16 // two uint64s, matches freeListNode's layout

// FreeList is the top (largest-request) tier: a single sorted, coalescing
// free list embedded in a byte region, first-fit, 16-byte aligned.
// Grounded on the original heap's free-list allocator: the buddy tier
// described alongside it is not implemented, per the spec's own
// resolution of that ambiguity.
type FreeList struct {
	mu        sync.Mutex
	region    []byte
	headOff   uint64 // offset of first free node, or noNext
	allocated uint64
	guardNew  func() *InterruptGuard
}

// HeapStats reports the free list's accounting at a quiescent instant.
type HeapStats struct {
	TotalSize uint64
	Allocated uint64
	Free      uint64
}

// NewFreeList creates a free list over region, initially one free block
// covering the whole region.
func NewFreeList(region []byte, guardNew func() *InterruptGuard) *FreeList {
	fl := &FreeList{region: region, guardNew: guardNew}
	fl.writeNode(0, freeListNode{size: uint64(len(region)), next: noNext})
	fl.headOff = 0
	return fl
}

func (fl *FreeList) readNode(off uint64) freeListNode {
	b := fl.region[off : off+nodeHeaderSize]
	size := leUint64(b[0:8])
	next := leUint64(b[8:16])
	return freeListNode{size: size, next: next}
}

func (fl *FreeList) writeNode(off uint64, n freeListNode) {
	b := fl.region[off : off+nodeHeaderSize]
	putLeUint64(b[0:8], n.size)
	putLeUint64(b[8:16], n.next)
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func putLeUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v)
		v >>= 8
	}
}

func alignUp(n, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}

// Allocate returns an offset (into region) of a block of at least size
// bytes aligned to align, or OutOfMemory if no free block fits.
func (fl *FreeList) Allocate(size, align uint64) (uint64, error) {
	g := fl.guardNew()
	defer g.Release()
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if size == 0 {
		return 0, &errs.Error{Code: errs.CodeInvalidParameter, Msg: "size must be > 0"}
	}
	size = alignUp(maxU64(size, minBlockSize), 16)
	if align == 0 {
		align = 16
	}
	if align > 16 {
		// Every free-node offset this tier hands out is itself 16-byte
		// aligned (region base is 16-aligned and every inserted node's
		// size is rounded up to 16); a stronger alignment request has no
		// fit in this simplified single-region model.
		return 0, &errs.Error{Code: errs.CodeInvalidParameter, Msg: "alignment > 16 not supported by the free-list tier"}
	}
	if size > uint64(len(fl.region)) {
		return 0, errs.Wrap(errs.CodeOutOfMemory, "request larger than region", nil)
	}

	prevOff, curOff, ok := fl.findFit(size)
	if !ok {
		return 0, errs.Wrap(errs.CodeOutOfMemory, "no free block fits", nil)
	}

	cur := fl.readNode(curOff)
	allocEnd := curOff + size

	// Unlink cur from the list.
	if prevOff == noNext {
		fl.headOff = cur.next
	} else {
		prev := fl.readNode(prevOff)
		prev.next = cur.next
		fl.writeNode(prevOff, prev)
	}

	// Leftover between the allocation's end and the block's end becomes a
	// new free node, if it's big enough to hold one.
	curEnd := curOff + cur.size
	if curEnd > allocEnd && curEnd-allocEnd >= minBlockSize {
		fl.insertNode(allocEnd, curEnd-allocEnd)
	}

	fl.allocated += size
	return curOff, nil
}

// findFit returns (prevOffsetOrNoNext, offset, true) for the first free
// block at least size bytes, walking address order (first fit).
func (fl *FreeList) findFit(size uint64) (uint64, uint64, bool) {
	prev := noNext
	cur := fl.headOff
	for cur != noNext {
		node := fl.readNode(cur)
		if node.size >= size {
			return prev, cur, true
		}
		prev = cur
		cur = node.next
	}
	return 0, 0, false
}

// Deallocate releases a block previously returned by Allocate, given the
// same size used to allocate it, coalescing with adjacent free blocks.
func (fl *FreeList) Deallocate(off, size uint64) error {
	g := fl.guardNew()
	defer g.Release()
	fl.mu.Lock()
	defer fl.mu.Unlock()

	size = alignUp(maxU64(size, minBlockSize), 16)
	if off >= uint64(len(fl.region)) || off+size > uint64(len(fl.region)) {
		return &errs.Error{Code: errs.CodeInvalidAddress, Msg: "pointer outside heap region", Requested: off}
	}

	fl.insertNode(off, size)
	if fl.allocated < size {
		fl.allocated = 0
	} else {
		fl.allocated -= size
	}
	return nil
}

// insertNode inserts a free block [off, off+size) in address order and
// coalesces it with its immediate neighbors.
func (fl *FreeList) insertNode(off, size uint64) {
	fl.writeNode(off, freeListNode{size: size, next: noNext})

	if fl.headOff == noNext || off < fl.headOff {
		n := fl.readNode(off)
		n.next = fl.headOff
		fl.writeNode(off, n)
		fl.headOff = off
		fl.tryMergeForward(off)
		return
	}

	prev := fl.headOff
	for {
		prevNode := fl.readNode(prev)
		if prevNode.next == noNext || off < prevNode.next {
			n := fl.readNode(off)
			n.next = prevNode.next
			fl.writeNode(off, n)
			prevNode.next = off
			fl.writeNode(prev, prevNode)
			fl.tryMergeForward(off)
			fl.tryMergeForward(prev)
			return
		}
		prev = prevNode.next
	}
}

// tryMergeForward merges the node at off with its immediate successor if
// they are address-adjacent.
func (fl *FreeList) tryMergeForward(off uint64) {
	node := fl.readNode(off)
	if node.next == noNext {
		return
	}
	next := fl.readNode(node.next)
	if off+node.size == node.next {
		node.size += next.size
		node.next = next.next
		fl.writeNode(off, node)
	}
}

// Stats reports the free list's size accounting.
func (fl *FreeList) Stats() HeapStats {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return HeapStats{
		TotalSize: uint64(len(fl.region)),
		Allocated: fl.allocated,
		Free:      uint64(len(fl.region)) - fl.allocated,
	}
}

// FreeNodeCount walks the free list and returns how many nodes it has.
// Used by tests asserting the post-reentrancy-stress invariant that the
// free list has coalesced back down to a single node.
func (fl *FreeList) FreeNodeCount() int {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	count := 0
	for cur := fl.headOff; cur != noNext; {
		count++
		cur = fl.readNode(cur).next
	}
	return count
}

// validateSorted is a debug-mode invariant check: the free list must be
// address-sorted with no two adjacent blocks left unmerged.
func (fl *FreeList) validateSorted() bool {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	var offs []uint64
	for cur := fl.headOff; cur != noNext; {
		offs = append(offs, cur)
		cur = fl.readNode(cur).next
	}
	if !sort.SliceIsSorted(offs, func(i, j int) bool { return offs[i] < offs[j] }) {
		return false
	}
	for i := 0; i+1 < len(offs); i++ {
		n := fl.readNode(offs[i])
		if offs[i]+n.size == offs[i+1] {
			return false // adjacent, should have been coalesced
		}
	}
	return true
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
