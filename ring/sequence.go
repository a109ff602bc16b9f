// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ring

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// pad is a cache-line of padding, matching the teacher's false-sharing
// guard used throughout its mpmc* implementations.
type pad [64]byte

// Sequence is a position in a ring's total order.
type Sequence uint64

// ToIndex maps a sequence onto a slot index given a power-of-two mask.
func (s Sequence) ToIndex(mask uint64) uint64 { return uint64(s) & mask }

// Next returns the following sequence, wrapping on overflow.
func (s Sequence) Next() Sequence { return s + 1 }

// SequenceGroup is Disruptor-style claim/commit coordination for a ring
// shared by multiple producers and multiple consumers: every producer (or
// consumer) first wins a slot by CAS-advancing the claim counter, then
// blocks on the commit counter reaching its own claimed value before
// advancing commit itself, so commits become visible to the other side in
// claim order even though claims themselves may complete out of order.
type SequenceGroup struct {
	_              pad
	producerClaim  atomix.Uint64
	_              pad
	producerCommit atomix.Uint64
	_              pad
	consumerClaim  atomix.Uint64
	_              pad
	consumerCommit atomix.Uint64
	_              pad
	// Cached mirrors of the other side's commit counter, refreshed only
	// on a cache miss, to cut cross-core cache-line bouncing.
	cachedProducerCommit atomix.Uint64
	cachedConsumerCommit atomix.Uint64
	_                    pad
}

// TryClaimProduce claims the next slot for a producer if capacity allows,
// returning the claimed sequence.
func (g *SequenceGroup) TryClaimProduce(capacity uint64) (Sequence, bool) {
	sw := spin.Wait{}
	claimed := g.producerClaim.LoadRelaxed()
	for {
		consumed := g.cachedConsumerCommit.LoadRelaxed()
		if claimed-consumed >= capacity {
			fresh := g.consumerCommit.LoadAcquire()
			g.cachedConsumerCommit.StoreRelaxed(fresh)
			if claimed-fresh >= capacity {
				return 0, false // ring full
			}
		}
		if g.producerClaim.CompareAndSwapAcqRel(claimed, claimed+1) {
			return Sequence(claimed), true
		}
		claimed = g.producerClaim.LoadRelaxed()
		sw.Once()
	}
}

// CommitProduce makes a claimed producer slot visible to consumers. Must
// be called in claim order: a producer that claimed seq=5 blocks here
// until the producer that claimed seq=4 has committed.
func (g *SequenceGroup) CommitProduce(seq Sequence) {
	sw := spin.Wait{}
	for g.producerCommit.LoadAcquire() != uint64(seq) {
		sw.Once()
	}
	g.producerCommit.StoreRelease(uint64(seq) + 1)
}

// TryClaimConsume claims the next slot for a consumer if one has been
// committed by a producer, returning the claimed sequence.
func (g *SequenceGroup) TryClaimConsume() (Sequence, bool) {
	sw := spin.Wait{}
	claimed := g.consumerClaim.LoadRelaxed()
	for {
		produced := g.cachedProducerCommit.LoadRelaxed()
		if claimed >= produced {
			fresh := g.producerCommit.LoadAcquire()
			g.cachedProducerCommit.StoreRelaxed(fresh)
			if claimed >= fresh {
				return 0, false // ring empty
			}
		}
		if g.consumerClaim.CompareAndSwapAcqRel(claimed, claimed+1) {
			return Sequence(claimed), true
		}
		claimed = g.consumerClaim.LoadRelaxed()
		sw.Once()
	}
}

// CommitConsume makes a claimed consumer slot's release visible to
// producers waiting for free space. Must be called in claim order.
func (g *SequenceGroup) CommitConsume(seq Sequence) {
	sw := spin.Wait{}
	for g.consumerCommit.LoadAcquire() != uint64(seq) {
		sw.Once()
	}
	g.consumerCommit.StoreRelease(uint64(seq) + 1)
}

// HasProduceCapacity peeks whether a producer claim would succeed right
// now, without claiming: it refreshes the cached consumer commit on a
// stale read before answering. Used to close the window between a failed
// TryClaimProduce and this producer's wait-node enrollment, where a
// concurrent consumer commit could otherwise wake nobody.
func (g *SequenceGroup) HasProduceCapacity(capacity uint64) bool {
	claimed := g.producerClaim.LoadRelaxed()
	if claimed-g.cachedConsumerCommit.LoadRelaxed() < capacity {
		return true
	}
	fresh := g.consumerCommit.LoadAcquire()
	g.cachedConsumerCommit.StoreRelaxed(fresh)
	return claimed-fresh < capacity
}

// HasConsumeAvailable peeks whether a consumer claim would succeed right
// now, without claiming. Symmetric to HasProduceCapacity, for the
// receiver side of the same enroll/wake race.
func (g *SequenceGroup) HasConsumeAvailable() bool {
	claimed := g.consumerClaim.LoadRelaxed()
	if claimed < g.cachedProducerCommit.LoadRelaxed() {
		return true
	}
	fresh := g.producerCommit.LoadAcquire()
	g.cachedProducerCommit.StoreRelaxed(fresh)
	return claimed < fresh
}

// Len reports how many committed items are currently in the ring.
func (g *SequenceGroup) Len() uint64 {
	produced := g.producerCommit.LoadAcquire()
	consumed := g.consumerCommit.LoadAcquire()
	return produced - consumed
}

// IsEmpty reports whether the ring currently holds no committed items.
func (g *SequenceGroup) IsEmpty() bool { return g.Len() == 0 }
