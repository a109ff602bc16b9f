// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ring

import (
	"context"
	"sync"

	"code.hybscloud.com/exocore/errs"
	"code.hybscloud.com/exocore/frame"
	"code.hybscloud.com/spin"
)

// MaxZeroCopySize is the largest payload a single zero-copy mapping may
// carry through a ring.
const MaxZeroCopySize = 1024 * 1024

// defaultMappingFrames sizes the physical memory a standalone
// NewMappingTable simulates: enough frames to back several concurrent
// MaxZeroCopySize transfers without embedders having to supply their own
// frame.Allocator and backing store.
const defaultMappingFrames = 4 * 1024 // 16 MiB

// mapping is one shared-memory region: the actual bytes plus a reference
// count, backed by a run of physical frames. A mapping is torn down (its
// frames returned to the frame allocator) the moment the count reaches
// zero, matching the original's "ref_count is the sole ownership signal"
// design and §4.7's "pages returned to the frame allocator when the count
// reaches zero."
type mapping struct {
	mu         sync.Mutex
	bytes      []byte
	refCount   int
	baseFrame  frame.Frame
	frameCount uint64
}

// MappingTable is the zero-copy path's registry of currently-live shared
// mappings, keyed by a caller-opaque mapping id (standing in for the
// original's virtual address key, since this module has no address space
// of its own to allocate one from). Each mapping's bytes are backed by
// frames drawn from frames and sliced out of phys, the physical memory
// frames addresses index into.
type MappingTable struct {
	mu      sync.Mutex
	nextID  uint64
	entries map[uint64]*mapping

	frames *frame.Allocator
	phys   []byte
}

// NewMappingTable creates an empty zero-copy mapping table backed by its
// own private frame.Allocator and simulated physical memory, for callers
// that do not share a frame allocator with the rest of their process.
func NewMappingTable() *MappingTable {
	return NewMappingTableWithFrames(frame.New(0, defaultMappingFrames), make([]byte, defaultMappingFrames*frame.Size))
}

// NewMappingTableWithFrames creates an empty zero-copy mapping table whose
// mappings are allocated from frames and sliced out of phys (the
// simulated physical memory frame addresses index into, base 0). Use this
// constructor to share the process's single frame allocator (component 1)
// between the heap's page-sized requests and the IPC zero-copy path.
func NewMappingTableWithFrames(frames *frame.Allocator, phys []byte) *MappingTable {
	return &MappingTable{entries: make(map[uint64]*mapping), nextID: 1, frames: frames, phys: phys}
}

// Allocate creates a new zero-copy buffer of size bytes with one
// reference already held by the caller, returning its mapping id and
// backing bytes for the caller to fill before sending. The backing bytes
// are sliced out of ceil(size/4096) physically contiguous frames (§4.7).
func (t *MappingTable) Allocate(size int) (id uint64, buf []byte, err error) {
	if size <= 0 || size > MaxZeroCopySize {
		return 0, nil, &errs.Error{Code: errs.CodeZeroCopyTooLarge, Msg: "zero-copy size out of range", Requested: uint64(size), Available: MaxZeroCopySize}
	}
	frameCount := (uint64(size) + frame.Size - 1) / frame.Size

	t.mu.Lock()
	defer t.mu.Unlock()

	base, err := t.frames.AllocateContiguous(frameCount)
	if err != nil {
		return 0, nil, err
	}
	addr := base.Addr()
	m := &mapping{
		bytes:      t.phys[addr : addr+uint64(size) : addr+frameCount*frame.Size],
		refCount:   1,
		baseFrame:  base,
		frameCount: frameCount,
	}
	id = t.nextID
	t.nextID++
	t.entries[id] = m
	return id, m.bytes, nil
}

// Retain increments a mapping's reference count, e.g. when a receiver
// maps an already-known id a second time.
func (t *MappingTable) Retain(id uint64) error {
	t.mu.Lock()
	m, ok := t.entries[id]
	t.mu.Unlock()
	if !ok {
		return errs.New(errs.CodeMappingNotFound)
	}
	m.mu.Lock()
	m.refCount++
	m.mu.Unlock()
	return nil
}

// Map returns the bytes behind a mapping id without changing its
// reference count, for a receiver that already holds a reference (e.g.
// the one implicitly transferred by a successful RecvZeroCopy).
func (t *MappingTable) Map(id uint64) ([]byte, error) {
	t.mu.Lock()
	m, ok := t.entries[id]
	t.mu.Unlock()
	if !ok {
		return nil, errs.New(errs.CodeMappingNotFound)
	}
	return m.bytes, nil
}

// Unmap decrements a mapping's reference count, releasing its backing
// frames to the frame allocator and removing it from the table once the
// count reaches zero (§4.7).
func (t *MappingTable) Unmap(id uint64) error {
	t.mu.Lock()
	m, ok := t.entries[id]
	if !ok {
		t.mu.Unlock()
		return errs.New(errs.CodeMappingNotFound)
	}
	m.mu.Lock()
	m.refCount--
	done := m.refCount <= 0
	m.mu.Unlock()
	if done {
		delete(t.entries, id)
	}
	t.mu.Unlock()

	if done {
		for i := uint64(0); i < m.frameCount; i++ {
			f := frame.Frame(m.baseFrame.Addr() + i*frame.Size)
			if err := t.frames.Deallocate(f); err != nil {
				return err
			}
		}
	}
	return nil
}

// RefCount reports a mapping's current reference count, or 0 if unknown.
func (t *MappingTable) RefCount(id uint64) int {
	t.mu.Lock()
	m, ok := t.entries[id]
	t.mu.Unlock()
	if !ok {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refCount
}

// ZeroCopyStats reports aggregate mapping table statistics.
type ZeroCopyStats struct {
	ActiveMappings  int
	TotalBytesMapped int
	TotalReferences int
}

// Stats reports the mapping table's current aggregate statistics.
func (t *MappingTable) Stats() ZeroCopyStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := ZeroCopyStats{ActiveMappings: len(t.entries)}
	for _, m := range t.entries {
		m.mu.Lock()
		st.TotalBytesMapped += len(m.bytes)
		st.TotalReferences += m.refCount
		m.mu.Unlock()
	}
	return st
}

// SendZeroCopy sends a mapping id and its length through the ring as a
// zero-copy message, blocking until a slot is free or ctx is done. The
// caller's reference to id transfers to the ring; a successful
// RecvZeroCopy implicitly takes ownership of it.
func (r *Ring) SendZeroCopy(ctx context.Context, mappingID uint64, size uint64) error {
	if size > MaxZeroCopySize {
		return &errs.Error{Code: errs.CodeZeroCopyTooLarge, Requested: size, Available: MaxZeroCopySize}
	}
	for {
		if err := ctx.Err(); err != nil {
			return errs.Wrap(errs.CodeInterrupted, "context done while sending", err)
		}
		seq, ok := r.seq.TryClaimProduce(r.capacity)
		if ok {
			slot := r.slots[seq.ToIndex(r.mask)]
			sw := spin.Wait{}
			for !slot.TryBeginWrite(uint32(seq)) {
				sw.Once()
			}
			slot.WriteZeroCopy(mappingID, size, 0)
			r.seq.CommitProduce(seq)
			r.waiters.WakeOneReceiver(r.sched)
			return nil
		}
		w := NewBlockingWaitWithRecheck(&r.waiters, true, r.sched, func() bool { return r.seq.HasProduceCapacity(r.capacity) })
		switch w.Wait(ctx) {
		case WakeClosed:
			return errs.New(errs.CodeRingClosed)
		case WakeInterrupted:
			return errs.New(errs.CodeInterrupted)
		}
	}
}

// TrySendZeroCopy is the non-blocking form of SendZeroCopy: it returns
// errs.CodeQueueFull immediately instead of waiting for a free slot.
func (r *Ring) TrySendZeroCopy(mappingID uint64, size uint64) error {
	if size > MaxZeroCopySize {
		return &errs.Error{Code: errs.CodeZeroCopyTooLarge, Requested: size, Available: MaxZeroCopySize}
	}
	seq, ok := r.seq.TryClaimProduce(r.capacity)
	if !ok {
		return errs.New(errs.CodeQueueFull)
	}
	slot := r.slots[seq.ToIndex(r.mask)]
	sw := spin.Wait{}
	for !slot.TryBeginWrite(uint32(seq)) {
		sw.Once()
	}
	slot.WriteZeroCopy(mappingID, size, 0)
	r.seq.CommitProduce(seq)
	r.waiters.WakeOneReceiver(r.sched)
	return nil
}

// TrySendZeroCopyData is the non-blocking high-level convenience path.
func (r *Ring) TrySendZeroCopyData(t *MappingTable, data []byte) error {
	id, buf, err := t.Allocate(len(data))
	if err != nil {
		return err
	}
	copy(buf, data)
	return r.TrySendZeroCopy(id, uint64(len(data)))
}

// RecvZeroCopy dequeues the next zero-copy message, returning its mapping
// id and length. The caller now owns the reference the sender transferred
// and must eventually call MappingTable.Unmap.
func (r *Ring) RecvZeroCopy(ctx context.Context) (mappingID uint64, size uint64, err error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, 0, errs.Wrap(errs.CodeInterrupted, "context done while receiving", err)
		}
		seq, ok := r.seq.TryClaimConsume()
		if ok {
			slot := r.slots[seq.ToIndex(r.mask)]
			sw := spin.Wait{}
			for {
				_, fl, won := slot.TryBeginRead(uint32(seq))
				if won {
					if !fl.IsZeroCopyFlag() {
						slot.FinishRead(uint32(r.capacity))
						r.seq.CommitConsume(seq)
						r.waiters.WakeOneSender(r.sched)
						return 0, 0, &errs.Error{Code: errs.CodeInvalidParameter, Msg: "use RecvInline for inline messages"}
					}
					break
				}
				sw.Once()
			}
			mappingID, size = slot.ReadZeroCopy()
			slot.FinishRead(uint32(r.capacity))
			r.seq.CommitConsume(seq)
			r.waiters.WakeOneSender(r.sched)
			return mappingID, size, nil
		}
		w := NewBlockingWaitWithRecheck(&r.waiters, false, r.sched, r.seq.HasConsumeAvailable)
		switch w.Wait(ctx) {
		case WakeClosed:
			return 0, 0, errs.New(errs.CodeRingClosed)
		case WakeInterrupted:
			return 0, 0, errs.New(errs.CodeInterrupted)
		}
	}
}

// SendZeroCopyData is the high-level convenience path: allocate a mapping
// sized to data, copy data in, and send it.
func (r *Ring) SendZeroCopyData(ctx context.Context, t *MappingTable, data []byte) error {
	id, buf, err := t.Allocate(len(data))
	if err != nil {
		return err
	}
	copy(buf, data)
	return r.SendZeroCopy(ctx, id, uint64(len(data)))
}

// RecvZeroCopyData is the high-level convenience path: receive a mapping
// id, map it, and return its bytes directly. The caller must Unmap(id)
// when done with the returned slice.
func (r *Ring) RecvZeroCopyData(ctx context.Context, t *MappingTable) (id uint64, data []byte, err error) {
	id, _, err = r.RecvZeroCopy(ctx)
	if err != nil {
		return 0, nil, err
	}
	data, err = t.Map(id)
	return id, data, err
}
