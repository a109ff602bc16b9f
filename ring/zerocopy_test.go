// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ring

import (
	"context"
	"testing"

	"code.hybscloud.com/exocore/errs"
)

func TestMappingTableAllocateMapUnmap(t *testing.T) {
	mt := NewMappingTable()

	id, buf, err := mt.Allocate(128)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	for i := range buf {
		buf[i] = byte(i)
	}

	mapped, err := mt.Map(id)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if len(mapped) != 128 || mapped[10] != 10 {
		t.Fatalf("mapped bytes do not match what was written")
	}

	if mt.RefCount(id) != 1 {
		t.Fatalf("expected refcount 1 right after Allocate, got %d", mt.RefCount(id))
	}

	if err := mt.Unmap(id); err != nil {
		t.Fatalf("Unmap: %v", err)
	}
	if _, err := mt.Map(id); errs.CodeOf(err) != errs.CodeMappingNotFound {
		t.Fatalf("expected CodeMappingNotFound after refcount hit zero, got %v", err)
	}
}

func TestMappingTableRetainKeepsMappingAliveAcrossOneUnmap(t *testing.T) {
	mt := NewMappingTable()
	id, _, err := mt.Allocate(64)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := mt.Retain(id); err != nil {
		t.Fatalf("Retain: %v", err)
	}
	if mt.RefCount(id) != 2 {
		t.Fatalf("expected refcount 2 after Retain, got %d", mt.RefCount(id))
	}

	if err := mt.Unmap(id); err != nil {
		t.Fatalf("first Unmap: %v", err)
	}
	if _, err := mt.Map(id); err != nil {
		t.Fatalf("mapping should still be live after one of two Unmaps: %v", err)
	}

	if err := mt.Unmap(id); err != nil {
		t.Fatalf("second Unmap: %v", err)
	}
	if _, err := mt.Map(id); errs.CodeOf(err) != errs.CodeMappingNotFound {
		t.Fatalf("expected CodeMappingNotFound after refcount hit zero, got %v", err)
	}
}

func TestMappingTableAllocateRejectsOversizeAndNonPositive(t *testing.T) {
	mt := NewMappingTable()
	if _, _, err := mt.Allocate(0); errs.CodeOf(err) != errs.CodeZeroCopyTooLarge {
		t.Fatalf("expected CodeZeroCopyTooLarge for size 0, got %v", err)
	}
	if _, _, err := mt.Allocate(MaxZeroCopySize + 1); errs.CodeOf(err) != errs.CodeZeroCopyTooLarge {
		t.Fatalf("expected CodeZeroCopyTooLarge for oversize, got %v", err)
	}
}

func TestRingZeroCopyRoundTrip(t *testing.T) {
	r := New(4, nil)
	mt := NewMappingTable()

	payload := []byte("the quick brown fox")
	if err := r.TrySendZeroCopyData(mt, payload); err != nil {
		t.Fatalf("TrySendZeroCopyData: %v", err)
	}

	id, data, err := r.RecvZeroCopyData(context.Background(), mt)
	if err != nil {
		t.Fatalf("RecvZeroCopyData: %v", err)
	}
	if string(data) != string(payload) {
		t.Fatalf("expected %q, got %q", payload, data)
	}
	if err := mt.Unmap(id); err != nil {
		t.Fatalf("Unmap: %v", err)
	}
}

func TestRingRecvZeroCopyRejectsInlineMessage(t *testing.T) {
	r := New(4, nil)
	if err := r.TrySendInline([]byte("inline"), 0); err != nil {
		t.Fatalf("TrySendInline: %v", err)
	}
	_, _, err := r.RecvZeroCopy(context.Background())
	if errs.CodeOf(err) != errs.CodeInvalidParameter {
		t.Fatalf("expected CodeInvalidParameter when RecvZeroCopy meets an inline message, got %v", err)
	}
}

func TestRingSendZeroCopyRejectsOversizePayload(t *testing.T) {
	r := New(4, nil)
	err := r.TrySendZeroCopy(1, MaxZeroCopySize+1)
	if errs.CodeOf(err) != errs.CodeZeroCopyTooLarge {
		t.Fatalf("expected CodeZeroCopyTooLarge, got %v", err)
	}
}

func TestMappingTableStatsAggregates(t *testing.T) {
	mt := NewMappingTable()
	if _, _, err := mt.Allocate(100); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if _, _, err := mt.Allocate(200); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	st := mt.Stats()
	if st.ActiveMappings != 2 {
		t.Fatalf("expected 2 active mappings, got %d", st.ActiveMappings)
	}
	if st.TotalBytesMapped != 300 {
		t.Fatalf("expected 300 total bytes mapped, got %d", st.TotalBytesMapped)
	}
	if st.TotalReferences != 2 {
		t.Fatalf("expected 2 total references, got %d", st.TotalReferences)
	}
}
