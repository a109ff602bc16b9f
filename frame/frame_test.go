// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package frame

import (
	"errors"
	"testing"

	"code.hybscloud.com/exocore/errs"
)

func TestAllocateDeallocateRoundTrip(t *testing.T) {
	a := New(0x100000, 16)

	f, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if f.Addr() != 0x100000 {
		t.Fatalf("expected first frame at base, got %#x", f.Addr())
	}

	st := a.Stats()
	if st.UsedFrames != 1 || st.FreeFrames != 15 {
		t.Fatalf("unexpected stats: %+v", st)
	}

	if err := a.Deallocate(f); err != nil {
		t.Fatalf("Deallocate: %v", err)
	}
	st = a.Stats()
	if st.UsedFrames != 0 || st.FreeFrames != 16 {
		t.Fatalf("unexpected stats after free: %+v", st)
	}
}

func TestDoubleFree(t *testing.T) {
	a := New(0, 4)
	f, _ := a.Allocate()
	if err := a.Deallocate(f); err != nil {
		t.Fatalf("first free: %v", err)
	}
	err := a.Deallocate(f)
	if err == nil {
		t.Fatal("expected double-free error")
	}
	var e *errs.Error
	if !errors.As(err, &e) || e.Code != errs.CodeDoubleFree {
		t.Fatalf("expected DoubleFree, got %v", err)
	}
}

func TestOutOfMemory(t *testing.T) {
	a := New(0, 2)
	if _, err := a.Allocate(); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Allocate(); err != nil {
		t.Fatal(err)
	}
	_, err := a.Allocate()
	if !errors.Is(err, errs.New(errs.CodeOutOfMemory)) {
		t.Fatalf("expected OutOfMemory, got %v", err)
	}
}

func TestAllocateContiguous(t *testing.T) {
	a := New(0, 8)
	// Fragment: allocate frame 0 via the single-frame path, then request a
	// contiguous run that must skip it.
	f0, _ := a.Allocate()
	_ = f0

	base, err := a.AllocateContiguous(4)
	if err != nil {
		t.Fatalf("AllocateContiguous: %v", err)
	}
	if base.Addr() != Size {
		t.Fatalf("expected contiguous run to start after the single frame, got %#x", base.Addr())
	}

	st := a.Stats()
	if st.UsedFrames != 5 {
		t.Fatalf("expected 5 used frames, got %d", st.UsedFrames)
	}
}

func TestMarkRegionUsed(t *testing.T) {
	a := New(0, 16)
	if err := a.MarkRegionUsed(0, 4*Size); err != nil {
		t.Fatalf("MarkRegionUsed: %v", err)
	}
	st := a.Stats()
	if st.UsedFrames != 4 {
		t.Fatalf("expected 4 frames reserved, got %d", st.UsedFrames)
	}
	f, err := a.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	if f.Addr() != 4*Size {
		t.Fatalf("expected allocation to skip reserved region, got %#x", f.Addr())
	}
}

func TestInvalidAddressOnDeallocate(t *testing.T) {
	a := New(0x1000, 4)
	err := a.Deallocate(Frame(0x1001))
	var e *errs.Error
	if !errors.As(err, &e) || e.Code != errs.CodeInvalidAddress {
		t.Fatalf("expected InvalidAddress, got %v", err)
	}
}
