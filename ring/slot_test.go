// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ring

import "testing"

func TestSlotInlineRoundTrip(t *testing.T) {
	s := NewSlotWithSequence(0)
	if s.State() != StateEmpty {
		t.Fatalf("expected StateEmpty, got %v", s.State())
	}
	if !s.TryBeginWrite(0) {
		t.Fatalf("TryBeginWrite failed on an empty slot")
	}
	s.WriteInline([]byte("hello"), FlagPriority)
	if s.State() != StateReady {
		t.Fatalf("expected StateReady after WriteInline, got %v", s.State())
	}

	size, flags, ok := s.TryBeginRead(0)
	if !ok {
		t.Fatalf("TryBeginRead failed on a ready slot")
	}
	if size != 5 {
		t.Fatalf("expected size 5, got %d", size)
	}
	if flags != FlagPriority {
		t.Fatalf("expected FlagPriority, got %v", flags)
	}
	buf := make([]byte, size)
	s.ReadInline(buf, size)
	if string(buf) != "hello" {
		t.Fatalf("expected %q, got %q", "hello", buf)
	}

	s.FinishRead(4)
	if s.State() != StateEmpty {
		t.Fatalf("expected StateEmpty after FinishRead, got %v", s.State())
	}
	if s.Sequence() != 4 {
		t.Fatalf("expected sequence advanced by capacity to 4, got %d", s.Sequence())
	}
}

func TestSlotTryBeginWriteRejectsWrongSequence(t *testing.T) {
	s := NewSlotWithSequence(3)
	if s.TryBeginWrite(0) {
		t.Fatalf("TryBeginWrite should fail for a mismatched expected sequence")
	}
	if !s.TryBeginWrite(3) {
		t.Fatalf("TryBeginWrite should succeed for the matching sequence")
	}
}

func TestSlotTryBeginReadRejectsWrongState(t *testing.T) {
	s := NewSlotWithSequence(0)
	if _, _, ok := s.TryBeginRead(0); ok {
		t.Fatalf("TryBeginRead should fail on an Empty slot")
	}
}

func TestSlotZeroCopyRoundTrip(t *testing.T) {
	s := NewSlotWithSequence(0)
	if !s.TryBeginWrite(0) {
		t.Fatalf("TryBeginWrite failed")
	}
	s.WriteZeroCopy(42, 4096, 0)
	if !s.loadHeader().IsZeroCopy() {
		t.Fatalf("expected IsZeroCopy after WriteZeroCopy")
	}

	if _, _, ok := s.TryBeginRead(0); !ok {
		t.Fatalf("TryBeginRead failed on a ready zero-copy slot")
	}
	id, size := s.ReadZeroCopy()
	if id != 42 || size != 4096 {
		t.Fatalf("expected (42, 4096), got (%d, %d)", id, size)
	}
}

func TestHeaderIsInlineDefaultsTrue(t *testing.T) {
	h := Header{State: StateReady, Size: 8}
	if !h.IsInline() {
		t.Fatalf("a header with no ZeroCopy flag should report IsInline")
	}
	if h.IsZeroCopy() {
		t.Fatalf("a header with no ZeroCopy flag should not report IsZeroCopy")
	}
}
