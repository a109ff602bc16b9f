// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ring is the lock-free IPC core: cache-line slots with a single
// atomic header driving an Empty/Writing/Ready/Reading state machine,
// Disruptor-style sequence coordination, an inline fast path, a
// zero-copy shared-mapping path, and wait queues for the blocking case.
package ring

import "code.hybscloud.com/atomix"

// SlotSize is one cache line: an 8-byte atomic header plus 56 bytes of
// inline payload.
const SlotSize = 64

// MaxInlinePayload is the largest message that fits directly in a slot.
const MaxInlinePayload = 56

// State is a slot's position in its state machine.
type State uint8

const (
	// StateEmpty means the slot is free and may be claimed for writing.
	StateEmpty State = iota
	// StateWriting means a producer is writing into the slot.
	StateWriting
	// StateReady means the slot holds a complete message ready to read.
	StateReady
	// StateReading means a consumer is reading the slot.
	StateReading
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateWriting:
		return "writing"
	case StateReady:
		return "ready"
	case StateReading:
		return "reading"
	default:
		return "unknown"
	}
}

// Flag bits carried in a slot's header, orthogonal to State.
type Flag uint8

const (
	// FlagZeroCopy marks the payload as a shared-mapping reference rather
	// than inline bytes.
	FlagZeroCopy Flag = 1 << iota
	// FlagBatch marks the message as part of a batch commit.
	FlagBatch
	// FlagPriority marks the message for priority delivery.
	FlagPriority
	// FlagNeedAck marks the message as requiring acknowledgment.
	FlagNeedAck
	// FlagResponse marks the message as a response to an earlier one.
	FlagResponse
)

// Header is the decoded form of a slot's 8-byte atomic header:
// [state:8][flags:8][size:16][sequence:32].
type Header struct {
	State    State
	Flags    Flag
	Size     uint16
	Sequence uint32
}

func (h Header) encode() uint64 {
	return uint64(h.State) |
		uint64(h.Flags)<<8 |
		uint64(h.Size)<<16 |
		uint64(h.Sequence)<<32
}

func decodeHeader(raw uint64) Header {
	return Header{
		State:    State(raw & 0xFF),
		Flags:    Flag((raw >> 8) & 0xFF),
		Size:     uint16((raw >> 16) & 0xFFFF),
		Sequence: uint32((raw >> 32) & 0xFFFFFFFF),
	}
}

// IsInline reports whether a header's payload is inline bytes.
func (h Header) IsInline() bool { return h.Flags&FlagZeroCopy == 0 }

// IsZeroCopy reports whether a header's payload is a shared-mapping
// reference.
func (h Header) IsZeroCopy() bool { return h.Flags&FlagZeroCopy != 0 }

// Slot is one cache-line message slot: a single atomic 64-bit header
// drives the state machine, with 56 bytes of inline payload below it.
// Every transition is a single CAS on the header, so a slot never needs
// a separate lock.
type Slot struct {
	header  atomix.Uint64
	payload [MaxInlinePayload]byte
}

// NewSlotWithSequence returns a Slot pre-seeded with the given sequence,
// as used when laying out a ring's initial slot array.
func NewSlotWithSequence(seq uint32) *Slot {
	s := &Slot{}
	s.header.StoreRelaxed(Header{Sequence: seq}.encode())
	return s
}

func (s *Slot) loadHeader() Header { return decodeHeader(s.header.LoadAcquire()) }

// State returns the slot's current state.
func (s *Slot) State() State { return s.loadHeader().State }

// Sequence returns the slot's current sequence number.
func (s *Slot) Sequence() uint32 { return s.loadHeader().Sequence }

// TryBeginWrite attempts Empty -> Writing for the slot expected to be at
// expectedSeq. Returns true on success.
func (s *Slot) TryBeginWrite(expectedSeq uint32) bool {
	expected := Header{State: StateEmpty, Sequence: expectedSeq}.encode()
	next := Header{State: StateWriting, Sequence: expectedSeq}.encode()
	return s.header.CompareAndSwapAcqRel(expected, next)
}

// WriteInline copies data into the slot's payload and marks it Ready.
// The caller must have already won TryBeginWrite.
func (s *Slot) WriteInline(data []byte, flags Flag) {
	copy(s.payload[:], data)
	h := s.loadHeader()
	newH := Header{State: StateReady, Flags: flags &^ FlagZeroCopy, Size: uint16(len(data)), Sequence: h.Sequence}
	s.header.StoreRelease(newH.encode())
}

// WriteZeroCopy stores a mapping id and length into the slot's payload
// (in place of inline bytes) and marks it Ready. The caller must have
// already won TryBeginWrite.
func (s *Slot) WriteZeroCopy(mappingID uint64, size uint64, flags Flag) {
	putLE64(s.payload[0:8], mappingID)
	putLE64(s.payload[8:16], size)
	h := s.loadHeader()
	sz16 := uint16(0)
	if size <= 0xFFFF {
		sz16 = uint16(size)
	}
	newH := Header{State: StateReady, Flags: flags | FlagZeroCopy, Size: sz16, Sequence: h.Sequence}
	s.header.StoreRelease(newH.encode())
}

// TryBeginRead attempts Ready -> Reading for the slot expected to be at
// expectedSeq. Returns the message size and flags on success.
func (s *Slot) TryBeginRead(expectedSeq uint32) (size int, flags Flag, ok bool) {
	h := s.loadHeader()
	if h.State != StateReady || h.Sequence != expectedSeq {
		return 0, 0, false
	}
	newH := h
	newH.State = StateReading
	if !s.header.CompareAndSwapAcqRel(h.encode(), newH.encode()) {
		return 0, 0, false
	}
	return int(h.Size), h.Flags, true
}

// ReadInline copies size bytes of payload into buf. The caller must have
// already won TryBeginRead on an inline message.
func (s *Slot) ReadInline(buf []byte, size int) {
	copy(buf, s.payload[:size])
}

// ReadZeroCopy returns the mapping id and length stored by WriteZeroCopy.
// The caller must have already won TryBeginRead on a zero-copy message.
func (s *Slot) ReadZeroCopy() (mappingID uint64, size uint64) {
	return leUint64(s.payload[0:8]), leUint64(s.payload[8:16])
}

// FinishRead transitions Reading -> Empty and advances the slot's
// sequence by capacity so it is ready for the next lap of the ring.
func (s *Slot) FinishRead(capacity uint32) {
	h := s.loadHeader()
	newH := Header{State: StateEmpty, Sequence: h.Sequence + capacity}
	s.header.StoreRelease(newH.encode())
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func putLE64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v)
		v >>= 8
	}
}
