// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ring

import (
	"bytes"
	"context"
	"testing"
)

func TestSendBatchRoutesBySizeAndKind(t *testing.T) {
	r := New(16, nil)
	mt := NewMappingTable()

	messages := []BatchMessage{
		{Data: []byte("small")},
		{Data: bytes.Repeat([]byte("x"), MaxInlinePayload+10), ZeroCopy: false},
		{Data: []byte("explicit zero copy"), ZeroCopy: true},
	}

	res, err := r.SendBatch(context.Background(), mt, messages)
	if err != nil {
		t.Fatalf("SendBatch: %v", err)
	}
	if res.Sent != 3 {
		t.Fatalf("expected all 3 messages sent, got %d", res.Sent)
	}
	if res.Failed != 0 {
		t.Fatalf("expected no failures, got %d", res.Failed)
	}
}

func TestSendBatchStopsOnRingClosed(t *testing.T) {
	r := New(2, nil)
	mt := NewMappingTable()
	// Fill the ring so the next send must block rather than claim a slot
	// outright, then close it: the blocked send observes WakeClosed.
	if err := r.TrySendInline([]byte("a"), 0); err != nil {
		t.Fatalf("TrySendInline: %v", err)
	}
	if err := r.TrySendInline([]byte("b"), 0); err != nil {
		t.Fatalf("TrySendInline: %v", err)
	}
	r.Close()

	messages := []BatchMessage{{Data: []byte("c")}}
	_, err := r.SendBatch(context.Background(), mt, messages)
	if err == nil {
		t.Fatalf("expected an error once the ring is closed and full")
	}
}

func TestSendBatchCapsAtMaxBatchSize(t *testing.T) {
	r := New(64, nil)
	mt := NewMappingTable()

	messages := make([]BatchMessage, MaxBatchSize+5)
	for i := range messages {
		messages[i] = BatchMessage{Data: []byte("m")}
	}

	res, err := r.SendBatch(context.Background(), mt, messages)
	if err != nil {
		t.Fatalf("SendBatch: %v", err)
	}
	if res.Sent != MaxBatchSize {
		t.Fatalf("expected SendBatch to cap at %d messages, got %d", MaxBatchSize, res.Sent)
	}
}
