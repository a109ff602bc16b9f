// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sched

import "testing"

func TestRunQueueClassOrder(t *testing.T) {
	rq := NewRunQueue(16)
	rq.SetIdle(999)
	rq.EnqueueNormal(1, bandHot)
	rq.EnqueueRT(2, 50)
	rq.EnqueueDeadline(3, 1000)

	id, cls, ok := rq.PickNext()
	if !ok || id != 3 || cls != PolicyDeadline {
		t.Fatalf("expected deadline thread 3 first, got id=%d cls=%v ok=%v", id, cls, ok)
	}
	id, cls, ok = rq.PickNext()
	if !ok || id != 2 || cls != PolicyFIFO {
		t.Fatalf("expected RT thread 2 second, got id=%d cls=%v ok=%v", id, cls, ok)
	}
	id, cls, ok = rq.PickNext()
	if !ok || id != 1 || cls != PolicyNormal {
		t.Fatalf("expected normal thread 1 third, got id=%d cls=%v ok=%v", id, cls, ok)
	}
	id, cls, ok = rq.PickNext()
	if !ok || id != 999 || cls != PolicyIdle {
		t.Fatalf("expected idle thread last, got id=%d cls=%v ok=%v", id, cls, ok)
	}
}

func TestRunQueueEDFEarliestDeadlineWins(t *testing.T) {
	rq := NewRunQueue(16)
	rq.EnqueueDeadline(1, 5000)
	rq.EnqueueDeadline(2, 1000)
	rq.EnqueueDeadline(3, 3000)

	order := []ThreadID{}
	for {
		id, _, ok := rq.PickNext()
		if !ok {
			break
		}
		order = append(order, id)
	}
	want := []ThreadID{2, 3, 1}
	for i, id := range want {
		if order[i] != id {
			t.Fatalf("expected EDF order %v, got %v", want, order)
		}
	}
}

func TestRunQueueNormalBandsServeHotBeforeCold(t *testing.T) {
	rq := NewRunQueue(16)
	rq.EnqueueNormal(1, bandCold)
	rq.EnqueueNormal(2, bandHot)
	rq.EnqueueNormal(3, bandNormal)

	id, _, _ := rq.PickNext()
	if id != 2 {
		t.Fatalf("expected hot band served first, got %d", id)
	}
	id, _, _ = rq.PickNext()
	if id != 3 {
		t.Fatalf("expected normal band served second, got %d", id)
	}
	id, _, _ = rq.PickNext()
	if id != 1 {
		t.Fatalf("expected cold band served last, got %d", id)
	}
}

func TestRunQueueEmptyWithNoIdle(t *testing.T) {
	rq := NewRunQueue(16)
	if _, _, ok := rq.PickNext(); ok {
		t.Fatalf("expected PickNext to report nothing runnable")
	}
}

func TestPendingQueuePushPopFIFO(t *testing.T) {
	q := NewPendingQueue(4)
	for i := ThreadID(1); i <= 4; i++ {
		if err := q.Push(i); err != nil {
			t.Fatalf("Push(%d): %v", i, err)
		}
	}
	for i := ThreadID(1); i <= 4; i++ {
		got, ok := q.Pop()
		if !ok || got != i {
			t.Fatalf("expected Pop to return %d, got %d ok=%v", i, got, ok)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Fatalf("expected empty queue")
	}
}

func TestPendingQueueDrainInto(t *testing.T) {
	q := NewPendingQueue(8)
	for i := ThreadID(1); i <= 3; i++ {
		if err := q.Push(i); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	var drained []ThreadID
	q.DrainInto(func(id ThreadID) bool {
		drained = append(drained, id)
		return true
	})
	if len(drained) != 3 {
		t.Fatalf("expected 3 drained, got %d", len(drained))
	}
}
