// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sched

import (
	"testing"

	"code.hybscloud.com/exocore/errs"
)

func TestParamsValidate(t *testing.T) {
	cases := []struct {
		name string
		p    Params
		ok   bool
	}{
		{"fifo valid", RealtimeFIFO(50), true},
		{"fifo too low", Params{Policy: PolicyFIFO, Priority: 0}, false},
		{"fifo too high", Params{Policy: PolicyFIFO, Priority: 100}, false},
		{"deadline valid", DeadlineParams(1_000_000, 2_000_000, 4_000_000), true},
		{"deadline zero runtime", DeadlineParams(0, 2_000_000, 4_000_000), false},
		{"deadline runtime exceeds deadline", DeadlineParams(3_000_000, 2_000_000, 4_000_000), false},
		{"deadline exceeds period", DeadlineParams(1_000_000, 5_000_000, 4_000_000), false},
		{"normal valid", DefaultNormal(), true},
		{"normal bad nice", Params{Policy: PolicyNormal, Nice: 30}, false},
		{"unknown policy", Params{Policy: Policy(99)}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.p.Validate()
			if c.ok && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !c.ok {
				if err == nil {
					t.Fatalf("expected an error")
				}
				if errs.CodeOf(err) != errs.CodeInvalidPriority && errs.CodeOf(err) != errs.CodeInvalidPolicy {
					t.Fatalf("unexpected code: %v", errs.CodeOf(err))
				}
			}
		})
	}
}

func TestComparePriorityClassOrder(t *testing.T) {
	dl := DeadlineParams(1, 2, 3)
	rt := RealtimeFIFO(50)
	normal := DefaultNormal()
	idle := IdleParams()

	if ComparePriority(dl, rt, 100, 0, 1, 2) >= 0 {
		t.Fatalf("deadline must outrank realtime")
	}
	if ComparePriority(rt, normal, 0, 0, 1, 2) >= 0 {
		t.Fatalf("realtime must outrank normal")
	}
	if ComparePriority(normal, idle, 0, 0, 1, 2) >= 0 {
		t.Fatalf("normal must outrank idle")
	}
}

func TestComparePriorityDeadlineTieBreak(t *testing.T) {
	a := DeadlineParams(1, 2, 3)
	b := DeadlineParams(1, 2, 3)
	if ComparePriority(a, b, 500, 500, 10, 20) >= 0 {
		t.Fatalf("equal deadlines should tie-break by lower thread id first")
	}
	if ComparePriority(a, b, 100, 200, 10, 20) >= 0 {
		t.Fatalf("earlier absolute deadline should win regardless of id")
	}
}

func TestPriorityBoostCapsAndExcludesRealtime(t *testing.T) {
	if b := PriorityBoost(10_000_000, PolicyNormal); b != maxStarvationBoost {
		t.Fatalf("expected boost capped at %d, got %d", maxStarvationBoost, b)
	}
	if b := PriorityBoost(10_000_000, PolicyFIFO); b != 0 {
		t.Fatalf("realtime threads must never be boosted, got %d", b)
	}
	if b := PriorityBoost(0, PolicyNormal); b != 0 {
		t.Fatalf("no wait, no boost, got %d", b)
	}
}

func TestQuantumUsFIFOIsUnbounded(t *testing.T) {
	q := QuantumUs(RealtimeFIFO(50), 4)
	if q != ^uint64(0) {
		t.Fatalf("FIFO quantum must be unbounded, got %d", q)
	}
}

func TestQuantumUsScalesWithLoad(t *testing.T) {
	light := QuantumUs(DefaultNormal(), 1)
	heavy := QuantumUs(DefaultNormal(), 50)
	if heavy >= light {
		t.Fatalf("quantum under heavy load (%d) should shrink vs light load (%d)", heavy, light)
	}
}

func TestQuantumUsNormalClampsToClassDefault(t *testing.T) {
	negativeNice := Params{Policy: PolicyNormal, Nice: -20}
	def := PolicyNormal.defaultTimesliceUs()
	if q := QuantumUs(negativeNice, 1); q != def {
		t.Fatalf("nice-boosted normal quantum must clamp to the class default %d, got %d", def, q)
	}
}
