// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package sched is the preemptive multi-policy scheduler: per-CPU run
// queues across six scheduling classes (Deadline/FIFO/RoundRobin/Normal/
// Batch/Idle), a dispatcher that picks the next thread and drives the
// architectural context switch, a per-CPU idle thread, and the glue the
// IPC ring's wait queue uses to block and wake threads.
package sched

import "code.hybscloud.com/exocore/errs"

// Policy identifies a scheduling class. The six variants are a closed
// sum type switched on directly rather than dispatched through an
// interface, keeping the hot path (ComparePriority, the dispatcher's
// class selection) branch-predictable.
type Policy uint32

const (
	// PolicyNormal is the default time-sharing class: hot/normal/cold
	// bands parameterized by nice.
	PolicyNormal Policy = iota
	// PolicyFIFO is real-time FIFO: highest static priority wins, no
	// timeslice preemption within equal priority.
	PolicyFIFO
	// PolicyRoundRobin is real-time Round-Robin: as FIFO but a fixed
	// quantum preempts equal-priority peers.
	PolicyRoundRobin
	// PolicyBatch is Normal with a doubled quantum.
	PolicyBatch
	// PolicyIdle only runs when nothing else is Ready.
	PolicyIdle
	// PolicyDeadline is EDF: earliest absolute deadline wins.
	PolicyDeadline
)

func (p Policy) String() string {
	switch p {
	case PolicyNormal:
		return "normal"
	case PolicyFIFO:
		return "fifo"
	case PolicyRoundRobin:
		return "round_robin"
	case PolicyBatch:
		return "batch"
	case PolicyIdle:
		return "idle"
	case PolicyDeadline:
		return "deadline"
	default:
		return "unknown"
	}
}

// IsRealtime reports whether p is one of the two static-priority RT
// classes. Deadline is scheduled earlier than RT but is not itself
// "realtime" in the static-priority sense this predicate checks.
func (p Policy) IsRealtime() bool { return p == PolicyFIFO || p == PolicyRoundRobin }

// defaultTimesliceUs is the policy's default quantum in microseconds, 0
// meaning "not time-based" (Deadline) and the max uint64 meaning "no
// preemption within the class" (FIFO).
func (p Policy) defaultTimesliceUs() uint64 {
	switch p {
	case PolicyNormal:
		return 10_000
	case PolicyFIFO:
		return ^uint64(0)
	case PolicyRoundRobin:
		return 100_000
	case PolicyBatch:
		return 50_000
	case PolicyIdle:
		return 1_000
	case PolicyDeadline:
		return 0
	default:
		return 10_000
	}
}

// Params holds one thread's scheduling parameters: policy, RT priority,
// nice, affinity, an optional explicit quantum override, and the
// Deadline-class (runtime, relative deadline, period) triple in
// nanoseconds. Validate rejects any combination the spec forbids.
type Params struct {
	Policy       Policy
	Priority     int32  // [1, 99] for FIFO/RoundRobin, ignored otherwise
	Nice         int8   // [-20, 19] for Normal/Batch, ignored otherwise
	Affinity     uint64 // CPU bitmask, 0 means "any CPU"
	TimesliceUs  uint64 // 0 means "use the policy default"
	RuntimeNs    uint64 // Deadline only
	DeadlineNs   uint64 // Deadline only
	PeriodNs     uint64 // Deadline only
}

// DefaultNormal returns SCHED_NORMAL parameters at nice 0.
func DefaultNormal() Params { return Params{Policy: PolicyNormal} }

// RealtimeFIFO returns SCHED_FIFO parameters at the given static priority.
func RealtimeFIFO(priority int32) Params {
	return Params{Policy: PolicyFIFO, Priority: priority}
}

// RealtimeRR returns SCHED_RR parameters at the given static priority,
// with the class's default 100ms quantum.
func RealtimeRR(priority int32) Params {
	return Params{Policy: PolicyRoundRobin, Priority: priority, TimesliceUs: 100_000}
}

// DeadlineParams returns SCHED_DEADLINE parameters with runtime <=
// deadline <= period, all in nanoseconds. Callers must still call
// Validate; this constructor does not check the ordering itself.
func DeadlineParams(runtimeNs, deadlineNs, periodNs uint64) Params {
	return Params{Policy: PolicyDeadline, RuntimeNs: runtimeNs, DeadlineNs: deadlineNs, PeriodNs: periodNs}
}

// BatchParams returns SCHED_BATCH parameters at the given nice value.
func BatchParams(nice int8) Params {
	return Params{Policy: PolicyBatch, Nice: nice, TimesliceUs: 50_000}
}

// IdleParams returns SCHED_IDLE parameters, fixed at the lowest nice.
func IdleParams() Params {
	return Params{Policy: PolicyIdle, Nice: 19, TimesliceUs: 1_000}
}

// Validate rejects any parameter combination that violates the policy's
// constraints: RT priority must be in [1, 99]; Deadline's runtime/
// deadline/period must all be nonzero with runtime <= deadline <= period;
// every other policy's nice must be in [-20, 19].
func (p Params) Validate() error {
	switch p.Policy {
	case PolicyFIFO, PolicyRoundRobin:
		if p.Priority < 1 || p.Priority > 99 {
			return &errs.Error{Code: errs.CodeInvalidPriority, Msg: "RT priority must be 1-99", Requested: uint64(p.Priority)}
		}
	case PolicyDeadline:
		if p.RuntimeNs == 0 || p.DeadlineNs == 0 || p.PeriodNs == 0 {
			return &errs.Error{Code: errs.CodeInvalidPolicy, Msg: "deadline requires nonzero runtime, deadline, and period"}
		}
		if p.RuntimeNs > p.DeadlineNs {
			return &errs.Error{Code: errs.CodeInvalidPolicy, Msg: "runtime cannot exceed deadline"}
		}
		if p.DeadlineNs > p.PeriodNs {
			return &errs.Error{Code: errs.CodeInvalidPolicy, Msg: "deadline cannot exceed period"}
		}
	case PolicyNormal, PolicyBatch, PolicyIdle:
		if p.Nice < -20 || p.Nice > 19 {
			return &errs.Error{Code: errs.CodeInvalidPriority, Msg: "nice value must be -20 to 19"}
		}
	default:
		return &errs.Error{Code: errs.CodeInvalidPolicy, Msg: "unknown scheduling policy"}
	}
	return nil
}

// EffectiveTimesliceUs returns TimesliceUs if explicitly set, otherwise
// the policy's default.
func (p Params) EffectiveTimesliceUs() uint64 {
	if p.TimesliceUs > 0 {
		return p.TimesliceUs
	}
	return p.Policy.defaultTimesliceUs()
}

// ComparePriority orders a against b for scheduling purposes: a negative
// result means a runs first. Order: Deadline (earliest absolute deadline,
// ties by thread id) > real-time (higher static priority) > Normal/Batch
// (lower nice) > Idle always last.
//
// aDeadlineAbs/bDeadlineAbs are each thread's absolute deadline (TSC
// cycles or ns, any monotonic unit consistent across both sides);
// aID/bID break exact deadline ties.
func ComparePriority(a, b Params, aDeadlineAbs, bDeadlineAbs uint64, aID, bID uint64) int {
	aDL := a.Policy == PolicyDeadline
	bDL := b.Policy == PolicyDeadline
	switch {
	case aDL && bDL:
		if aDeadlineAbs != bDeadlineAbs {
			if aDeadlineAbs < bDeadlineAbs {
				return -1
			}
			return 1
		}
		if aID != bID {
			if aID < bID {
				return -1
			}
			return 1
		}
		return 0
	case aDL:
		return -1
	case bDL:
		return 1
	}

	aRT, bRT := a.Policy.IsRealtime(), b.Policy.IsRealtime()
	switch {
	case aRT && !bRT:
		return -1
	case !aRT && bRT:
		return 1
	case aRT && bRT:
		if a.Priority != b.Priority {
			if a.Priority > b.Priority {
				return -1
			}
			return 1
		}
		return 0
	}

	aIdle, bIdle := a.Policy == PolicyIdle, b.Policy == PolicyIdle
	switch {
	case aIdle && !bIdle:
		return 1
	case !aIdle && bIdle:
		return -1
	}

	if a.Nice != b.Nice {
		if a.Nice < b.Nice {
			return -1
		}
		return 1
	}
	return 0
}

// maxStarvationBoost is the anti-starvation cap: a Normal/Batch thread's
// effective priority never rises by more than this many levels no matter
// how long it has waited.
const maxStarvationBoost = 10

// starvationBoostIntervalUs is the wait-time granularity: every full
// interval of waiting earns +1 effective priority, up to the cap.
const starvationBoostIntervalUs = 100_000

// PriorityBoost returns the anti-starvation boost (0..10) a Normal/Batch
// thread earns for having waited waitTimeUs microseconds. Real-time and
// Deadline threads are never boosted; they are already scheduled ahead
// of Normal/Batch by class order.
func PriorityBoost(waitTimeUs uint64, policy Policy) int8 {
	if policy.IsRealtime() || policy == PolicyDeadline {
		return 0
	}
	boost := waitTimeUs / starvationBoostIntervalUs
	if boost > maxStarvationBoost {
		boost = maxStarvationBoost
	}
	return int8(boost)
}

// QuantumUs returns the time quantum in microseconds a thread with params
// should run for before preemption, given load (the number of Ready
// threads currently on its CPU).
func QuantumUs(params Params, load int) uint64 {
	base := params.EffectiveTimesliceUs()
	switch params.Policy {
	case PolicyFIFO:
		return ^uint64(0)
	case PolicyRoundRobin:
		return base
	case PolicyDeadline:
		return params.RuntimeNs / 1000
	case PolicyBatch:
		return base * 2
	case PolicyIdle:
		return base / 2
	case PolicyNormal:
		niceFactor := uint64(20 - int32(params.Nice))
		scaled := base * niceFactor / 20
		if load > 10 {
			scaled = scaled * 10 / uint64(load)
		}
		if def := params.Policy.defaultTimesliceUs(); scaled > def {
			scaled = def
		}
		return scaled
	default:
		return base
	}
}

