// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package errs is the single typed-error vocabulary shared by the frame
// allocator, heap, IPC ring, and scheduler. Every public operation across
// those packages returns either a nil error or an *errs.Error, so callers
// can switch on Code and consult Severity/Recoverable/ShouldLog/Hint
// instead of matching on opaque strings.
package errs

import (
	"errors"
	"fmt"

	"code.hybscloud.com/iox"
)

// Code identifies the kind of failure. Codes are grouped by subsystem but
// live in one flat enum so any caller can type-switch on a single type.
type Code uint32

const (
	_ Code = iota

	// Thread-limit
	CodeThreadLimitReached
	CodeProcessThreadLimit

	// Queue
	CodeQueueFull
	CodeQueueEmpty
	CodeQueueCorrupted
	CodePendingQueueFull

	// Thread-state
	CodeThreadNotFound
	CodeInvalidStateTransition
	CodeThreadAlreadyExists
	CodeThreadIsZombie

	// Memory
	CodeOutOfMemory
	CodeStackAllocationFailed
	CodeInvalidParameter
	CodeInvalidAddress
	CodeDoubleFree

	// Affinity
	CodeInvalidCPUMask
	CodeCPUNotAvailable
	CodeMigrationNotAllowed

	// Priority
	CodeInvalidPriority
	CodePriorityPermissionDenied

	// Locking
	CodeDeadlockDetected
	CodeHighContention
	CodeCasRetryExhausted

	// Policy
	CodeInvalidPolicy
	CodePolicyNotSupported
	CodeDeadlineMissed

	// IPC specific
	CodeInvalidSize
	CodeZeroCopyTooLarge
	CodeMappingNotFound
	CodeCapabilityDenied
	CodeRingClosed
	CodeTimeout
	CodeInterrupted

	// Internal
	CodeInternalError
	CodeNotInitialized
)

var codeNames = map[Code]string{
	CodeThreadLimitReached:     "thread_limit_reached",
	CodeProcessThreadLimit:     "process_thread_limit",
	CodeQueueFull:              "queue_full",
	CodeQueueEmpty:             "queue_empty",
	CodeQueueCorrupted:         "queue_corrupted",
	CodePendingQueueFull:       "pending_queue_full",
	CodeThreadNotFound:         "thread_not_found",
	CodeInvalidStateTransition: "invalid_state_transition",
	CodeThreadAlreadyExists:    "thread_already_exists",
	CodeThreadIsZombie:         "thread_is_zombie",
	CodeOutOfMemory:            "out_of_memory",
	CodeStackAllocationFailed:  "stack_allocation_failed",
	CodeInvalidParameter:       "invalid_parameter",
	CodeInvalidAddress:         "invalid_address",
	CodeDoubleFree:             "double_free",
	CodeInvalidCPUMask:         "invalid_cpu_mask",
	CodeCPUNotAvailable:        "cpu_not_available",
	CodeMigrationNotAllowed:    "migration_not_allowed",
	CodeInvalidPriority:        "invalid_priority",
	CodePriorityPermissionDenied: "priority_permission_denied",
	CodeDeadlockDetected:       "deadlock_detected",
	CodeHighContention:         "high_contention",
	CodeCasRetryExhausted:      "cas_retry_exhausted",
	CodeInvalidPolicy:          "invalid_policy",
	CodePolicyNotSupported:     "policy_not_supported",
	CodeDeadlineMissed:         "deadline_missed",
	CodeInvalidSize:            "invalid_size",
	CodeZeroCopyTooLarge:       "zero_copy_too_large",
	CodeMappingNotFound:        "mapping_not_found",
	CodeCapabilityDenied:       "capability_denied",
	CodeRingClosed:             "ring_closed",
	CodeTimeout:                "timeout",
	CodeInterrupted:            "interrupted",
	CodeInternalError:          "internal_error",
	CodeNotInitialized:         "not_initialized",
}

func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return "unknown"
}

// Error is the single tagged-error type returned by every operation in
// frame, heap, ring, and sched. Context fields are a flat set reused
// across variants (mirroring the offending ids/sizes/counts the original
// enum carried per-variant) rather than one struct type per code.
type Error struct {
	Code Code

	// Context, populated selectively depending on Code.
	ThreadID  uint64
	CPU       int
	Current   int64
	Max       int64
	Requested uint64
	Available uint64
	Retries   uint64
	From      string
	To        string
	Op        string

	Msg string
	Err error
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("exocore: %s: %s", e.Code, e.Msg)
	}
	return fmt.Sprintf("exocore: %s", e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, &Error{Code: X}) match by Code alone, letting
// callers write errors.Is(err, errs.New(errs.CodeQueueFull)) without
// comparing context fields.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New constructs a bare Error carrying only a code, for use as an
// errors.Is sentinel or for codes that need no extra context.
func New(code Code) *Error { return &Error{Code: code} }

// Wrap constructs an Error that wraps a lower-level cause.
func Wrap(code Code, msg string, cause error) *Error {
	return &Error{Code: code, Msg: msg, Err: cause}
}

// Severity returns 0 (info) .. 3 (critical).
func (e *Error) Severity() uint8 {
	switch e.Code {
	case CodeInternalError, CodeQueueCorrupted, CodeDeadlockDetected:
		return 3
	case CodeOutOfMemory, CodeThreadLimitReached, CodeDeadlineMissed, CodeDoubleFree:
		return 2
	case CodeHighContention, CodeInvalidStateTransition, CodeCasRetryExhausted:
		return 1
	default:
		return 0
	}
}

// Recoverable reports whether the caller can retry or otherwise continue.
func (e *Error) Recoverable() bool {
	switch e.Code {
	case CodeInternalError, CodeQueueCorrupted, CodeNotInitialized:
		return false
	default:
		return true
	}
}

// ShouldLog reports whether this error is noteworthy. Common, expected
// outcomes (thread not found during cleanup, an interrupted shutdown
// wait) are deliberately silent.
func (e *Error) ShouldLog() bool {
	switch e.Code {
	case CodeThreadNotFound, CodeInterrupted, CodeQueueFull, CodeQueueEmpty, CodeTimeout:
		return false
	default:
		return true
	}
}

// Hint returns a short human recovery hint.
func (e *Error) Hint() string {
	switch e.Code {
	case CodeThreadLimitReached, CodeProcessThreadLimit:
		return "wait for threads to exit or raise the limit"
	case CodeQueueFull, CodePendingQueueFull:
		return "drain the queue or reduce producer rate"
	case CodeThreadNotFound:
		return "thread may have already terminated"
	case CodeOutOfMemory:
		return "free memory or reduce allocation size"
	case CodeDeadlockDetected:
		return "review lock ordering, possible priority inversion"
	case CodeHighContention, CodeCasRetryExhausted:
		return "reduce concurrency or back off and retry"
	case CodeInvalidStateTransition:
		return "check thread lifecycle management"
	case CodeDeadlineMissed:
		return "reduce workload or relax the deadline"
	case CodeDoubleFree:
		return "verify the pointer was not already released"
	case CodeZeroCopyTooLarge:
		return "split the payload or use a smaller shared mapping"
	case CodeMappingNotFound:
		return "the mapping id was never allocated or was already unmapped"
	case CodeNotInitialized:
		return "initialize the subsystem before use"
	default:
		return "check configuration"
	}
}

// ErrWouldBlock aliases the shared non-failure signal used by IPC queue
// operations, matching the teacher's own re-export of iox.ErrWouldBlock
// for ecosystem consistency.
var ErrWouldBlock = iox.ErrWouldBlock

// IsWouldBlock reports whether err (or anything it wraps) is ErrWouldBlock.
func IsWouldBlock(err error) bool { return iox.IsWouldBlock(err) }

// IsSemantic reports whether err is a control-flow signal rather than a
// true failure (e.g. QueueFull, QueueEmpty, Timeout).
func IsSemantic(err error) bool {
	if iox.IsSemantic(err) {
		return true
	}
	var e *Error
	if errors.As(err, &e) {
		switch e.Code {
		case CodeQueueFull, CodeQueueEmpty, CodeTimeout, CodeThreadNotFound:
			return true
		}
	}
	return false
}

// CodeOf reports the Code of err, or 0 if err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}
