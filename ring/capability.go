// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ring

import (
	"sync"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/exocore/errs"
)

// CapabilityID identifies one issued capability.
type CapabilityID uint64

// CapabilityType is one permission a Capability may grant over a target
// IPC object (a ring or a zero-copy mapping).
type CapabilityType uint8

const (
	CapSend CapabilityType = iota
	CapReceive
	CapCreate
	CapDestroy
	CapMapMemory
	CapUnmapMemory
	CapGrant
	CapAdmin
)

// CapabilityFlags is a permission bitset mirroring CapabilityType.
type CapabilityFlags uint16

const (
	FlagCanSend CapabilityFlags = 1 << iota
	FlagCanReceive
	FlagCanCreate
	FlagCanDestroy
	FlagCanMap
	FlagCanUnmap
	FlagCanGrant
	FlagIsAdmin
)

// Predefined flag sets matching common grant shapes.
const (
	FlagsNone      CapabilityFlags = 0
	FlagsReadOnly                  = FlagCanReceive
	FlagsWriteOnly                 = FlagCanSend
	FlagsReadWrite                 = FlagCanSend | FlagCanReceive
	FlagsAdmin                     = FlagCanSend | FlagCanReceive | FlagCanCreate | FlagCanDestroy |
		FlagCanMap | FlagCanUnmap | FlagCanGrant | FlagIsAdmin
)

// Has reports whether f grants capType.
func (f CapabilityFlags) Has(capType CapabilityType) bool {
	switch capType {
	case CapSend:
		return f&FlagCanSend != 0
	case CapReceive:
		return f&FlagCanReceive != 0
	case CapCreate:
		return f&FlagCanCreate != 0
	case CapDestroy:
		return f&FlagCanDestroy != 0
	case CapMapMemory:
		return f&FlagCanMap != 0
	case CapUnmapMemory:
		return f&FlagCanUnmap != 0
	case CapGrant:
		return f&FlagCanGrant != 0
	case CapAdmin:
		return f&FlagIsAdmin != 0
	default:
		return false
	}
}

// Capability is one access-control token: who owns it, what target
// object it applies to, which permissions it grants, and when (if ever)
// it expires.
type Capability struct {
	ID        CapabilityID
	OwnerPID  uint64
	TargetID  uint64
	Flags     CapabilityFlags
	Label     string
	CreatedAt uint64
	ExpiresAt uint64 // 0 means never expires
}

// IsExpired reports whether the capability has expired as of now (in the
// same cycle/timestamp unit ExpiresAt was set in).
func (c *Capability) IsExpired(now uint64) bool {
	return c.ExpiresAt != 0 && now > c.ExpiresAt
}

// Verify reports whether the capability is unexpired and grants capType.
func (c *Capability) Verify(capType CapabilityType, now uint64) bool {
	return !c.IsExpired(now) && c.Flags.Has(capType)
}

var nextCapabilityID atomix.Uint64

func newCapabilityID() CapabilityID {
	return CapabilityID(nextCapabilityID.AddAcqRel(1))
}

// NewCapability issues a new capability with a globally unique id.
func NewCapability(ownerPID, targetID uint64, flags CapabilityFlags) *Capability {
	return &Capability{ID: newCapabilityID(), OwnerPID: ownerPID, TargetID: targetID, Flags: flags}
}

// CapabilityTable is the set of capabilities owned by one process (or
// thread, in this module's userspace rendition). The caller is
// responsible for keeping one table per principal; ring/heap/sched never
// reach across tables on their own.
type CapabilityTable struct {
	mu           sync.RWMutex
	ownerPID     uint64
	capabilities []*Capability
}

// NewCapabilityTable creates an empty capability table for ownerPID.
func NewCapabilityTable(ownerPID uint64) *CapabilityTable {
	return &CapabilityTable{ownerPID: ownerPID}
}

// Add records a capability in the table.
func (t *CapabilityTable) Add(c *Capability) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.capabilities = append(t.capabilities, c)
}

// Remove deletes a capability by id, returning it if found.
func (t *CapabilityTable) Remove(id CapabilityID) *Capability {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, c := range t.capabilities {
		if c.ID == id {
			t.capabilities = append(t.capabilities[:i], t.capabilities[i+1:]...)
			return c
		}
	}
	return nil
}

// Find returns the first unexpired capability granting capType over
// targetID, or nil.
func (t *CapabilityTable) Find(targetID uint64, capType CapabilityType, now uint64) *Capability {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, c := range t.capabilities {
		if c.TargetID == targetID && c.Verify(capType, now) {
			return c
		}
	}
	return nil
}

// HasPermission reports whether the table grants capType over targetID.
func (t *CapabilityTable) HasPermission(targetID uint64, capType CapabilityType, now uint64) bool {
	return t.Find(targetID, capType, now) != nil
}

// CleanupExpired drops every capability that has expired as of now.
func (t *CapabilityTable) CleanupExpired(now uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	live := t.capabilities[:0]
	for _, c := range t.capabilities {
		if !c.IsExpired(now) {
			live = append(live, c)
		}
	}
	t.capabilities = live
}

// Grant issues a new capability into table on behalf of granterTable,
// which must itself hold CapGrant over targetID (process id 1 is treated
// as the system principal and bypasses this check, matching the
// original's bootstrap escape hatch).
func Grant(granterTable *CapabilityTable, granterPID uint64, table *CapabilityTable, targetID uint64, flags CapabilityFlags, now uint64) (*Capability, error) {
	if granterPID != 1 && !granterTable.HasPermission(targetID, CapGrant, now) {
		return nil, &errs.Error{Code: errs.CodeCapabilityDenied, Msg: "granter lacks Grant capability"}
	}
	c := NewCapability(table.ownerPID, targetID, flags)
	table.Add(c)
	return c, nil
}
