// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package heap

import "code.hybscloud.com/exocore/arch"

// InterruptGuard is a scoped critical section: Acquire disables
// interrupts (recording whether they were enabled so nested or
// already-disabled callers don't re-enable them early), Release restores
// the prior state. It is the only defense against a timer interrupt
// re-entering the allocator while a free list is mid-mutation; every
// early return in this package goes through a deferred Release.
type InterruptGuard struct {
	ctl         arch.InterruptController
	wereEnabled bool
}

// NewInterruptGuard acquires the guard against ctl.
func NewInterruptGuard(ctl arch.InterruptController) *InterruptGuard {
	return &InterruptGuard{ctl: ctl, wereEnabled: ctl.Disable()}
}

// Release restores the interrupt-enabled state observed at acquisition.
// Safe to call more than once; only the first call has effect.
func (g *InterruptGuard) Release() {
	if g.ctl == nil {
		return
	}
	if g.wereEnabled {
		g.ctl.Enable()
	}
	g.ctl = nil
}
