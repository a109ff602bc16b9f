// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sched

import (
	"bytes"
	"runtime"
	"strconv"
)

// callerGoroutineID identifies the calling goroutine. A real kernel reads
// "the current thread" from a per-CPU register (FS/GS base); this
// userspace rendition has one goroutine per spawned Thread and no such
// register, so it parses the runtime's own "goroutine N [state]:" stack
// header as the nearest equivalent of a per-thread identity a caller can
// query without having it passed explicitly. Scheduler is the only
// consumer: it maps this id to a ThreadID at Spawn time and looks it back
// up in CurrentThreadID.
func callerGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}
