// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ring

import (
	"context"

	"code.hybscloud.com/exocore/errs"
)

// MaxBatchSize bounds a single SendBatch call for predictable cache
// behavior.
const MaxBatchSize = 32

// BatchMessage is one message queued for a batch send, routed to the
// inline or zero-copy path depending on ZeroCopy and its size.
type BatchMessage struct {
	Data     []byte
	ZeroCopy bool
}

// BatchResult summarizes a SendBatch call.
type BatchResult struct {
	Sent      int
	Failed    int
	BytesSent int
}

// SendBatch sends up to MaxBatchSize messages with the blocking
// SendInline/SendZeroCopyData calls, amortizing the caller's own
// per-message bookkeeping. A RingClosed or Interrupted error stops the
// batch and is returned together with how far it got; any other
// per-message error increments Failed and continues to the next message.
func (r *Ring) SendBatch(ctx context.Context, mt *MappingTable, messages []BatchMessage) (BatchResult, error) {
	var res BatchResult
	n := len(messages)
	if n > MaxBatchSize {
		n = MaxBatchSize
	}
	for _, msg := range messages[:n] {
		var err error
		if msg.ZeroCopy || len(msg.Data) > MaxInlinePayload {
			if mt == nil {
				err = &errs.Error{Code: errs.CodeInvalidParameter, Msg: "zero-copy batch message requires a MappingTable"}
			} else {
				err = r.SendZeroCopyData(ctx, mt, msg.Data)
			}
		} else {
			err = r.SendInline(ctx, msg.Data, 0)
		}

		switch {
		case err == nil:
			res.Sent++
			res.BytesSent += len(msg.Data)
		case errs.CodeOf(err) == errs.CodeRingClosed, errs.CodeOf(err) == errs.CodeInterrupted:
			return res, err
		default:
			res.Failed++
		}
	}
	return res, nil
}
