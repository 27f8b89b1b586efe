package host

import (
	"context"
	"fmt"

	"github.com/rhostcore/rhost/internal/engine"
	"github.com/rhostcore/rhost/internal/wire"
)

// innerLoop is entered by a blocking callback handler right after it
// issues its outbound request. It runs on the engine goroutine and is
// the only place that goroutine may suspend, per the concurrency
// model: it multiplexes the mailbox wakeup, a cancellation wakeup, the
// transport's close signal, and ctx cancellation, dispatching any
// re-entrant eval requests it observes along the way.
//
// If a cancellation becomes applicable while this loop is waiting —
// meaning the engine goroutine is idle, not inside some engine call
// that would notice the cancellation at its own tick — the loop itself
// raises the unwind by panicking *engine.EvalCancel, the direct
// translation of the non-local jump the embedded engine would
// otherwise perform.
func (h *Host) innerLoop(ctx context.Context, awaitID, awaitName string) (*wire.Message, error) {
	for {
		if h.stack.Applicable() {
			_, targetID := h.stack.CancelState()
			panic(&engine.EvalCancel{TargetID: targetID})
		}

		select {
		case <-h.mbox.Wake():
			msg, ok := h.mbox.Take()
			if !ok {
				continue
			}
			if msg.IsResponse() {
				if msg.RequestID != awaitID || msg.Name != awaitName {
					err := fmt.Errorf("host: response mismatch: awaiting %s/%s, got %s/%s", awaitID, awaitName, msg.RequestID, msg.Name)
					h.fatal(err)
					return nil, err
				}
				return msg, nil
			}
			if msg.IsEval() {
				h.dispatchEval(ctx, msg)
				// Still awaiting awaitID: re-arm the mailbox, which Take
				// (and any nested request) left Unexpected.
				if err := h.mbox.Expect(); err != nil {
					h.fatal(err)
					return nil, err
				}
				continue
			}
			err := fmt.Errorf("host: unsolicited request %q while awaiting %s/%s", msg.Name, awaitID, awaitName)
			h.fatal(err)
			return nil, err

		case <-h.cancelWake:
			continue

		case <-h.conn.Closed():
			err := fmt.Errorf("host: lost connection to client")
			h.fatal(err)
			return nil, err

		case <-h.done:
			return nil, fmt.Errorf("host: session terminated")

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
