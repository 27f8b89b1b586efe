package host

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rhostcore/rhost/internal/engine"
	"github.com/rhostcore/rhost/internal/evalstack"
	"github.com/rhostcore/rhost/internal/wire"
)

// dispatchEval handles one "=<flags>" request. It is called from the
// inner loop, possibly while several other evals are already in flight
// on the Go call stack above it — that nesting is what lets a deeply
// interleaved chain of evals and blocking-callback responses unwind
// correctly: a panic raised by a more deeply nested dispatchEval (or
// by the inner loop itself, noticing an applicable cancellation while
// idle) propagates up through exactly the call frames this function's
// own engine.Protect call is there to catch.
func (h *Host) dispatchEval(ctx context.Context, msg *wire.Message) {
	flags := msg.Name[1:]

	if strings.Contains(flags, "B") && strings.Contains(flags, "E") {
		h.fatal(fmt.Errorf("host: eval request %q: B and E flags are mutually exclusive", msg.Name))
		return
	}
	if len(msg.Args) != 1 {
		h.fatal(fmt.Errorf("host: eval request %q: expected exactly one argument, got %d", msg.Name, len(msg.Args)))
		return
	}
	expr, err := msg.ArgString(0)
	if err != nil {
		h.fatal(fmt.Errorf("host: eval request %q: %w", msg.Name, err))
		return
	}

	if h.audit != nil {
		h.audit.Record(h.sessionID, "issued", msg.ID, expr)
	}

	status, parsed, parseErr := h.eng.Parse(expr)
	if status != engine.ParseOK {
		h.sendEvalResult(msg, status, parseErr, "", false)
		if h.audit != nil {
			h.audit.Record(h.sessionID, "completed", msg.ID, status.String())
		}
		return
	}

	cancelable := strings.Contains(flags, "/")
	allowBlocking := strings.Contains(flags, "@")
	jsonResult := strings.Contains(flags, "j")

	env := engine.EnvGlobal
	switch {
	case strings.Contains(flags, "B"):
		env = engine.EnvBase
	case strings.Contains(flags, "E"):
		env = engine.EnvEmpty
	}

	prevPermitted := h.setCallbacksPermitted(allowBlocking)
	defer h.setCallbacksPermitted(prevPermitted)

	// The push happens as the first action inside the protected body
	// and the pop as its last, so that a frame is only ever missing
	// its pop because the body was unwound by panic — in which case
	// the compensating pop below runs instead. This mirrors the
	// pre/post-hook discipline around the engine's own protected-call
	// restart point.
	popped := false
	value, evalErr, cancel := engine.Protect(func() (string, error) {
		h.stack.Push(evalstack.Frame{ID: msg.ID, Cancelable: cancelable})
		v, err := h.eng.Eval(ctx, parsed, env)
		if popErr := h.stack.Pop(msg.ID); popErr != nil {
			h.fatal(popErr)
		}
		popped = true
		return v, err
	})
	if !popped {
		if popErr := h.stack.Pop(msg.ID); popErr != nil {
			h.fatal(popErr)
		}
	}

	h.stack.ClearIfTarget(msg.ID)

	cancelled := cancel != nil || errors.Is(evalErr, engine.ErrCancelled)
	if cancelled {
		h.sendResponseFrame(msg, nil)
		if h.telemeter != nil {
			h.telemeter.Cancelled(msg.ID)
		}
		if h.audit != nil {
			h.audit.Record(h.sessionID, "cancelled", msg.ID, "")
		}
	} else {
		h.sendEvalResult(msg, status, evalErr, value, jsonResult)
		if h.audit != nil {
			h.audit.Record(h.sessionID, "completed", msg.ID, status.String())
		}
	}

	// The unwind isn't necessarily over: this frame may not have been
	// the cancellation's actual target, only one more frame on the
	// way to it. If cancellation state is still live, keep propagating
	// outward from this, the next safe yield point.
	if stillCanceling, targetID := h.stack.CancelState(); stillCanceling {
		panic(&engine.EvalCancel{TargetID: targetID})
	}
}

func (h *Host) sendEvalResult(msg *wire.Message, status engine.ParseStatus, evalErr error, value string, jsonFlag bool) {
	var errArg, valueArg any
	if evalErr != nil {
		errArg = evalErr.Error()
		valueArg = nil
	} else {
		valueArg = jsonOrString(value, jsonFlag)
	}
	h.sendResponseFrame(msg, status.String(), errArg, valueArg)
}
