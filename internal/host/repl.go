package host

import (
	"context"
	"errors"

	"github.com/rhostcore/rhost/internal/engine"
	"github.com/rhostcore/rhost/internal/evalstack"
	"github.com/rhostcore/rhost/internal/transport"
	"github.com/rhostcore/rhost/internal/wire"
)

// ioWorker is the single reader goroutine for the connection. It never
// blocks on the engine goroutine: a cancellation frame is applied to
// the evaluation stack directly and the engine goroutine is nudged
// through cancelWake, bypassing the mailbox entirely, while every other
// frame is handed to the mailbox for the engine goroutine to consume in
// its own time.
func (h *Host) ioWorker(ctx context.Context) {
	for {
		frame, err := h.conn.Receive()
		if err != nil {
			select {
			case <-h.done:
			default:
				if !errors.Is(err, transport.ErrClosed) {
					h.fatal(err)
				}
			}
			return
		}

		msg, err := wire.Decode(frame)
		if err != nil {
			h.fatal(err)
			return
		}
		if msg == nil {
			h.shutdown()
			return
		}

		if msg.Name == "/" {
			target, ok, argErr := msg.ArgStringOrNull(0)
			if argErr != nil {
				h.fatal(argErr)
				return
			}
			h.stack.RequestCancel(target, !ok)
			select {
			case h.cancelWake <- struct{}{}:
			default:
			}
			continue
		}

		if err := h.mbox.Deliver(msg); err != nil {
			h.fatal(err)
			return
		}
	}
}

// runREPL drives the sentinel-level read-eval-print loop: the
// top-level frame underneath every nested evaluation, and the frame a
// cancellation with a null target unwinds to.
func (h *Host) runREPL(ctx context.Context) {
	for {
		select {
		case <-h.done:
			return
		default:
		}
		h.stepPrompt(ctx)
	}
}

// stepPrompt issues one read_console request and evaluates the result.
// Its deferred recover is the outermost *engine.EvalCancel boundary: a cancellation that
// unwinds all the way to the sentinel frame surfaces here, and this is
// where the "\\" cancel-complete notification is finally sent.
func (h *Host) stepPrompt(ctx context.Context) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		ec, ok := r.(*engine.EvalCancel)
		if !ok {
			panic(r)
		}
		// This is the outermost recovery point: nothing above the
		// sentinel frame remains to unwind through, so whatever the
		// cancellation was still targeting is resolved here.
		h.stack.ClearIfTarget(ec.TargetID)
		h.stack.ClearIfTarget(evalstack.SentinelID)
		h.notify(msgCancelComplete)
	}()

	line, eof, err := h.readPrompt(ctx, nil, defaultBufLen, true)
	if err != nil {
		return
	}
	if eof {
		h.shutdown()
		return
	}
	if line == "" {
		return
	}

	h.evalTopLevel(ctx, line)
}

// evalTopLevel parses and evaluates one line typed at the sentinel
// prompt, auto-printing a non-empty result the same way an interactive
// session would.
func (h *Host) evalTopLevel(ctx context.Context, line string) {
	status, parsed, parseErr := h.eng.Parse(line)
	switch status {
	case engine.ParseOK:
	case engine.ParseIncomplete, engine.ParseNull:
		return
	default:
		if parseErr != nil {
			h.writeOutput(parseErr.Error()+"\n", true)
		}
		return
	}

	value, evalErr, cancel := engine.Protect(func() (string, error) {
		return h.eng.Eval(ctx, parsed, engine.EnvGlobal)
	})
	if cancel == nil && errors.Is(evalErr, engine.ErrCancelled) {
		// The engine noticed the interrupt on its own cooperative check
		// and returned rather than unwinding via panic. Fold it into the
		// same EvalCancel shape dispatchEval's panic path produces, so
		// stepPrompt's deferred recover — the only place that clears the
		// stack's cancel state and sends the cancel-complete
		// notification — always runs on cancellation, regardless of
		// which of the two signals the engine used.
		_, targetID := h.stack.CancelState()
		cancel = &engine.EvalCancel{TargetID: targetID}
	}
	if cancel != nil {
		panic(cancel)
	}
	if evalErr != nil {
		h.writeOutput(evalErr.Error()+"\n", true)
		return
	}
	if value != "" {
		h.writeOutput(value+"\n", false)
	}
}
