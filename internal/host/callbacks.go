package host

import (
	"context"
	"fmt"
)

// readPrompt is the blocking read-prompt handler. Retries on a
// buffer-overflow response with a fresh id each attempt, per the
// default resolution documented in DESIGN.md.
func (h *Host) readPrompt(ctx context.Context, contextFrames []int, bufLen int, addHistory bool) (string, bool, error) {
	h.clearReentryGuard()
	if !h.callbacksAllowed() {
		return "", false, fmt.Errorf("host: read-prompt callback not permitted during this evaluation")
	}

	var retryReason any
	for {
		msg, err := h.request(ctx, msgReadPrompt, contextFrames, bufLen, addHistory, retryReason, promptText)
		if err != nil {
			return "", false, err
		}
		line, ok, err := msg.ArgStringOrNull(0)
		if err != nil {
			fatalErr := fmt.Errorf("host: malformed read-prompt response: %w", err)
			h.fatal(fatalErr)
			return "", false, fatalErr
		}
		if !ok {
			return "", true, nil
		}
		if len(line) > bufLen {
			retryReason = overflowReason
			continue
		}
		return line, false, nil
	}
}

// writeOutput is a non-blocking notification: encode, send, return.
func (h *Host) writeOutput(text string, isError bool) {
	name := msgWriteOutput
	if isError {
		name = msgWriteError
	}
	h.notify(name, text)
}

// showMessage is a non-blocking informational dialog notification.
func (h *Host) showMessage(text string) {
	h.notify(msgDialog, text)
}

// yesNoCancel is the blocking yes/no/cancel dialog handler.
func (h *Host) yesNoCancel(ctx context.Context, text string) (string, error) {
	h.clearReentryGuard()
	if !h.callbacksAllowed() {
		return "", fmt.Errorf("host: yes-no-cancel callback not permitted during this evaluation")
	}

	msg, err := h.request(ctx, msgYesNoCancel, nil, text)
	if err != nil {
		return "", err
	}
	answer, err := msg.ArgString(0)
	if err != nil {
		fatalErr := fmt.Errorf("host: malformed yes-no-cancel response: %w", err)
		h.fatal(fatalErr)
		return "", fatalErr
	}
	if answer != "Y" && answer != "N" && answer != "C" {
		fatalErr := fmt.Errorf("host: yes-no-cancel response %q is not one of Y/N/C", answer)
		h.fatal(fatalErr)
		return "", fatalErr
	}
	return answer, nil
}

// busy is a non-blocking busy-indicator notification.
func (h *Host) busy(busy bool) {
	name := msgBusyOff
	if busy {
		name = msgBusyOn
	}
	h.notify(name)
	if h.telemeter != nil {
		h.telemeter.Busy(busy)
	}
}

// tick is the engine's periodic cooperative check point. It only calls
// the engine's own interrupt primitive — the non-local jump — when a
// cancellation is applicable and no prior tick has already requested
// one during the current unwind.
func (h *Host) tick() {
	h.mu.Lock()
	alreadyUnwinding := h.reentryGuard
	h.mu.Unlock()

	if alreadyUnwinding {
		return
	}
	if !h.stack.Applicable() {
		return
	}

	h.mu.Lock()
	h.reentryGuard = true
	h.mu.Unlock()

	h.eng.Interrupt()
}
