// Package engine defines the boundary between the host and the
// embedded interpreter: the Engine interface the core calls into, the
// six callback slots the engine calls back out through, and the
// protected-call convention that lets a cancellation unwind the
// engine's call stack without leaking host-side resources.
//
// This package never links against a real statistical-language
// runtime — that embedding glue is explicitly out of scope (spec.md
// §1). The enginesim package ships a deterministic stand-in that
// exercises the same contract.
package engine

import (
	"context"
	"errors"
)

// ErrCancelled is the sentinel error an Engine implementation's Eval
// returns when it notices, at one of its own cooperative check points,
// that the in-flight evaluation has been interrupted. The host
// distinguishes this from an ordinary evaluation error: a cancelled
// evaluation's response carries a single null argument rather than an
// error payload.
var ErrCancelled = errors.New("engine: evaluation cancelled")

// ParseStatus is the outcome of parsing an expression, mirroring the
// engine's own parse-status codes.
type ParseStatus int

const (
	ParseNull ParseStatus = iota
	ParseOK
	ParseIncomplete
	ParseError
	ParseEOF
)

func (s ParseStatus) String() string {
	switch s {
	case ParseNull:
		return "NULL"
	case ParseOK:
		return "OK"
	case ParseIncomplete:
		return "INCOMPLETE"
	case ParseError:
		return "ERROR"
	case ParseEOF:
		return "EOF"
	default:
		return "UNKNOWN"
	}
}

// EnvKind selects which environment an evaluation runs in.
type EnvKind int

const (
	EnvGlobal EnvKind = iota
	EnvBase
	EnvEmpty
)

// ParsedExpr is an opaque handle to a successfully parsed expression,
// produced by Engine.Parse and consumed by Engine.Eval.
type ParsedExpr struct {
	Source string
}

// Engine is the embedded interpreter's ABI as the host consumes it.
// Exactly one goroutine (the "engine goroutine") may ever call these
// methods; see the host package for the cooperation discipline.
type Engine interface {
	// Parse parses expr and reports a parse status. A non-nil error is
	// only returned for a status of ParseError (the message belongs
	// in err, not a side-channel).
	Parse(expr string) (ParseStatus, ParsedExpr, error)

	// Eval evaluates a previously parsed expression and returns its
	// printed value. ctx is honored cooperatively: long-running
	// evaluations must check ctx.Done() at their own natural
	// suspension points (loop iterations, sleeps) the same way they'd
	// consult a tick callback for interrupt.
	Eval(ctx context.Context, p ParsedExpr, env EnvKind) (value string, err error)

	// Interrupt requests that the in-flight Eval call return as soon
	// as it reaches its next cooperative check point. It does not
	// block, and it is a programming error to call it when no Eval is
	// in flight.
	Interrupt()

	// Version returns the engine's self-reported version string, used
	// verbatim in the host greeting.
	Version() string
}

// Callbacks are the six engine-visible hooks the host registers with
// the embedded engine at construction (RegisterCallbacks in the
// out-of-scope embedding glue; here, passed directly to an Engine
// implementation's constructor since there is no native C-ABI slot to
// bind).
type Callbacks struct {
	// ReadPrompt requests the next line of user input. eof is true
	// when the client answered with a null response.
	ReadPrompt func(ctx context.Context, contextFrames []int, bufLen int, addHistory bool) (line string, eof bool, err error)

	// WriteOutput delivers console text. isError selects the "!!" vs
	// "!" wire notification.
	WriteOutput func(text string, isError bool)

	// ShowMessage delivers an informational dialog notification.
	ShowMessage func(text string)

	// YesNoCancel asks a yes/no/cancel question and returns "Y", "N",
	// or "C".
	YesNoCancel func(ctx context.Context, text string) (answer string, err error)

	// Busy reports a busy-indicator transition.
	Busy func(busy bool)

	// Tick is invoked periodically between evaluation steps so the
	// engine goroutine has a cooperative point at which to notice an
	// applicable cancellation. Engine implementations should call it
	// often enough that a cancellation is noticed promptly, but are
	// never required to call it at any particular rate.
	Tick func()
}
