// Package host implements the process-wide session actor: the
// request/response multiplexer, the re-entrant evaluator, and the
// cancellation plumbing that together drive the embedded engine over a
// single transport connection. It is the one package that ties
// internal/wire, internal/mailbox, internal/evalstack, and
// internal/engine together into the protocol described by this
// repository.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/rhostcore/rhost/internal/config"
	"github.com/rhostcore/rhost/internal/engine"
	"github.com/rhostcore/rhost/internal/evalstack"
	"github.com/rhostcore/rhost/internal/mailbox"
	"github.com/rhostcore/rhost/internal/transport"
	"github.com/rhostcore/rhost/internal/wire"
)

const (
	productTag      = "Microsoft.R.Host"
	protocolVersion = 1.0
	defaultBufLen   = 4096
	promptText      = "> "

	msgReadPrompt     = ">"
	msgYesNoCancel    = "?"
	msgWriteOutput    = "!"
	msgWriteError     = "!!"
	msgShowMessage    = "!"
	msgDialog         = "![]"
	msgBusyOn         = "~+"
	msgBusyOff        = "~-"
	msgCancelComplete = "\\"
	msgPlotXaml       = "PlotXaml"

	overflowReason = "BUFFER_OVERFLOW"
)

// AuditSink receives a record of each evaluation lifecycle transition.
// Implemented by internal/audit; accepted here as an interface so this
// package never imports a storage engine directly.
type AuditSink interface {
	Record(sessionID, kind, evalID, detail string)
}

// Telemeter publishes best-effort status events to an external
// observer. Implemented by internal/telemetry. Every method must be
// non-blocking and must never return an error the host has to handle —
// telemetry failures are logged by the implementation and swallowed.
type Telemeter interface {
	Busy(busy bool)
	Status(status string)
	Cancelled(targetID string)
}

// CredentialValidator is consulted once per connection, before the
// greeting is sent; a failure closes the connection. The
// internal/credhelper implementations check the local OS account the
// host runs under, not the remote client.
type CredentialValidator interface {
	Validate(ctx context.Context) error
}

// Host is the process-wide session actor described in the design
// notes' "global state" section: one instance per process, owning the
// transport, mailbox, evaluation stack, and the callback handlers the
// engine calls back into. The zero value is not usable; construct with
// New.
type Host struct {
	logger *slog.Logger

	minter *wire.IDMinter
	mbox   *mailbox.Mailbox
	stack  *evalstack.Stack
	eng    engine.Engine

	conn *transport.Conn

	cred      CredentialValidator
	audit     AuditSink
	telemeter Telemeter

	mu                 sync.Mutex
	callbacksPermitted bool
	reentryGuard       bool

	cancelWake chan struct{}

	termOnce sync.Once
	termErr  error
	done     chan struct{}

	sessionID string
}

// New creates a Host with no engine and no transport attached yet.
// Call SetEngine before WaitForClient/ConnectToServer.
func New(logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		logger:             logger,
		minter:             wire.NewIDMinter(),
		mbox:               mailbox.New(),
		stack:              evalstack.New(),
		callbacksPermitted: true,
		cancelWake:         make(chan struct{}, 1),
		done:               make(chan struct{}),
	}
}

// SetEngine registers the engine this host drives. Must be called
// exactly once, before the first WaitForClient/ConnectToServer call,
// with an engine constructed against h.Callbacks().
func (h *Host) SetEngine(eng engine.Engine) {
	h.eng = eng
}

// WithCredentialValidator wires in a connecting-client credential
// check, consulted once before the greeting is sent.
func (h *Host) WithCredentialValidator(v CredentialValidator) *Host {
	h.cred = v
	return h
}

// WithAudit wires in an append-only record of evaluation lifecycle
// events. Optional.
func (h *Host) WithAudit(a AuditSink) *Host {
	h.audit = a
	return h
}

// WithTelemetry wires in a best-effort external status publisher.
// Optional.
func (h *Host) WithTelemetry(t Telemeter) *Host {
	h.telemeter = t
	return h
}

// Callbacks returns the six engine-visible hooks bound to this Host,
// for passing to an Engine constructor (e.g. enginesim.New).
func (h *Host) Callbacks() engine.Callbacks {
	return engine.Callbacks{
		ReadPrompt:  h.readPrompt,
		WriteOutput: h.writeOutput,
		ShowMessage: h.showMessage,
		YesNoCancel: h.yesNoCancel,
		Busy:        h.busy,
		Tick:        h.tick,
	}
}

// WaitForClient blocks until a single client connects through ln, then
// runs the session to completion.
func (h *Host) WaitForClient(ctx context.Context, ln *transport.Listener) error {
	conn, err := ln.Accept(ctx)
	if err != nil {
		return fmt.Errorf("host: accept: %w", err)
	}
	return h.run(ctx, conn)
}

// ConnectToServer dials out to a host already waiting at url, then runs
// the session to completion.
func (h *Host) ConnectToServer(ctx context.Context, url string) error {
	conn, err := transport.Dial(ctx, url)
	if err != nil {
		return fmt.Errorf("host: connect: %w", err)
	}
	return h.run(ctx, conn)
}

func (h *Host) run(ctx context.Context, conn *transport.Conn) error {
	if h.eng == nil {
		conn.Close()
		return fmt.Errorf("host: no engine registered, call SetEngine first")
	}

	if h.cred != nil {
		if err := h.cred.Validate(ctx); err != nil {
			h.logger.Warn("credential validation failed, closing connection before greeting", "error", err)
			conn.Close()
			return fmt.Errorf("host: credential validation: %w", err)
		}
	}

	h.conn = conn
	h.sessionID = uuid.NewString()
	h.logger = h.logger.With("session_id", h.sessionID)

	go h.ioWorker(ctx)

	if h.telemeter != nil {
		h.telemeter.Status("connected")
	}

	id := h.minter.Mint()
	greeting, err := wire.EncodeRequest(id, productTag, protocolVersion, h.eng.Version())
	if err != nil {
		return fmt.Errorf("host: encode greeting: %w", err)
	}
	h.logger.Log(ctx, config.LevelTrace, "sending greeting", "frame", string(greeting))
	h.send(greeting)

	h.runREPL(ctx)

	if h.telemeter != nil {
		h.telemeter.Status("terminated")
	}
	h.conn.Send(wire.EncodeShutdown())
	h.conn.Close()

	return h.termErr
}

// PlotXaml delivers a one-shot outbound plotting notification.
func (h *Host) PlotXaml(path string) {
	h.notify(msgPlotXaml, path)
}

func (h *Host) send(frame []byte) {
	if err := h.conn.Send(frame); err != nil {
		if errors.Is(err, transport.ErrClosed) {
			return
		}
		h.fatal(err)
	}
}

func (h *Host) notify(name string, args ...any) {
	id := h.minter.Mint()
	frame, err := wire.EncodeRequest(id, name, args...)
	if err != nil {
		h.fatal(fmt.Errorf("host: encode %s: %w", name, err))
		return
	}
	h.send(frame)
}

func (h *Host) sendResponseFrame(requestMsg *wire.Message, args ...any) {
	id := h.minter.Mint()
	frame, err := wire.EncodeResponse(id, requestMsg.ID, requestMsg.Name, args...)
	if err != nil {
		h.fatal(fmt.Errorf("host: encode response to %s: %w", requestMsg.Name, err))
		return
	}
	h.send(frame)
}

// request mints an id, arms the mailbox, sends a request frame, and
// pumps the inner loop until the matched response arrives. Only
// callable from the engine goroutine.
func (h *Host) request(ctx context.Context, name string, args ...any) (*wire.Message, error) {
	id := h.minter.Mint()
	if err := h.mbox.Expect(); err != nil {
		h.fatal(err)
		return nil, err
	}
	frame, err := wire.EncodeRequest(id, name, args...)
	if err != nil {
		h.fatal(fmt.Errorf("host: encode %s: %w", name, err))
		return nil, err
	}
	h.send(frame)
	return h.innerLoop(ctx, id, name)
}

func (h *Host) callbacksAllowed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.callbacksPermitted
}

func (h *Host) setCallbacksPermitted(v bool) (prev bool) {
	h.mu.Lock()
	prev = h.callbacksPermitted
	h.callbacksPermitted = v
	h.mu.Unlock()
	return prev
}

func (h *Host) clearReentryGuard() {
	h.mu.Lock()
	h.reentryGuard = false
	h.mu.Unlock()
}

func (h *Host) fatal(err error) {
	h.terminate(err)
}

func (h *Host) shutdown() {
	h.terminate(nil)
}

func (h *Host) terminate(err error) {
	h.termOnce.Do(func() {
		h.termErr = err
		if err != nil {
			h.logger.Error("host: terminating session", "error", err)
			if h.eng != nil {
				h.eng.Interrupt()
			}
		} else {
			h.logger.Info("host: session ending cleanly")
		}
		close(h.done)
		if h.conn != nil {
			h.conn.Close()
		}
	})
}

// jsonOrString picks a response argument encoding for an evaluation
// result: embedded structured JSON when the "j" flag was requested and
// the value happens to be valid JSON, the raw string otherwise.
func jsonOrString(value string, asJSON bool) any {
	if asJSON && json.Valid([]byte(value)) {
		return json.RawMessage(value)
	}
	return value
}
