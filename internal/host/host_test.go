package host_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/rhostcore/rhost/internal/enginesim"
	"github.com/rhostcore/rhost/internal/host"
	"github.com/rhostcore/rhost/internal/transport"
	"github.com/rhostcore/rhost/internal/wire"
)

// testSession wires a real Host to a real client-side transport.Conn over
// a loopback WebSocket, the same shape WaitForClient uses in production.
type testSession struct {
	t    *testing.T
	h    *host.Host
	sim  *enginesim.Simulator
	conn *transport.Conn

	runErr chan error
}

func newTestSession(t *testing.T) *testSession {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(nopWriter{}, nil))
	ln := transport.New("127.0.0.1:0", logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	serveErr := make(chan error, 1)
	go func() { serveErr <- ln.Serve(ctx) }()

	addr, err := ln.Addr(ctx)
	if err != nil {
		t.Fatalf("waiting for listener address: %v", err)
	}

	h := host.New(logger)
	sim := enginesim.New(h.Callbacks())
	h.SetEngine(sim)

	runErr := make(chan error, 1)
	go func() { runErr <- h.WaitForClient(ctx, ln) }()

	clientCtx, clientCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer clientCancel()
	conn, err := transport.Dial(clientCtx, "ws://"+addr+"/")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return &testSession{t: t, h: h, sim: sim, conn: conn, runErr: runErr}
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

// recv reads and decodes the next frame, failing the test on timeout or a
// malformed/shutdown frame (callers that expect a shutdown use recvRaw).
func (s *testSession) recv() *wire.Message {
	s.t.Helper()
	frame := s.recvRaw()
	msg, err := wire.Decode(frame)
	if err != nil {
		s.t.Fatalf("decode frame %s: %v", frame, err)
	}
	if msg == nil {
		s.t.Fatalf("expected a message frame, got the shutdown sentinel")
	}
	return msg
}

func (s *testSession) recvRaw() []byte {
	s.t.Helper()
	type result struct {
		frame []byte
		err   error
	}
	done := make(chan result, 1)
	go func() {
		frame, err := s.conn.Receive()
		done <- result{frame, err}
	}()
	select {
	case r := <-done:
		if r.err != nil {
			s.t.Fatalf("receive: %v", r.err)
		}
		return r.frame
	case <-time.After(5 * time.Second):
		s.t.Fatalf("timed out waiting for a frame")
		return nil
	}
}

func (s *testSession) send(t *testing.T, elems ...any) {
	t.Helper()
	frame, err := json.Marshal(elems)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	if err := s.conn.Send(frame); err != nil {
		t.Fatalf("send: %v", err)
	}
}

// expectGreeting reads and validates the opening greeting frame, the very
// first thing a client ever sees: ["#0#", "Microsoft.R.Host", 1.0, version].
func (s *testSession) expectGreeting() *wire.Message {
	s.t.Helper()
	msg := s.recv()
	if msg.ID != "#0#" {
		s.t.Fatalf("greeting id = %q, want #0#", msg.ID)
	}
	if msg.Name != "Microsoft.R.Host" {
		s.t.Fatalf("greeting name = %q, want Microsoft.R.Host", msg.Name)
	}
	if len(msg.Args) != 2 {
		s.t.Fatalf("greeting args = %v, want 2 (protocol version, engine version)", msg.Args)
	}
	return msg
}

// expectPrompt reads the next frame and asserts it is a ">" read-prompt
// request, returning its id so a response can target it.
func (s *testSession) expectPrompt() string {
	s.t.Helper()
	msg := s.recv()
	if msg.Name != ">" {
		s.t.Fatalf("expected a %q request, got %q (id %s)", ">", msg.Name, msg.ID)
	}
	return msg.ID
}

func TestGreeting_SequentialHostIDs(t *testing.T) {
	s := newTestSession(t)
	greeting := s.expectGreeting()

	var protoVersion float64
	if err := json.Unmarshal(greeting.Args[0], &protoVersion); err != nil || protoVersion != 1.0 {
		t.Fatalf("protocol version = %v, %v, want 1.0", protoVersion, err)
	}
	var engineVersion string
	if err := json.Unmarshal(greeting.Args[1], &engineVersion); err != nil || engineVersion != s.sim.Version() {
		t.Fatalf("engine version = %q, %v, want %q", engineVersion, err, s.sim.Version())
	}

	// The next host-originated frame is the first read-prompt request;
	// the minter steps by 2 regardless of what the client does between.
	promptID := s.expectPrompt()
	if promptID != "#2#" {
		t.Fatalf("first prompt id = %q, want #2#", promptID)
	}

	s.closeSession(t)
}

func (s *testSession) closeSession(t *testing.T) {
	t.Helper()
	if err := s.conn.Send(wire.EncodeShutdown()); err != nil {
		t.Fatalf("send shutdown: %v", err)
	}
	select {
	case err := <-s.runErr:
		if err != nil {
			t.Fatalf("WaitForClient returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for session to end")
	}
}

// TestPromptRoundTrip_AutoPrintsEvaluationResult drives the sentinel
// prompt loop: the client answers the read-prompt request with an
// expression, and the host auto-prints the result via "!" the same way
// typing at an interactive session would.
func TestPromptRoundTrip_AutoPrintsEvaluationResult(t *testing.T) {
	s := newTestSession(t)
	s.expectGreeting()
	promptID := s.expectPrompt()

	s.send(t, "c1", ":", promptID, ">", "1 + 1")

	out := s.recv()
	if out.Name != "!" {
		t.Fatalf("expected a %q output notification, got %q", "!", out.Name)
	}
	text, err := out.ArgString(0)
	if err != nil {
		t.Fatalf("ArgString(0): %v", err)
	}
	if strings.TrimRight(text, "\n") != "2" {
		t.Fatalf("output text = %q, want \"2\"", text)
	}

	// The loop immediately issues the next prompt.
	s.expectPrompt()
	s.closeSession(t)
}

// TestNestedEval_WhileSentinelPromptOutstanding exercises the re-entrant
// dispatcher: a "=" eval request can arrive — and be fully answered —
// while the top-level read-prompt request is still outstanding.
func TestNestedEval_WhileSentinelPromptOutstanding(t *testing.T) {
	s := newTestSession(t)
	s.expectGreeting()
	promptID := s.expectPrompt()

	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.sim.Clock = func() time.Time { return fixed }

	s.send(t, "c2", "=", "Sys.time()")

	resp := s.recv()
	if resp.RequestID != "c2" || resp.Name != "=" {
		t.Fatalf("response = %+v, want a response to c2's eval", resp)
	}
	if len(resp.Args) != 3 {
		t.Fatalf("eval response args = %v, want 3 (status, error, value)", resp.Args)
	}
	var status string
	if err := json.Unmarshal(resp.Args[0], &status); err != nil || status != "OK" {
		t.Fatalf("status = %q, %v, want OK", status, err)
	}
	var value string
	if err := json.Unmarshal(resp.Args[2], &value); err != nil {
		t.Fatalf("value: %v", err)
	}
	if value != "2024-03-01 12:00:00 UTC" {
		t.Fatalf("value = %q", value)
	}

	// The outstanding top-level prompt is untouched by the nested eval:
	// answering it now still drives the sentinel loop onward normally.
	s.send(t, "c3", ":", promptID, ">", "")
	s.expectPrompt()
	s.closeSession(t)
}

// TestCancelSpecificEval exercises scenario 4: a busy loop cancelled by
// id gets a null-only response and no cancel-complete notification,
// since the sentinel frame was never the target.
func TestCancelSpecificEval(t *testing.T) {
	s := newTestSession(t)
	s.expectGreeting()
	s.expectPrompt()

	s.send(t, "c2", "=/", "while(TRUE) NULL")

	// Give the busy loop a moment to actually start (be pushed onto the
	// evaluation stack) before targeting it for cancellation.
	time.Sleep(50 * time.Millisecond)
	s.send(t, "c3", "/", "c2")

	resp := s.recv()
	if resp.RequestID != "c2" {
		t.Fatalf("response = %+v, want response to c2", resp)
	}
	if len(resp.Args) != 1 {
		t.Fatalf("cancelled eval response args = %v, want a single null", resp.Args)
	}
	if !strings.EqualFold(strings.TrimSpace(string(resp.Args[0])), "null") {
		t.Fatalf("cancelled eval response arg = %s, want null", resp.Args[0])
	}

	// The sentinel-level prompt from before c2 was ever dispatched is
	// still outstanding: no cancel-complete notification and no new
	// prompt are sent, since the cancellation's target was c2, not the
	// sentinel frame underneath it.
	s.closeSession(t)
}

// TestCancelToSentinel_UnwindsNestedReadlineChain exercises scenario 5: a
// null-target cancel sent while three evaluations are nested through
// readline() unwinds them all, responding to each with a single null in
// innermost-first order, then sends "\\" and a fresh sentinel prompt.
func TestCancelToSentinel_UnwindsNestedReadlineChain(t *testing.T) {
	s := newTestSession(t)
	s.expectGreeting()
	s.expectPrompt()

	s.send(t, "c4", "=@/", "readline()")
	s.expectPrompt()

	s.send(t, "c5", "=@/", "readline()")
	s.expectPrompt()

	s.send(t, "c6", "=@/", "readline()")
	s.expectPrompt()

	time.Sleep(20 * time.Millisecond)
	s.send(t, "c7", "/", nil)

	for _, wantID := range []string{"c6", "c5", "c4"} {
		resp := s.recv()
		if resp.RequestID != wantID {
			t.Fatalf("unwind order: got response to %q, want %q", resp.RequestID, wantID)
		}
		if len(resp.Args) != 1 || !strings.EqualFold(strings.TrimSpace(string(resp.Args[0])), "null") {
			t.Fatalf("response to %s = %v, want a single null", wantID, resp.Args)
		}
	}

	complete := s.recv()
	if complete.Name != "\\" {
		t.Fatalf("expected %q cancel-complete notification, got %q", "\\", complete.Name)
	}

	s.expectPrompt()
	s.closeSession(t)
}

// TestNonCancelableFrameVetoesCancel exercises scenario 6: a cancel
// request targeting an eval issued without the "/" flag has no effect —
// the evaluation runs to completion and responds normally.
func TestNonCancelableFrameVetoesCancel(t *testing.T) {
	s := newTestSession(t)
	s.expectGreeting()
	s.expectPrompt()

	s.send(t, "c8", "=", "Sys.sleep(0.15)")

	time.Sleep(30 * time.Millisecond)
	s.send(t, "c9", "/", "c8")

	resp := s.recv()
	if resp.RequestID != "c8" {
		t.Fatalf("response = %+v, want response to c8", resp)
	}
	if len(resp.Args) != 3 {
		t.Fatalf("eval response args = %v, want 3", resp.Args)
	}
	var status string
	if err := json.Unmarshal(resp.Args[0], &status); err != nil || status != "OK" {
		t.Fatalf("status = %q, %v, want OK: the non-cancelable frame should have vetoed the cancel", status, err)
	}

	s.closeSession(t)
}

// TestParseError_RespondsWithoutEvaluating covers an eval request whose
// expression never parses: the response carries the parse status and
// error, with no pushed evaluation frame.
func TestParseError_RespondsWithoutEvaluating(t *testing.T) {
	s := newTestSession(t)
	s.expectGreeting()
	s.expectPrompt()

	s.send(t, "c1", "=", "1 +")

	resp := s.recv()
	var status string
	if err := json.Unmarshal(resp.Args[0], &status); err != nil || status != "ERROR" {
		t.Fatalf("status = %q, %v, want ERROR", status, err)
	}
	if len(resp.Args) < 2 {
		t.Fatalf("expected an error payload alongside the status")
	}

	s.closeSession(t)
}

// TestShutdown_NullFrameEndsSessionCleanly covers the top-level shutdown
// sentinel: a bare JSON null ends the session without an error.
func TestShutdown_NullFrameEndsSessionCleanly(t *testing.T) {
	s := newTestSession(t)
	s.expectGreeting()
	s.expectPrompt()
	s.closeSession(t)
}

// TestEvalFlags_BaseEnvironmentSelected is a light check that the B/E
// environment-selecting flags are accepted and produce a normal
// completion rather than being rejected outright.
func TestEvalFlags_BaseEnvironmentSelected(t *testing.T) {
	s := newTestSession(t)
	s.expectGreeting()
	s.expectPrompt()

	s.send(t, "c1", "=B", "2 * 3")

	resp := s.recv()
	var status string
	if err := json.Unmarshal(resp.Args[0], &status); err != nil || status != "OK" {
		t.Fatalf("status = %q, %v, want OK", status, err)
	}
	var value string
	if err := json.Unmarshal(resp.Args[2], &value); err != nil || value != "6" {
		t.Fatalf("value = %q, %v, want 6", value, err)
	}

	s.closeSession(t)
}
