// Package mailbox implements the single-slot handoff between the I/O
// worker goroutine (which parses frames) and the engine goroutine
// (which is the only goroutine permitted to consume them). There is at
// most one outstanding request along any chain of waits, so the slot
// is deliberately not a queue: generalizing it would violate the
// "response matches the awaited id" invariant the inner loop relies on.
package mailbox

import (
	"fmt"
	"sync"

	"github.com/rhostcore/rhost/internal/wire"
)

// State is the mailbox's three-state handoff protocol.
type State int

const (
	Unexpected State = iota
	Expected
	Received
)

func (s State) String() string {
	switch s {
	case Unexpected:
		return "unexpected"
	case Expected:
		return "expected"
	case Received:
		return "received"
	default:
		return "invalid"
	}
}

// Mailbox is the one-slot buffer described above. The zero value is not
// usable; construct with New.
type Mailbox struct {
	mu    sync.Mutex
	state State
	msg   *wire.Message

	// wake is signaled (non-blocking) whenever Deliver transitions the
	// mailbox into Received, so the engine goroutine's inner loop can
	// select on it instead of polling.
	wake chan struct{}
}

// New creates an empty mailbox in the Unexpected state.
func New() *Mailbox {
	return &Mailbox{wake: make(chan struct{}, 1)}
}

// Wake returns the channel the inner message loop selects on to learn
// that a message is ready to Take.
func (m *Mailbox) Wake() <-chan struct{} {
	return m.wake
}

// Expect transitions Unexpected -> Expected. Called on the engine
// goroutine just before a blocking callback sends its outbound request.
// It is a protocol violation (and therefore fatal) to call Expect while
// a message is already sitting in Received, since that would mean the
// previous request's response was never consumed.
func (m *Mailbox) Expect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Received {
		return fmt.Errorf("mailbox: expect called with a message already received")
	}
	m.state = Expected
	return nil
}

// Deliver is called by the I/O worker for every decoded frame other
// than the cancellation message (which bypasses the mailbox entirely
// and goes straight to the evaluation stack, see evalstack.RequestCancel). It is a protocol violation for the I/O
// worker to receive any frame while the mailbox is Unexpected.
func (m *Mailbox) Deliver(msg *wire.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Unexpected {
		return fmt.Errorf("mailbox: unsolicited message delivered, nothing expected")
	}
	m.msg = msg
	m.state = Received
	select {
	case m.wake <- struct{}{}:
	default:
	}
	return nil
}

// Take returns the received message and resets the mailbox to
// Unexpected. ok is false if no message is currently Received.
func (m *Mailbox) Take() (msg *wire.Message, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Received {
		return nil, false
	}
	msg = m.msg
	m.msg = nil
	m.state = Unexpected
	return msg, true
}

// State returns the current state, for diagnostics and tests.
func (m *Mailbox) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}
