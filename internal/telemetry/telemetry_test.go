package telemetry

import "testing"

func TestPublisher_PublishesSwallowedBeforeStart(t *testing.T) {
	p := New("rhost", "rhost-test", nil)

	// None of these may panic or block: with no broker connection yet,
	// a publish is simply a no-op, matching the non-goal of ever
	// letting telemetry delay or fail a session.
	p.Busy(true)
	p.Busy(false)
	p.Status("connected")
	p.Cancelled("#4#")
}

func TestPublisher_StopBeforeStartIsNoop(t *testing.T) {
	p := New("rhost", "rhost-test", nil)
	if err := p.Stop(nil); err != nil {
		t.Fatalf("Stop before Start: %v", err)
	}
}
