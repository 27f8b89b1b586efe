package discovery

import (
	"net"
	"testing"
)

type fakeServer struct {
	shutdownCalls int
}

func (f *fakeServer) Shutdown() { f.shutdownCalls++ }

func TestAdvertiser_StartRegistersService(t *testing.T) {
	var gotInstance, gotService, gotDomain string
	var gotPort int
	fake := &fakeServer{}

	a := NewAdvertiser("my-host")
	a.register = func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (mdnsServer, error) {
		gotInstance, gotService, gotDomain, gotPort = instance, service, domain, port
		return fake, nil
	}

	if err := a.Start(8765); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if gotInstance != "my-host" || gotService != serviceType || gotDomain != domain || gotPort != 8765 {
		t.Fatalf("unexpected register args: %s %s %s %d", gotInstance, gotService, gotDomain, gotPort)
	}
}

func TestAdvertiser_StopShutsDownServer(t *testing.T) {
	fake := &fakeServer{}
	a := NewAdvertiser("my-host")
	a.register = func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (mdnsServer, error) {
		return fake, nil
	}
	if err := a.Start(8765); err != nil {
		t.Fatalf("Start: %v", err)
	}
	a.Stop()
	if fake.shutdownCalls != 1 {
		t.Fatalf("expected Shutdown called once, got %d", fake.shutdownCalls)
	}

	// Calling Stop again with nothing active must be a no-op.
	a.Stop()
	if fake.shutdownCalls != 1 {
		t.Fatalf("expected Shutdown not called again, got %d", fake.shutdownCalls)
	}
}

func TestAdvertiser_RestartReplacesPreviousRegistration(t *testing.T) {
	first := &fakeServer{}
	second := &fakeServer{}
	calls := 0

	a := NewAdvertiser("my-host")
	a.register = func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (mdnsServer, error) {
		calls++
		if calls == 1 {
			return first, nil
		}
		return second, nil
	}

	if err := a.Start(8765); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := a.Start(8766); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if first.shutdownCalls != 1 {
		t.Fatalf("expected first registration shut down on restart, got %d calls", first.shutdownCalls)
	}
	if second.shutdownCalls != 0 {
		t.Fatalf("expected second registration still active, got %d shutdown calls", second.shutdownCalls)
	}
}
