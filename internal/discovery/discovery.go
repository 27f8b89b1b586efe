// Package discovery advertises the host's listen endpoint over mDNS so
// a LAN client can find it without the address being communicated out
// of band. Off by default; purely additive to the protocol.
package discovery

import (
	"fmt"
	"net"

	"github.com/grandcat/zeroconf"
)

// serviceType is the DNS-SD service type advertised for a running host.
const serviceType = "_rhost._tcp"

const domain = "local."

// mdnsServer is the subset of *zeroconf.Server this package depends
// on, narrowed to an interface so tests can substitute a fake without
// touching a real network interface.
type mdnsServer interface {
	Shutdown()
}

// registerFunc matches zeroconf.Register's signature, overridden in
// tests.
type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (mdnsServer, error)

func defaultRegister(instance, service, domain string, port int, text []string, ifaces []net.Interface) (mdnsServer, error) {
	return zeroconf.Register(instance, service, domain, port, text, ifaces)
}

// Advertiser registers and unregisters the rhost mDNS service.
type Advertiser struct {
	instance string
	register registerFunc

	server mdnsServer
}

// NewAdvertiser creates an Advertiser that will announce itself under
// instance (the user-visible service name, e.g. "rhost" or a hostname).
func NewAdvertiser(instance string) *Advertiser {
	return &Advertiser{instance: instance, register: defaultRegister}
}

// Start registers the mDNS service at the given port. Calling Start
// twice without an intervening Stop replaces the previous registration.
func (a *Advertiser) Start(port int) error {
	if a.server != nil {
		a.Stop()
	}
	server, err := a.register(a.instance, serviceType, domain, port, nil, nil)
	if err != nil {
		return fmt.Errorf("discovery: register %s: %w", a.instance, err)
	}
	a.server = server
	return nil
}

// Stop unregisters the mDNS service, if one is active. Safe to call
// when nothing has been started.
func (a *Advertiser) Stop() {
	if a.server == nil {
		return
	}
	a.server.Shutdown()
	a.server = nil
}
