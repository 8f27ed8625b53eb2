// Package endpoint turns base addresses into network addresses and derives the
// request, response and broadcast topics of a service.
package endpoint

import (
	"context"
	"net"
	"net/netip"
	"net/url"
	"strconv"
)

// LookupFunc resolves a host name for the given network ("ip", "ip4" or "ip6").
type LookupFunc func(ctx context.Context, network, host string) ([]netip.Addr, error)

// Resolver maps host names to IPv4 addresses. The zero value uses the system
// resolver. A Resolver holds no cache and is safe for concurrent use.
type Resolver struct {
	Lookup LookupFunc
}

// ResolveHost returns host unchanged when it is an IP literal. Otherwise it
// returns the first IPv4 address the lookup yields. A failed lookup or a
// result without IPv4 addresses reports false.
func (r Resolver) ResolveHost(ctx context.Context, host string) (netip.Addr, bool) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr, true
	}
	if host == "" {
		return netip.Addr{}, false
	}

	lookup := r.Lookup
	if lookup == nil {
		lookup = net.DefaultResolver.LookupNetIP
	}
	addrs, err := lookup(ctx, "ip", host)
	if err != nil {
		return netip.Addr{}, false
	}
	for _, a := range addrs {
		a = a.Unmap()
		if a.Is4() {
			return a, true
		}
	}
	return netip.Addr{}, false
}

// Resolve resolves the host of address and pairs it with the address port.
func (r Resolver) Resolve(ctx context.Context, address *url.URL) (netip.AddrPort, bool) {
	if address == nil {
		return netip.AddrPort{}, false
	}
	addr, ok := r.ResolveHost(ctx, address.Hostname())
	if !ok {
		return netip.AddrPort{}, false
	}
	port, err := strconv.ParseUint(address.Port(), 10, 16)
	if err != nil {
		return netip.AddrPort{}, false
	}
	return netip.AddrPortFrom(addr, uint16(port)), true
}
