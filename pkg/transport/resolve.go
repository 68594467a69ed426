package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"golang.org/x/net/idna"

	"github.com/mt-inside/kittehuplodah/pkg/state"
)

const (
	ResolverSystem = "system"
	ResolverDNS    = "dns"
)

// Resolver turns a host and port into candidate addresses, in the order they should be tried.
type Resolver interface {
	Resolve(ctx context.Context, host, port string) ([]SocketAddress, error)
	Name() string
}

// SystemResolver uses the platform's name resolution, ie Go's native resolver or libc's getaddrinfo() depending on how we were built.
// Results come back in whatever order that resolver gives them, both families together.
type SystemResolver struct {
	Resolver *net.Resolver
	connData *state.ConnData
}

func NewSystemResolver(connData *state.ConnData) *SystemResolver {
	return &SystemResolver{Resolver: net.DefaultResolver, connData: connData}
}

func (r *SystemResolver) Name() string { return ResolverSystem }

func (r *SystemResolver) Resolve(ctx context.Context, host, port string) ([]SocketAddress, error) {
	resErr := func(err error) error { return &ResolutionError{Host: host, Port: port, Err: err} }

	name, err := asciiHost(host)
	if err != nil {
		return nil, resErr(err)
	}
	p, err := lookupPort(ctx, r.Resolver, port)
	if err != nil {
		return nil, resErr(err)
	}

	ips, err := r.Resolver.LookupNetIP(ctx, "ip", name)
	if err != nil {
		return nil, resErr(err)
	}

	addrs := make([]SocketAddress, 0, len(ips))
	for _, ip := range ips {
		addrs = append(addrs, NewSocketAddress(ip, p))
	}
	if len(addrs) == 0 {
		return nil, resErr(errors.New("no addresses"))
	}

	recordCandidates(r.connData, r.Name(), addrs)
	if r.connData != nil {
		r.connData.DnsResolverBackend = SystemResolverBackend
	}
	return addrs, nil
}

// asciiHost maps internationalised names to their punycode form; literal IPs pass straight through.
func asciiHost(host string) (string, error) {
	if host == "" {
		return "", errors.New("empty host name")
	}
	if _, err := netip.ParseAddr(host); err == nil {
		return host, nil
	}
	name, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("invalid host name %q: %w", host, err)
	}
	return name, nil
}

// lookupPort accepts a number or a service name like "https".
func lookupPort(ctx context.Context, r *net.Resolver, port string) (uint16, error) {
	if n, err := strconv.ParseUint(port, 10, 16); err == nil {
		return uint16(n), nil
	}
	n, err := r.LookupPort(ctx, "tcp", port)
	if err != nil {
		return 0, err
	}
	return uint16(n), nil
}

func recordCandidates(connData *state.ConnData, resolver string, addrs []SocketAddress) {
	if connData == nil {
		return
	}
	connData.DnsResolver = resolver
	connData.DnsCandidates = connData.DnsCandidates[:0]
	for _, a := range addrs {
		connData.DnsCandidates = append(connData.DnsCandidates, a.AddrPort())
	}
}
