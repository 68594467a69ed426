package transport

import (
	"net"
	"net/netip"
)

type Family uint8

const (
	FamilyUnknown Family = iota
	FamilyIPv4
	FamilyIPv6
)

func (f Family) String() string {
	switch f {
	case FamilyIPv4:
		return "IPv4"
	case FamilyIPv6:
		return "IPv6"
	default:
		return "unknown"
	}
}

// SocketAddress is one candidate endpoint. The family is a property of the address itself, so exactly one of v4 and v6 is ever active; the zero value has FamilyUnknown and can't be dialed.
type SocketAddress struct {
	ap netip.AddrPort
}

func NewSocketAddress(addr netip.Addr, port uint16) SocketAddress {
	// v4-in-v6 would otherwise be dialed as tcp6
	return SocketAddress{ap: netip.AddrPortFrom(addr.Unmap(), port)}
}

func (a SocketAddress) Family() Family {
	switch {
	case !a.ap.IsValid():
		return FamilyUnknown
	case a.ap.Addr().Is4():
		return FamilyIPv4
	case a.ap.Addr().Is6():
		return FamilyIPv6
	default:
		return FamilyUnknown
	}
}

// Network is the net.Dial network for this family, empty if there isn't one.
func (a SocketAddress) Network() string {
	switch a.Family() {
	case FamilyIPv4:
		return "tcp4"
	case FamilyIPv6:
		return "tcp6"
	default:
		return ""
	}
}

func (a SocketAddress) AddrPort() netip.AddrPort { return a.ap }
func (a SocketAddress) Addr() netip.Addr         { return a.ap.Addr() }
func (a SocketAddress) Port() uint16             { return a.ap.Port() }

func (a SocketAddress) TCPAddr() *net.TCPAddr {
	return net.TCPAddrFromAddrPort(a.ap)
}

func (a SocketAddress) String() string {
	if !a.ap.IsValid() {
		return "<invalid>"
	}
	return a.ap.String()
}
