package redirect

import (
	"net/netip"
	"strings"
)

// Family is the logical address family of a client connection.
type Family uint8

const (
	// FamilyUnknown covers peers with no IP address, such as unix sockets.
	FamilyUnknown Family = iota
	// FamilyIPv4 includes IPv4-mapped IPv6 peers.
	FamilyIPv4
	FamilyIPv6
)

// String returns the lowercase label used in logs and metrics.
func (f Family) String() string {
	switch f {
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	default:
		return "unknown"
	}
}

// Classify maps a peer address as reported in http.Request.RemoteAddr to its
// address family. Both "ip:port" and bare "ip" forms are accepted.
// An empty, unix-socket or otherwise unparseable peer is FamilyUnknown.
func Classify(peer string) Family {
	peer = strings.TrimSpace(peer)
	if peer == "" {
		return FamilyUnknown
	}
	if ap, err := netip.ParseAddrPort(peer); err == nil {
		return ClassifyAddr(ap.Addr())
	}
	// RemoteAddr without a port, with or without brackets
	if a, err := netip.ParseAddr(strings.TrimSuffix(strings.TrimPrefix(peer, "["), "]")); err == nil {
		return ClassifyAddr(a)
	}
	return FamilyUnknown
}

// ClassifyAddr returns the family of a parsed address. An IPv4-mapped IPv6
// address (::ffff:a.b.c.d) is an IPv4 client reaching a dual-stack listener.
func ClassifyAddr(a netip.Addr) Family {
	switch {
	case !a.IsValid():
		return FamilyUnknown
	case a.Is4(), a.Is4In6():
		return FamilyIPv4
	default:
		return FamilyIPv6
	}
}
