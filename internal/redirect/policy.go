package redirect

import (
	"fmt"
	"strings"
)

// Protocols selects which client address families are redirected to https.
// The zero value is ProtocolsNone, which disables redirection.
type Protocols uint8

const (
	ProtocolsNone Protocols = iota // never redirect
	ProtocolsIPv4                  // redirect IPv4 clients only
	ProtocolsIPv6                  // redirect IPv6 clients only
	ProtocolsBoth                  // redirect every IP client
)

// String returns the name accepted by ParseProtocols.
func (p Protocols) String() string {
	switch p {
	case ProtocolsIPv4:
		return "ipv4"
	case ProtocolsIPv6:
		return "ipv6"
	case ProtocolsBoth:
		return "both"
	default:
		return "none"
	}
}

// ParseProtocols accepts none|ipv4|ipv6|both, case-insensitive. An empty
// string is ProtocolsNone.
func ParseProtocols(s string) (Protocols, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return ProtocolsNone, nil
	case "ipv4":
		return ProtocolsIPv4, nil
	case "ipv6":
		return ProtocolsIPv6, nil
	case "both":
		return ProtocolsBoth, nil
	default:
		return ProtocolsNone, fmt.Errorf("%w: unknown redirect protocols %q (valid values are none|ipv4|ipv6|both)", ErrConfig, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Protocols) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler using ParseProtocols.
func (p *Protocols) UnmarshalText(b []byte) error {
	v, err := ParseProtocols(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// covers reports whether the policy selects family f. Unknown is never covered.
func (p Protocols) covers(f Family) bool {
	switch f {
	case FamilyIPv4:
		return p == ProtocolsIPv4 || p == ProtocolsBoth
	case FamilyIPv6:
		return p == ProtocolsIPv6 || p == ProtocolsBoth
	default:
		return false
	}
}

// ShouldRedirect reports whether a request from family f, arriving with the
// given scheme, must be redirected to https under policy p.
func ShouldRedirect(p Protocols, f Family, scheme string) bool {
	if strings.EqualFold(scheme, "https") {
		return false
	}
	return p.covers(f)
}
