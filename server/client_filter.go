package server

import (
	"net"
	"net/netip"
	"strings"

	"github.com/pkg/errors"
)

type addrMatcher struct {
	addrs    []netip.Addr
	prefixes []netip.Prefix
}

func newAddrMatcher(filters []string) (*addrMatcher, error) {
	m := &addrMatcher{}

	for _, filter := range filters {
		filter = strings.TrimSpace(filter)
		if filter == "" {
			continue
		}
		if strings.Contains(filter, "/") {
			prefix, err := netip.ParsePrefix(filter)
			if err != nil {
				return nil, err
			}
			m.prefixes = append(m.prefixes, prefix.Masked())
		} else {
			addr, err := netip.ParseAddr(filter)
			if err != nil {
				return nil, err
			}
			m.addrs = append(m.addrs, addr.Unmap())
		}
	}

	return m, nil
}

func (m *addrMatcher) Match(addr netip.Addr) bool {
	// clients on dual stack listeners show up as ::ffff:a.b.c.d
	addr = addr.Unmap()
	for _, a := range m.addrs {
		if a == addr {
			return true
		}
	}
	for _, p := range m.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func (m *addrMatcher) Empty() bool {
	return m == nil || (len(m.addrs) == 0 && len(m.prefixes) == 0)
}

// ClientFilter performs allow/deny filtering of client IP addresses.
// When allows are given, only those clients are accepted and denies are not consulted.
type ClientFilter struct {
	allow *addrMatcher
	deny  *addrMatcher
}

func NewClientFilterAllowAll() *ClientFilter {
	return &ClientFilter{}
}

// NewClientFilter creates a filter from addresses or CIDR prefixes. Either list may be empty.
func NewClientFilter(allows []string, denies []string) (*ClientFilter, error) {
	allow, err := newAddrMatcher(allows)
	if err != nil {
		return nil, errors.Wrap(err, "invalid allow filter")
	}
	deny, err := newAddrMatcher(denies)
	if err != nil {
		return nil, errors.Wrap(err, "invalid deny filter")
	}
	return &ClientFilter{
		allow: allow,
		deny:  deny,
	}, nil
}

// Allow evaluates a client's remote address. Addresses that carry no IP, such as
// those of tunnelled or in-memory connections, are only allowed when no allow list is set.
func (f *ClientFilter) Allow(remote net.Addr) bool {
	if f == nil {
		return true
	}

	addr, ok := clientIP(remote)
	if !ok {
		return f.allow.Empty()
	}

	if !f.allow.Empty() {
		return f.allow.Match(addr)
	}
	if !f.deny.Empty() {
		return !f.deny.Match(addr)
	}
	return true
}

func clientIP(remote net.Addr) (netip.Addr, bool) {
	if remote == nil {
		return netip.Addr{}, false
	}
	if tcpAddr, ok := remote.(*net.TCPAddr); ok {
		return tcpAddr.AddrPort().Addr(), tcpAddr.IP != nil
	}
	addrPort, err := netip.ParseAddrPort(remote.String())
	if err != nil {
		return netip.Addr{}, false
	}
	return addrPort.Addr(), true
}
