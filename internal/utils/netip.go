package utils

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// hostNoPort strips the port from "ip:port" or "[v6]:port"; other input is returned as-is.
func hostNoPort(s string) string {
	s = strings.TrimSpace(s)
	if h, _, err := net.SplitHostPort(s); err == nil {
		return h
	}
	return s
}

// ClientIP resolves the caller's address.
// With trustProxy it prefers CF-Connecting-IP, the left-most X-Forwarded-For, then
// X-Real-IP; headers that do not parse as an address are skipped.
// Otherwise RemoteAddr is the only source.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		candidates := []string{
			r.Header.Get("CF-Connecting-IP"),
			strings.Split(r.Header.Get("X-Forwarded-For"), ",")[0],
			r.Header.Get("X-Real-IP"),
		}
		for _, c := range candidates {
			if addr, err := netip.ParseAddr(hostNoPort(c)); err == nil {
				return addr.Unmap().String()
			}
		}
	}
	return hostNoPort(r.RemoteAddr)
}

// IPMatcher matches exact addresses and prefixes. Entries that parse as neither are ignored.
type IPMatcher struct {
	prefixes []netip.Prefix
}

func NewIPMatcher(list []string) *IPMatcher {
	m := &IPMatcher{}
	for _, raw := range list {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		if p, err := netip.ParsePrefix(s); err == nil {
			m.prefixes = append(m.prefixes, p.Masked())
			continue
		}
		if a, err := netip.ParseAddr(s); err == nil {
			a = a.Unmap()
			m.prefixes = append(m.prefixes, netip.PrefixFrom(a, a.BitLen()))
		}
	}
	return m
}

func (m *IPMatcher) IsEmpty() bool { return len(m.prefixes) == 0 }

func (m *IPMatcher) Allow(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range m.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
