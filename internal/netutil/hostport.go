// Package netutil provides host, port and address helpers shared by the
// proxy data plane and the scenario runner.
package netutil

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// DefaultPort returns the well-known port for a URL scheme.
func DefaultPort(scheme string) string {
	if strings.EqualFold(scheme, "https") {
		return "443"
	}
	return "80"
}

// CanonicalHostPort normalizes a target into the host:port form used as
// the allow-list key, inferring the port from the scheme when absent.
func CanonicalHostPort(target, scheme string) string {
	host, port := SplitHostDefaultPort(target, scheme)
	return net.JoinHostPort(host, port)
}

// SplitHostDefaultPort splits host[:port], substituting the scheme default
// when the port is missing or empty.
func SplitHostDefaultPort(target, scheme string) (host, port string) {
	host, port = SplitHostOptionalPort(target)
	if port == "" {
		port = DefaultPort(scheme)
	}
	return host, port
}

// SplitHostOptionalPort splits host[:port], returning an empty port when
// none was given. Bracketed IPv6 hosts are unwrapped.
func SplitHostOptionalPort(target string) (host, port string) {
	host, port, err := net.SplitHostPort(target)
	if err != nil {
		// Bare host (or bracketed IPv6 without port).
		host = strings.TrimSuffix(strings.TrimPrefix(target, "["), "]")
		port = ""
	}
	return host, port
}

// UpstreamKey derives the allow-list key for a parsed upstream URL.
func UpstreamKey(u *url.URL) string {
	port := u.Port()
	if port == "" {
		port = DefaultPort(u.Scheme)
	}
	return net.JoinHostPort(u.Hostname(), port)
}

// ExtractDomain reduces a target (host:port, URL or bare host) to its
// registrable domain via the Public Suffix List, falling back to the bare
// host for IPs and internal names.
func ExtractDomain(target string) string {
	if strings.Contains(target, "://") || strings.HasPrefix(target, "//") {
		if u, err := url.Parse(target); err == nil && u.Host != "" {
			target = u.Host
		}
	}
	host := target
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	} else if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = host[1 : len(host)-1]
	}
	if net.ParseIP(host) != nil {
		return host
	}
	if domain, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return domain
	}
	return host
}

// LocalIP reports a non-loopback IP of this machine, used by stealth mode
// to remap localhost targets onto the network interface address.
func LocalIP() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", fmt.Errorf("list interface addresses: %w", err)
	}
	var v6 string
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String(), nil
		}
		if v6 == "" {
			v6 = ipNet.IP.String()
		}
	}
	if v6 != "" {
		return v6, nil
	}
	return "", fmt.Errorf("no non-loopback interface address found")
}
