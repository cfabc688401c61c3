// Package resolver performs timed upstream resolution for the proxy data
// plane: lookups are measured (for IpResolved events and report DNS
// timings), cached with a short TTL, and optionally remapped for stealth
// mode.
package resolver

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/maypok86/otter"

	"github.com/frayproxy/fray/internal/fault"
	"github.com/frayproxy/fray/internal/netutil"
)

const (
	cacheEntries = 4096
	cacheTTL     = 30 * time.Second
)

// Resolver resolves upstream hosts, measuring wall-clock lookup time.
// The underlying lookup seam is swappable so the DNS fault injector can
// take its place.
type Resolver struct {
	lookup  fault.Resolver
	cache   otter.CacheWithVariableTTL[string, []net.IPAddr]
	stealth bool
}

// Options configures a Resolver.
type Options struct {
	// Lookup overrides the system resolver; nil uses the system resolver.
	Lookup fault.Resolver
	// Stealth remaps localhost targets onto the local interface address.
	Stealth bool
}

// New creates a resolver with a bounded TTL cache.
func New(opts Options) (*Resolver, error) {
	lookup := opts.Lookup
	if lookup == nil {
		lookup = &fault.SystemResolver{}
	}
	cache, err := otter.MustBuilder[string, []net.IPAddr](cacheEntries).
		Cost(func(_ string, _ []net.IPAddr) uint32 { return 1 }).
		WithVariableTTL().
		Build()
	if err != nil {
		return nil, fmt.Errorf("resolver: build cache: %w", err)
	}
	return &Resolver{lookup: lookup, cache: cache, stealth: opts.Stealth}, nil
}

// MapHost applies the stealth localhost remap when enabled.
func (r *Resolver) MapHost(host string) string {
	if !r.stealth || (host != "localhost" && host != "127.0.0.1" && host != "::1") {
		return host
	}
	ip, err := netutil.LocalIP()
	if err != nil {
		return host
	}
	return ip
}

// Resolve looks up the host's addresses and reports how long the lookup
// took. Cached hits report a zero duration.
func (r *Resolver) Resolve(ctx context.Context, host string) ([]net.IPAddr, time.Duration, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IPAddr{{IP: ip}}, 0, nil
	}
	if addrs, ok := r.cache.Get(host); ok {
		return addrs, 0, nil
	}

	start := time.Now()
	addrs, err := r.lookup.LookupIPAddr(ctx, host)
	took := time.Since(start)
	if err != nil {
		return nil, took, err
	}
	if len(addrs) == 0 {
		return nil, took, fmt.Errorf("resolve %s: no addresses", host)
	}
	r.cache.Set(host, addrs, cacheTTL)
	return addrs, took, nil
}
