package fault

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"sync"

	"github.com/frayproxy/fray/internal/config"
	"github.com/frayproxy/fray/internal/event"
)

// ErrDNSFaultTriggered is the deliberate resolution failure injected by
// the DNS fault. Callers can match it with errors.Is.
var ErrDNSFaultTriggered = errors.New("simulated dns resolution failure")

// Resolver is the lookup seam installed into HTTP client builders.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// SystemResolver delegates to the operating system resolver.
type SystemResolver struct {
	inner net.Resolver
}

func (r *SystemResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	return r.inner.LookupIPAddr(ctx, host)
}

// FaultyResolver fails lookups with probability rate/100 and otherwise
// delegates to the wrapped resolver.
type FaultyResolver struct {
	inner  Resolver
	rate   float64
	events event.TaskEvents

	mu  sync.Mutex
	rng *rand.Rand
}

// NewFaultyResolver builds the resolver for the given DNS settings.
func NewFaultyResolver(settings config.DNSSettings, events event.TaskEvents, seed uint64) *FaultyResolver {
	return &FaultyResolver{
		inner:  &SystemResolver{},
		rate:   float64(settings.Rate) / 100,
		events: events,
		rng:    NewRand(seed),
	}
}

func (r *FaultyResolver) triggered() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64() < r.rate
}

// Check draws once and returns the injected failure without performing a
// lookup. Used on paths where resolution happens elsewhere (CONNECT).
func (r *FaultyResolver) Check(host string) error {
	if r.triggered() {
		r.events.OnApplied(event.FaultEvent{Kind: config.KindDNS, Triggered: true}, config.DirectionEgress, config.SideClient)
		return fmt.Errorf("lookup %s: %w", host, ErrDNSFaultTriggered)
	}
	r.events.OnApplied(event.FaultEvent{Kind: config.KindDNS, Triggered: false}, config.DirectionEgress, config.SideClient)
	return nil
}

func (r *FaultyResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	if r.triggered() {
		r.events.OnApplied(event.FaultEvent{Kind: config.KindDNS, Triggered: true}, config.DirectionEgress, config.SideClient)
		return nil, fmt.Errorf("lookup %s: %w", host, ErrDNSFaultTriggered)
	}
	r.events.OnApplied(event.FaultEvent{Kind: config.KindDNS, Triggered: false}, config.DirectionEgress, config.SideClient)
	return r.inner.LookupIPAddr(ctx, host)
}
