// Package config holds the fault settings model shared by the CLI, the
// proxy data plane and the scenario runner.
package config

import (
	"fmt"
	"math"
	"strings"
)

// Direction selects which half of the data flow a fault applies to.
// Ingress is traffic from the upstream toward the client; Egress is
// traffic from the client toward the upstream.
type Direction string

const (
	DirectionIngress Direction = "ingress"
	DirectionEgress  Direction = "egress"
	DirectionBoth    Direction = "both"
)

// ParseDirection parses a case-insensitive direction name.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(s) {
	case "ingress":
		return DirectionIngress, nil
	case "egress":
		return DirectionEgress, nil
	case "both":
		return DirectionBoth, nil
	}
	return "", fmt.Errorf("invalid direction %q (want ingress, egress or both)", s)
}

func (d Direction) IsIngress() bool {
	return d == DirectionIngress || d == DirectionBoth
}

func (d Direction) IsEgress() bool {
	return d == DirectionEgress || d == DirectionBoth
}

func (d Direction) String() string { return string(d) }

// StreamSide identifies whose half of a bidirectional tunnel an injector
// wraps: the connecting peer (client) or the upstream peer (server).
type StreamSide string

const (
	SideClient StreamSide = "client"
	SideServer StreamSide = "server"
)

// ParseStreamSide parses a case-insensitive stream side name.
func ParseStreamSide(s string) (StreamSide, error) {
	switch strings.ToLower(s) {
	case "client":
		return SideClient, nil
	case "server":
		return SideServer, nil
	}
	return "", fmt.Errorf("invalid stream side %q (want client or server)", s)
}

func (s StreamSide) String() string { return string(s) }

// LatencyDistribution names the sampling distribution for latency delays.
type LatencyDistribution string

const (
	DistUniform      LatencyDistribution = "uniform"
	DistNormal       LatencyDistribution = "normal"
	DistPareto       LatencyDistribution = "pareto"
	DistParetoNormal LatencyDistribution = "pareto-normal"
)

// ParseLatencyDistribution parses a distribution name.
func ParseLatencyDistribution(s string) (LatencyDistribution, error) {
	switch strings.ToLower(s) {
	case "uniform":
		return DistUniform, nil
	case "normal":
		return DistNormal, nil
	case "pareto":
		return DistPareto, nil
	case "pareto-normal", "paretonormal":
		return DistParetoNormal, nil
	}
	return "", fmt.Errorf("invalid latency distribution %q", s)
}

// BandwidthUnit scales a bandwidth rate to bytes per second.
type BandwidthUnit string

const (
	UnitBps  BandwidthUnit = "Bps"
	UnitKBps BandwidthUnit = "KBps"
	UnitMBps BandwidthUnit = "MBps"
	UnitGBps BandwidthUnit = "GBps"
)

// ParseBandwidthUnit parses a bandwidth unit name.
func ParseBandwidthUnit(s string) (BandwidthUnit, error) {
	switch strings.ToLower(s) {
	case "bps":
		return UnitBps, nil
	case "kbps":
		return UnitKBps, nil
	case "mbps":
		return UnitMBps, nil
	case "gbps":
		return UnitGBps, nil
	}
	return "", fmt.Errorf("invalid bandwidth unit %q (want bps, kbps, mbps or gbps)", s)
}

// BytesPerSecond converts rate in this unit to bytes per second.
func (u BandwidthUnit) BytesPerSecond(rate uint64) uint64 {
	switch u {
	case UnitKBps:
		return rate * 1_000
	case UnitMBps:
		return rate * 1_000_000
	case UnitGBps:
		return rate * 1_000_000_000
	default:
		return rate
	}
}

// FaultKind tags the active fault variant of a FaultConfig.
type FaultKind string

const (
	KindLatency    FaultKind = "latency"
	KindBandwidth  FaultKind = "bandwidth"
	KindJitter     FaultKind = "jitter"
	KindPacketLoss FaultKind = "packetloss"
	KindDNS        FaultKind = "dns"
)

// LatencySettings configures the latency injector. Mean, stddev, min, max
// are milliseconds; shape and scale parameterize the Pareto distribution.
type LatencySettings struct {
	Distribution LatencyDistribution `json:"distribution" yaml:"distribution"`
	// Global applies a single sampled delay per direction per stream
	// instead of one per I/O poll.
	Global    bool       `json:"global" yaml:"global"`
	Mean      float64    `json:"mean" yaml:"mean"`
	Stddev    float64    `json:"stddev" yaml:"stddev"`
	Min       float64    `json:"min" yaml:"min"`
	Max       float64    `json:"max" yaml:"max"`
	Shape     float64    `json:"shape" yaml:"shape"`
	Scale     float64    `json:"scale" yaml:"scale"`
	Direction Direction  `json:"direction" yaml:"direction"`
	Side      StreamSide `json:"side" yaml:"side"`
}

// BandwidthSettings configures the bandwidth throttle.
type BandwidthSettings struct {
	Rate      uint64        `json:"rate" yaml:"rate"`
	Unit      BandwidthUnit `json:"unit" yaml:"unit"`
	Direction Direction     `json:"direction" yaml:"direction"`
	Side      StreamSide    `json:"side" yaml:"side"`
}

// BytesPerSecond returns the configured rate in bytes per second.
func (s BandwidthSettings) BytesPerSecond() uint64 {
	return s.Unit.BytesPerSecond(s.Rate)
}

// JitterSettings configures the jitter injector. Amplitude is milliseconds,
// frequency is Hertz.
type JitterSettings struct {
	Amplitude float64   `json:"amplitude" yaml:"amplitude"`
	Frequency float64   `json:"frequency" yaml:"frequency"`
	Direction Direction `json:"direction" yaml:"direction"`
}

// PacketLossSettings configures the multi-state Markov packet loss model.
type PacketLossSettings struct {
	Direction Direction  `json:"direction" yaml:"direction"`
	Side      StreamSide `json:"side" yaml:"side"`
}

// DNSSettings configures the faulty resolver. Rate is a percentage in
// [0, 100].
type DNSSettings struct {
	Rate      uint8     `json:"rate" yaml:"rate"`
	Direction Direction `json:"direction" yaml:"direction"`
}

// FaultConfig is a closed sum over the five fault kinds. Exactly one
// settings pointer is non-nil for the tagged Kind.
type FaultConfig struct {
	Kind       FaultKind           `json:"kind" yaml:"kind"`
	Latency    *LatencySettings    `json:"latency,omitempty" yaml:"latency,omitempty"`
	Bandwidth  *BandwidthSettings  `json:"bandwidth,omitempty" yaml:"bandwidth,omitempty"`
	Jitter     *JitterSettings     `json:"jitter,omitempty" yaml:"jitter,omitempty"`
	PacketLoss *PacketLossSettings `json:"packetloss,omitempty" yaml:"packetloss,omitempty"`
	DNS        *DNSSettings        `json:"dns,omitempty" yaml:"dns,omitempty"`
}

func (f FaultConfig) String() string { return string(f.Kind) }

// Validate checks the invariants of the active fault variant.
func (f FaultConfig) Validate() error {
	switch f.Kind {
	case KindLatency:
		s := f.Latency
		if s == nil {
			return fmt.Errorf("latency fault: missing settings")
		}
		if s.Mean <= 0 && s.Distribution != DistUniform && s.Distribution != DistPareto {
			return fmt.Errorf("latency fault: mean must be positive")
		}
		if s.Stddev < 0 {
			return fmt.Errorf("latency fault: stddev must be non-negative")
		}
		if s.Distribution == DistUniform && s.Min > s.Max {
			return fmt.Errorf("latency fault: min %.2f exceeds max %.2f", s.Min, s.Max)
		}
	case KindBandwidth:
		s := f.Bandwidth
		if s == nil {
			return fmt.Errorf("bandwidth fault: missing settings")
		}
		if s.Rate == 0 {
			return fmt.Errorf("bandwidth fault: rate must be a positive integer")
		}
		// The throttle caps single transfers at a 32-bit quota.
		if s.BytesPerSecond() > math.MaxUint32 {
			return fmt.Errorf("bandwidth fault: %d %s exceeds the per-second quota limit", s.Rate, s.Unit)
		}
	case KindJitter:
		s := f.Jitter
		if s == nil {
			return fmt.Errorf("jitter fault: missing settings")
		}
		if s.Amplitude < 0 {
			return fmt.Errorf("jitter fault: amplitude must be non-negative")
		}
		if s.Frequency < 0 {
			return fmt.Errorf("jitter fault: frequency must be non-negative")
		}
	case KindPacketLoss:
		if f.PacketLoss == nil {
			return fmt.Errorf("packet loss fault: missing settings")
		}
	case KindDNS:
		s := f.DNS
		if s == nil {
			return fmt.Errorf("dns fault: missing settings")
		}
		if s.Rate > 100 {
			return fmt.Errorf("dns fault: rate must be at most 100")
		}
	case "":
		// Empty config carries no fault; the data plane passes traffic through.
	default:
		return fmt.Errorf("unknown fault kind %q", f.Kind)
	}
	return nil
}

// IsZero reports whether no fault is configured.
func (f FaultConfig) IsZero() bool { return f.Kind == "" }

// ProxyConfig is the process-wide proxy configuration: the active fault
// plus the upstream allow-list. It is distributed through a Watch.
type ProxyConfig struct {
	Fault FaultConfig `json:"fault" yaml:"fault"`
	// Upstreams is the host:port allow-list; hosts not listed here are
	// proxied untouched.
	Upstreams []string `json:"upstreams" yaml:"upstreams"`
	// Seed seeds all fault RNGs when non-zero, for reproducible runs.
	Seed uint64 `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// NewProxyConfig validates the fault settings and returns the config.
func NewProxyConfig(fault FaultConfig, upstreams []string) (ProxyConfig, error) {
	if err := fault.Validate(); err != nil {
		return ProxyConfig{}, err
	}
	return ProxyConfig{Fault: fault, Upstreams: upstreams}, nil
}
