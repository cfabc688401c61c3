// Package scenario executes declarative request sequences against the
// proxy: each item rewrites the live fault configuration, performs its
// call through the proxy and grades the outcome.
package scenario

import (
	"fmt"

	"github.com/frayproxy/fray/internal/config"
)

// Call is one HTTP request to perform through the proxy.
type Call struct {
	Method  string            `yaml:"method" json:"method"`
	URL     string            `yaml:"url" json:"url"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Body    string            `yaml:"body,omitempty" json:"body,omitempty"`
}

// Strategy expands an item into a series of sub-items. Mode "repeat"
// executes the item count times, incrementing the latency mean by step
// milliseconds per iteration, optionally waiting between iterations.
type Strategy struct {
	Mode  string   `yaml:"mode" json:"mode"`
	Step  float64  `yaml:"step" json:"step"` // ms
	Count int      `yaml:"count" json:"count"`
	Wait  *float64 `yaml:"wait,omitempty" json:"wait,omitempty"` // seconds
}

// Expectation declares the pass criteria for an item.
type Expectation struct {
	Status            *int     `yaml:"status,omitempty" json:"status,omitempty"`
	ResponseTimeUnder *float64 `yaml:"response_time_under,omitempty" json:"response_time_under,omitempty"` // ms
}

// Context binds an item to its upstream allow-list, fault and repeat
// strategy.
type Context struct {
	Upstreams []string  `yaml:"upstreams" json:"upstreams"`
	Fault     FaultSpec `yaml:"fault" json:"fault"`
	Strategy  *Strategy `yaml:"strategy,omitempty" json:"strategy,omitempty"`
}

// Item is one scenario entry.
type Item struct {
	Title       string       `yaml:"title,omitempty" json:"title,omitempty"`
	Description string       `yaml:"description,omitempty" json:"description,omitempty"`
	Call        Call         `yaml:"call" json:"call"`
	Context     Context      `yaml:"context" json:"context"`
	Expect      *Expectation `yaml:"expect,omitempty" json:"expect,omitempty"`
	// Concurrent executes repeat-expanded sub-items concurrently instead
	// of serially.
	Concurrent bool `yaml:"concurrent,omitempty" json:"concurrent,omitempty"`
}

// Scenario is a parsed scenario document.
type Scenario struct {
	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Items       []Item `yaml:"scenarios" json:"scenarios"`
}

// FaultSpec is the serialized, type-tagged fault configuration of a
// scenario item. Field presence depends on the type; Build maps it onto
// the internal settings. Omitted latency fields take the CLI's defaults;
// an omitted direction is ingress (egress for dns), an omitted dns rate
// is 100, and a bandwidth rate is required.
type FaultSpec struct {
	Type string `yaml:"type" json:"type"`

	// latency
	Distribution string   `yaml:"distribution,omitempty" json:"distribution,omitempty"`
	Global       *bool    `yaml:"global,omitempty" json:"global,omitempty"`
	Mean         *float64 `yaml:"mean,omitempty" json:"mean,omitempty"`
	Stddev       *float64 `yaml:"stddev,omitempty" json:"stddev,omitempty"`
	Min          *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max          *float64 `yaml:"max,omitempty" json:"max,omitempty"`
	Shape        *float64 `yaml:"shape,omitempty" json:"shape,omitempty"`
	Scale        *float64 `yaml:"scale,omitempty" json:"scale,omitempty"`

	// bandwidth (rate+unit) and dns (rate only)
	Rate *uint64 `yaml:"rate,omitempty" json:"rate,omitempty"`
	Unit string  `yaml:"unit,omitempty" json:"unit,omitempty"`

	// jitter
	Amplitude *float64 `yaml:"amplitude,omitempty" json:"amplitude,omitempty"`
	Frequency *float64 `yaml:"frequency,omitempty" json:"frequency,omitempty"`

	Direction string `yaml:"direction,omitempty" json:"direction,omitempty"`
	Side      string `yaml:"side,omitempty" json:"side,omitempty"`
}

func (f FaultSpec) direction(fallback config.Direction) (config.Direction, error) {
	if f.Direction == "" {
		return fallback, nil
	}
	return config.ParseDirection(f.Direction)
}

func (f FaultSpec) side() (config.StreamSide, error) {
	if f.Side == "" {
		return config.SideServer, nil
	}
	return config.ParseStreamSide(f.Side)
}

func orDefault(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

// Build maps the spec onto a validated FaultConfig.
func (f FaultSpec) Build() (config.FaultConfig, error) {
	side, err := f.side()
	if err != nil {
		return config.FaultConfig{}, err
	}

	var cfg config.FaultConfig
	switch f.Type {
	case "latency":
		dist := config.DistNormal
		if f.Distribution != "" {
			if dist, err = config.ParseLatencyDistribution(f.Distribution); err != nil {
				return config.FaultConfig{}, err
			}
		}
		dir, err := f.direction(config.DirectionIngress)
		if err != nil {
			return config.FaultConfig{}, err
		}
		global := true
		if f.Global != nil {
			global = *f.Global
		}
		cfg = config.FaultConfig{
			Kind: config.KindLatency,
			Latency: &config.LatencySettings{
				Distribution: dist,
				Global:       global,
				Mean:         orDefault(f.Mean, 100),
				Stddev:       orDefault(f.Stddev, 20),
				Min:          orDefault(f.Min, 20),
				Max:          orDefault(f.Max, 20),
				Shape:        orDefault(f.Shape, 20),
				Scale:        orDefault(f.Scale, 20),
				Direction:    dir,
				Side:         side,
			},
		}
	case "bandwidth":
		if f.Rate == nil {
			return config.FaultConfig{}, fmt.Errorf("bandwidth fault: rate is required")
		}
		unit := config.UnitBps
		if f.Unit != "" {
			if unit, err = config.ParseBandwidthUnit(f.Unit); err != nil {
				return config.FaultConfig{}, err
			}
		}
		dir, err := f.direction(config.DirectionIngress)
		if err != nil {
			return config.FaultConfig{}, err
		}
		cfg = config.FaultConfig{
			Kind: config.KindBandwidth,
			Bandwidth: &config.BandwidthSettings{
				Rate:      *f.Rate,
				Unit:      unit,
				Direction: dir,
				Side:      side,
			},
		}
	case "jitter":
		dir, err := f.direction(config.DirectionIngress)
		if err != nil {
			return config.FaultConfig{}, err
		}
		cfg = config.FaultConfig{
			Kind: config.KindJitter,
			Jitter: &config.JitterSettings{
				Amplitude: orDefault(f.Amplitude, 20),
				Frequency: orDefault(f.Frequency, 5),
				Direction: dir,
			},
		}
	case "packetloss":
		dir, err := f.direction(config.DirectionIngress)
		if err != nil {
			return config.FaultConfig{}, err
		}
		cfg = config.FaultConfig{
			Kind:       config.KindPacketLoss,
			PacketLoss: &config.PacketLossSettings{Direction: dir, Side: side},
		}
	case "dns":
		dir, err := f.direction(config.DirectionEgress)
		if err != nil {
			return config.FaultConfig{}, err
		}
		rate := uint64(100)
		if f.Rate != nil {
			rate = *f.Rate
		}
		if rate > 100 {
			return config.FaultConfig{}, fmt.Errorf("dns fault: rate %d exceeds 100", rate)
		}
		cfg = config.FaultConfig{
			Kind: config.KindDNS,
			DNS:  &config.DNSSettings{Rate: uint8(rate), Direction: dir},
		}
	default:
		return config.FaultConfig{}, fmt.Errorf("unknown fault type %q", f.Type)
	}

	if err := cfg.Validate(); err != nil {
		return config.FaultConfig{}, err
	}
	return cfg, nil
}
