package plugin

import (
	"encoding/json"
	"fmt"

	"github.com/zeebo/xxh3"

	"github.com/frayproxy/fray/internal/config"
)

// Build constructs the plugin list for a proxy configuration. The list is
// ordered; the data plane applies it left to right in every phase. An
// empty fault yields an empty list (pure passthrough).
func Build(cfg config.ProxyConfig) ([]Plugin, error) {
	if err := cfg.Fault.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Fault.Kind {
	case "":
		return nil, nil
	case config.KindLatency:
		return []Plugin{NewLatencyPlugin(*cfg.Fault.Latency, cfg.Seed)}, nil
	case config.KindBandwidth:
		return []Plugin{NewBandwidthPlugin(*cfg.Fault.Bandwidth)}, nil
	case config.KindJitter:
		return []Plugin{NewJitterPlugin(*cfg.Fault.Jitter, cfg.Seed)}, nil
	case config.KindPacketLoss:
		return []Plugin{NewPacketLossPlugin(*cfg.Fault.PacketLoss, cfg.Seed)}, nil
	case config.KindDNS:
		return []Plugin{NewDNSPlugin(*cfg.Fault.DNS, cfg.Seed)}, nil
	}
	return nil, fmt.Errorf("no builtin plugin for fault kind %q", cfg.Fault.Kind)
}

// Fingerprint hashes a configuration into a stable identity for the
// plugin set built from it. State stores it beside the plugin list it
// swaps in, and Snapshot returns the two together.
func Fingerprint(cfg config.ProxyConfig) uint64 {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	return xxh3.Hash(raw)
}
