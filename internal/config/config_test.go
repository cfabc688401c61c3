package config

import "testing"

func TestParseDirection(t *testing.T) {
	cases := []struct {
		in      string
		want    Direction
		wantErr bool
	}{
		{"ingress", DirectionIngress, false},
		{"Egress", DirectionEgress, false},
		{"BOTH", DirectionBoth, false},
		{"sideways", "", true},
	}
	for _, tc := range cases {
		got, err := ParseDirection(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseDirection(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseDirection(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseDirection(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDirectionHalves(t *testing.T) {
	if !DirectionBoth.IsIngress() || !DirectionBoth.IsEgress() {
		t.Fatal("both must cover ingress and egress")
	}
	if DirectionIngress.IsEgress() {
		t.Fatal("ingress must not cover egress")
	}
	if DirectionEgress.IsIngress() {
		t.Fatal("egress must not cover ingress")
	}
}

func TestBandwidthUnitConversion(t *testing.T) {
	cases := []struct {
		unit BandwidthUnit
		rate uint64
		want uint64
	}{
		{UnitBps, 512, 512},
		{UnitKBps, 10, 10_000},
		{UnitMBps, 3, 3_000_000},
		{UnitGBps, 1, 1_000_000_000},
	}
	for _, tc := range cases {
		if got := tc.unit.BytesPerSecond(tc.rate); got != tc.want {
			t.Fatalf("%s.BytesPerSecond(%d) = %d, want %d", tc.unit, tc.rate, got, tc.want)
		}
	}
}

func TestFaultConfigValidate(t *testing.T) {
	valid := FaultConfig{
		Kind: KindLatency,
		Latency: &LatencySettings{
			Distribution: DistNormal,
			Mean:         100,
			Stddev:       20,
			Direction:    DirectionIngress,
			Side:         SideServer,
		},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid latency config rejected: %v", err)
	}

	bad := []FaultConfig{
		{Kind: KindLatency, Latency: &LatencySettings{Distribution: DistNormal, Mean: -1}},
		{Kind: KindLatency, Latency: &LatencySettings{Distribution: DistUniform, Min: 50, Max: 10}},
		{Kind: KindBandwidth, Bandwidth: &BandwidthSettings{Rate: 0, Unit: UnitBps}},
		{Kind: KindBandwidth, Bandwidth: &BandwidthSettings{Rate: 5, Unit: UnitGBps}},
		{Kind: KindDNS, DNS: &DNSSettings{Rate: 101}},
		{Kind: KindJitter, Jitter: &JitterSettings{Amplitude: -2}},
		{Kind: KindLatency},
		{Kind: "meteor"},
	}
	for i, cfg := range bad {
		if err := cfg.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error for %+v", i, cfg)
		}
	}

	if err := (FaultConfig{}).Validate(); err != nil {
		t.Fatalf("empty config must validate: %v", err)
	}
}
