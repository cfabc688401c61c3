package scenario

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/frayproxy/fray/internal/config"
)

const sampleYAML = `
title: latency sweep
description: ramps the latency mean
scenarios:
  - title: base latency
    call:
      method: GET
      url: http://demo.test/
      headers:
        X-Probe: "1"
    context:
      upstreams: ["demo.test:80"]
      fault:
        type: latency
        distribution: normal
        mean: 100
        stddev: 0
        direction: ingress
      strategy:
        mode: repeat
        step: 50
        count: 3
        wait: 0.01
    expect:
      status: 200
      response_time_under: 1000
`

const sampleJSON = `{
  "title": "dns check",
  "scenarios": [
    {
      "call": {"method": "GET", "url": "http://demo.test/"},
      "context": {
        "upstreams": ["demo.test:80"],
        "fault": {"type": "dns", "rate": 100}
      },
      "expect": {"status": 200}
    }
  ]
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	sc, err := Load(writeFile(t, "sweep.yaml", sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if sc.Title != "latency sweep" || len(sc.Items) != 1 {
		t.Fatalf("scenario = %+v", sc)
	}
	item := sc.Items[0]
	if item.Call.Headers["X-Probe"] != "1" {
		t.Fatalf("headers lost: %+v", item.Call)
	}
	if item.Context.Strategy == nil || item.Context.Strategy.Count != 3 {
		t.Fatalf("strategy lost: %+v", item.Context.Strategy)
	}
	if item.Context.Strategy.Wait == nil || *item.Context.Strategy.Wait != 0.01 {
		t.Fatalf("wait = %v", item.Context.Strategy.Wait)
	}
	if item.Expect == nil || *item.Expect.Status != 200 {
		t.Fatalf("expectation lost: %+v", item.Expect)
	}
}

func TestLoadJSON(t *testing.T) {
	sc, err := Load(writeFile(t, "dns.json", sampleJSON))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	fault, err := sc.Items[0].Context.Fault.Build()
	if err != nil {
		t.Fatalf("build fault: %v", err)
	}
	if fault.Kind != config.KindDNS || fault.DNS.Rate != 100 {
		t.Fatalf("fault = %+v", fault)
	}
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	if _, err := Load(writeFile(t, "scenario.txt", sampleYAML)); err == nil {
		t.Fatal("expected format error")
	}
}

func TestValidateCatchesBadItems(t *testing.T) {
	bad := []string{
		"title: x\nscenarios: []\n",
		"title: x\nscenarios:\n  - call: {method: GET, url: \"http://a/\"}\n    context: {upstreams: [], fault: {type: latency}}\n",
		"title: x\nscenarios:\n  - call: {method: \"\", url: \"http://a/\"}\n    context: {upstreams: [\"a:80\"], fault: {type: latency}}\n",
		"title: x\nscenarios:\n  - call: {method: GET, url: \"http://a/\"}\n    context: {upstreams: [\"a:80\"], fault: {type: meteor}}\n",
		"title: x\nscenarios:\n  - call: {method: GET, url: \"http://a/\"}\n    context: {upstreams: [\"a:80\"], fault: {type: latency}, strategy: {mode: repeat, count: 0}}\n",
	}
	for i, doc := range bad {
		if _, err := Load(writeFile(t, "bad.yaml", doc)); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestFaultSpecDefaults(t *testing.T) {
	fault, err := FaultSpec{Type: "latency"}.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	s := fault.Latency
	if s.Distribution != config.DistNormal || s.Mean != 100 || s.Stddev != 20 || !s.Global {
		t.Fatalf("defaults = %+v", s)
	}
	if s.Direction != config.DirectionIngress || s.Side != config.SideServer {
		t.Fatalf("direction/side defaults = %v/%v", s.Direction, s.Side)
	}
}

func TestExpandRepeatIncrementsLatencyMean(t *testing.T) {
	item := Item{
		Title: "sweep",
		Call:  Call{Method: "GET", URL: "http://demo.test/"},
		Context: Context{
			Upstreams: []string{"demo.test:80"},
			Fault:     FaultSpec{Type: "latency", Mean: floatPtr(100), Stddev: floatPtr(0)},
			Strategy:  &Strategy{Mode: "repeat", Step: 50, Count: 3},
		},
	}
	units, err := expand(item)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(units) != 3 {
		t.Fatalf("expanded %d units, want 3", len(units))
	}
	wantMeans := []float64{100, 150, 200}
	for i, unit := range units {
		if got := unit.Fault.Latency.Mean; got != wantMeans[i] {
			t.Fatalf("unit %d mean = %v, want %v", i, got, wantMeans[i])
		}
	}
	// Expansion must not alias the settings across units.
	units[0].Fault.Latency.Mean = 999
	if units[1].Fault.Latency.Mean != 150 {
		t.Fatal("expanded units share settings")
	}
}

func TestExpandNonLatencyRepeatsUnchanged(t *testing.T) {
	rate := uint64(10)
	item := Item{
		Call: Call{Method: "GET", URL: "http://demo.test/"},
		Context: Context{
			Upstreams: []string{"demo.test:80"},
			Fault:     FaultSpec{Type: "bandwidth", Rate: &rate, Unit: "kbps"},
			Strategy:  &Strategy{Mode: "repeat", Step: 50, Count: 2},
		},
	}
	units, err := expand(item)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	for i, unit := range units {
		if unit.Fault.Bandwidth.Rate != 10 {
			t.Fatalf("unit %d rate changed: %+v", i, unit.Fault.Bandwidth)
		}
	}
}

func floatPtr(v float64) *float64 { return &v }
