package report

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/frayproxy/fray/internal/config"
)

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func TestDecide(t *testing.T) {
	m := &RequestMetrics{Status: 200, Total: 0.050}

	cases := []struct {
		name   string
		expect *Expectation
		m      *RequestMetrics
		errd   bool
		want   Decision
	}{
		{"status match", &Expectation{Status: intPtr(200)}, m, false, DecisionSuccess},
		{"status mismatch", &Expectation{Status: intPtr(201)}, m, false, DecisionFailure},
		{"time under", &Expectation{ResponseTimeUnder: floatPtr(100)}, m, false, DecisionSuccess},
		{"time over", &Expectation{ResponseTimeUnder: floatPtr(10)}, m, false, DecisionFailure},
		{"both hold", &Expectation{Status: intPtr(200), ResponseTimeUnder: floatPtr(100)}, m, false, DecisionSuccess},
		{"status holds, time fails", &Expectation{Status: intPtr(200), ResponseTimeUnder: floatPtr(10)}, m, false, DecisionFailure},
		{"no expectation", nil, m, false, DecisionUnknown},
		{"error with expectation", &Expectation{Status: intPtr(200)}, nil, true, DecisionFailure},
		{"error without expectation", nil, nil, true, DecisionUnknown},
		{"empty expectation", &Expectation{}, m, false, DecisionUnknown},
	}
	for _, tc := range cases {
		if got := Decide(tc.expect, tc.m, tc.errd); got != tc.want {
			t.Fatalf("%s: Decide = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestSummarize(t *testing.T) {
	items := []ItemResult{
		{
			FaultType: "latency",
			Decision:  DecisionFailure,
			Metrics:   []RequestMetrics{{Total: 0.100}, {Total: 0.200}},
			Errors:    []string{"timeout"},
		},
		{
			FaultType: "dns",
			Decision:  DecisionSuccess,
			Metrics:   []RequestMetrics{{Total: 0.010}},
		},
	}
	s := Summarize(items)
	if s.Requests != 3 || s.Failures != 1 {
		t.Fatalf("requests/failures = %d/%d", s.Requests, s.Failures)
	}
	if s.ErrorRateOK {
		t.Fatal("1/3 error rate must exceed the threshold")
	}
	if s.LatencyP50 != 0.100 {
		t.Fatalf("p50 = %v, want 0.100", s.LatencyP50)
	}
	if len(s.Recommendations) != 1 {
		t.Fatalf("recommendations = %v, want one latency hint", s.Recommendations)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	r := &Report{
		ID:      "run-1",
		Title:   "smoke",
		Started: time.Now().UTC().Truncate(time.Second),
		Items: []ItemResult{{
			Title:     "latency item",
			FaultType: "latency",
			Fault: config.FaultConfig{
				Kind:    config.KindLatency,
				Latency: &config.LatencySettings{Distribution: config.DistNormal, Mean: 100},
			},
			Metrics:  []RequestMetrics{{Status: 200, Total: 0.1, BodyLength: 12}},
			Errors:   []string{},
			Decision: DecisionSuccess,
		}},
	}

	for _, name := range []string{"out.json", "out.yaml"} {
		path := filepath.Join(dir, name)
		if err := r.Save(path); err != nil {
			t.Fatalf("save %s: %v", name, err)
		}
		back, err := Load(path)
		if err != nil {
			t.Fatalf("load %s: %v", name, err)
		}
		if back.ID != r.ID || len(back.Items) != 1 || back.Items[0].Decision != DecisionSuccess {
			t.Fatalf("round trip mismatch via %s: %+v", name, back)
		}
		if back.Items[0].Fault.Kind != config.KindLatency || back.Items[0].Fault.Latency.Mean != 100 {
			t.Fatalf("fault config lost via %s: %+v", name, back.Items[0].Fault)
		}
	}
}

func TestSaveRejectsUnknownExtension(t *testing.T) {
	r := &Report{}
	if err := r.Save(filepath.Join(t.TempDir(), "out.txt")); err == nil {
		t.Fatal("expected unsupported format error")
	}
	if err := ValidateOutputPath("report.xml"); err == nil {
		t.Fatal("expected fail-fast validation error")
	}
}
