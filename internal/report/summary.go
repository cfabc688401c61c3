package report

import (
	"fmt"
	"sort"
)

// Error-rate threshold for the SLO summary.
const errorRateThreshold = 0.05

// Summary holds SLO-style aggregates computed over all item metrics.
type Summary struct {
	Requests        int      `json:"requests" yaml:"requests"`
	Failures        int      `json:"failures" yaml:"failures"`
	ErrorRate       float64  `json:"error_rate" yaml:"error_rate"`
	ErrorRateOK     bool     `json:"error_rate_ok" yaml:"error_rate_ok"`
	LatencyP50      float64  `json:"latency_p50" yaml:"latency_p50"` // seconds
	LatencyP95      float64  `json:"latency_p95" yaml:"latency_p95"`
	LatencyP99      float64  `json:"latency_p99" yaml:"latency_p99"`
	Recommendations []string `json:"recommendations,omitempty" yaml:"recommendations,omitempty"`
}

// Summarize computes the SLO summary and categorical recommendations from
// the per-item results.
func Summarize(items []ItemResult) Summary {
	var (
		totals     []float64
		failures   int
		requests   int
		faultFreq  = map[string]int{}
		faultFails = map[string]int{}
	)
	for _, item := range items {
		faultFreq[item.FaultType]++
		requests += len(item.Metrics)
		for _, m := range item.Metrics {
			totals = append(totals, m.Total)
		}
		failures += len(item.Errors)
		if item.Decision == DecisionFailure {
			faultFails[item.FaultType]++
		}
	}

	s := Summary{
		Requests: requests,
		Failures: failures,
	}
	if requests > 0 {
		s.ErrorRate = float64(failures) / float64(requests)
	}
	s.ErrorRateOK = s.ErrorRate <= errorRateThreshold

	sort.Float64s(totals)
	s.LatencyP50 = percentile(totals, 0.50)
	s.LatencyP95 = percentile(totals, 0.95)
	s.LatencyP99 = percentile(totals, 0.99)

	s.Recommendations = recommend(faultFreq, faultFails)
	return s
}

// percentile reads the p-quantile from an ascending slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

// recommend derives categorical hints from how often each fault kind was
// exercised and how often it broke the expectation.
func recommend(freq, fails map[string]int) []string {
	kinds := make([]string, 0, len(freq))
	for k := range freq {
		if k == "" {
			continue
		}
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	var out []string
	for _, kind := range kinds {
		failed := fails[kind]
		if failed == 0 {
			continue
		}
		switch kind {
		case "latency":
			out = append(out, fmt.Sprintf("latency: %d/%d items missed their expectation; consider client timeouts and hedged retries", failed, freq[kind]))
		case "bandwidth":
			out = append(out, fmt.Sprintf("bandwidth: %d/%d items missed their expectation; consider response streaming and payload budgets", failed, freq[kind]))
		case "jitter":
			out = append(out, fmt.Sprintf("jitter: %d/%d items missed their expectation; consider smoothing buffers on the consumer side", failed, freq[kind]))
		case "packetloss":
			out = append(out, fmt.Sprintf("packetloss: %d/%d items missed their expectation; consider idempotent retries with backoff", failed, freq[kind]))
		case "dns":
			out = append(out, fmt.Sprintf("dns: %d/%d items missed their expectation; consider resolver caching and fallback addresses", failed, freq[kind]))
		default:
			out = append(out, fmt.Sprintf("%s: %d/%d items missed their expectation", kind, failed, freq[kind]))
		}
	}
	return out
}
