// Package report aggregates scenario results into the serializable run
// report: per-item metrics, expectation decisions, SLO summaries and
// fault-frequency recommendations.
package report

import (
	"time"

	"github.com/frayproxy/fray/internal/config"
	"github.com/frayproxy/fray/internal/event"
)

// Decision is the expectation outcome for one scenario item.
type Decision string

const (
	// DecisionSuccess means every declared predicate held.
	DecisionSuccess Decision = "success"
	// DecisionFailure means at least one predicate failed or the request
	// errored while an expectation was declared.
	DecisionFailure Decision = "failure"
	// DecisionUnknown means nothing was expected, or no response metric
	// was captured to grade.
	DecisionUnknown Decision = "unknown"
)

// DNSTiming captures client-side resolution metrics for one request.
type DNSTiming struct {
	Host     string  `json:"host" yaml:"host"`
	Duration float64 `json:"duration" yaml:"duration"` // seconds
	Country  string  `json:"country,omitempty" yaml:"country,omitempty"`
}

// Expectation mirrors the scenario item's declared predicates.
type Expectation struct {
	Status            *int     `json:"status,omitempty" yaml:"status,omitempty"`
	ResponseTimeUnder *float64 `json:"response_time_under,omitempty" yaml:"response_time_under,omitempty"` // ms
}

// RequestInfo describes the call a metrics block belongs to.
type RequestInfo struct {
	Method      string       `json:"method" yaml:"method"`
	URL         string       `json:"url" yaml:"url"`
	Expectation *Expectation `json:"expectation,omitempty" yaml:"expectation,omitempty"`
}

// RequestMetrics holds the measured protocol metrics of one request.
// Times are seconds.
type RequestMetrics struct {
	DNS            DNSTiming    `json:"dns" yaml:"dns"`
	ConnectionTime float64      `json:"connection_time" yaml:"connection_time"`
	Status         int          `json:"status" yaml:"status"`
	TTFB           float64      `json:"ttfb" yaml:"ttfb"`
	Total          float64      `json:"total" yaml:"total"`
	BodyLength     int          `json:"body_length" yaml:"body_length"`
	Request        *RequestInfo `json:"request,omitempty" yaml:"request,omitempty"`
	ExpectationMet *bool        `json:"expectation_met,omitempty" yaml:"expectation_met,omitempty"`
}

// TaskFaultEvents groups the fault events observed for one proxy task.
type TaskFaultEvents struct {
	TaskID uint64             `json:"task_id" yaml:"task_id"`
	Events []event.FaultEvent `json:"events" yaml:"events"`
}

// ItemResult is the report entry for one (possibly repeat-expanded)
// scenario item.
type ItemResult struct {
	Title       string             `json:"title" yaml:"title"`
	Description string             `json:"description,omitempty" yaml:"description,omitempty"`
	FaultType   string             `json:"fault_type" yaml:"fault_type"`
	Fault       config.FaultConfig `json:"fault" yaml:"fault"`
	Metrics     []RequestMetrics   `json:"metrics" yaml:"metrics"`
	FaultEvents []TaskFaultEvents  `json:"fault_events,omitempty" yaml:"fault_events,omitempty"`
	Errors      []string           `json:"errors" yaml:"errors"`
	TotalTime   float64            `json:"total_time" yaml:"total_time"` // seconds
	Decision    Decision           `json:"decision" yaml:"decision"`
}

// PluginInfo records the plugin set active during the run.
type PluginInfo struct {
	Name string `json:"name" yaml:"name"`
	Kind string `json:"kind" yaml:"kind"`
}

// Report is the full scenario run output.
type Report struct {
	ID        string       `json:"id" yaml:"id"`
	Title     string       `json:"title" yaml:"title"`
	Started   time.Time    `json:"started" yaml:"started"`
	Completed time.Time    `json:"completed" yaml:"completed"`
	Plugins   []PluginInfo `json:"plugins" yaml:"plugins"`
	Items     []ItemResult `json:"items" yaml:"items"`
	Summary   Summary      `json:"summary" yaml:"summary"`
}

// Decide evaluates an expectation against measured metrics.
// Success requires every provided predicate to hold; a request error with
// a declared expectation is a Failure; with nothing declared and nothing
// measured the outcome is Unknown.
func Decide(expect *Expectation, m *RequestMetrics, requestErr bool) Decision {
	if requestErr {
		if expect != nil {
			return DecisionFailure
		}
		return DecisionUnknown
	}
	if expect == nil || m == nil {
		return DecisionUnknown
	}
	if expect.Status != nil && *expect.Status != m.Status {
		return DecisionFailure
	}
	if expect.ResponseTimeUnder != nil && m.Total > *expect.ResponseTimeUnder/1000.0 {
		return DecisionFailure
	}
	if expect.Status == nil && expect.ResponseTimeUnder == nil {
		return DecisionUnknown
	}
	return DecisionSuccess
}
