// Package event carries per-task lifecycle telemetry from the proxy data
// plane to its subscribers (console renderer, scenario reporter).
package event

import (
	"time"

	"github.com/frayproxy/fray/internal/config"
)

// TaskID identifies one client-initiated proxy operation. IDs are
// process-wide and strictly increasing.
type TaskID uint64

// Type enumerates the lifecycle transitions a task can report.
type Type string

const (
	TypeStarted          Type = "started"
	TypeWithFault        Type = "with-fault"
	TypeIPResolved       Type = "ip-resolved"
	TypeFaultComputed    Type = "fault-computed"
	TypeFaultApplied     Type = "fault-applied"
	TypeTTFB             Type = "ttfb"
	TypeResponseReceived Type = "response-received"
	TypeCompleted        Type = "completed"
	TypeError            Type = "error"
)

// FaultEvent mirrors a fault kind but carries realized values: the delay
// actually slept, the bytes actually moved in a throttle window, the loss
// probability of the Markov state that dropped a chunk.
type FaultEvent struct {
	Kind            config.FaultKind `json:"kind" yaml:"kind"`
	Delay           time.Duration    `json:"delay,omitempty" yaml:"delay,omitempty"`
	Bps             uint64           `json:"bps,omitempty" yaml:"bps,omitempty"`
	Amplitude       time.Duration    `json:"amplitude,omitempty" yaml:"amplitude,omitempty"`
	Frequency       float64          `json:"frequency,omitempty" yaml:"frequency,omitempty"`
	LossProbability float64          `json:"loss_probability,omitempty" yaml:"loss_probability,omitempty"`
	Triggered       bool             `json:"triggered,omitempty" yaml:"triggered,omitempty"`
}

// TaskProgressEvent is one entry on the broadcast bus. Fields beyond
// TaskID, Time and Type are populated per event type.
type TaskProgressEvent struct {
	TaskID TaskID
	Time   time.Time
	Type   Type

	// Started
	URL string
	// IPResolved
	Domain      string
	ResolveTime time.Duration
	// WithFault, FaultComputed, FaultApplied
	Fault     *FaultEvent
	Direction config.Direction
	Side      config.StreamSide
	// ResponseReceived
	StatusCode int
	// Completed
	Duration  time.Duration
	BytesDown uint64
	BytesUp   uint64
	// Error
	Message string
}
