package event

import (
	"sync/atomic"
	"time"

	"github.com/frayproxy/fray/internal/config"
)

// TaskEvents is the handle a task uses to report its lifecycle. Faulted
// tasks get a publishing handle; passthrough tasks get a no-op handle so
// the data plane code stays branch-free.
//
// Completed and Error are mutually exclusive: whichever is called first
// wins and the other becomes a no-op.
type TaskEvents interface {
	ID() TaskID
	OnStarted(url string)
	WithFault(fault FaultEvent, direction config.Direction)
	OnResolved(domain string, took time.Duration)
	OnComputed(fault FaultEvent, direction config.Direction, side config.StreamSide)
	OnApplied(fault FaultEvent, direction config.Direction, side config.StreamSide)
	OnTTFB()
	OnResponse(statusCode int)
	OnCompleted(took time.Duration, bytesDown, bytesUp uint64)
	OnError(message string)
}

// Manager allocates task IDs and hands out event handles bound to the bus.
type Manager struct {
	counter atomic.Uint64
	bus     *Bus
}

// NewManager creates a manager publishing on the given bus.
func NewManager(bus *Bus) *Manager {
	return &Manager{bus: bus}
}

// Bus returns the underlying broadcast bus.
func (m *Manager) Bus() *Bus { return m.bus }

// NextID allocates a fresh task ID.
func (m *Manager) NextID() TaskID {
	return TaskID(m.counter.Add(1))
}

// NewFaultTask returns a publishing handle for a faulted connection.
func (m *Manager) NewFaultTask() TaskEvents {
	return &faultTask{id: m.NextID(), bus: m.bus}
}

// NewPassthroughTask returns a discarding handle. The ID is still
// allocated so task numbering stays monotone across all connections.
func (m *Manager) NewPassthroughTask() TaskEvents {
	return &passthroughTask{id: m.NextID()}
}

type faultTask struct {
	id       TaskID
	bus      *Bus
	terminal atomic.Bool
}

func (t *faultTask) ID() TaskID { return t.id }

func (t *faultTask) publish(e TaskProgressEvent) {
	e.TaskID = t.id
	t.bus.Publish(e)
}

func (t *faultTask) OnStarted(url string) {
	t.publish(TaskProgressEvent{Type: TypeStarted, URL: url})
}

func (t *faultTask) WithFault(fault FaultEvent, direction config.Direction) {
	t.publish(TaskProgressEvent{Type: TypeWithFault, Fault: &fault, Direction: direction})
}

func (t *faultTask) OnResolved(domain string, took time.Duration) {
	t.publish(TaskProgressEvent{Type: TypeIPResolved, Domain: domain, ResolveTime: took})
}

func (t *faultTask) OnComputed(fault FaultEvent, direction config.Direction, side config.StreamSide) {
	t.publish(TaskProgressEvent{Type: TypeFaultComputed, Fault: &fault, Direction: direction, Side: side})
}

func (t *faultTask) OnApplied(fault FaultEvent, direction config.Direction, side config.StreamSide) {
	t.publish(TaskProgressEvent{Type: TypeFaultApplied, Fault: &fault, Direction: direction, Side: side})
}

func (t *faultTask) OnTTFB() {
	t.publish(TaskProgressEvent{Type: TypeTTFB})
}

func (t *faultTask) OnResponse(statusCode int) {
	t.publish(TaskProgressEvent{Type: TypeResponseReceived, StatusCode: statusCode})
}

func (t *faultTask) OnCompleted(took time.Duration, bytesDown, bytesUp uint64) {
	if !t.terminal.CompareAndSwap(false, true) {
		return
	}
	t.publish(TaskProgressEvent{Type: TypeCompleted, Duration: took, BytesDown: bytesDown, BytesUp: bytesUp})
}

func (t *faultTask) OnError(message string) {
	if !t.terminal.CompareAndSwap(false, true) {
		return
	}
	t.publish(TaskProgressEvent{Type: TypeError, Message: message})
}

type passthroughTask struct {
	id TaskID
}

func (t *passthroughTask) ID() TaskID { return t.id }

func (t *passthroughTask) OnStarted(string) {}
func (t *passthroughTask) WithFault(FaultEvent, config.Direction) {}
func (t *passthroughTask) OnResolved(string, time.Duration) {}
func (t *passthroughTask) OnComputed(FaultEvent, config.Direction, config.StreamSide) {}
func (t *passthroughTask) OnApplied(FaultEvent, config.Direction, config.StreamSide) {}
func (t *passthroughTask) OnTTFB() {}
func (t *passthroughTask) OnResponse(int) {}
func (t *passthroughTask) OnCompleted(time.Duration, uint64, uint64) {}
func (t *passthroughTask) OnError(string) {}
