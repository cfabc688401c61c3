package scenario

import (
	"testing"
	"time"

	"github.com/frayproxy/fray/internal/config"
	"github.com/frayproxy/fray/internal/event"
)

func TestCollectorGroupsAppliedFaultsByTask(t *testing.T) {
	bus := event.NewBus(64)
	defer bus.Close()
	col := newCollector(bus)
	defer col.close()

	mark := col.mark()
	bus.Publish(event.TaskProgressEvent{
		TaskID: 1, Type: event.TypeFaultApplied,
		Fault: &event.FaultEvent{Kind: config.KindLatency, Delay: 10 * time.Millisecond},
	})
	bus.Publish(event.TaskProgressEvent{
		TaskID: 2, Type: event.TypeFaultApplied,
		Fault: &event.FaultEvent{Kind: config.KindBandwidth, Bps: 512},
	})
	bus.Publish(event.TaskProgressEvent{
		TaskID: 1, Type: event.TypeFaultApplied,
		Fault: &event.FaultEvent{Kind: config.KindLatency, Delay: 20 * time.Millisecond},
	})
	// Non-applied events must be ignored.
	bus.Publish(event.TaskProgressEvent{TaskID: 1, Type: event.TypeStarted, URL: "http://x/"})

	waitForSeq(t, col, 3)
	got := col.since(mark)
	if len(got[1]) != 2 || len(got[2]) != 1 {
		t.Fatalf("grouped = %v", got)
	}
	if got[1][0].Delay != 10*time.Millisecond || got[1][1].Delay != 20*time.Millisecond {
		t.Fatalf("per-task order lost: %v", got[1])
	}
}

func TestCollectorSinceWindow(t *testing.T) {
	bus := event.NewBus(64)
	defer bus.Close()
	col := newCollector(bus)
	defer col.close()

	bus.Publish(event.TaskProgressEvent{
		TaskID: 7, Type: event.TypeFaultApplied,
		Fault: &event.FaultEvent{Kind: config.KindDNS, Triggered: true},
	})
	waitForSeq(t, col, 1)

	mark := col.mark()
	bus.Publish(event.TaskProgressEvent{
		TaskID: 7, Type: event.TypeFaultApplied,
		Fault: &event.FaultEvent{Kind: config.KindDNS, Triggered: false},
	})
	waitForSeq(t, col, 2)

	got := col.since(mark)
	if len(got[7]) != 1 || got[7][0].Triggered {
		t.Fatalf("window filter broken: %v", got)
	}
}

func waitForSeq(t *testing.T, col *collector, want uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for col.mark() < want {
		if time.Now().After(deadline) {
			t.Fatalf("collector stuck at seq %d, want %d", col.mark(), want)
		}
		time.Sleep(time.Millisecond)
	}
}
