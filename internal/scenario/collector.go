package scenario

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/frayproxy/fray/internal/event"
)

// faultRecord is one applied-fault observation with a global sequence
// number so items can claim the window they executed in.
type faultRecord struct {
	seq   uint64
	fault event.FaultEvent
}

// collector drains the proxy event bus in the background, grouping applied
// faults by task for report correlation. The per-task map is the single
// store; since() answers item queries from it by sequence window.
type collector struct {
	sub    *event.Subscription
	seq    atomic.Uint64
	byTask *xsync.Map[event.TaskID, []faultRecord]
	done   chan struct{}
}

func newCollector(bus *event.Bus) *collector {
	c := &collector{
		sub:    bus.Subscribe(),
		byTask: xsync.NewMap[event.TaskID, []faultRecord](),
		done:   make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *collector) run() {
	defer close(c.done)
	for e := range c.sub.C {
		if e.Type != event.TypeFaultApplied || e.Fault == nil {
			continue
		}
		rec := faultRecord{seq: c.seq.Add(1), fault: *e.Fault}
		c.byTask.Compute(e.TaskID, func(records []faultRecord, _ bool) ([]faultRecord, xsync.ComputeOp) {
			return append(records, rec), xsync.UpdateOp
		})
	}
}

// mark returns the current sequence position.
func (c *collector) mark() uint64 { return c.seq.Load() }

// since groups the applied faults recorded after the given mark by task.
func (c *collector) since(mark uint64) map[event.TaskID][]event.FaultEvent {
	out := make(map[event.TaskID][]event.FaultEvent)
	c.byTask.Range(func(taskID event.TaskID, records []faultRecord) bool {
		for _, rec := range records {
			if rec.seq > mark {
				out[taskID] = append(out[taskID], rec.fault)
			}
		}
		return true
	})
	return out
}

func (c *collector) close() {
	c.sub.Close()
	<-c.done
}
