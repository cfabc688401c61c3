package scenario

import (
	"fmt"
	"time"

	"github.com/frayproxy/fray/internal/config"
)

// expandedItem is one executable unit after strategy expansion.
type expandedItem struct {
	Item  Item
	Fault config.FaultConfig
	// Wait is slept before executing this unit (zero for the first).
	Wait time.Duration
	// Iteration is the expansion index, zero-based.
	Iteration int
}

// expand applies the item's repeat strategy. Each iteration increments the
// latency mean by step milliseconds; other fault kinds repeat unchanged.
func expand(item Item) ([]expandedItem, error) {
	base, err := item.Context.Fault.Build()
	if err != nil {
		return nil, err
	}

	st := item.Context.Strategy
	if st == nil {
		return []expandedItem{{Item: item, Fault: base}}, nil
	}

	var wait time.Duration
	if st.Wait != nil {
		wait = time.Duration(*st.Wait * float64(time.Second))
	}

	out := make([]expandedItem, 0, st.Count)
	for i := 0; i < st.Count; i++ {
		fault := cloneFault(base)
		if fault.Kind == config.KindLatency && i > 0 {
			fault.Latency.Mean += st.Step * float64(i)
		}
		unit := expandedItem{Item: item, Fault: fault, Iteration: i}
		if i > 0 {
			unit.Wait = wait
		}
		if item.Title != "" {
			unit.Item.Title = fmt.Sprintf("%s #%d", item.Title, i+1)
		}
		out = append(out, unit)
	}
	return out, nil
}

// cloneFault deep-copies the active settings so iterations do not share
// mutable state.
func cloneFault(f config.FaultConfig) config.FaultConfig {
	out := f
	switch {
	case f.Latency != nil:
		v := *f.Latency
		out.Latency = &v
	case f.Bandwidth != nil:
		v := *f.Bandwidth
		out.Bandwidth = &v
	case f.Jitter != nil:
		v := *f.Jitter
		out.Jitter = &v
	case f.PacketLoss != nil:
		v := *f.PacketLoss
		out.PacketLoss = &v
	case f.DNS != nil:
		v := *f.DNS
		out.DNS = &v
	}
	return out
}
