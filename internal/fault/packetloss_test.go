package fault

import (
	"context"
	"errors"
	"math"
	"net"
	"testing"

	"github.com/frayproxy/fray/internal/config"
	"github.com/frayproxy/fray/internal/event"
)

func TestMarkovRowsAreStochastic(t *testing.T) {
	for i, row := range defaultTransitions {
		sum := 0.0
		for _, p := range row {
			sum += p
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Fatalf("row %d sums to %v, want 1", i, sum)
		}
	}
}

func TestMarkovInitialStateIsGood(t *testing.T) {
	if got := NewMarkovChain(NewRand(1)).State(); got != StateGood {
		t.Fatalf("initial state = %v, want good", got)
	}
}

// TestMarkovSteadyState checks the empirical distribution against the
// stationary distribution of the default transition matrix.
func TestMarkovSteadyState(t *testing.T) {
	const n = 200_000
	chain := NewMarkovChain(NewRand(99))
	var counts [lossStateCount]int
	for i := 0; i < n; i++ {
		counts[chain.Advance()]++
	}

	stationary := stationaryDistribution()
	for s := 0; s < int(lossStateCount); s++ {
		got := float64(counts[s]) / n
		if math.Abs(got-stationary[s]) > 0.01 {
			t.Fatalf("state %v: empirical %.4f vs stationary %.4f", LossState(s), got, stationary[s])
		}
	}
}

// stationaryDistribution computes the left eigenvector of the transition
// matrix by power iteration.
func stationaryDistribution() [lossStateCount]float64 {
	pi := [lossStateCount]float64{0.2, 0.2, 0.2, 0.2, 0.2}
	for iter := 0; iter < 10_000; iter++ {
		var next [lossStateCount]float64
		for i := 0; i < int(lossStateCount); i++ {
			for j := 0; j < int(lossStateCount); j++ {
				next[j] += pi[i] * defaultTransitions[i][j]
			}
		}
		pi = next
	}
	return pi
}

func TestPacketLossConnDroppedWriteReportsFullLength(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	wrapped := &packetLossConn{
		Conn:       server,
		settings:   config.PacketLossSettings{Direction: config.DirectionEgress, Side: config.SideServer},
		events:     noopEvents(),
		readChain:  NewMarkovChain(NewRand(1)),
		writeChain: alwaysDropChain(),
	}

	n, err := wrapped.Write([]byte("dropped"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != len("dropped") {
		t.Fatalf("dropped write reported %d bytes, want %d", n, len("dropped"))
	}
}

func TestPacketLossConnDroppedReadReportsZero(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	wrapped := &packetLossConn{
		Conn:       server,
		settings:   config.PacketLossSettings{Direction: config.DirectionIngress, Side: config.SideServer},
		events:     noopEvents(),
		readChain:  alwaysDropChain(),
		writeChain: NewMarkovChain(NewRand(1)),
	}

	n, err := wrapped.Read(make([]byte, 16))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 0 {
		t.Fatalf("dropped read reported %d bytes, want 0", n)
	}
}

// alwaysDropChain pins the chain in the Bad state with certain loss.
func alwaysDropChain() *MarkovChain {
	chain := NewMarkovChain(NewRand(1))
	chain.state = StateBad
	chain.transitions = [lossStateCount][lossStateCount]float64{
		{0, 0, 0, 0, 1},
		{0, 0, 0, 0, 1},
		{0, 0, 0, 0, 1},
		{0, 0, 0, 0, 1},
		{0, 0, 0, 0, 1},
	}
	chain.lossProbs = [lossStateCount]float64{1, 1, 1, 1, 1}
	return chain
}

func TestFaultyResolverAlwaysTriggers(t *testing.T) {
	r := NewFaultyResolver(config.DNSSettings{Rate: 100}, noopEvents(), 1)
	_, err := r.LookupIPAddr(context.Background(), "example.com")
	if !errors.Is(err, ErrDNSFaultTriggered) {
		t.Fatalf("err = %v, want ErrDNSFaultTriggered", err)
	}
}

func TestFaultyResolverZeroRateDelegates(t *testing.T) {
	r := NewFaultyResolver(config.DNSSettings{Rate: 0}, noopEvents(), 1)
	addrs, err := r.LookupIPAddr(context.Background(), "localhost")
	if err != nil {
		t.Fatalf("lookup localhost: %v", err)
	}
	if len(addrs) == 0 {
		t.Fatal("expected at least one address for localhost")
	}
}

func TestFaultyResolverEmitsTriggeredEvent(t *testing.T) {
	bus := event.NewBus(8)
	defer bus.Close()
	sub := bus.Subscribe()

	task := event.NewManager(bus).NewFaultTask()
	r := NewFaultyResolver(config.DNSSettings{Rate: 100}, task, 1)
	_, _ = r.LookupIPAddr(context.Background(), "example.com")

	e := <-sub.C
	if e.Type != event.TypeFaultApplied || e.Fault == nil || e.Fault.Kind != config.KindDNS || !e.Fault.Triggered {
		t.Fatalf("unexpected event %+v", e)
	}
}
