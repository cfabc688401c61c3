package fault

import (
	"math"
	"net"
	"testing"
	"time"

	"github.com/frayproxy/fray/internal/config"
	"github.com/frayproxy/fray/internal/event"
)

func noopEvents() event.TaskEvents {
	return event.NewManager(event.NewBus(1)).NewPassthroughTask()
}

func TestLatencySamplerNormalMean(t *testing.T) {
	const (
		mean   = 100.0
		stddev = 15.0
		n      = 20_000
	)
	s := NewLatencySampler(config.LatencySettings{
		Distribution: config.DistNormal,
		Mean:         mean,
		Stddev:       stddev,
	}, NewRand(42))

	var sum float64
	for i := 0; i < n; i++ {
		d := s.Sample()
		if d < 0 {
			t.Fatalf("negative delay %v", d)
		}
		sum += float64(d) / float64(time.Millisecond)
	}
	got := sum / n
	tolerance := 3 * stddev / math.Sqrt(n)
	if math.Abs(got-mean) > tolerance {
		t.Fatalf("empirical mean %.2f outside [%.2f, %.2f]", got, mean-tolerance, mean+tolerance)
	}
}

func TestLatencySamplerUniformBounds(t *testing.T) {
	s := NewLatencySampler(config.LatencySettings{
		Distribution: config.DistUniform,
		Min:          10,
		Max:          20,
	}, NewRand(7))
	for i := 0; i < 1000; i++ {
		d := s.Sample()
		if d < 10*time.Millisecond || d > 20*time.Millisecond {
			t.Fatalf("uniform sample %v outside [10ms, 20ms]", d)
		}
	}
}

func TestLatencySamplerParetoLowerBound(t *testing.T) {
	s := NewLatencySampler(config.LatencySettings{
		Distribution: config.DistPareto,
		Scale:        5,
		Shape:        3,
	}, NewRand(11))
	for i := 0; i < 1000; i++ {
		if d := s.Sample(); d < 5*time.Millisecond {
			t.Fatalf("pareto sample %v below scale", d)
		}
	}
}

func TestLatencySamplerZeroStddevIsConstant(t *testing.T) {
	s := NewLatencySampler(config.LatencySettings{
		Distribution: config.DistNormal,
		Mean:         100,
		Stddev:       0,
	}, NewRand(3))
	for i := 0; i < 100; i++ {
		if d := s.Sample(); d != 100*time.Millisecond {
			t.Fatalf("sample %v, want exactly 100ms", d)
		}
	}
}

func TestMillisToDurationPrecision(t *testing.T) {
	if got := millisToDuration(1.5); got != 1500*time.Microsecond {
		t.Fatalf("millisToDuration(1.5) = %v, want 1.5ms", got)
	}
	if got := millisToDuration(0); got != 0 {
		t.Fatalf("millisToDuration(0) = %v, want 0", got)
	}
}

func TestLatencyConnDelaysIngressReads(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	wrapped := NewLatencyConn(server, config.LatencySettings{
		Distribution: config.DistNormal,
		Mean:         30,
		Stddev:       0,
		Direction:    config.DirectionIngress,
		Side:         config.SideServer,
	}, config.SideServer, noopEvents(), 1)

	go func() {
		_, _ = client.Write([]byte("ping"))
	}()

	buf := make([]byte, 4)
	start := time.Now()
	if _, err := wrapped.Read(buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf("read returned after %v, want >= 30ms", elapsed)
	}
}

func TestLatencyConnGlobalModeSleepsOncePerDirection(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	wrapped := NewLatencyConn(server, config.LatencySettings{
		Distribution: config.DistNormal,
		Mean:         40,
		Stddev:       0,
		Global:       true,
		Direction:    config.DirectionIngress,
		Side:         config.SideServer,
	}, config.SideServer, noopEvents(), 1)

	go func() {
		for i := 0; i < 3; i++ {
			_, _ = client.Write([]byte("x"))
		}
	}()

	buf := make([]byte, 1)
	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := wrapped.Read(buf); err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
	}
	elapsed := time.Since(start)
	if elapsed < 40*time.Millisecond {
		t.Fatalf("global delay skipped entirely: %v", elapsed)
	}
	if elapsed > 100*time.Millisecond {
		t.Fatalf("global delay applied more than once: %v", elapsed)
	}
}

func TestLatencyConnEgressDirectionSkipsReads(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	wrapped := NewLatencyConn(server, config.LatencySettings{
		Distribution: config.DistNormal,
		Mean:         200,
		Stddev:       0,
		Direction:    config.DirectionEgress,
		Side:         config.SideServer,
	}, config.SideServer, noopEvents(), 1)

	go func() {
		_, _ = client.Write([]byte("y"))
	}()

	buf := make([]byte, 1)
	start := time.Now()
	if _, err := wrapped.Read(buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("egress-only latency delayed a read by %v", elapsed)
	}
}
