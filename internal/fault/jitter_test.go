package fault

import (
	"net"
	"testing"
	"time"

	"github.com/frayproxy/fray/internal/config"
)

func TestJitterClockZeroFrequencyNeverFires(t *testing.T) {
	clock := newJitterClock(config.JitterSettings{Amplitude: 100, Frequency: 0}, NewRand(5))
	for i := 0; i < 1000; i++ {
		if d := clock.next(); d != 0 {
			t.Fatalf("zero-frequency jitter fired with %v", d)
		}
	}
}

func TestJitterClockDelayWithinAmplitude(t *testing.T) {
	clock := newJitterClock(config.JitterSettings{Amplitude: 25, Frequency: 1e9}, NewRand(6))
	fired := false
	for i := 0; i < 1000; i++ {
		d := clock.next()
		if d < 0 || d > 25*time.Millisecond {
			t.Fatalf("jitter delay %v outside [0, 25ms]", d)
		}
		if d > 0 {
			fired = true
		}
	}
	if !fired {
		t.Fatal("saturated-frequency jitter never fired")
	}
}

func TestJitterConnPassesDataThrough(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	wrapped := NewJitterConn(server, config.JitterSettings{
		Amplitude: 5,
		Frequency: 10,
		Direction: config.DirectionBoth,
	}, noopEvents(), 9)

	go func() {
		_, _ = client.Write([]byte("hello"))
	}()

	buf := make([]byte, 5)
	n, err := wrapped.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("read %q, want %q", buf[:n], "hello")
	}
}
