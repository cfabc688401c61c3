package plugin

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/frayproxy/fray/internal/config"
	"github.com/frayproxy/fray/internal/event"
	"github.com/frayproxy/fray/internal/fault"
)

func testEvents() event.TaskEvents {
	return event.NewManager(event.NewBus(1)).NewPassthroughTask()
}

func TestBuildSelectsBuiltin(t *testing.T) {
	cases := []struct {
		cfg  config.ProxyConfig
		want string
	}{
		{config.ProxyConfig{Fault: config.FaultConfig{Kind: config.KindLatency, Latency: &config.LatencySettings{Distribution: config.DistNormal, Mean: 10}}}, "latency"},
		{config.ProxyConfig{Fault: config.FaultConfig{Kind: config.KindBandwidth, Bandwidth: &config.BandwidthSettings{Rate: 1, Unit: config.UnitKBps}}}, "bandwidth"},
		{config.ProxyConfig{Fault: config.FaultConfig{Kind: config.KindJitter, Jitter: &config.JitterSettings{Amplitude: 5, Frequency: 1}}}, "jitter"},
		{config.ProxyConfig{Fault: config.FaultConfig{Kind: config.KindPacketLoss, PacketLoss: &config.PacketLossSettings{Direction: config.DirectionBoth}}}, "packetloss"},
		{config.ProxyConfig{Fault: config.FaultConfig{Kind: config.KindDNS, DNS: &config.DNSSettings{Rate: 50}}}, "dns"},
	}
	for _, tc := range cases {
		plugins, err := Build(tc.cfg)
		if err != nil {
			t.Fatalf("Build(%s): %v", tc.want, err)
		}
		if len(plugins) != 1 || plugins[0].String() != tc.want {
			t.Fatalf("Build(%s) = %v", tc.want, plugins)
		}
	}
}

func TestBuildEmptyFaultYieldsNoPlugins(t *testing.T) {
	plugins, err := Build(config.ProxyConfig{})
	if err != nil {
		t.Fatalf("Build(empty): %v", err)
	}
	if len(plugins) != 0 {
		t.Fatalf("empty config built %d plugins", len(plugins))
	}
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	_, err := Build(config.ProxyConfig{Fault: config.FaultConfig{Kind: config.KindDNS, DNS: &config.DNSSettings{Rate: 250}}})
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestFingerprintDistinguishesConfigs(t *testing.T) {
	a := config.ProxyConfig{Fault: config.FaultConfig{Kind: config.KindDNS, DNS: &config.DNSSettings{Rate: 0}}}
	b := config.ProxyConfig{Fault: config.FaultConfig{Kind: config.KindDNS, DNS: &config.DNSSettings{Rate: 100}}}
	if Fingerprint(a) == Fingerprint(b) {
		t.Fatal("distinct configs share a fingerprint")
	}
	if Fingerprint(a) != Fingerprint(a) {
		t.Fatal("fingerprint not stable")
	}
}

func TestDNSPluginPrepareClientInstallsResolver(t *testing.T) {
	p := NewDNSPlugin(config.DNSSettings{Rate: 100}, 1)
	b := NewClientBuilder()
	if err := p.PrepareClient(context.Background(), b, testEvents()); err != nil {
		t.Fatalf("prepare client: %v", err)
	}
	if b.Resolver == nil {
		t.Fatal("resolver not installed")
	}
	if _, err := b.Resolver.LookupIPAddr(context.Background(), "example.com"); !errors.Is(err, fault.ErrDNSFaultTriggered) {
		t.Fatalf("err = %v, want dns fault", err)
	}
}

func TestDNSPluginConnectGateAtFullRate(t *testing.T) {
	p := NewDNSPlugin(config.DNSSettings{Rate: 100}, 1)
	cr := &ConnectRequest{Host: "example.com", Port: "443"}
	if err := p.ProcessConnectRequest(context.Background(), cr, testEvents()); !errors.Is(err, fault.ErrDNSFaultTriggered) {
		t.Fatalf("err = %v, want dns fault", err)
	}
}

func TestLatencyPluginResponseDelay(t *testing.T) {
	p := NewLatencyPlugin(config.LatencySettings{
		Distribution: config.DistNormal,
		Mean:         50,
		Stddev:       0,
		Direction:    config.DirectionIngress,
		Side:         config.SideServer,
	}, 1)

	resp := &http.Response{Body: io.NopCloser(strings.NewReader("ok"))}
	start := time.Now()
	if _, err := p.ProcessResponse(context.Background(), resp, testEvents()); err != nil {
		t.Fatalf("process response: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("response returned after %v, want >= 50ms", elapsed)
	}
}

func TestLatencyPluginTunnelWrapsConfiguredSide(t *testing.T) {
	clientConn, a := net.Pipe()
	serverConn, b := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()
	defer a.Close()
	defer b.Close()

	p := NewLatencyPlugin(config.LatencySettings{
		Distribution: config.DistNormal,
		Mean:         1,
		Stddev:       0,
		Direction:    config.DirectionIngress,
		Side:         config.SideServer,
	}, 1)

	gotClient, gotServer, err := p.InjectTunnelFaults(clientConn, serverConn, testEvents())
	if err != nil {
		t.Fatalf("inject: %v", err)
	}
	if gotClient != clientConn {
		t.Fatal("client half must stay untouched for a server-side fault")
	}
	if gotServer == serverConn {
		t.Fatal("server half must be wrapped")
	}
}

func TestBandwidthPluginResponseBodyThrottled(t *testing.T) {
	p := NewBandwidthPlugin(config.BandwidthSettings{
		Rate:      1,
		Unit:      config.UnitKBps,
		Direction: config.DirectionIngress,
		Side:      config.SideServer,
	})

	payload := strings.Repeat("z", 2000)
	resp := &http.Response{Body: io.NopCloser(strings.NewReader(payload))}
	resp, err := p.ProcessResponse(context.Background(), resp, testEvents())
	if err != nil {
		t.Fatalf("process response: %v", err)
	}

	start := time.Now()
	got, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if len(got) != len(payload) {
		t.Fatalf("read %d bytes, want %d", len(got), len(payload))
	}
	if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
		t.Fatalf("2000 bytes at 1KBps read in %v, want >= ~1s", elapsed)
	}
}

func TestPluginErrorAbortsNothingByDefault(t *testing.T) {
	// Pass-through defaults must not alter the message.
	p := NewPacketLossPlugin(config.PacketLossSettings{Direction: config.DirectionEgress}, 1)
	req, _ := http.NewRequest(http.MethodGet, "http://example.com/", nil)
	got, err := p.ProcessRequest(context.Background(), req, testEvents())
	if err != nil || got != req {
		t.Fatalf("pass-through request transform changed the message: %v %v", got, err)
	}
}
