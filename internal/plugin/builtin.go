package plugin

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/frayproxy/fray/internal/config"
	"github.com/frayproxy/fray/internal/event"
	"github.com/frayproxy/fray/internal/fault"
)

// bodyReadCloser rewires a response/request body through a fault reader
// while keeping the original closer.
type bodyReadCloser struct {
	io.Reader
	io.Closer
}

func wrapBody(body io.ReadCloser, wrap func(io.Reader) io.Reader) io.ReadCloser {
	if body == nil || body == http.NoBody {
		return body
	}
	return bodyReadCloser{Reader: wrap(body), Closer: body}
}

// wrapSide applies a conn wrapper to the half selected by side.
func wrapSide(clientConn, serverConn net.Conn, side config.StreamSide, wrap func(net.Conn) net.Conn) (net.Conn, net.Conn) {
	if side == config.SideClient {
		return wrap(clientConn), serverConn
	}
	return clientConn, wrap(serverConn)
}

// LatencyPlugin adapts the latency injector.
type LatencyPlugin struct {
	base
	settings config.LatencySettings
	seed     uint64
}

// NewLatencyPlugin builds the latency plugin.
func NewLatencyPlugin(settings config.LatencySettings, seed uint64) *LatencyPlugin {
	return &LatencyPlugin{settings: settings, seed: seed}
}

func (p *LatencyPlugin) String() string { return "latency" }

func (p *LatencyPlugin) Direction() config.Direction { return p.settings.Direction }

func (p *LatencyPlugin) Descriptor() event.FaultEvent {
	return event.FaultEvent{Kind: config.KindLatency}
}

func (p *LatencyPlugin) InjectTunnelFaults(clientConn, serverConn net.Conn, ev event.TaskEvents) (net.Conn, net.Conn, error) {
	c, s := wrapSide(clientConn, serverConn, p.settings.Side, func(conn net.Conn) net.Conn {
		return fault.NewLatencyConn(conn, p.settings, p.settings.Side, ev, p.seed)
	})
	return c, s, nil
}

// ProcessResponse serves one sampled delay before the response is
// relayed, so forward-HTTP ingress latency shows up as TTFB.
func (p *LatencyPlugin) ProcessResponse(_ context.Context, resp *http.Response, ev event.TaskEvents) (*http.Response, error) {
	if !p.settings.Direction.IsIngress() {
		return resp, nil
	}
	sampler := fault.NewLatencySampler(p.settings, fault.NewRand(p.seed))
	delay := sampler.Sample()
	fe := event.FaultEvent{Kind: config.KindLatency, Delay: delay}
	ev.OnComputed(fe, config.DirectionIngress, p.settings.Side)
	time.Sleep(delay)
	ev.OnApplied(fe, config.DirectionIngress, p.settings.Side)
	return resp, nil
}

// ProcessRequest delays egress request bodies per poll.
func (p *LatencyPlugin) ProcessRequest(_ context.Context, req *http.Request, ev event.TaskEvents) (*http.Request, error) {
	if !p.settings.Direction.IsEgress() {
		return req, nil
	}
	req.Body = wrapBody(req.Body, func(r io.Reader) io.Reader {
		return fault.NewLatencyReader(r, p.settings, config.DirectionEgress, p.settings.Side, ev, p.seed)
	})
	return req, nil
}

// BandwidthPlugin adapts the bandwidth throttle.
type BandwidthPlugin struct {
	base
	settings config.BandwidthSettings
}

// NewBandwidthPlugin builds the bandwidth plugin.
func NewBandwidthPlugin(settings config.BandwidthSettings) *BandwidthPlugin {
	return &BandwidthPlugin{settings: settings}
}

func (p *BandwidthPlugin) String() string { return "bandwidth" }

func (p *BandwidthPlugin) Direction() config.Direction { return p.settings.Direction }

func (p *BandwidthPlugin) Descriptor() event.FaultEvent {
	return event.FaultEvent{Kind: config.KindBandwidth, Bps: p.settings.BytesPerSecond()}
}

func (p *BandwidthPlugin) InjectTunnelFaults(clientConn, serverConn net.Conn, ev event.TaskEvents) (net.Conn, net.Conn, error) {
	c, s := wrapSide(clientConn, serverConn, p.settings.Side, func(conn net.Conn) net.Conn {
		return fault.NewBandwidthConn(conn, p.settings, p.settings.Side, ev)
	})
	return c, s, nil
}

func (p *BandwidthPlugin) ProcessRequest(_ context.Context, req *http.Request, ev event.TaskEvents) (*http.Request, error) {
	if !p.settings.Direction.IsEgress() {
		return req, nil
	}
	req.Body = wrapBody(req.Body, func(r io.Reader) io.Reader {
		return fault.NewBandwidthReader(r, p.settings, config.DirectionEgress, p.settings.Side, ev)
	})
	return req, nil
}

func (p *BandwidthPlugin) ProcessResponse(_ context.Context, resp *http.Response, ev event.TaskEvents) (*http.Response, error) {
	if !p.settings.Direction.IsIngress() {
		return resp, nil
	}
	resp.Body = wrapBody(resp.Body, func(r io.Reader) io.Reader {
		return fault.NewBandwidthReader(r, p.settings, config.DirectionIngress, p.settings.Side, ev)
	})
	return resp, nil
}

// JitterPlugin adapts the jitter injector.
type JitterPlugin struct {
	base
	settings config.JitterSettings
	seed     uint64
}

// NewJitterPlugin builds the jitter plugin.
func NewJitterPlugin(settings config.JitterSettings, seed uint64) *JitterPlugin {
	return &JitterPlugin{settings: settings, seed: seed}
}

func (p *JitterPlugin) String() string { return "jitter" }

func (p *JitterPlugin) Direction() config.Direction { return p.settings.Direction }

func (p *JitterPlugin) Descriptor() event.FaultEvent {
	return event.FaultEvent{
		Kind:      config.KindJitter,
		Amplitude: time.Duration(p.settings.Amplitude * float64(time.Millisecond)),
		Frequency: p.settings.Frequency,
	}
}

func (p *JitterPlugin) InjectTunnelFaults(clientConn, serverConn net.Conn, ev event.TaskEvents) (net.Conn, net.Conn, error) {
	return clientConn, fault.NewJitterConn(serverConn, p.settings, ev, p.seed), nil
}

func (p *JitterPlugin) ProcessRequest(_ context.Context, req *http.Request, ev event.TaskEvents) (*http.Request, error) {
	if !p.settings.Direction.IsEgress() {
		return req, nil
	}
	req.Body = wrapBody(req.Body, func(r io.Reader) io.Reader {
		return fault.NewJitterReader(r, p.settings, config.DirectionEgress, ev, p.seed)
	})
	return req, nil
}

func (p *JitterPlugin) ProcessResponse(_ context.Context, resp *http.Response, ev event.TaskEvents) (*http.Response, error) {
	if !p.settings.Direction.IsIngress() {
		return resp, nil
	}
	resp.Body = wrapBody(resp.Body, func(r io.Reader) io.Reader {
		return fault.NewJitterReader(r, p.settings, config.DirectionIngress, ev, p.seed)
	})
	return resp, nil
}

// PacketLossPlugin adapts the Markov packet loss injector.
type PacketLossPlugin struct {
	base
	settings config.PacketLossSettings
	seed     uint64
}

// NewPacketLossPlugin builds the packet loss plugin.
func NewPacketLossPlugin(settings config.PacketLossSettings, seed uint64) *PacketLossPlugin {
	return &PacketLossPlugin{settings: settings, seed: seed}
}

func (p *PacketLossPlugin) String() string { return "packetloss" }

func (p *PacketLossPlugin) Direction() config.Direction { return p.settings.Direction }

func (p *PacketLossPlugin) Descriptor() event.FaultEvent {
	return event.FaultEvent{Kind: config.KindPacketLoss}
}

func (p *PacketLossPlugin) InjectTunnelFaults(clientConn, serverConn net.Conn, ev event.TaskEvents) (net.Conn, net.Conn, error) {
	c, s := wrapSide(clientConn, serverConn, p.settings.Side, func(conn net.Conn) net.Conn {
		return fault.NewPacketLossConn(conn, p.settings, ev, p.seed)
	})
	return c, s, nil
}

// ProcessResponse drops body chunks silently; the client observes a
// truncated body rather than an error.
func (p *PacketLossPlugin) ProcessResponse(_ context.Context, resp *http.Response, ev event.TaskEvents) (*http.Response, error) {
	if !p.settings.Direction.IsIngress() {
		return resp, nil
	}
	resp.Body = wrapBody(resp.Body, func(r io.Reader) io.Reader {
		return fault.NewPacketLossReader(r, p.settings, config.DirectionIngress, ev, p.seed)
	})
	return resp, nil
}

// DNSPlugin adapts the faulty resolver. It attaches at client-builder time
// for forward requests and gates target resolution for tunnels.
type DNSPlugin struct {
	base
	settings config.DNSSettings
	seed     uint64
}

// NewDNSPlugin builds the DNS plugin.
func NewDNSPlugin(settings config.DNSSettings, seed uint64) *DNSPlugin {
	return &DNSPlugin{settings: settings, seed: seed}
}

func (p *DNSPlugin) String() string { return "dns" }

func (p *DNSPlugin) Direction() config.Direction { return p.settings.Direction }

func (p *DNSPlugin) Descriptor() event.FaultEvent {
	return event.FaultEvent{Kind: config.KindDNS}
}

func (p *DNSPlugin) PrepareClient(_ context.Context, b *ClientBuilder, ev event.TaskEvents) error {
	b.Resolver = fault.NewFaultyResolver(p.settings, ev, p.seed)
	return nil
}

// ProcessConnectRequest applies the failure probability to the tunnel
// target before the data plane resolves it.
func (p *DNSPlugin) ProcessConnectRequest(_ context.Context, cr *ConnectRequest, ev event.TaskEvents) error {
	return fault.NewFaultyResolver(p.settings, ev, p.seed).Check(cr.Host)
}
