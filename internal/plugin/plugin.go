// Package plugin is the uniform façade the proxy data plane consumes.
// A plugin can shape the outbound HTTP client, transform forward
// request/response messages, observe CONNECT decisions and wrap both
// halves of an established tunnel. The builtin plugins adapt the fault
// injectors; the interface leaves room for remote middleware.
package plugin

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/frayproxy/fray/internal/config"
	"github.com/frayproxy/fray/internal/event"
	"github.com/frayproxy/fray/internal/fault"
)

// ConnectRequest carries the CONNECT target through the plugin pipeline.
// Plugins may rewrite the host or port before the upstream dial.
type ConnectRequest struct {
	Host string
	Port string
}

// Addr returns the dialable host:port.
func (c ConnectRequest) Addr() string { return net.JoinHostPort(c.Host, c.Port) }

// ClientBuilder accumulates the outbound HTTP client configuration for the
// forward path. Plugins mutate it through PrepareClient before the client
// is built once per request.
type ClientBuilder struct {
	// Resolver overrides upstream name resolution; nil uses the system
	// resolver.
	Resolver fault.Resolver
	// DialTimeout bounds the upstream TCP dial.
	DialTimeout time.Duration
}

// NewClientBuilder returns a builder with data-plane defaults.
func NewClientBuilder() *ClientBuilder {
	return &ClientBuilder{DialTimeout: 30 * time.Second}
}

// Build constructs the outbound client. Name resolution goes through the
// builder's resolver so a DNS plugin can take over lookups.
func (b *ClientBuilder) Build() *http.Client {
	resolver := b.Resolver
	if resolver == nil {
		resolver = &fault.SystemResolver{}
	}
	dialer := &net.Dialer{Timeout: b.DialTimeout}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, fmt.Errorf("split dial address %q: %w", addr, err)
			}
			addrs, err := resolver.LookupIPAddr(ctx, host)
			if err != nil {
				return nil, err
			}
			var firstErr error
			for _, ip := range addrs {
				conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip.IP.String(), port))
				if err == nil {
					return conn, nil
				}
				if firstErr == nil {
					firstErr = err
				}
			}
			if firstErr == nil {
				firstErr = fmt.Errorf("dial %s: no addresses", addr)
			}
			return nil, firstErr
		},
		DisableKeepAlives: true,
	}
	return &http.Client{Transport: transport}
}

// Plugin is the capability set consumed by the data plane. Implementations
// must be safe for concurrent use; one plugin instance serves many tasks.
type Plugin interface {
	fmt.Stringer

	// Descriptor describes the configured fault for WithFault events.
	Descriptor() event.FaultEvent
	// Direction reports which flow halves the plugin degrades.
	Direction() config.Direction

	// PrepareClient mutates the HTTP client builder before its first use.
	PrepareClient(ctx context.Context, b *ClientBuilder, ev event.TaskEvents) error
	// ProcessRequest transforms the outbound forward-HTTP request.
	ProcessRequest(ctx context.Context, req *http.Request, ev event.TaskEvents) (*http.Request, error)
	// ProcessResponse transforms the inbound forward-HTTP response.
	ProcessResponse(ctx context.Context, resp *http.Response, ev event.TaskEvents) (*http.Response, error)
	// ProcessConnectRequest observes or rewrites the CONNECT decision.
	ProcessConnectRequest(ctx context.Context, cr *ConnectRequest, ev event.TaskEvents) error
	// ProcessConnectResponse observes the CONNECT outcome.
	ProcessConnectResponse(ctx context.Context, ok bool, ev event.TaskEvents) error
	// InjectTunnelFaults wraps both halves of an established tunnel.
	InjectTunnelFaults(clientConn, serverConn net.Conn, ev event.TaskEvents) (net.Conn, net.Conn, error)
}

// base provides pass-through defaults so builtins only implement the
// capabilities their fault uses.
type base struct{}

func (base) PrepareClient(context.Context, *ClientBuilder, event.TaskEvents) error { return nil }

func (base) ProcessRequest(_ context.Context, req *http.Request, _ event.TaskEvents) (*http.Request, error) {
	return req, nil
}

func (base) ProcessResponse(_ context.Context, resp *http.Response, _ event.TaskEvents) (*http.Response, error) {
	return resp, nil
}

func (base) ProcessConnectRequest(context.Context, *ConnectRequest, event.TaskEvents) error {
	return nil
}

func (base) ProcessConnectResponse(context.Context, bool, event.TaskEvents) error { return nil }

func (base) InjectTunnelFaults(clientConn, serverConn net.Conn, _ event.TaskEvents) (net.Conn, net.Conn, error) {
	return clientConn, serverConn, nil
}
