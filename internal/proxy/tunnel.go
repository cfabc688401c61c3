package proxy

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"sync/atomic"
	"time"

	singbufio "github.com/sagernet/sing/common/bufio"
	M "github.com/sagernet/sing/common/metadata"

	"github.com/frayproxy/fray/internal/event"
	"github.com/frayproxy/fray/internal/netutil"
	"github.com/frayproxy/fray/internal/plugin"
)

// handleConnect upgrades the client connection to a raw stream, dials the
// target, folds both halves through the plugin chain and relays bytes
// until either side closes.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	target := M.ParseSocksaddr(r.Host)
	if target.Port == 0 {
		target.Port = 443
	}
	hostPort := netutil.CanonicalHostPort(r.Host, "https")

	faulted := s.state.IsFaulted(hostPort)
	task := s.newTask(faulted)
	plugins, _ := s.state.Snapshot()

	started := time.Now()
	task.OnStarted("https://" + hostPort)
	if faulted {
		for _, p := range plugins {
			task.WithFault(p.Descriptor(), p.Direction())
		}
	}

	entry := HistoryEntry{
		TaskID:      task.ID(),
		StartedAtNs: started.UnixNano(),
		ClientIP:    clientIP(r.RemoteAddr),
		Method:      http.MethodConnect,
		TargetHost:  hostPort,
		IsConnect:   true,
		Faulted:     faulted,
	}
	defer func() {
		entry.DurationNs = time.Since(started).Nanoseconds()
		s.record(entry)
	}()

	cr := &plugin.ConnectRequest{Host: target.AddrString(), Port: strconv.Itoa(int(target.Port))}
	if faulted {
		for _, p := range plugins {
			entry.FaultKind = p.String()
			if err := p.ProcessConnectRequest(r.Context(), cr, task); err != nil {
				perr := classifyConnectError(err)
				if perr == nil {
					perr = ErrUpstreamConnectFailed
				}
				s.failConnect(w, task, &entry, plugins, faulted, perr)
				return
			}
		}
	}

	host := s.resolver.MapHost(cr.Host)
	addrs, resolveTime, err := s.resolver.Resolve(r.Context(), host)
	if err != nil {
		task.OnResolved(host, resolveTime)
		s.failConnect(w, task, &entry, plugins, faulted, classifyConnectError(err))
		return
	}
	task.OnResolved(host, resolveTime)

	upstreamConn, err := s.dialTunnel(r.Context(), addrs, cr.Port)
	if err != nil {
		perr := classifyConnectError(err)
		if perr == nil {
			entry.Error = "client canceled"
			task.OnError(entry.Error)
			return
		}
		s.failConnect(w, task, &entry, plugins, faulted, perr)
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		upstreamConn.Close()
		s.failConnect(w, task, &entry, plugins, faulted, ErrInternal)
		return
	}
	clientConn, clientBuf, err := hijacker.Hijack()
	if err != nil {
		upstreamConn.Close()
		task.OnError(err.Error())
		entry.Error = err.Error()
		return
	}

	if _, err := clientBuf.WriteString("HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		upstreamConn.Close()
		clientConn.Close()
		task.OnError(err.Error())
		entry.Error = err.Error()
		return
	}
	if err := clientBuf.Flush(); err != nil {
		upstreamConn.Close()
		clientConn.Close()
		task.OnError(err.Error())
		entry.Error = err.Error()
		return
	}
	entry.HTTPStatus = http.StatusOK

	// net/http may have pre-read bytes beyond the CONNECT headers. Fold
	// them back in so the tunnel stays byte-transparent.
	var bytesUp, bytesDown atomic.Int64
	var wrappedClient net.Conn = newCountingConn(prefixedConn(clientConn, clientBuf.Reader), &bytesUp, &bytesDown)
	wrappedServer := upstreamConn

	if faulted {
		for _, p := range plugins {
			wrappedClient, wrappedServer, err = p.InjectTunnelFaults(wrappedClient, wrappedServer, task)
			if err != nil {
				wrappedClient.Close()
				wrappedServer.Close()
				s.notifyConnectOutcome(r.Context(), plugins, task, false)
				task.OnError(err.Error())
				entry.Error = err.Error()
				return
			}
		}
		s.notifyConnectOutcome(r.Context(), plugins, task, true)
	}

	if err := singbufio.CopyConn(context.WithoutCancel(r.Context()), wrappedClient, wrappedServer); err != nil {
		s.logger.Debug().Err(err).Str("target", hostPort).Msg("tunnel closed with error")
	}
	wrappedClient.Close()
	wrappedServer.Close()

	entry.BytesUp = bytesUp.Load()
	entry.BytesDown = bytesDown.Load()
	task.OnCompleted(time.Since(started), uint64(bytesDown.Load()), uint64(bytesUp.Load()))
}

// dialTunnel tries each resolved address until one dials.
func (s *Server) dialTunnel(ctx context.Context, addrs []net.IPAddr, port string) (net.Conn, error) {
	portNum, err := parsePort(port)
	if err != nil {
		return nil, err
	}
	var firstErr error
	for _, ip := range addrs {
		addr, ok := netip.AddrFromSlice(ip.IP)
		if !ok {
			continue
		}
		destination := M.SocksaddrFrom(addr.Unmap(), portNum)
		conn, err := s.dialer.DialContext(ctx, "tcp", destination.String())
		if err == nil {
			return conn, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		firstErr = io.ErrUnexpectedEOF
	}
	return nil, firstErr
}

func parsePort(port string) (uint16, error) {
	p, err := net.LookupPort("tcp", port)
	if err != nil {
		return 0, err
	}
	return uint16(p), nil
}

func (s *Server) failConnect(w http.ResponseWriter, task event.TaskEvents, entry *HistoryEntry, plugins []plugin.Plugin, faulted bool, perr *ProxyError) {
	if faulted {
		s.notifyConnectOutcome(context.Background(), plugins, task, false)
	}
	task.OnError(perr.Message)
	entry.HTTPStatus = perr.HTTPCode
	entry.Error = perr.Message
	writeProxyError(w, perr)
}

func (s *Server) notifyConnectOutcome(ctx context.Context, plugins []plugin.Plugin, task event.TaskEvents, ok bool) {
	for _, p := range plugins {
		if err := p.ProcessConnectResponse(ctx, ok, task); err != nil {
			s.logger.Debug().Err(err).Str("plugin", p.String()).Msg("connect outcome notification failed")
		}
	}
}
