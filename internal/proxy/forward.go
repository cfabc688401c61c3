package proxy

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/frayproxy/fray/internal/event"
	"github.com/frayproxy/fray/internal/netutil"
	"github.com/frayproxy/fray/internal/plugin"
)

// hop-by-hop headers that must not be forwarded to the next hop.
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// stripHopByHopHeaders removes hop-by-hop headers, including any custom
// headers listed in Connection.
func stripHopByHopHeaders(header http.Header) {
	if header == nil {
		return
	}
	for _, connHeaders := range header.Values("Connection") {
		for _, h := range strings.Split(connHeaders, ",") {
			if h = strings.TrimSpace(h); h != "" {
				header.Del(h)
			}
		}
	}
	for _, h := range hopByHopHeaders {
		header.Del(h)
	}
}

// copyEndToEndHeaders copies only end-to-end headers from src to dst.
func copyEndToEndHeaders(dst, src http.Header) {
	if dst == nil || src == nil {
		return
	}
	headers := src.Clone()
	stripHopByHopHeaders(headers)
	for k, vv := range headers {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

// determineUpstream derives the upstream URL from the request: the
// request-URI authority wins, then the Host header with the default
// scheme. The path and query pass through unchanged.
func (s *Server) determineUpstream(r *http.Request) (*url.URL, *ProxyError) {
	scheme := r.URL.Scheme
	if scheme == "" {
		scheme = "http"
	}
	path := r.URL.EscapedPath()
	if path == "" {
		path = "/"
	}
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}

	var raw string
	switch {
	case r.URL.Host != "":
		raw = fmt.Sprintf("%s://%s%s", scheme, r.URL.Host, path)
	case r.Host != "":
		host, port := netutil.SplitHostDefaultPort(r.Host, "http")
		host = s.resolver.MapHost(host)
		raw = fmt.Sprintf("http://%s%s", net.JoinHostPort(host, port), path)
	default:
		return nil, ErrInvalidRequest
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, ErrInvalidRequest
	}
	return u, nil
}

// handleForward proxies a non-CONNECT request: build a client through the
// plugin chain, forward the request, transform the response and relay it.
func (s *Server) handleForward(w http.ResponseWriter, r *http.Request) {
	upstream, perr := s.determineUpstream(r)
	if perr != nil {
		writeProxyError(w, perr)
		return
	}

	faulted := s.state.IsFaulted(netutil.UpstreamKey(upstream))
	task := s.newTask(faulted)
	plugins, _ := s.state.Snapshot()

	started := time.Now()
	task.OnStarted(upstream.String())
	if faulted {
		for _, p := range plugins {
			task.WithFault(p.Descriptor(), p.Direction())
		}
	}

	entry := HistoryEntry{
		TaskID:      task.ID(),
		StartedAtNs: started.UnixNano(),
		ClientIP:    clientIP(r.RemoteAddr),
		Method:      r.Method,
		TargetHost:  upstream.Host,
		TargetURL:   upstream.String(),
		Faulted:     faulted,
	}
	defer func() {
		entry.DurationNs = time.Since(started).Nanoseconds()
		s.record(entry)
	}()

	builder := plugin.NewClientBuilder()
	if faulted {
		for _, p := range plugins {
			entry.FaultKind = p.String()
			if err := p.PrepareClient(r.Context(), builder, task); err != nil {
				s.failForward(w, task, &entry, classifyPluginError(err))
				return
			}
		}
	}
	client := builder.Build()

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, upstream.String(), r.Body)
	if err != nil {
		s.failForward(w, task, &entry, ErrInvalidRequest)
		return
	}
	outReq.Header = r.Header.Clone()
	stripHopByHopHeaders(outReq.Header)
	outReq.ContentLength = r.ContentLength

	if faulted {
		for _, p := range plugins {
			outReq, err = p.ProcessRequest(r.Context(), outReq, task)
			if err != nil {
				s.failForward(w, task, &entry, classifyPluginError(err))
				return
			}
		}
	}

	resp, err := client.Do(outReq)
	if err != nil {
		perr := classifyUpstreamError(err)
		if perr == nil {
			task.OnError("client canceled")
			entry.Error = "client canceled"
			return
		}
		s.failForward(w, task, &entry, perr)
		return
	}
	defer resp.Body.Close()
	entry.HTTPStatus = resp.StatusCode

	if faulted {
		for _, p := range plugins {
			resp, err = p.ProcessResponse(r.Context(), resp, task)
			if err != nil {
				s.failForward(w, task, &entry, classifyPluginError(err))
				return
			}
		}
	}

	// TTFB is what the proxy client observes: response-phase fault delays
	// are part of it.
	task.OnTTFB()
	task.OnResponse(resp.StatusCode)

	copyEndToEndHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	copied, copyErr := io.Copy(w, resp.Body)
	entry.BytesDown = copied
	if copyErr != nil {
		task.OnError(copyErr.Error())
		entry.Error = copyErr.Error()
		return
	}
	task.OnCompleted(time.Since(started), uint64(copied), uint64(max64(r.ContentLength, 0)))
	entry.BytesUp = max64(r.ContentLength, 0)
}

func (s *Server) failForward(w http.ResponseWriter, task event.TaskEvents, entry *HistoryEntry, perr *ProxyError) {
	task.OnError(perr.Message)
	entry.HTTPStatus = perr.HTTPCode
	entry.Error = perr.Message
	writeProxyError(w, perr)
}

func clientIP(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

func max64(v, floor int64) int64 {
	if v < floor {
		return floor
	}
	return v
}
