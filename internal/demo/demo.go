// Package demo serves a small upstream HTTP API for exercising the proxy
// locally.
package demo

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/net/netutil"
)

// maxConcurrentConns bounds the demo listener so a runaway scenario
// cannot exhaust local sockets.
const maxConcurrentConns = 256

// Server is the demo upstream.
type Server struct {
	addr   string
	logger zerolog.Logger
	ready  chan struct{}
}

// NewServer creates a demo upstream bound to addr.
func NewServer(addr string, logger zerolog.Logger) *Server {
	return &Server{addr: addr, logger: logger, ready: make(chan struct{})}
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("demo: bind %s: %w", s.addr, err)
	}
	ln = netutil.LimitListener(ln, maxConcurrentConns)
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("demo upstream listening")
	close(s.ready)

	srv := &http.Server{
		Handler:           s.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("demo: serve: %w", err)
	}
}

func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, map[string]string{
			"message":    "hello from the demo upstream",
			"request_id": uuid.NewString(),
		})
	})
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "pong")
	})
	mux.HandleFunc("/uuid", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"uuid": uuid.NewString()})
	})
	mux.HandleFunc("/delay/", func(w http.ResponseWriter, r *http.Request) {
		msRaw := strings.TrimPrefix(r.URL.Path, "/delay/")
		ms, err := strconv.Atoi(msRaw)
		if err != nil || ms < 0 || ms > 60_000 {
			http.Error(w, "delay must be 0..60000 milliseconds", http.StatusBadRequest)
			return
		}
		select {
		case <-time.After(time.Duration(ms) * time.Millisecond):
		case <-r.Context().Done():
			return
		}
		writeJSON(w, map[string]any{"delayed_ms": ms})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
