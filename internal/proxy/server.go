package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/frayproxy/fray/internal/config"
	"github.com/frayproxy/fray/internal/event"
	"github.com/frayproxy/fray/internal/resolver"
)

// ServerConfig holds the dependencies of the proxy data plane.
type ServerConfig struct {
	Addr     string
	Watch    *config.Watch
	Events   *event.Manager
	Resolver *resolver.Resolver
	History  HistorySink
	Logger   zerolog.Logger
	Stealth  bool
}

// Server is the fault-injecting forward proxy. Each accepted connection is
// served on its own goroutine by net/http; CONNECT requests are hijacked
// into opaque tunnels.
type Server struct {
	addr     string
	state    *State
	events   *event.Manager
	resolver *resolver.Resolver
	history  HistorySink
	logger   zerolog.Logger
	dialer   *net.Dialer

	httpServer *http.Server
	ready      chan struct{}
	boundAddr  string
}

// NewServer constructs the proxy. The watch's current configuration is
// applied before the listener binds.
func NewServer(cfg ServerConfig) (*Server, error) {
	state, err := NewState(cfg.Watch, cfg.Stealth, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("proxy state: %w", err)
	}
	s := &Server{
		addr:     cfg.Addr,
		state:    state,
		events:   cfg.Events,
		resolver: cfg.Resolver,
		history:  cfg.History,
		logger:   cfg.Logger,
		dialer:   &net.Dialer{Timeout: 30 * time.Second},
		ready:    make(chan struct{}),
	}
	s.httpServer = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 30 * time.Second,
	}
	return s, nil
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Run binds the listener and serves until ctx is done. The configuration
// watch loop runs alongside the accept loop and stops with it.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.addr, err)
	}
	s.boundAddr = ln.Addr().String()
	s.logger.Info().Str("addr", s.boundAddr).Msg("proxy listening")
	close(s.ready)

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	go s.state.Run(watchCtx)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		<-serveErr
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	}
}

// Addr returns the bound listen address once Ready has fired, or the
// configured address before that.
func (s *Server) Addr() string {
	if s.boundAddr != "" {
		return s.boundAddr
	}
	return s.addr
}

// ServeHTTP dispatches between the tunnel and forward paths.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		s.handleConnect(w, r)
		return
	}
	s.handleForward(w, r)
}

// newTask hands out the event handle for a connection: publishing for
// faulted targets, discarding for passthrough.
func (s *Server) newTask(faulted bool) event.TaskEvents {
	if faulted {
		return s.events.NewFaultTask()
	}
	return s.events.NewPassthroughTask()
}

func (s *Server) record(entry HistoryEntry) {
	if s.history != nil {
		s.history.Record(entry)
	}
}
