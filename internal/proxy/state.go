package proxy

import (
	"context"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/frayproxy/fray/internal/config"
	"github.com/frayproxy/fray/internal/netutil"
	"github.com/frayproxy/fray/internal/plugin"
)

// allowList answers faulted-vs-passthrough membership for canonical
// host:port keys. Entries that name a port match that port exactly;
// port-less entries match the host on any port, so the spec's bare
// `host` form covers both scheme-default ports.
type allowList struct {
	exact map[string]struct{}
	hosts map[string]struct{}
}

func newAllowList(entries []string) allowList {
	a := allowList{
		exact: make(map[string]struct{}, len(entries)),
		hosts: make(map[string]struct{}),
	}
	for _, entry := range entries {
		host, port := netutil.SplitHostOptionalPort(entry)
		if host == "" {
			continue
		}
		if port == "" {
			a.hosts[host] = struct{}{}
			continue
		}
		a.exact[net.JoinHostPort(host, port)] = struct{}{}
	}
	return a
}

// contains matches a canonical host:port key against the list.
func (a allowList) contains(hostPort string) bool {
	if _, ok := a.exact[hostPort]; ok {
		return true
	}
	host, _ := netutil.SplitHostOptionalPort(hostPort)
	_, ok := a.hosts[host]
	return ok
}

// State is the shared, hot-swappable proxy configuration: the current
// plugin list and the upstream allow-list. Readers take a cheap read lock
// per use; the watch loop is the single writer.
type State struct {
	mu          sync.RWMutex
	plugins     []plugin.Plugin
	upstreams   allowList
	fingerprint uint64

	watch   *config.Watch
	stealth bool
	logger  zerolog.Logger
}

// NewState creates the shared state bound to a config watch. The watch's
// current value is applied immediately.
func NewState(watch *config.Watch, stealth bool, logger zerolog.Logger) (*State, error) {
	s := &State{
		upstreams: newAllowList(nil),
		watch:     watch,
		stealth:   stealth,
		logger:    logger,
	}
	cfg, version := watch.Current()
	if err := s.apply(cfg, version); err != nil {
		return nil, err
	}
	return s, nil
}

// Stealth reports whether stealth localhost remapping is enabled.
func (s *State) Stealth() bool { return s.stealth }

// apply rebuilds the plugin list from cfg and swaps it in atomically,
// then acknowledges the watch version.
func (s *State) apply(cfg config.ProxyConfig, version uint64) error {
	plugins, err := plugin.Build(cfg)
	if err != nil {
		return err
	}
	upstreams := newAllowList(cfg.Upstreams)
	fp := plugin.Fingerprint(cfg)

	s.mu.Lock()
	s.plugins = plugins
	s.upstreams = upstreams
	s.fingerprint = fp
	s.mu.Unlock()

	s.watch.Ack(version)
	s.logger.Debug().
		Uint64("version", version).
		Str("fault", string(cfg.Fault.Kind)).
		Int("upstreams", len(cfg.Upstreams)).
		Msg("configuration applied")
	return nil
}

// Run consumes the config watch until ctx is done, applying each new
// configuration. Live connections are not torn down; they keep the
// snapshot they started with.
func (s *State) Run(ctx context.Context) {
	var applied uint64
	for {
		// Take the signal channel before reading the version, so an update
		// published in between is applied on the next pass instead of lost.
		ch := s.watch.Changed()
		if cfg, version := s.watch.Current(); version > applied {
			applied = version
			if err := s.apply(cfg, version); err != nil {
				s.logger.Error().Err(err).Uint64("version", version).Msg("rejected configuration")
				// Acknowledge anyway so writers do not block on a bad config.
				s.watch.Ack(version)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ch:
		}
	}
}

// Snapshot returns the current plugin list and its fingerprint. The slice
// is shared read-only; a config change replaces rather than mutates it, so
// in-flight holders keep a stable view.
func (s *State) Snapshot() ([]plugin.Plugin, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.plugins, s.fingerprint
}

// IsFaulted reports whether the canonical upstream host:port is on the
// allow-list.
func (s *State) IsFaulted(hostPort string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.upstreams.contains(hostPort)
}
