package config

import (
	"context"
	"sync"
)

// Watch is a single-value configuration channel with acknowledgement.
// A writer publishes a new ProxyConfig with Update; the data plane applies
// it and calls Ack with the version it observed. Update callers can block
// on the acknowledgement with WaitAck so a scenario step never races the
// config it depends on.
type Watch struct {
	mu      sync.Mutex
	cfg     ProxyConfig
	version uint64
	acked   uint64

	// changed is closed and replaced on every Update; receivers re-arm.
	changed chan struct{}
	// ackCh is closed and replaced on every Ack.
	ackCh chan struct{}
}

// NewWatch creates a watch seeded with the given configuration. The seed
// value counts as version zero and is implicitly acknowledged.
func NewWatch(initial ProxyConfig) *Watch {
	return &Watch{
		cfg:     initial,
		changed: make(chan struct{}),
		ackCh:   make(chan struct{}),
	}
}

// Update publishes a new configuration and returns its version.
func (w *Watch) Update(cfg ProxyConfig) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cfg = cfg
	w.version++
	close(w.changed)
	w.changed = make(chan struct{})
	return w.version
}

// Current returns the latest configuration and its version.
func (w *Watch) Current() (ProxyConfig, uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg, w.version
}

// Changed returns a channel that is closed the next time Update is called.
// Callers must re-fetch the channel after each receive.
func (w *Watch) Changed() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.changed
}

// Ack records that the data plane has applied the given version.
func (w *Watch) Ack(version uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if version <= w.acked {
		return
	}
	w.acked = version
	close(w.ackCh)
	w.ackCh = make(chan struct{})
}

// WaitAck blocks until the given version (or a later one) has been
// acknowledged, or the context is done.
func (w *Watch) WaitAck(ctx context.Context, version uint64) error {
	for {
		w.mu.Lock()
		if w.acked >= version {
			w.mu.Unlock()
			return nil
		}
		ch := w.ackCh
		w.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
