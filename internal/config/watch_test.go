package config

import (
	"context"
	"testing"
	"time"
)

func TestWatchUpdateAndAck(t *testing.T) {
	w := NewWatch(ProxyConfig{})

	cfg := ProxyConfig{Upstreams: []string{"example.com:80"}}
	v := w.Update(cfg)
	if v != 1 {
		t.Fatalf("first update version = %d, want 1", v)
	}

	got, gotV := w.Current()
	if gotV != v || len(got.Upstreams) != 1 {
		t.Fatalf("Current() = %+v v%d, want published config v%d", got, gotV, v)
	}

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		done <- w.WaitAck(ctx, v)
	}()

	w.Ack(v)
	if err := <-done; err != nil {
		t.Fatalf("WaitAck: %v", err)
	}
}

func TestWatchWaitAckAlreadyAcked(t *testing.T) {
	w := NewWatch(ProxyConfig{})
	v := w.Update(ProxyConfig{})
	w.Ack(v)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := w.WaitAck(ctx, v); err != nil {
		t.Fatalf("WaitAck on acked version: %v", err)
	}
}

func TestWatchWaitAckContextCancel(t *testing.T) {
	w := NewWatch(ProxyConfig{})
	v := w.Update(ProxyConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := w.WaitAck(ctx, v); err == nil {
		t.Fatal("expected context error when nobody acks")
	}
}

func TestWatchChangedSignals(t *testing.T) {
	w := NewWatch(ProxyConfig{})
	ch := w.Changed()

	select {
	case <-ch:
		t.Fatal("changed channel fired before any update")
	default:
	}

	w.Update(ProxyConfig{})
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("changed channel did not fire after update")
	}
}
