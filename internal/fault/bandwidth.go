package fault

import (
	"io"
	"math"
	"net"
	"time"

	"github.com/frayproxy/fray/internal/config"
	"github.com/frayproxy/fray/internal/event"
)

// tokenBucket is a single-writer rate limiter. Capacity equals the rate in
// bytes per second; the bucket refills in full once a second has elapsed
// since the previous refill. Each bucket is owned by exactly one stream
// half, so no locking is required.
type tokenBucket struct {
	bytesPerSecond uint64
	tokens         uint64
	lastRefill     time.Time
}

func newTokenBucket(bps uint64) *tokenBucket {
	return &tokenBucket{
		bytesPerSecond: bps,
		tokens:         bps,
		lastRefill:     time.Now(),
	}
}

func (b *tokenBucket) maybeRefill() {
	now := time.Now()
	if now.Sub(b.lastRefill) >= time.Second {
		b.tokens = b.bytesPerSecond
		b.lastRefill = now
	}
}

func (b *tokenBucket) untilRefill() time.Duration {
	elapsed := time.Since(b.lastRefill)
	if elapsed >= time.Second {
		return 0
	}
	return time.Second - elapsed
}

// take blocks until at least one token is available, then returns the
// transfer allowance: min(want, tokens, MaxUint32).
func (b *tokenBucket) take(want int) int {
	b.maybeRefill()
	for b.tokens == 0 {
		time.Sleep(b.untilRefill())
		b.maybeRefill()
	}
	allowed := uint64(want)
	if b.tokens < allowed {
		allowed = b.tokens
	}
	if allowed > math.MaxUint32 {
		allowed = math.MaxUint32
	}
	return int(allowed)
}

func (b *tokenBucket) debit(n int) {
	if n <= 0 {
		return
	}
	if uint64(n) >= b.tokens {
		b.tokens = 0
		return
	}
	b.tokens -= uint64(n)
}

// bandwidthConn throttles reads and/or writes with one token bucket per
// direction.
type bandwidthConn struct {
	net.Conn
	settings config.BandwidthSettings
	side     config.StreamSide
	events   event.TaskEvents

	readBucket  *tokenBucket
	writeBucket *tokenBucket
}

// NewBandwidthConn wraps conn with the bandwidth throttle.
func NewBandwidthConn(conn net.Conn, settings config.BandwidthSettings, side config.StreamSide, events event.TaskEvents) net.Conn {
	bps := settings.BytesPerSecond()
	return &bandwidthConn{
		Conn:        conn,
		settings:    settings,
		side:        side,
		events:      events,
		readBucket:  newTokenBucket(bps),
		writeBucket: newTokenBucket(bps),
	}
}

func (c *bandwidthConn) Read(b []byte) (int, error) {
	if !c.settings.Direction.IsIngress() || len(b) == 0 {
		return c.Conn.Read(b)
	}
	allowed := c.readBucket.take(len(b))
	n, err := c.Conn.Read(b[:allowed])
	c.readBucket.debit(n)
	if n > 0 {
		c.events.OnApplied(event.FaultEvent{Kind: config.KindBandwidth, Bps: uint64(n)}, config.DirectionIngress, c.side)
	}
	return n, err
}

func (c *bandwidthConn) Write(b []byte) (int, error) {
	if !c.settings.Direction.IsEgress() {
		return c.Conn.Write(b)
	}
	var written int
	for written < len(b) {
		allowed := c.writeBucket.take(len(b) - written)
		n, err := c.Conn.Write(b[written : written+allowed])
		c.writeBucket.debit(n)
		if n > 0 {
			c.events.OnApplied(event.FaultEvent{Kind: config.KindBandwidth, Bps: uint64(n)}, config.DirectionEgress, c.side)
		}
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// bandwidthReader throttles an HTTP body stream with its own bucket.
type bandwidthReader struct {
	r         io.Reader
	bucket    *tokenBucket
	direction config.Direction
	side      config.StreamSide
	events    event.TaskEvents
}

// NewBandwidthReader wraps a message body reader with the throttle.
func NewBandwidthReader(r io.Reader, settings config.BandwidthSettings, direction config.Direction, side config.StreamSide, events event.TaskEvents) io.Reader {
	return &bandwidthReader{
		r:         r,
		bucket:    newTokenBucket(settings.BytesPerSecond()),
		direction: direction,
		side:      side,
		events:    events,
	}
}

func (br *bandwidthReader) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return br.r.Read(b)
	}
	allowed := br.bucket.take(len(b))
	n, err := br.r.Read(b[:allowed])
	br.bucket.debit(n)
	if n > 0 {
		br.events.OnApplied(event.FaultEvent{Kind: config.KindBandwidth, Bps: uint64(n)}, br.direction, br.side)
	}
	return n, err
}
