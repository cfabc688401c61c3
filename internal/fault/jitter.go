package fault

import (
	"io"
	"math/rand/v2"
	"net"
	"time"

	"github.com/frayproxy/fray/internal/config"
	"github.com/frayproxy/fray/internal/event"
)

// jitterClock decides, per poll, whether to arm a jitter delay. The
// trigger probability is min(1, frequency*dt) where dt is the observed
// interval since the previous poll, so the configured frequency holds
// regardless of poll cadence.
type jitterClock struct {
	amplitude time.Duration
	frequency float64
	lastPoll  time.Time
	rng       *rand.Rand
}

func newJitterClock(settings config.JitterSettings, rng *rand.Rand) *jitterClock {
	return &jitterClock{
		amplitude: millisToDuration(settings.Amplitude),
		frequency: settings.Frequency,
		rng:       rng,
	}
}

// next returns the delay to serve for this poll, or zero.
func (j *jitterClock) next() time.Duration {
	now := time.Now()
	dt := time.Second
	if !j.lastPoll.IsZero() {
		dt = now.Sub(j.lastPoll)
	}
	j.lastPoll = now

	p := j.frequency * dt.Seconds()
	if p > 1 {
		p = 1
	}
	if j.rng.Float64() >= p {
		return 0
	}
	if j.amplitude <= 0 {
		return 0
	}
	return time.Duration(j.rng.Int64N(int64(j.amplitude) + 1))
}

// jitterConn adds random delay variance on reads and/or writes.
type jitterConn struct {
	net.Conn
	settings   config.JitterSettings
	events     event.TaskEvents
	readClock  *jitterClock
	writeClock *jitterClock
}

// NewJitterConn wraps conn with the jitter injector.
func NewJitterConn(conn net.Conn, settings config.JitterSettings, events event.TaskEvents, seed uint64) net.Conn {
	return &jitterConn{
		Conn:       conn,
		settings:   settings,
		events:     events,
		readClock:  newJitterClock(settings, NewRand(seed)),
		writeClock: newJitterClock(settings, mixSeed(seed, 3)),
	}
}

func (c *jitterConn) serve(clock *jitterClock, direction config.Direction) {
	if d := clock.next(); d > 0 {
		time.Sleep(d)
		c.events.OnApplied(event.FaultEvent{
			Kind:      config.KindJitter,
			Amplitude: d,
			Frequency: c.settings.Frequency,
		}, direction, config.SideServer)
	}
}

func (c *jitterConn) Read(b []byte) (int, error) {
	if c.settings.Direction.IsIngress() {
		c.serve(c.readClock, config.DirectionIngress)
	}
	return c.Conn.Read(b)
}

func (c *jitterConn) Write(b []byte) (int, error) {
	if c.settings.Direction.IsEgress() {
		c.serve(c.writeClock, config.DirectionEgress)
	}
	return c.Conn.Write(b)
}

// jitterReader adds jitter to an HTTP body stream.
type jitterReader struct {
	r         io.Reader
	settings  config.JitterSettings
	direction config.Direction
	events    event.TaskEvents
	clock     *jitterClock
}

// NewJitterReader wraps a message body reader with jitter.
func NewJitterReader(r io.Reader, settings config.JitterSettings, direction config.Direction, events event.TaskEvents, seed uint64) io.Reader {
	return &jitterReader{
		r:         r,
		settings:  settings,
		direction: direction,
		events:    events,
		clock:     newJitterClock(settings, mixSeed(seed, 4)),
	}
}

func (j *jitterReader) Read(b []byte) (int, error) {
	if d := j.clock.next(); d > 0 {
		time.Sleep(d)
		j.events.OnApplied(event.FaultEvent{
			Kind:      config.KindJitter,
			Amplitude: d,
			Frequency: j.settings.Frequency,
		}, j.direction, config.SideServer)
	}
	return j.r.Read(b)
}
