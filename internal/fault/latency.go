package fault

import (
	"io"
	"math"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"github.com/frayproxy/fray/internal/config"
	"github.com/frayproxy/fray/internal/event"
)

// LatencySampler draws non-negative delays from the configured
// distribution. Samples are interpreted as milliseconds and converted at
// millisecond+nanosecond precision. Negative samples from the unbounded
// distributions are discarded by rejection.
type LatencySampler struct {
	settings config.LatencySettings
	rng      *rand.Rand
}

// NewLatencySampler creates a sampler. The RNG is owned by the caller's
// goroutine and must not be shared across stream halves.
func NewLatencySampler(settings config.LatencySettings, rng *rand.Rand) *LatencySampler {
	return &LatencySampler{settings: settings, rng: rng}
}

// Sample draws one delay.
func (s *LatencySampler) Sample() time.Duration {
	var ms float64
	switch s.settings.Distribution {
	case config.DistNormal:
		ms = s.rejectNegative(s.normal)
	case config.DistPareto:
		ms = s.rejectNegative(s.pareto)
	case config.DistParetoNormal:
		ms = s.rejectNegative(s.pareto) + s.rejectNegative(s.normal)
	default: // uniform
		ms = s.rejectNegative(s.uniform)
	}
	return millisToDuration(ms)
}

func (s *LatencySampler) rejectNegative(draw func() float64) float64 {
	v := draw()
	for v < 0 {
		v = draw()
	}
	return v
}

func (s *LatencySampler) normal() float64 {
	return s.settings.Mean + s.settings.Stddev*s.rng.NormFloat64()
}

func (s *LatencySampler) pareto() float64 {
	if s.settings.Shape == 0 {
		return s.settings.Scale
	}
	u := s.rng.Float64()
	for u == 0 {
		u = s.rng.Float64()
	}
	return s.settings.Scale * math.Pow(u, -1/s.settings.Shape)
}

func (s *LatencySampler) uniform() float64 {
	lo, hi := s.settings.Min, s.settings.Max
	if hi <= lo {
		return lo
	}
	return lo + s.rng.Float64()*(hi-lo)
}

func millisToDuration(ms float64) time.Duration {
	whole := math.Floor(ms)
	nanos := math.Round((ms - whole) * 1e6)
	return time.Duration(whole)*time.Millisecond + time.Duration(nanos)*time.Nanosecond
}

// latencyConn delays reads and/or writes of the wrapped connection.
// In global mode a single sampled delay is served per direction for the
// stream's lifetime; otherwise every poll draws a fresh sample.
type latencyConn struct {
	net.Conn
	settings config.LatencySettings
	side     config.StreamSide
	events   event.TaskEvents

	readSampler  *LatencySampler
	writeSampler *LatencySampler
	readOnce     sync.Once
	writeOnce    sync.Once
}

// NewLatencyConn wraps conn with the latency injector. Reads are delayed
// when the direction covers ingress, writes when it covers egress.
func NewLatencyConn(conn net.Conn, settings config.LatencySettings, side config.StreamSide, events event.TaskEvents, seed uint64) net.Conn {
	return &latencyConn{
		Conn:         conn,
		settings:     settings,
		side:         side,
		events:       events,
		readSampler:  NewLatencySampler(settings, NewRand(seed)),
		writeSampler: NewLatencySampler(settings, mixSeed(seed, 1)),
	}
}

func mixSeed(seed uint64, lane uint64) *rand.Rand {
	if seed == 0 {
		return NewRand(0)
	}
	return NewRand(seed + lane*0x9e3779b97f4a7c15)
}

func mixSampler(settings config.LatencySettings, seed, lane uint64) *LatencySampler {
	return NewLatencySampler(settings, mixSeed(seed, lane))
}

func (c *latencyConn) delay(sampler *LatencySampler, direction config.Direction, once *sync.Once) {
	sleep := func() {
		d := sampler.Sample()
		fe := event.FaultEvent{Kind: config.KindLatency, Delay: d}
		c.events.OnComputed(fe, direction, c.side)
		time.Sleep(d)
		c.events.OnApplied(fe, direction, c.side)
	}
	if c.settings.Global {
		once.Do(sleep)
		return
	}
	sleep()
}

func (c *latencyConn) Read(b []byte) (int, error) {
	if c.settings.Direction.IsIngress() {
		c.delay(c.readSampler, config.DirectionIngress, &c.readOnce)
	}
	return c.Conn.Read(b)
}

func (c *latencyConn) Write(b []byte) (int, error) {
	if c.settings.Direction.IsEgress() {
		c.delay(c.writeSampler, config.DirectionEgress, &c.writeOnce)
	}
	return c.Conn.Write(b)
}

// latencyReader delays reads of an HTTP body stream.
type latencyReader struct {
	r         io.Reader
	settings  config.LatencySettings
	direction config.Direction
	side      config.StreamSide
	events    event.TaskEvents
	sampler   *LatencySampler
	once      sync.Once
}

// NewLatencyReader wraps a message body reader with per-poll (or, in
// global mode, once-per-body) latency.
func NewLatencyReader(r io.Reader, settings config.LatencySettings, direction config.Direction, side config.StreamSide, events event.TaskEvents, seed uint64) io.Reader {
	return &latencyReader{
		r:         r,
		settings:  settings,
		direction: direction,
		side:      side,
		events:    events,
		sampler:   mixSampler(settings, seed, 2),
	}
}

func (l *latencyReader) Read(b []byte) (int, error) {
	sleep := func() {
		d := l.sampler.Sample()
		fe := event.FaultEvent{Kind: config.KindLatency, Delay: d}
		l.events.OnComputed(fe, l.direction, l.side)
		time.Sleep(d)
		l.events.OnApplied(fe, l.direction, l.side)
	}
	if l.settings.Global {
		l.once.Do(sleep)
	} else {
		sleep()
	}
	return l.r.Read(b)
}
