package fault

import (
	"io"
	"math/rand/v2"
	"net"

	"github.com/frayproxy/fray/internal/config"
	"github.com/frayproxy/fray/internal/event"
)

// LossState is one state of the packet loss Markov chain.
type LossState int

const (
	StateExcellent LossState = iota
	StateGood
	StateFair
	StatePoor
	StateBad
	lossStateCount
)

func (s LossState) String() string {
	switch s {
	case StateExcellent:
		return "excellent"
	case StateGood:
		return "good"
	case StateFair:
		return "fair"
	case StatePoor:
		return "poor"
	case StateBad:
		return "bad"
	}
	return "unknown"
}

// defaultTransitions is the row-stochastic transition matrix; row i gives
// the probabilities of moving from state i to each state.
var defaultTransitions = [lossStateCount][lossStateCount]float64{
	{0.9, 0.1, 0.0, 0.0, 0.0},  // excellent
	{0.05, 0.9, 0.05, 0.0, 0.0}, // good
	{0.0, 0.1, 0.8, 0.1, 0.0},  // fair
	{0.0, 0.0, 0.2, 0.7, 0.1},  // poor
	{0.0, 0.0, 0.0, 0.3, 0.7},  // bad
}

// defaultLossProbabilities gives the per-state probability of dropping the
// current chunk.
var defaultLossProbabilities = [lossStateCount]float64{0.0, 0.01, 0.05, 0.10, 0.20}

// MarkovChain models bursty packet loss. Readers and writers own
// independent chains so the two halves of a stream degrade independently.
type MarkovChain struct {
	state       LossState
	transitions [lossStateCount][lossStateCount]float64
	lossProbs   [lossStateCount]float64
	rng         *rand.Rand
}

// NewMarkovChain creates a chain in the Good state with the default
// transition matrix and loss probabilities.
func NewMarkovChain(rng *rand.Rand) *MarkovChain {
	return &MarkovChain{
		state:       StateGood,
		transitions: defaultTransitions,
		lossProbs:   defaultLossProbabilities,
		rng:         rng,
	}
}

// State returns the current chain state.
func (m *MarkovChain) State() LossState { return m.state }

// Advance moves the chain one step: a uniform variate selects the next
// state by cumulative prefix over the current row.
func (m *MarkovChain) Advance() LossState {
	u := m.rng.Float64()
	row := m.transitions[m.state]
	cum := 0.0
	for next, p := range row {
		cum += p
		if u < cum {
			m.state = LossState(next)
			return m.state
		}
	}
	// Guard against accumulated floating point error in the row sum.
	m.state = LossState(lossStateCount - 1)
	return m.state
}

// ShouldDrop advances the chain and reports whether the current chunk is
// dropped, along with the state's loss probability.
func (m *MarkovChain) ShouldDrop() (bool, float64) {
	state := m.Advance()
	p := m.lossProbs[state]
	return m.rng.Float64() < p, p
}

// packetLossConn drops read/write chunks according to the Markov chain.
// A dropped read reports zero bytes filled; a dropped write reports the
// full length as written. Neither is an error.
type packetLossConn struct {
	net.Conn
	settings   config.PacketLossSettings
	events     event.TaskEvents
	readChain  *MarkovChain
	writeChain *MarkovChain
}

// NewPacketLossConn wraps conn with the packet loss injector.
func NewPacketLossConn(conn net.Conn, settings config.PacketLossSettings, events event.TaskEvents, seed uint64) net.Conn {
	return &packetLossConn{
		Conn:       conn,
		settings:   settings,
		events:     events,
		readChain:  NewMarkovChain(NewRand(seed)),
		writeChain: NewMarkovChain(mixSeed(seed, 5)),
	}
}

func (c *packetLossConn) Read(b []byte) (int, error) {
	if c.settings.Direction.IsIngress() {
		if drop, p := c.readChain.ShouldDrop(); drop {
			c.events.OnApplied(event.FaultEvent{Kind: config.KindPacketLoss, LossProbability: p}, config.DirectionIngress, c.settings.Side)
			return 0, nil
		}
	}
	return c.Conn.Read(b)
}

func (c *packetLossConn) Write(b []byte) (int, error) {
	if c.settings.Direction.IsEgress() {
		if drop, p := c.writeChain.ShouldDrop(); drop {
			c.events.OnApplied(event.FaultEvent{Kind: config.KindPacketLoss, LossProbability: p}, config.DirectionEgress, c.settings.Side)
			return len(b), nil
		}
	}
	return c.Conn.Write(b)
}

// packetLossReader drops chunks of an HTTP body stream. Dropped chunks are
// skipped silently; the reader reports zero-byte progress and the caller
// re-polls.
type packetLossReader struct {
	r         io.Reader
	settings  config.PacketLossSettings
	direction config.Direction
	events    event.TaskEvents
	chain     *MarkovChain
}

// NewPacketLossReader wraps a message body reader with the loss chain.
func NewPacketLossReader(r io.Reader, settings config.PacketLossSettings, direction config.Direction, events event.TaskEvents, seed uint64) io.Reader {
	return &packetLossReader{
		r:         r,
		settings:  settings,
		direction: direction,
		events:    events,
		chain:     NewMarkovChain(mixSeed(seed, 6)),
	}
}

func (p *packetLossReader) Read(b []byte) (int, error) {
	if drop, prob := p.chain.ShouldDrop(); drop {
		// Consume and discard the chunk the peer sent.
		n, err := p.r.Read(b)
		if n > 0 {
			p.events.OnApplied(event.FaultEvent{Kind: config.KindPacketLoss, LossProbability: prob}, p.direction, p.settings.Side)
			n = 0
		}
		return n, err
	}
	return p.r.Read(b)
}
