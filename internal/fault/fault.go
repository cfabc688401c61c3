// Package fault implements the five network fault injectors. Each injector
// works in two shapes: a net.Conn wrapper degrading a tunnel half, and an
// io.Reader wrapper degrading an HTTP message body. Injectors never fail an
// I/O operation; they only delay it or let it make zero-byte progress.
package fault

import (
	"math/rand/v2"
)

// NewRand returns a PCG-backed RNG. A zero seed draws from the process
// entropy source; any other seed yields a reproducible stream so scenario
// runs can be replayed deterministically.
func NewRand(seed uint64) *rand.Rand {
	if seed == 0 {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
