package transport

import (
	"math/rand"
	"time"

	"mbft/internal/metrics"
)

// injector mangles a fraction of outgoing packets so the resend path gets
// exercised against a real firmware. The probability is clamped to [0,1] at
// construction; zero disables it entirely.
type injector struct {
	prob float64
	rng  *rand.Rand
}

func newInjector(prob float64, rng *rand.Rand) *injector {
	prob = min(max(prob, 0), 1)
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &injector{prob: prob, rng: rng}
}

// mangle returns the packet to put on the wire. With probability prob it
// either drops a contiguous run of 1-10 bytes (10% of injections) or XORs a
// single byte with 0xAA (90%). The original slice is never modified.
func (in *injector) mangle(pkt []byte) []byte {
	if in.prob <= 0 || len(pkt) == 0 || in.rng.Float64() > in.prob {
		return pkt
	}
	metrics.IncFault()
	out := append([]byte(nil), pkt...)
	if in.rng.Float64() > 0.9 {
		start := in.rng.Intn(len(out))
		end := min(start+1+in.rng.Intn(10), len(out))
		return append(out[:start], out[end:]...)
	}
	out[in.rng.Intn(len(out))] ^= 0xAA
	return out
}
