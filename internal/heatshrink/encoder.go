// Package heatshrink implements the encode side of the heatshrink LZSS
// format used by embedded firmwares. The bitstream is a sequence of tokens:
// a 1 bit followed by 8 literal bits, or a 0 bit followed by window bits of
// (distance-1) and lookahead bits of (length-1), all packed MSB first. The
// decoder on the firmware side copies backreferences byte by byte, so
// overlapping matches are valid.
package heatshrink

import "errors"

// ErrParams is returned for window/lookahead exponents outside the ranges
// the reference implementation accepts.
var ErrParams = errors.New("heatshrink: invalid window or lookahead")

// Encode compresses data with the given window and lookahead size exponents
// (the peer advertises both during the version handshake).
func Encode(data []byte, window, lookahead int) ([]byte, error) {
	if window < 4 || window > 15 {
		return nil, ErrParams
	}
	if lookahead < 2 || lookahead >= window {
		return nil, ErrParams
	}
	var bw bitWriter
	windowSize := 1 << window
	maxMatch := 1 << lookahead
	// A backref costs 1+window+lookahead bits, a literal 9 per byte; only
	// matches that come out ahead are worth emitting.
	breakEven := 1 + window + lookahead

	for i := 0; i < len(data); {
		bestLen, bestDist := 0, 0
		lo := max(i-windowSize, 0)
		limit := min(len(data)-i, maxMatch)
		for j := i - 1; j >= lo; j-- {
			n := 0
			for n < limit && data[j+n] == data[i+n] {
				n++
			}
			if n > bestLen {
				bestLen, bestDist = n, i-j
				if n == limit {
					break
				}
			}
		}
		if bestLen*9 > breakEven {
			bw.writeBits(1, 0)
			bw.writeBits(window, uint(bestDist-1))
			bw.writeBits(lookahead, uint(bestLen-1))
			i += bestLen
		} else {
			bw.writeBits(1, 1)
			bw.writeBits(8, uint(data[i]))
			i++
		}
	}
	return bw.bytes(), nil
}

// bitWriter packs bits MSB first, zero-padding the final byte.
type bitWriter struct {
	out   []byte
	cur   byte
	nbits int
}

func (w *bitWriter) writeBits(n int, v uint) {
	for b := n - 1; b >= 0; b-- {
		w.cur <<= 1
		if v&(1<<uint(b)) != 0 {
			w.cur |= 1
		}
		w.nbits++
		if w.nbits == 8 {
			w.out = append(w.out, w.cur)
			w.cur, w.nbits = 0, 0
		}
	}
}

func (w *bitWriter) bytes() []byte {
	if w.nbits > 0 {
		w.out = append(w.out, w.cur<<(8-w.nbits))
		w.cur, w.nbits = 0, 0
	}
	return w.out
}
