package backend

import (
	"encoding/binary"
	"math"
	"math/bits"
)

var (
	posInf = float32(math.Inf(1))
	negInf = float32(math.Inf(-1))
)

func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func squaredL2(a, b []float32) float32 {
	var s float32
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

// normalize L2-normalizes v in place. Zero vectors are left unchanged.
func normalize(v []float32) {
	n := dot(v, v)
	if n == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(float64(n)))
	for i := range v {
		v[i] *= inv
	}
}

// floatScore returns the engine score of a and b. Cosine inputs are expected
// to be normalized already.
func floatScore(m Metric, a, b []float32) float32 {
	if m == MetricL2 {
		return squaredL2(a, b)
	}
	return dot(a, b)
}

func popcounts(a, b []byte) (xor, and, or int) {
	i := 0
	for ; i+8 <= len(a); i += 8 {
		x := binary.LittleEndian.Uint64(a[i:])
		y := binary.LittleEndian.Uint64(b[i:])
		xor += bits.OnesCount64(x ^ y)
		and += bits.OnesCount64(x & y)
		or += bits.OnesCount64(x | y)
	}
	for ; i < len(a); i++ {
		xor += bits.OnesCount8(a[i] ^ b[i])
		and += bits.OnesCount8(a[i] & b[i])
		or += bits.OnesCount8(a[i] | b[i])
	}
	return xor, and, or
}

func hamming(a, b []byte) int32 {
	x, _, _ := popcounts(a, b)
	return int32(x)
}

// jaccard returns the Jaccard distance 1 - |a∩b|/|a∪b|. Two empty vectors
// are at distance zero.
func jaccard(a, b []byte) float32 {
	_, and, or := popcounts(a, b)
	if or == 0 {
		return 0
	}
	return 1 - float32(and)/float32(or)
}

// inRange reports whether score s is a range-search hit for radius r.
func inRange(m Metric, s, r float32) bool {
	if m.HigherIsCloser() {
		return s > r
	}
	return s < r
}
