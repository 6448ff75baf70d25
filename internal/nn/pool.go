package nn

import "math"

// MeanPool averages the rows of a [seq, width] activation. No mask is
// applied, so x must hold a single unpadded sequence.
func MeanPool(x []float32, seq, width int) []float32 {
	out := make([]float32, width)
	if seq == 0 {
		return out
	}
	for s := 0; s < seq; s++ {
		Add(out, x[s*width:(s+1)*width])
	}
	inv := 1 / float32(seq)
	for i := range out {
		out[i] *= inv
	}
	return out
}

// L2Normalize scales v to unit length in place. The zero vector is left as is.
func L2Normalize(v []float32) {
	var ss float64
	for _, x := range v {
		ss += float64(x) * float64(x)
	}
	if ss == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(ss))
	for i := range v {
		v[i] *= inv
	}
}
