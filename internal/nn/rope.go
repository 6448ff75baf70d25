package nn

import (
	"fmt"
	"math"
)

// RoPE holds precomputed rotary tables of shape [maxLen, headDim/2].
type RoPE struct {
	Cos, Sin []float32
	Half     int
	MaxLen   int
}

// NewRoPE precomputes tables for positions [0, maxLen).
func NewRoPE(headDim, maxLen int, base float32) (*RoPE, error) {
	if headDim <= 0 || headDim%2 != 0 {
		return nil, fmt.Errorf("rope head dim must be positive and even, got %d", headDim)
	}
	if maxLen <= 0 || base <= 0 {
		return nil, fmt.Errorf("rope needs positive max length and base, got %d and %v", maxLen, base)
	}
	half := headDim / 2
	invFreq := make([]float64, half)
	for i := range invFreq {
		invFreq[i] = 1 / math.Pow(float64(base), float64(i)/float64(half))
	}

	r := &RoPE{
		Cos:    make([]float32, maxLen*half),
		Sin:    make([]float32, maxLen*half),
		Half:   half,
		MaxLen: maxLen,
	}
	for pos := 0; pos < maxLen; pos++ {
		for i, f := range invFreq {
			s, c := math.Sincos(float64(pos) * f)
			r.Cos[pos*half+i] = float32(c)
			r.Sin[pos*half+i] = float32(s)
		}
	}
	return r, nil
}

// Rotate applies the half-split rotation to one head vector at pos.
func (r *RoPE) Rotate(v []float32, pos int) {
	cos := r.Cos[pos*r.Half : (pos+1)*r.Half]
	sin := r.Sin[pos*r.Half : (pos+1)*r.Half]
	x1, x2 := v[:r.Half], v[r.Half:2*r.Half]
	for i := range x1 {
		a, b := x1[i], x2[i]
		x1[i] = a*cos[i] - b*sin[i]
		x2[i] = a*sin[i] + b*cos[i]
	}
}

// Apply rotates every head of a [seq, heads*headDim] activation in place.
func (r *RoPE) Apply(x []float32, seq, heads int) {
	headDim := 2 * r.Half
	for s := 0; s < seq; s++ {
		for h := 0; h < heads; h++ {
			off := (s*heads + h) * headDim
			r.Rotate(x[off:off+headDim], s)
		}
	}
}
