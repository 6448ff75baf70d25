package nn

import (
	"fmt"
	"math"
)

// Heads describes the head layout of a self-attention block. KV < Q means
// grouped-query attention: query heads [i*n, (i+1)*n) share kv head i, where
// n = Q/KV.
type Heads struct {
	Q, KV, Dim int
}

// Validate checks that the layout is usable.
func (h Heads) Validate() error {
	if h.Q <= 0 || h.KV <= 0 || h.Dim <= 0 {
		return fmt.Errorf("attention heads must be positive, got q=%d kv=%d dim=%d", h.Q, h.KV, h.Dim)
	}
	if h.Q%h.KV != 0 {
		return fmt.Errorf("query heads %d not divisible by kv heads %d", h.Q, h.KV)
	}
	return nil
}

// Attend computes bidirectional softmax(q·kᵀ/√d)·v. q is [seq, Q*Dim], k and
// v are [seq, KV*Dim]; the result is [seq, Q*Dim].
func (h Heads) Attend(q, k, v []float32, seq int) []float32 {
	nRep := h.Q / h.KV
	scale := float32(1 / math.Sqrt(float64(h.Dim)))
	qStride, kvStride := h.Q*h.Dim, h.KV*h.Dim

	out := make([]float32, seq*qStride)
	scores := make([]float32, seq)
	for head := 0; head < h.Q; head++ {
		kvOff := (head / nRep) * h.Dim
		qOff := head * h.Dim
		for i := 0; i < seq; i++ {
			qi := q[i*qStride+qOff : i*qStride+qOff+h.Dim]
			for j := 0; j < seq; j++ {
				kj := k[j*kvStride+kvOff : j*kvStride+kvOff+h.Dim]
				scores[j] = dot(qi, kj) * scale
			}
			Softmax(scores)

			oi := out[i*qStride+qOff : i*qStride+qOff+h.Dim]
			for j, w := range scores {
				vj := v[j*kvStride+kvOff : j*kvStride+kvOff+h.Dim]
				for d := range oi {
					oi[d] += w * vj[d]
				}
			}
		}
	}
	return out
}

// Softmax replaces x with its softmax. The max is subtracted first.
func Softmax(x []float32) {
	if len(x) == 0 {
		return
	}
	maxV := x[0]
	for _, v := range x[1:] {
		if v > maxV {
			maxV = v
		}
	}
	var sum float64
	for i, v := range x {
		e := math.Exp(float64(v - maxV))
		x[i] = float32(e)
		sum += e
	}
	inv := float32(1 / sum)
	for i := range x {
		x[i] *= inv
	}
}

func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
