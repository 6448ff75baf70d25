// Package nn holds the transformer building blocks shared by the encoder
// backends. Activations are flat row-major [seq, width] float32 slices.
// Weights are never written to, since they may alias a read-only mapping.
package nn

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/kailas-cloud/semcache/internal/weights"
)

// Linear is y = x·Wᵀ + b with W stored [out, in].
type Linear struct {
	W       []float32
	B       []float32 // nil when the layer has no bias
	In, Out int
}

// NewLinear wraps a 2D weight tensor and an optional 1D bias.
func NewLinear(w, b *weights.Tensor) (*Linear, error) {
	if len(w.Shape) != 2 {
		return nil, fmt.Errorf("linear weight must be 2D, got shape %v", w.Shape)
	}
	l := &Linear{W: w.Data, Out: w.Shape[0], In: w.Shape[1]}
	if b != nil {
		if len(b.Shape) != 1 || b.Shape[0] != l.Out {
			return nil, fmt.Errorf("linear bias shape %v does not match %d outputs", b.Shape, l.Out)
		}
		l.B = b.Data
	}
	return l, nil
}

// Forward maps [seq, In] to a fresh [seq, Out].
func (l *Linear) Forward(x []float32, seq int) []float32 {
	y := make([]float32, seq*l.Out)
	blas32.Gemm(blas.NoTrans, blas.Trans, 1,
		blas32.General{Rows: seq, Cols: l.In, Stride: l.In, Data: x},
		blas32.General{Rows: l.Out, Cols: l.In, Stride: l.In, Data: l.W},
		0,
		blas32.General{Rows: seq, Cols: l.Out, Stride: l.Out, Data: y},
	)
	if l.B != nil {
		for s := 0; s < seq; s++ {
			row := y[s*l.Out : (s+1)*l.Out]
			for i, b := range l.B {
				row[i] += b
			}
		}
	}
	return y
}

// SplitExperts slices a 3D [experts, out, in] tensor into per-expert layers.
func SplitExperts(w *weights.Tensor) ([]*Linear, error) {
	if len(w.Shape) != 3 {
		return nil, fmt.Errorf("expert weight must be 3D, got shape %v", w.Shape)
	}
	n, out, in := w.Shape[0], w.Shape[1], w.Shape[2]
	experts := make([]*Linear, n)
	for e := range experts {
		experts[e] = &Linear{W: w.Data[e*out*in : (e+1)*out*in], In: in, Out: out}
	}
	return experts, nil
}

// Add accumulates src into dst elementwise.
func Add(dst, src []float32) {
	for i := range dst {
		dst[i] += src[i]
	}
}
