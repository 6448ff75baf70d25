package nn

import (
	"fmt"
	"math"

	"github.com/kailas-cloud/semcache/internal/weights"
)

// LayerNorm normalizes each row to zero mean and unit variance, then applies
// the learned scale and shift.
type LayerNorm struct {
	W, B []float32
	Eps  float32
}

// NewLayerNorm builds a LayerNorm over width-sized rows.
func NewLayerNorm(w, b *weights.Tensor, eps float32) (*LayerNorm, error) {
	if len(w.Data) != len(b.Data) {
		return nil, fmt.Errorf("layer norm weight %v and bias %v differ", w.Shape, b.Shape)
	}
	return &LayerNorm{W: w.Data, B: b.Data, Eps: eps}, nil
}

// Forward normalizes x in place.
func (n *LayerNorm) Forward(x []float32) {
	width := len(n.W)
	for off := 0; off+width <= len(x); off += width {
		row := x[off : off+width]
		var mean float64
		for _, v := range row {
			mean += float64(v)
		}
		mean /= float64(width)
		var variance float64
		for _, v := range row {
			d := float64(v) - mean
			variance += d * d
		}
		variance /= float64(width)
		inv := 1 / math.Sqrt(variance+float64(n.Eps))
		for i, v := range row {
			row[i] = float32((float64(v)-mean)*inv)*n.W[i] + n.B[i]
		}
	}
}

// RMSNorm scales each row by the reciprocal of its root mean square.
type RMSNorm struct {
	W   []float32
	Eps float32
}

// NewRMSNorm builds an RMSNorm whose row width is the weight length.
func NewRMSNorm(w *weights.Tensor, eps float32) *RMSNorm {
	return &RMSNorm{W: w.Data, Eps: eps}
}

// Forward normalizes x in place. x may hold any number of rows.
func (n *RMSNorm) Forward(x []float32) {
	width := len(n.W)
	for off := 0; off+width <= len(x); off += width {
		row := x[off : off+width]
		var ss float64
		for _, v := range row {
			ss += float64(v) * float64(v)
		}
		inv := float32(1 / math.Sqrt(ss/float64(width)+float64(n.Eps)))
		for i, v := range row {
			row[i] = v * inv * n.W[i]
		}
	}
}
