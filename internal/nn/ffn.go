package nn

import (
	"cmp"
	"fmt"
	"math"
	"slices"
)

// FeedForward maps a [seq, hidden] activation to a fresh [seq, hidden].
type FeedForward interface {
	Forward(x []float32, seq int) []float32
}

var (
	_ FeedForward = (*DenseGELU)(nil)
	_ FeedForward = (*SwiGLU)(nil)
	_ FeedForward = (*MoE)(nil)
)

// DenseGELU is down(gelu(up(x))).
type DenseGELU struct {
	Up, Down *Linear
}

// Forward implements FeedForward.
func (f *DenseGELU) Forward(x []float32, seq int) []float32 {
	h := f.Up.Forward(x, seq)
	for i, v := range h {
		h[i] = GELU(v)
	}
	return f.Down.Forward(h, seq)
}

// SwiGLU is down(silu(gate(x)) * up(x)).
type SwiGLU struct {
	Gate, Up, Down *Linear
}

// Forward implements FeedForward.
func (f *SwiGLU) Forward(x []float32, seq int) []float32 {
	g := f.Gate.Forward(x, seq)
	u := f.Up.Forward(x, seq)
	for i := range g {
		g[i] = SiLU(g[i]) * u[i]
	}
	return f.Down.Forward(g, seq)
}

// MoE routes each token to its TopK experts and mixes their outputs with
// renormalized router probabilities.
type MoE struct {
	Router  *Linear
	Experts []FeedForward
	TopK    int
}

// NewMoE checks that the router width matches the expert count.
func NewMoE(router *Linear, experts []FeedForward, topK int) (*MoE, error) {
	if router.Out != len(experts) {
		return nil, fmt.Errorf("router has %d outputs for %d experts", router.Out, len(experts))
	}
	if topK <= 0 || topK > len(experts) {
		return nil, fmt.Errorf("top-k %d out of range for %d experts", topK, len(experts))
	}
	return &MoE{Router: router, Experts: experts, TopK: topK}, nil
}

// Forward implements FeedForward. Tokens are routed one at a time.
func (m *MoE) Forward(x []float32, seq int) []float32 {
	hidden := m.Router.In
	out := make([]float32, seq*hidden)
	logits := m.Router.Forward(x, seq)
	for s := 0; s < seq; s++ {
		token := x[s*hidden : (s+1)*hidden]
		dst := out[s*hidden : (s+1)*hidden]
		idx, w := Route(logits[s*len(m.Experts):(s+1)*len(m.Experts)], m.TopK)
		for i, e := range idx {
			y := m.Experts[e].Forward(token, 1)
			for d := range dst {
				dst[d] += w[i] * y[d]
			}
		}
	}
	return out
}

// Route softmaxes router logits, keeps the k most probable experts and
// renormalizes their probabilities to sum to 1. Equal probabilities keep the
// lower expert index. logits is left unchanged.
func Route(logits []float32, k int) ([]int, []float32) {
	probs := slices.Clone(logits)
	Softmax(probs)

	idx := make([]int, len(probs))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		return cmp.Compare(probs[b], probs[a])
	})
	idx = idx[:k]

	var sum float32
	for _, e := range idx {
		sum += probs[e]
	}
	w := make([]float32, k)
	for i, e := range idx {
		w[i] = probs[e] / sum
	}
	return idx, w
}

// GELU is the exact erf form.
func GELU(x float32) float32 {
	return float32(0.5 * float64(x) * (1 + math.Erf(float64(x)/math.Sqrt2)))
}

// SiLU is x·sigmoid(x).
func SiLU(x float32) float32 {
	return x / (1 + float32(math.Exp(float64(-x))))
}
