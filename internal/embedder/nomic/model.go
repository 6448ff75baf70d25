// Package nomic runs nomic-embed-text-v2-moe from a GGUF checkpoint: a
// post-norm BERT encoder with rotary positions, fused QKV and a
// mixture-of-experts feed-forward on every n-th layer.
package nomic

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/semcache/internal/nn"
	"github.com/kailas-cloud/semcache/internal/weights"
)

type layer struct {
	qkv      *nn.Linear
	out      *nn.Linear
	attnNorm *nn.LayerNorm
	ffn      nn.FeedForward
	ffnNorm  *nn.LayerNorm
}

// Model is a loaded encoder. It is read-only and safe for concurrent use.
type Model struct {
	cfg       Config
	heads     nn.Heads
	tokens    *weights.Tensor
	tokenType []float32
	embNorm   *nn.LayerNorm
	layers    []layer
	rope      *nn.RoPE
	closer    func() error
}

// Load opens a GGUF file and builds the model.
func Load(path string) (*Model, error) {
	g, err := weights.OpenGGUF(path)
	if err != nil {
		return nil, err //nolint:wrapcheck // already names the file
	}
	cfg, err := ConfigFromGGUF(g)
	if err != nil {
		_ = g.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m, err := New(g, cfg)
	if err != nil {
		_ = g.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.closer = g.Close
	return m, nil
}

// New builds the model from an already parsed checkpoint. Every tensor is
// fetched and shape-checked here.
func New(src weights.Source, cfg Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h := cfg.Hidden
	l := &nn.Loader{Src: src}

	m := &Model{
		cfg:    cfg,
		heads:  nn.Heads{Q: cfg.Heads, KV: cfg.Heads, Dim: cfg.HeadDim},
		tokens: l.Tensor("token_embd.weight", -1, h),
	}
	if types := l.Tensor("token_types.weight", -1, h); types != nil {
		m.tokenType = types.Row(0)
	}
	m.embNorm = l.LayerNorm("token_embd_norm", h, cfg.Eps)

	m.layers = make([]layer, cfg.Layers)
	for i := range m.layers {
		p := fmt.Sprintf("blk.%d.", i)
		ly := &m.layers[i]
		ly.qkv = l.Linear(p+"attn_qkv", 3*h, h, true)
		ly.out = l.Linear(p+"attn_output", h, h, true)
		ly.attnNorm = l.LayerNorm(p+"attn_output_norm", h, cfg.Eps)
		ly.ffnNorm = l.LayerNorm(p+"layer_output_norm", h, cfg.Eps)
		if cfg.IsMoE(i) {
			ffn, err := loadMoE(l, src, p, cfg)
			if err != nil {
				return nil, err
			}
			ly.ffn = ffn
		} else {
			up := l.Linear(p+"ffn_up", -1, h, true)
			var down *nn.Linear
			if up != nil {
				down = l.Linear(p+"ffn_down", h, up.Out, true)
			}
			ly.ffn = &nn.DenseGELU{Up: up, Down: down}
		}
	}
	if err := l.Err(); err != nil {
		return nil, fmt.Errorf("load nomic weights: %w", err)
	}

	rope, err := nn.NewRoPE(cfg.HeadDim, cfg.MaxLen, cfg.RopeBase)
	if err != nil {
		return nil, err
	}
	m.rope = rope
	return m, nil
}

// loadMoE builds the expert layer. Experts are SwiGLU when gate weights are
// present and ungated GELU MLPs otherwise.
func loadMoE(l *nn.Loader, src weights.Source, p string, cfg Config) (nn.FeedForward, error) {
	h := cfg.Hidden
	router := l.Linear(p+"ffn_gate_inp", cfg.Experts, h, false)
	upW := l.Tensor(p+"ffn_up_exps.weight", cfg.Experts, -1, h)
	if l.Err() != nil {
		return nil, fmt.Errorf("load nomic weights: %w", l.Err())
	}
	ff := upW.Shape[1]
	downW := l.Tensor(p+"ffn_down_exps.weight", cfg.Experts, h, ff)
	var gateW *weights.Tensor
	if src.Has(p + "ffn_gate_exps.weight") {
		gateW = l.Tensor(p+"ffn_gate_exps.weight", cfg.Experts, ff, h)
	}
	if l.Err() != nil {
		return nil, fmt.Errorf("load nomic weights: %w", l.Err())
	}

	ups, err := nn.SplitExperts(upW)
	if err != nil {
		return nil, err
	}
	downs, err := nn.SplitExperts(downW)
	if err != nil {
		return nil, err
	}
	var gates []*nn.Linear
	if gateW != nil {
		if gates, err = nn.SplitExperts(gateW); err != nil {
			return nil, err
		}
	}

	experts := make([]nn.FeedForward, cfg.Experts)
	for e := range experts {
		if gates != nil {
			experts[e] = &nn.SwiGLU{Gate: gates[e], Up: ups[e], Down: downs[e]}
		} else {
			experts[e] = &nn.DenseGELU{Up: ups[e], Down: downs[e]}
		}
	}
	moe, err := nn.NewMoE(router, experts, cfg.ExpertsUsed)
	if err != nil {
		return nil, fmt.Errorf("%smoe: %w", p, err)
	}
	return moe, nil
}

// Config returns the loaded hyperparameters.
func (m *Model) Config() Config { return m.cfg }

// Dim reports the embedding length.
func (m *Model) Dim() int { return m.cfg.Hidden }

// MaxLen reports the longest accepted token sequence.
func (m *Model) MaxLen() int { return m.cfg.MaxLen }

// Close releases the mapped checkpoint. The model must not be used afterwards.
func (m *Model) Close() error {
	if m.closer == nil {
		return nil
	}
	return m.closer()
}

// Forward encodes token ids into a unit vector. ctx is checked between layers.
func (m *Model) Forward(ctx context.Context, ids []int) ([]float32, error) {
	seq, h := len(ids), m.cfg.Hidden
	if err := nn.CheckLength(seq, m.cfg.MaxLen); err != nil {
		return nil, err
	}
	x, err := nn.Lookup(m.tokens, ids)
	if err != nil {
		return nil, err
	}
	for s := 0; s < seq; s++ {
		nn.Add(x[s*h:(s+1)*h], m.tokenType)
	}
	m.embNorm.Forward(x)

	for i := range m.layers {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		m.layers[i].forward(x, seq, m.heads, m.rope)
	}
	return nn.Pool(x, seq, h), nil
}

// forward applies one post-norm block to x in place.
func (l *layer) forward(x []float32, seq int, heads nn.Heads, rope *nn.RoPE) {
	h := heads.Q * heads.Dim
	qkv := l.qkv.Forward(x, seq)
	q := make([]float32, seq*h)
	k := make([]float32, seq*h)
	v := make([]float32, seq*h)
	for s := 0; s < seq; s++ {
		row := qkv[s*3*h : (s+1)*3*h]
		copy(q[s*h:], row[:h])
		copy(k[s*h:], row[h:2*h])
		copy(v[s*h:], row[2*h:])
	}
	rope.Apply(q, seq, heads.Q)
	rope.Apply(k, seq, heads.Q)

	attn := l.out.Forward(heads.Attend(q, k, v, seq), seq)
	nn.Add(x, attn)
	l.attnNorm.Forward(x)

	nn.Add(x, l.ffn.Forward(x, seq))
	l.ffnNorm.Forward(x)
}
