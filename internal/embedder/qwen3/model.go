// Package qwen3 runs Qwen3-architecture embedding models (pplx-embed-v1) from
// safetensors: pre-norm RMSNorm layers, grouped-query attention with
// per-head q/k normalization, rotary positions and a SwiGLU MLP.
package qwen3

import (
	"context"
	"fmt"
	"slices"

	"github.com/kailas-cloud/semcache/internal/nn"
	"github.com/kailas-cloud/semcache/internal/weights"
)

// Config holds the fixed model hyperparameters.
type Config struct {
	Hidden       int
	Intermediate int
	Heads        int
	KVHeads      int
	HeadDim      int
	Layers       int
	Vocab        int
	Eps          float32
	RopeTheta    float32
	MaxPositions int
}

// DefaultConfig is pplx-embed-v1-0.6b.
func DefaultConfig() Config {
	return Config{
		Hidden:       1024,
		Intermediate: 3072,
		Heads:        16,
		KVHeads:      8,
		HeadDim:      128,
		Layers:       28,
		Vocab:        151936,
		Eps:          1e-6,
		RopeTheta:    1e6,
		MaxPositions: 32768,
	}
}

// Validate checks the hyperparameters.
func (c Config) Validate() error {
	if c.Hidden <= 0 || c.Intermediate <= 0 || c.Layers <= 0 || c.Vocab <= 0 || c.MaxPositions <= 0 {
		return fmt.Errorf("qwen3 config: sizes must be positive: %+v", c)
	}
	if err := (nn.Heads{Q: c.Heads, KV: c.KVHeads, Dim: c.HeadDim}).Validate(); err != nil {
		return fmt.Errorf("qwen3 config: %w", err)
	}
	if c.HeadDim%2 != 0 {
		return fmt.Errorf("qwen3 config: head dim %d must be even for rope", c.HeadDim)
	}
	if c.Eps <= 0 || c.RopeTheta <= 0 {
		return fmt.Errorf("qwen3 config: eps %v and rope theta %v must be positive", c.Eps, c.RopeTheta)
	}
	return nil
}

type layer struct {
	inputNorm    *nn.RMSNorm
	q, k, v, o   *nn.Linear
	qNorm, kNorm *nn.RMSNorm
	postNorm     *nn.RMSNorm
	mlp          *nn.SwiGLU
}

// Model is a loaded encoder. It is read-only and safe for concurrent use.
type Model struct {
	cfg    Config
	heads  nn.Heads
	embed  *weights.Tensor
	layers []layer
	norm   *nn.RMSNorm
	rope   *nn.RoPE
	closer func() error
}

// Load opens a safetensors checkpoint, taking its sizes from ConfigFrom.
func Load(path string) (*Model, error) {
	return open(path, ConfigFrom)
}

// LoadConfig opens a safetensors checkpoint with the given shape.
func LoadConfig(path string, cfg Config) (*Model, error) {
	return open(path, func(weights.Source) (Config, error) { return cfg, nil })
}

func open(path string, configure func(weights.Source) (Config, error)) (*Model, error) {
	st, err := weights.OpenSafetensors(path)
	if err != nil {
		return nil, err //nolint:wrapcheck // already names the file
	}
	cfg, err := configure(st)
	var m *Model
	if err == nil {
		m, err = New(st, cfg)
	}
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.closer = st.Close
	return m, nil
}

// ConfigFrom reads vocab, hidden, intermediate, head and layer sizes from the
// tensors in src. Eps, rope theta and positions come from DefaultConfig.
func ConfigFrom(src weights.Source) (Config, error) {
	p := prefix(src)
	shape := func(name string) ([]int, error) {
		s, err := weights.ShapeOf(src, p+name)
		if err != nil {
			return nil, err //nolint:wrapcheck // TensorError names the tensor
		}
		if len(s) == 0 {
			return nil, &weights.TensorError{Name: p + name, Err: fmt.Errorf("%w: scalar", weights.ErrFormat)}
		}
		return s, nil
	}

	cfg := DefaultConfig()
	emb, err := shape("embed_tokens.weight")
	if err != nil {
		return Config{}, err
	}
	if len(emb) != 2 {
		return Config{}, &weights.TensorError{Name: p + "embed_tokens.weight", Err: fmt.Errorf("%w: shape %v, want 2D", weights.ErrFormat, emb)}
	}
	cfg.Vocab, cfg.Hidden = emb[0], emb[1]

	cfg.Layers = 0
	for src.Has(fmt.Sprintf("%slayers.%d.input_layernorm.weight", p, cfg.Layers)) {
		cfg.Layers++
	}

	qNorm, err := shape("layers.0.self_attn.q_norm.weight")
	if err != nil {
		return Config{}, err
	}
	q, err := shape("layers.0.self_attn.q_proj.weight")
	if err != nil {
		return Config{}, err
	}
	k, err := shape("layers.0.self_attn.k_proj.weight")
	if err != nil {
		return Config{}, err
	}
	gate, err := shape("layers.0.mlp.gate_proj.weight")
	if err != nil {
		return Config{}, err
	}
	cfg.HeadDim = qNorm[0]
	if cfg.HeadDim <= 0 {
		return Config{}, fmt.Errorf("qwen3 config: head dim %d must be positive", cfg.HeadDim)
	}
	cfg.Heads = q[0] / cfg.HeadDim
	cfg.KVHeads = k[0] / cfg.HeadDim
	cfg.Intermediate = gate[0]

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// prefix detects the optional "model." namespace of full causal-LM exports.
func prefix(src weights.Source) string {
	if !src.Has("embed_tokens.weight") && src.Has("model.embed_tokens.weight") {
		return "model."
	}
	return ""
}

// New builds the model, fetching and shape-checking every tensor.
func New(src weights.Source, cfg Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h, ff, hd := cfg.Hidden, cfg.Intermediate, cfg.HeadDim
	qDim, kvDim := cfg.Heads*hd, cfg.KVHeads*hd
	l := &nn.Loader{Src: src, Prefix: prefix(src)}

	m := &Model{
		cfg:   cfg,
		heads: nn.Heads{Q: cfg.Heads, KV: cfg.KVHeads, Dim: hd},
		embed: l.Tensor("embed_tokens.weight", cfg.Vocab, h),
	}
	m.layers = make([]layer, cfg.Layers)
	for i := range m.layers {
		p := fmt.Sprintf("layers.%d.", i)
		m.layers[i] = layer{
			inputNorm: l.RMSNorm(p+"input_layernorm", h, cfg.Eps),
			q:         l.Linear(p+"self_attn.q_proj", qDim, h, false),
			k:         l.Linear(p+"self_attn.k_proj", kvDim, h, false),
			v:         l.Linear(p+"self_attn.v_proj", kvDim, h, false),
			o:         l.Linear(p+"self_attn.o_proj", h, qDim, false),
			qNorm:     l.RMSNorm(p+"self_attn.q_norm", hd, cfg.Eps),
			kNorm:     l.RMSNorm(p+"self_attn.k_norm", hd, cfg.Eps),
			postNorm:  l.RMSNorm(p+"post_attention_layernorm", h, cfg.Eps),
			mlp: &nn.SwiGLU{
				Gate: l.Linear(p+"mlp.gate_proj", ff, h, false),
				Up:   l.Linear(p+"mlp.up_proj", ff, h, false),
				Down: l.Linear(p+"mlp.down_proj", h, ff, false),
			},
		}
	}
	m.norm = l.RMSNorm("norm", h, cfg.Eps)
	if err := l.Err(); err != nil {
		return nil, fmt.Errorf("load qwen3 weights: %w", err)
	}

	rope, err := nn.NewRoPE(hd, cfg.MaxPositions, cfg.RopeTheta)
	if err != nil {
		return nil, err
	}
	m.rope = rope
	return m, nil
}

// Dim reports the embedding length.
func (m *Model) Dim() int { return m.cfg.Hidden }

// MaxLen reports the longest accepted token sequence.
func (m *Model) MaxLen() int { return m.cfg.MaxPositions }

// Close releases the mapped checkpoint.
func (m *Model) Close() error {
	if m.closer == nil {
		return nil
	}
	return m.closer()
}

// Forward encodes token ids into a unit vector.
func (m *Model) Forward(ctx context.Context, ids []int) ([]float32, error) {
	seq := len(ids)
	if err := nn.CheckLength(seq, m.cfg.MaxPositions); err != nil {
		return nil, err
	}
	x, err := nn.Lookup(m.embed, ids)
	if err != nil {
		return nil, err
	}
	for i := range m.layers {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		m.layers[i].forward(x, seq, m.heads, m.rope)
	}
	m.norm.Forward(x)
	return nn.Pool(x, seq, m.cfg.Hidden), nil
}

// forward applies one pre-norm block to x in place.
func (l *layer) forward(x []float32, seq int, heads nn.Heads, rope *nn.RoPE) {
	hn := slices.Clone(x)
	l.inputNorm.Forward(hn)

	q, k, v := l.q.Forward(hn, seq), l.k.Forward(hn, seq), l.v.Forward(hn, seq)
	l.qNorm.Forward(q)
	l.kNorm.Forward(k)
	rope.Apply(q, seq, heads.Q)
	rope.Apply(k, seq, heads.KV)
	nn.Add(x, l.o.Forward(heads.Attend(q, k, v, seq), seq))

	hn = slices.Clone(x)
	l.postNorm.Forward(hn)
	nn.Add(x, l.mlp.Forward(hn, seq))
}
