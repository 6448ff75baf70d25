// Package minilm runs all-MiniLM-L6-v2 style BERT encoders from safetensors:
// learned absolute positions, separate Q/K/V projections and post-norm layers.
package minilm

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/semcache/internal/nn"
	"github.com/kailas-cloud/semcache/internal/weights"
)

// Config holds the fixed encoder hyperparameters.
type Config struct {
	Hidden       int
	Intermediate int
	Heads        int
	Layers       int
	Vocab        int
	MaxPositions int
	Eps          float32
}

// DefaultConfig is all-MiniLM-L6-v2.
func DefaultConfig() Config {
	return Config{
		Hidden:       384,
		Intermediate: 1536,
		Heads:        12,
		Layers:       6,
		Vocab:        30522,
		MaxPositions: 512,
		Eps:          1e-12,
	}
}

// Validate checks the hyperparameters.
func (c Config) Validate() error {
	if c.Hidden <= 0 || c.Intermediate <= 0 || c.Heads <= 0 || c.Layers <= 0 || c.Vocab <= 0 || c.MaxPositions <= 0 {
		return fmt.Errorf("minilm config: sizes must be positive: %+v", c)
	}
	if c.Hidden%c.Heads != 0 {
		return fmt.Errorf("minilm config: hidden %d not divisible by %d heads", c.Hidden, c.Heads)
	}
	return nil
}

type layer struct {
	q, k, v, out *nn.Linear
	attnNorm     *nn.LayerNorm
	ffn          *nn.DenseGELU
	ffnNorm      *nn.LayerNorm
}

// Model is a loaded encoder. It is read-only and safe for concurrent use.
type Model struct {
	cfg       Config
	heads     nn.Heads
	words     *weights.Tensor
	positions *weights.Tensor
	tokenType []float32
	embNorm   *nn.LayerNorm
	layers    []layer
	closer    func() error
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

// ConfigFrom reads vocab, hidden, intermediate, position and layer sizes from
// the tensors in src. The head count is not recorded in the tensors and stays
// at DefaultConfig's, as does eps.
func ConfigFrom(src weights.Source) (Config, error) {
	p := prefix(src)
	matrix := func(name string) ([]int, error) {
		s, err := weights.ShapeOf(src, p+name)
		if err != nil {
			return nil, err //nolint:wrapcheck // TensorError names the tensor
		}
		if len(s) != 2 {
			return nil, &weights.TensorError{Name: p + name, Err: fmt.Errorf("%w: shape %v, want 2D", weights.ErrFormat, s)}
		}
		return s, nil
	}

	cfg := DefaultConfig()
	words, err := matrix("embeddings.word_embeddings.weight")
	if err != nil {
		return Config{}, err
	}
	positions, err := matrix("embeddings.position_embeddings.weight")
	if err != nil {
		return Config{}, err
	}
	up, err := matrix("encoder.layer.0.intermediate.dense.weight")
	if err != nil {
		return Config{}, err
	}
	cfg.Vocab, cfg.Hidden = words[0], words[1]
	cfg.MaxPositions = positions[0]
	cfg.Intermediate = up[0]

	cfg.Layers = 0
	for src.Has(fmt.Sprintf("%sencoder.layer.%d.attention.self.query.weight", p, cfg.Layers)) {
		cfg.Layers++
	}
	return cfg, nil
}

// prefix detects the optional "bert." namespace used by some exports.
func prefix(src weights.Source) string {
	for _, p := range []string{"", "bert."} {
		if src.Has(p + "embeddings.word_embeddings.weight") {
			return p
		}
	}
	return ""
}

// New builds the model, fetching and shape-checking every tensor.
func New(src weights.Source, cfg Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h, ff := cfg.Hidden, cfg.Intermediate
	l := &nn.Loader{Src: src, Prefix: prefix(src)}

	m := &Model{
		cfg:       cfg,
		heads:     nn.Heads{Q: cfg.Heads, KV: cfg.Heads, Dim: h / cfg.Heads},
		words:     l.Tensor("embeddings.word_embeddings.weight", cfg.Vocab, h),
		positions: l.Tensor("embeddings.position_embeddings.weight", cfg.MaxPositions, h),
	}
	if types := l.Tensor("embeddings.token_type_embeddings.weight", -1, h); types != nil {
		m.tokenType = types.Row(0)
	}
	m.embNorm = l.LayerNorm("embeddings.LayerNorm", h, cfg.Eps)

	m.layers = make([]layer, cfg.Layers)
	for i := range m.layers {
		p := fmt.Sprintf("encoder.layer.%d.", i)
		m.layers[i] = layer{
			q:        l.Linear(p+"attention.self.query", h, h, true),
			k:        l.Linear(p+"attention.self.key", h, h, true),
			v:        l.Linear(p+"attention.self.value", h, h, true),
			out:      l.Linear(p+"attention.output.dense", h, h, true),
			attnNorm: l.LayerNorm(p+"attention.output.LayerNorm", h, cfg.Eps),
			ffn: &nn.DenseGELU{
				Up:   l.Linear(p+"intermediate.dense", ff, h, true),
				Down: l.Linear(p+"output.dense", h, ff, true),
			},
			ffnNorm: l.LayerNorm(p+"output.LayerNorm", h, cfg.Eps),
		}
	}
	if err := l.Err(); err != nil {
		return nil, fmt.Errorf("load minilm weights: %w", err)
	}
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
	seq, h := len(ids), m.cfg.Hidden
	if err := nn.CheckLength(seq, m.cfg.MaxPositions); err != nil {
		return nil, err
	}
	x, err := nn.Lookup(m.words, ids)
	if err != nil {
		return nil, err
	}
	for s := 0; s < seq; s++ {
		row := x[s*h : (s+1)*h]
		nn.Add(row, m.positions.Row(s))
		nn.Add(row, m.tokenType)
	}
	m.embNorm.Forward(x)

	for i := range m.layers {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		ly := &m.layers[i]
		q, k, v := ly.q.Forward(x, seq), ly.k.Forward(x, seq), ly.v.Forward(x, seq)
		nn.Add(x, ly.out.Forward(m.heads.Attend(q, k, v, seq), seq))
		ly.attnNorm.Forward(x)

		nn.Add(x, ly.ffn.Forward(x, seq))
		ly.ffnNorm.Forward(x)
	}
	return nn.Pool(x, seq, h), nil
}
