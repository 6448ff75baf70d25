package nomic

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"strings"
	"testing"

	"github.com/kailas-cloud/semcache/internal/domain"
	"github.com/kailas-cloud/semcache/internal/weights"
	"github.com/kailas-cloud/semcache/internal/weights/weightstest"
)

const (
	tHidden  = 8
	tHeads   = 2
	tLayers  = 2
	tExperts = 4
	tFF      = 16
	tVocab   = 20
	tMaxLen  = 16
)

func tinyGGUF(gated bool) *weightstest.GGUF {
	rng := rand.New(rand.NewPCG(42, 0))
	r := func(shape ...int) weightstest.Tensor { return weightstest.Random(rng, 0.5, shape...) }
	ones := func(n int) weightstest.Tensor { return weightstest.Fill(1, n) }

	g := weightstest.NewGGUF().
		String("general.architecture", Arch).
		Uint32(Arch+".embedding_length", tHidden).
		Uint32(Arch+".attention.head_count", tHeads).
		Uint32(Arch+".block_count", tLayers).
		Uint32(Arch+".expert_count", tExperts).
		Uint32(Arch+".expert_used_count", 2).
		Uint32(Arch+".moe_every_n_layers", 2).
		Float32(Arch+".rope.freq_base", 10000).
		Float32(Arch+".attention.layer_norm_epsilon", 1e-5).
		Uint32(Arch+".context_length", tMaxLen).
		Tensor("token_embd.weight", r(tVocab, tHidden)).
		Tensor("token_types.weight", r(2, tHidden)).
		Tensor("token_embd_norm.weight", ones(tHidden)).
		Tensor("token_embd_norm.bias", r(tHidden))

	for i := 0; i < tLayers; i++ {
		p := fmt.Sprintf("blk.%d.", i)
		g.Tensor(p+"attn_qkv.weight", r(3*tHidden, tHidden)).
			Tensor(p+"attn_qkv.bias", r(3*tHidden)).
			Tensor(p+"attn_output.weight", r(tHidden, tHidden)).
			Tensor(p+"attn_output.bias", r(tHidden)).
			Tensor(p+"attn_output_norm.weight", ones(tHidden)).
			Tensor(p+"attn_output_norm.bias", r(tHidden)).
			Tensor(p+"layer_output_norm.weight", ones(tHidden)).
			Tensor(p+"layer_output_norm.bias", r(tHidden))
		if i%2 == 0 {
			g.Tensor(p+"ffn_up.weight", r(tFF, tHidden)).
				Tensor(p+"ffn_up.bias", r(tFF)).
				Tensor(p+"ffn_down.weight", r(tHidden, tFF)).
				Tensor(p+"ffn_down.bias", r(tHidden))
			continue
		}
		g.Tensor(p+"ffn_gate_inp.weight", r(tExperts, tHidden)).
			Tensor(p+"ffn_up_exps.weight", r(tExperts, tFF, tHidden)).
			Tensor(p+"ffn_down_exps.weight", r(tExperts, tHidden, tFF))
		if gated {
			g.Tensor(p+"ffn_gate_exps.weight", r(tExperts, tFF, tHidden))
		}
	}
	return g
}

func loadTiny(t *testing.T, gated bool) *Model {
	t.Helper()
	path := weightstest.WriteFile(t, "tiny.gguf", tinyGGUF(gated).Bytes())
	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func l2(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func TestConfigFromGGUF(t *testing.T) {
	g, err := weights.ParseGGUF(tinyGGUF(false).Bytes())
	if err != nil {
		t.Fatalf("ParseGGUF: %v", err)
	}
	cfg, err := ConfigFromGGUF(g)
	if err != nil {
		t.Fatalf("ConfigFromGGUF: %v", err)
	}
	want := Config{
		Hidden: tHidden, Heads: tHeads, HeadDim: tHidden / tHeads, Layers: tLayers,
		Experts: tExperts, ExpertsUsed: 2, MoEEvery: 2,
		RopeBase: 10000, Eps: 1e-5, MaxLen: tMaxLen,
	}
	if cfg != want {
		t.Errorf("expected %+v, got %+v", want, cfg)
	}
	if cfg.IsMoE(0) || !cfg.IsMoE(1) {
		t.Error("expected layer 0 dense and layer 1 MoE")
	}
}

func TestConfigFromGGUF_MissingKey(t *testing.T) {
	img := weightstest.NewGGUF().
		Uint32(Arch+".embedding_length", 8).
		Uint32(Arch+".attention.head_count", 2).
		Uint32(Arch+".block_count", 1).
		Bytes()
	g, err := weights.ParseGGUF(img)
	if err != nil {
		t.Fatalf("ParseGGUF: %v", err)
	}
	_, err = ConfigFromGGUF(g)
	var me *weights.MetadataError
	if !errors.As(err, &me) {
		t.Fatalf("expected MetadataError, got %v", err)
	}
	if me.Key != Arch+".expert_count" {
		t.Errorf("expected key %s.expert_count, got %s", Arch, me.Key)
	}
	if !strings.Contains(err.Error(), "missing or invalid GGUF metadata: nomic-bert-moe.expert_count") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestConfigFromGGUF_WrongType(t *testing.T) {
	img := weightstest.NewGGUF().
		Float32(Arch+".embedding_length", 8).
		Bytes()
	g, _ := weights.ParseGGUF(img)
	_, err := ConfigFromGGUF(g)
	if !errors.Is(err, weights.ErrMissingMetadata) {
		t.Fatalf("expected ErrMissingMetadata, got %v", err)
	}
	if !strings.Contains(err.Error(), Arch+".embedding_length") {
		t.Errorf("error should name the key: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	base := Config{Hidden: 8, Heads: 2, HeadDim: 4, Layers: 1, Experts: 4, ExpertsUsed: 2, MoEEvery: 2, RopeBase: 1e4, Eps: 1e-5, MaxLen: 8}
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero hidden", func(c *Config) { c.Hidden = 0 }},
		{"indivisible heads", func(c *Config) { c.Heads = 3 }},
		{"odd head dim", func(c *Config) { c.Hidden, c.HeadDim = 6, 3 }},
		{"zero moe every", func(c *Config) { c.MoEEvery = 0 }},
		{"too many active", func(c *Config) { c.ExpertsUsed = 5 }},
		{"zero eps", func(c *Config) { c.Eps = 0 }},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config invalid: %v", err)
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := base
			tc.mutate(&c)
			if err := c.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestModel_Forward(t *testing.T) {
	for _, gated := range []bool{false, true} {
		t.Run(fmt.Sprintf("gated=%v", gated), func(t *testing.T) {
			m := loadTiny(t, gated)
			if m.Dim() != tHidden || m.MaxLen() != tMaxLen {
				t.Fatalf("unexpected dims %d/%d", m.Dim(), m.MaxLen())
			}
			ids := []int{1, 5, 7, 3}
			v, err := m.Forward(context.Background(), ids)
			if err != nil {
				t.Fatalf("Forward: %v", err)
			}
			if len(v) != tHidden {
				t.Fatalf("expected %d dims, got %d", tHidden, len(v))
			}
			if n := l2(v); math.Abs(n-1) > 1e-2 {
				t.Errorf("expected unit norm, got %v", n)
			}
			again, _ := m.Forward(context.Background(), ids)
			if !slices.Equal(v, again) {
				t.Error("Forward is not deterministic")
			}
			other, _ := m.Forward(context.Background(), []int{9, 9, 2})
			if slices.Equal(v, other) {
				t.Error("different inputs produced identical vectors")
			}
		})
	}
}

func TestModel_ForwardErrors(t *testing.T) {
	m := loadTiny(t, false)

	long := make([]int, tMaxLen+1)
	if _, err := m.Forward(context.Background(), long); !errors.Is(err, domain.ErrSequenceTooLong) {
		t.Errorf("expected ErrSequenceTooLong, got %v", err)
	}
	if _, err := m.Forward(context.Background(), nil); !errors.Is(err, domain.ErrEmptyInput) {
		t.Errorf("expected ErrEmptyInput, got %v", err)
	}
	if _, err := m.Forward(context.Background(), []int{tVocab}); !errors.Is(err, domain.ErrTokenization) {
		t.Errorf("expected ErrTokenization, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Forward(ctx, []int{1}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestLoad_MissingTensor(t *testing.T) {
	img := tinyGGUF(false)
	g, _ := weights.ParseGGUF(img.Bytes())
	cfg, _ := ConfigFromGGUF(g)
	cfg.Layers = 3 // blk.2 does not exist

	_, err := New(g, cfg)
	var te *weights.TensorError
	if !errors.As(err, &te) {
		t.Fatalf("expected TensorError, got %v", err)
	}
	if !strings.HasPrefix(te.Name, "blk.2.") {
		t.Errorf("expected error naming a blk.2 tensor, got %s", te.Name)
	}
}

func TestLoad_ShapeMismatch(t *testing.T) {
	img := tinyGGUF(false).Tensor("blk.0.attn_qkv.weight", weightstest.Fill(0, 2*tHidden, tHidden))
	g, _ := weights.ParseGGUF(img.Bytes())
	cfg, _ := ConfigFromGGUF(g)
	_, err := New(g, cfg)
	if !errors.Is(err, weights.ErrFormat) {
		t.Fatalf("expected ErrFormat, got %v", err)
	}
	if !strings.Contains(err.Error(), "blk.0.attn_qkv.weight") {
		t.Errorf("error should name the tensor: %v", err)
	}
}
