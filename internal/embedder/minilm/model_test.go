package minilm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"slices"
	"testing"

	"github.com/kailas-cloud/semcache/internal/domain"
	"github.com/kailas-cloud/semcache/internal/weights"
	"github.com/kailas-cloud/semcache/internal/weights/weightstest"
)

var tinyConfig = Config{Hidden: 8, Intermediate: 16, Heads: 2, Layers: 2, Vocab: 30, MaxPositions: 10, Eps: 1e-12}

func tinyTensors(prefix string) map[string]weightstest.Tensor {
	return checkpoint(tinyConfig, prefix)
}

func checkpoint(c Config, prefix string) map[string]weightstest.Tensor {
	rng := rand.New(rand.NewPCG(3, 4))
	r := func(shape ...int) weightstest.Tensor { return weightstest.Random(rng, 0.5, shape...) }
	h, ff := c.Hidden, c.Intermediate

	ts := map[string]weightstest.Tensor{
		"embeddings.word_embeddings.weight":       r(c.Vocab, h),
		"embeddings.position_embeddings.weight":   r(c.MaxPositions, h),
		"embeddings.token_type_embeddings.weight": r(2, h),
		"embeddings.LayerNorm.weight":             weightstest.Fill(1, h),
		"embeddings.LayerNorm.bias":               r(h),
	}
	linear := func(name string, out, in int) {
		ts[name+".weight"] = r(out, in)
		ts[name+".bias"] = r(out)
	}
	norm := func(name string) {
		ts[name+".weight"] = weightstest.Fill(1, h)
		ts[name+".bias"] = r(h)
	}
	for i := 0; i < c.Layers; i++ {
		p := fmt.Sprintf("encoder.layer.%d.", i)
		linear(p+"attention.self.query", h, h)
		linear(p+"attention.self.key", h, h)
		linear(p+"attention.self.value", h, h)
		linear(p+"attention.output.dense", h, h)
		norm(p + "attention.output.LayerNorm")
		linear(p+"intermediate.dense", ff, h)
		linear(p+"output.dense", h, ff)
		norm(p + "output.LayerNorm")
	}
	if prefix == "" {
		return ts
	}
	prefixed := make(map[string]weightstest.Tensor, len(ts))
	for k, v := range ts {
		prefixed[prefix+k] = v
	}
	return prefixed
}

func loadTiny(t *testing.T, prefix string) *Model {
	t.Helper()
	path := weightstest.WriteFile(t, "model.safetensors", weightstest.Safetensors(tinyTensors(prefix)))
	m, err := LoadConfig(path, tinyConfig)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
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

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	if c.Hidden != 384 || c.Intermediate != 1536 || c.Heads != 12 || c.Layers != 6 ||
		c.Vocab != 30522 || c.MaxPositions != 512 || c.Eps != 1e-12 {
		t.Errorf("unexpected default config %+v", c)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestModel_Forward(t *testing.T) {
	for _, prefix := range []string{"", "bert."} {
		t.Run("prefix="+prefix, func(t *testing.T) {
			m := loadTiny(t, prefix)
			v, err := m.Forward(context.Background(), []int{2, 11, 7, 3})
			if err != nil {
				t.Fatalf("Forward: %v", err)
			}
			if len(v) != tinyConfig.Hidden {
				t.Fatalf("expected %d dims, got %d", tinyConfig.Hidden, len(v))
			}
			if n := l2(v); math.Abs(n-1) > 1e-2 {
				t.Errorf("expected unit norm, got %v", n)
			}
			again, _ := m.Forward(context.Background(), []int{2, 11, 7, 3})
			if !slices.Equal(v, again) {
				t.Error("Forward is not deterministic")
			}
		})
	}
}

func TestModel_PositionSensitive(t *testing.T) {
	m := loadTiny(t, "")
	a, _ := m.Forward(context.Background(), []int{4, 5})
	b, _ := m.Forward(context.Background(), []int{5, 4})
	if slices.Equal(a, b) {
		t.Error("token order should change the embedding")
	}
}

func TestModel_ForwardErrors(t *testing.T) {
	m := loadTiny(t, "")
	if _, err := m.Forward(context.Background(), make([]int, tinyConfig.MaxPositions+1)); !errors.Is(err, domain.ErrSequenceTooLong) {
		t.Errorf("expected ErrSequenceTooLong, got %v", err)
	}
	if _, err := m.Forward(context.Background(), []int{}); !errors.Is(err, domain.ErrEmptyInput) {
		t.Errorf("expected ErrEmptyInput, got %v", err)
	}
	if _, err := m.Forward(context.Background(), make([]int, tinyConfig.MaxPositions)); err != nil {
		t.Errorf("max length input should succeed: %v", err)
	}
}

func TestNew_WrongShape(t *testing.T) {
	ts := tinyTensors("")
	ts["encoder.layer.1.intermediate.dense.weight"] = weightstest.Fill(0, 4, tinyConfig.Hidden)
	st, err := weights.ParseSafetensors(weightstest.Safetensors(ts))
	if err != nil {
		t.Fatalf("ParseSafetensors: %v", err)
	}
	_, err = New(st, tinyConfig)
	var te *weights.TensorError
	if !errors.As(err, &te) || te.Name != "encoder.layer.1.intermediate.dense.weight" {
		t.Fatalf("expected TensorError naming the tensor, got %v", err)
	}
}

func TestLoad_RealCheckpoint(t *testing.T) {
	path := os.Getenv("SEMCACHE_TEST_MINILM")
	if path == "" {
		t.Skip("SEMCACHE_TEST_MINILM not set")
	}
	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer m.Close()
	v, err := m.Forward(context.Background(), []int{101, 2129, 2079, 1045, 25141, 2026, 20786, 1029, 102})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if len(v) != 384 {
		t.Errorf("expected 384 dims, got %d", len(v))
	}
}

func TestConfigFrom(t *testing.T) {
	for _, prefix := range []string{"", "bert."} {
		t.Run("prefix="+prefix, func(t *testing.T) {
			st, err := weights.ParseSafetensors(weightstest.Safetensors(tinyTensors(prefix)))
			if err != nil {
				t.Fatalf("ParseSafetensors: %v", err)
			}
			got, err := ConfigFrom(st)
			if err != nil {
				t.Fatalf("ConfigFrom: %v", err)
			}
			want := tinyConfig
			want.Heads = DefaultConfig().Heads
			if got != want {
				t.Errorf("expected %+v, got %+v", want, got)
			}
		})
	}
}

func TestLoad_SmallCheckpoint(t *testing.T) {
	c := Config{Hidden: 24, Intermediate: 32, Heads: 12, Layers: 1, Vocab: 30, MaxPositions: 10, Eps: 1e-12}
	path := weightstest.WriteFile(t, "model.safetensors", weightstest.Safetensors(checkpoint(c, "")))

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer func() { _ = m.Close() }()
	if m.cfg != c {
		t.Errorf("expected %+v, got %+v", c, m.cfg)
	}
	v, err := m.Forward(context.Background(), []int{1, 7, 2})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if len(v) != c.Hidden {
		t.Errorf("expected %d dims, got %d", c.Hidden, len(v))
	}
}

func TestLoad_HeadsNotDividingHidden(t *testing.T) {
	path := weightstest.WriteFile(t, "model.safetensors", weightstest.Safetensors(tinyTensors("")))
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for hidden 8 with the default 12 heads")
	}
}
