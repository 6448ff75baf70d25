package nn

import (
	"math/rand/v2"
	"testing"
)

func randSlice(rng *rand.Rand, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = rng.Float32()*2 - 1
	}
	return out
}

func TestHeads_Validate(t *testing.T) {
	tests := []struct {
		h  Heads
		ok bool
	}{
		{Heads{Q: 4, KV: 4, Dim: 8}, true},
		{Heads{Q: 4, KV: 2, Dim: 8}, true},
		{Heads{Q: 4, KV: 3, Dim: 8}, false},
		{Heads{Q: 0, KV: 1, Dim: 8}, false},
	}
	for _, tc := range tests {
		if err := tc.h.Validate(); (err == nil) != tc.ok {
			t.Errorf("%+v: Validate() = %v, want ok=%v", tc.h, err, tc.ok)
		}
	}
}

func TestAttend_SingleToken(t *testing.T) {
	// One key: softmax weight is 1, output equals v.
	h := Heads{Q: 2, KV: 1, Dim: 2}
	q := []float32{1, 2, 3, 4}
	k := []float32{0.5, -0.5}
	v := []float32{7, 8}
	out := h.Attend(q, k, v, 1)
	want := []float32{7, 8, 7, 8}
	for i := range want {
		if !approx(out[i], want[i], 1e-6) {
			t.Fatalf("expected %v, got %v", want, out)
		}
	}
}

func TestAttend_UniformScores(t *testing.T) {
	// Zero queries give uniform weights, so output is the mean of v.
	h := Heads{Q: 1, KV: 1, Dim: 2}
	q := make([]float32, 6)
	k := []float32{1, 0, 0, 1, 1, 1}
	v := []float32{3, 0, 0, 3, 3, 3}
	out := h.Attend(q, k, v, 3)
	for i := 0; i < 3; i++ {
		if !approx(out[i*2], 2, 1e-6) || !approx(out[i*2+1], 2, 1e-6) {
			t.Fatalf("row %d = %v, want [2 2]", i, out[i*2:i*2+2])
		}
	}
}

func TestAttend_GroupedMatchesRepeated(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	const seq, dim = 3, 4
	gqa := Heads{Q: 4, KV: 2, Dim: dim}
	mha := Heads{Q: 4, KV: 4, Dim: dim}

	q := randSlice(rng, seq*gqa.Q*dim)
	k := randSlice(rng, seq*gqa.KV*dim)
	v := randSlice(rng, seq*gqa.KV*dim)

	// Repeat each kv head contiguously: [kv0 kv0 kv1 kv1].
	repeat := func(x []float32) []float32 {
		out := make([]float32, 0, seq*mha.KV*dim)
		for s := 0; s < seq; s++ {
			for h := 0; h < gqa.KV; h++ {
				head := x[(s*gqa.KV+h)*dim : (s*gqa.KV+h+1)*dim]
				out = append(out, head...)
				out = append(out, head...)
			}
		}
		return out
	}

	got := gqa.Attend(q, k, v, seq)
	want := mha.Attend(q, repeat(k), repeat(v), seq)
	for i := range want {
		if !approx(got[i], want[i], 1e-5) {
			t.Fatalf("index %d: grouped %v, repeated %v", i, got[i], want[i])
		}
	}
}

func TestSoftmax(t *testing.T) {
	x := []float32{1000, 1000, 1000, 1000}
	Softmax(x)
	for _, v := range x {
		if !approx(v, 0.25, 1e-6) {
			t.Fatalf("expected uniform 0.25, got %v", x)
		}
	}
	Softmax(nil)
}
