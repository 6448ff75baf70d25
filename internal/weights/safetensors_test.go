package weights

import (
	"encoding/binary"
	"errors"
	"slices"
	"testing"

	"github.com/kailas-cloud/semcache/internal/weights/weightstest"
)

func rawSafetensors(header string, payload []byte) []byte {
	out := make([]byte, 8, 8+len(header)+len(payload))
	binary.LittleEndian.PutUint64(out, uint64(len(header)))
	out = append(out, header...)
	return append(out, payload...)
}

func TestParseSafetensors_F32(t *testing.T) {
	data := weightstest.Safetensors(map[string]weightstest.Tensor{
		"a.weight": {Shape: []int{2, 2}, Data: []float32{1, 2, 3, 4}},
		"b.bias":   {Shape: []int{3}, Data: []float32{-1, 0.5, 7}},
	})
	st, err := ParseSafetensors(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if names := st.Names(); !slices.Equal(names, []string{"a.weight", "b.bias"}) {
		t.Fatalf("unexpected names: %v", names)
	}
	if !st.Has("a.weight") || st.Has("__metadata__") {
		t.Error("unexpected Has result")
	}

	w, err := Require(st, "a.weight", 2, -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(w.Data, []float32{1, 2, 3, 4}) {
		t.Errorf("unexpected data: %v", w.Data)
	}
	b, err := st.Tensor("b.bias")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(b.Data, []float32{-1, 0.5, 7}) {
		t.Errorf("unexpected data: %v", b.Data)
	}
}

func TestParseSafetensors_HalfPrecision(t *testing.T) {
	header := `{"h":{"dtype":"F16","shape":[2],"data_offsets":[0,4]},"b":{"dtype":"BF16","shape":[1],"data_offsets":[4,6]}}`
	payload := []byte{0x00, 0x3C, 0x00, 0xC0, 0x80, 0x3F}
	st, err := ParseSafetensors(rawSafetensors(header, payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h, _ := st.Tensor("h")
	if !slices.Equal(h.Data, []float32{1, -2}) {
		t.Errorf("F16 = %v", h.Data)
	}
	b, _ := st.Tensor("b")
	if !slices.Equal(b.Data, []float32{1}) {
		t.Errorf("BF16 = %v", b.Data)
	}
}

func TestParseSafetensors_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		data   []byte
		tensor string
	}{
		{"short prefix", []byte{1, 2, 3}, ""},
		{"header past end", rawSafetensors(`{}`, nil)[:9], ""},
		{"bad json", rawSafetensors(`{not json`, nil), ""},
		{"offset out of range", rawSafetensors(`{"x":{"dtype":"F32","shape":[4],"data_offsets":[0,16]}}`, make([]byte, 8)), "x"},
		{"size mismatch", rawSafetensors(`{"x":{"dtype":"F32","shape":[3],"data_offsets":[0,8]}}`, make([]byte, 8)), "x"},
		{"unsupported dtype", rawSafetensors(`{"x":{"dtype":"I64","shape":[1],"data_offsets":[0,8]}}`, make([]byte, 8)), "x"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseSafetensors(tc.data)
			if !errors.Is(err, ErrFormat) {
				t.Fatalf("expected ErrFormat, got %v", err)
			}
			if tc.tensor == "" {
				return
			}
			var te *TensorError
			if !errors.As(err, &te) || te.Name != tc.tensor {
				t.Fatalf("expected TensorError for %q, got %v", tc.tensor, err)
			}
		})
	}
}

func TestParseSafetensors_HeaderCap(t *testing.T) {
	data := make([]byte, 16)
	binary.LittleEndian.PutUint64(data, maxHeaderLen+1)
	if _, err := ParseSafetensors(data); !errors.Is(err, ErrFormat) {
		t.Fatalf("expected ErrFormat, got %v", err)
	}
}

func TestOpenSafetensors_File(t *testing.T) {
	data := weightstest.Safetensors(map[string]weightstest.Tensor{
		"w": {Shape: []int{2}, Data: []float32{3, 4}},
	})
	path := weightstest.WriteFile(t, "model.safetensors", data)

	st, err := OpenSafetensors(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer st.Close()

	w, err := st.Tensor("w")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(w.Data, []float32{3, 4}) {
		t.Errorf("unexpected data: %v", w.Data)
	}
}
