package weights

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/kailas-cloud/semcache/internal/weights/weightstest"
)

// guardReader fails the test if more than limit bytes are consumed.
type guardReader struct {
	t     *testing.T
	r     io.Reader
	limit int
	read  int
}

func (g *guardReader) Read(p []byte) (int, error) {
	n, err := g.r.Read(p)
	g.read += n
	if g.read > g.limit {
		g.t.Fatalf("read %d bytes, payload starts at %d", g.read, g.limit)
	}
	return n, err
}

func sniffImage(header string) ([]byte, int) {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, uint64(len(header)))
	buf.WriteString(header)
	headerEnd := buf.Len()
	buf.Write(bytes.Repeat([]byte{0xAB}, 4096)) // payload
	return buf.Bytes(), headerEnd
}

func TestSniffReader(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   Arch
		err    error
	}{
		{
			name:   "bert encoder",
			header: `{"encoder.layer.0.attention.self.query.weight":{"dtype":"F32"}}`,
			want:   ArchMiniLM,
		},
		{
			name:   "prefixed bert encoder",
			header: `{"bert.encoder.layer.0.attention.self.query.weight":{}}`,
			want:   ArchMiniLM,
		},
		{
			name:   "decoder layers",
			header: `{"layers.0.self_attn.q_proj.weight":{"dtype":"BF16"}}`,
			want:   ArchQwen3,
		},
		{
			name:   "unknown",
			header: `{"transformer.h.0.attn.c_attn.weight":{}}`,
			err:    ErrUnsupportedArch,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data, headerEnd := sniffImage(tc.header)
			r := &guardReader{t: t, r: bytes.NewReader(data), limit: headerEnd}

			got, err := SniffReader(r)
			if tc.err != nil {
				if !errors.Is(err, tc.err) {
					t.Fatalf("expected %v, got %v", tc.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestSniffReader_CapsHeaderRead(t *testing.T) {
	marker := "layers.0.self_attn.q_proj.weight"
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, uint64(1<<40)) // absurd declared length
	buf.WriteString(fmt.Sprintf(`{%q:{}}`, marker))
	buf.Write(make([]byte, SniffLimit))

	r := &guardReader{t: t, r: &buf, limit: 8 + SniffLimit}
	got, err := SniffReader(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != ArchQwen3 {
		t.Errorf("expected %q, got %q", ArchQwen3, got)
	}
}

func TestSniffReader_Truncated(t *testing.T) {
	if _, err := SniffReader(bytes.NewReader([]byte{1, 2})); !errors.Is(err, ErrFormat) {
		t.Fatalf("expected ErrFormat, got %v", err)
	}
}

func TestSniff_File(t *testing.T) {
	data := weightstest.Safetensors(map[string]weightstest.Tensor{
		"model.layers.0.self_attn.q_proj.weight": {Shape: []int{1}, Data: []float32{1}},
	})
	path := weightstest.WriteFile(t, "qwen.safetensors", data)
	got, err := Sniff(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != ArchQwen3 {
		t.Errorf("expected %q, got %q", ArchQwen3, got)
	}
}
