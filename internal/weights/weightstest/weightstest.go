// Package weightstest builds small in-memory checkpoints for tests.
package weightstest

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

// Tensor is a named F32 tensor to serialize.
type Tensor struct {
	Shape []int
	Data  []float32
}

// Random returns a tensor of the given shape filled with values in [-scale, scale).
func Random(rng *rand.Rand, scale float32, shape ...int) Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	data := make([]float32, n)
	for i := range data {
		data[i] = (rng.Float32()*2 - 1) * scale
	}
	return Tensor{Shape: shape, Data: data}
}

// Fill returns a tensor of the given shape with every element set to v.
func Fill(v float32, shape ...int) Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	data := make([]float32, n)
	for i := range data {
		data[i] = v
	}
	return Tensor{Shape: shape, Data: data}
}

// Safetensors encodes tensors as an F32 safetensors image.
func Safetensors(tensors map[string]Tensor) []byte {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	slices.Sort(names)

	header := make(map[string]any, len(names)+1)
	header["__metadata__"] = map[string]string{"format": "pt"}
	var payload bytes.Buffer
	for _, name := range names {
		t := tensors[name]
		begin := payload.Len()
		for _, v := range t.Data {
			_ = binary.Write(&payload, binary.LittleEndian, math.Float32bits(v))
		}
		header[name] = map[string]any{
			"dtype":        "F32",
			"shape":        t.Shape,
			"data_offsets": []int{begin, payload.Len()},
		}
	}
	hdr, _ := json.Marshal(header)
	// Pad so the payload starts 8-byte aligned, as the reference writer does.
	for len(hdr)%8 != 0 {
		hdr = append(hdr, ' ')
	}

	var out bytes.Buffer
	_ = binary.Write(&out, binary.LittleEndian, uint64(len(hdr)))
	out.Write(hdr)
	out.Write(payload.Bytes())
	return out.Bytes()
}

// GGUF accumulates metadata and F32 tensors for a GGUF v3 image.
type GGUF struct {
	kv      bytes.Buffer
	nKV     int
	names   []string
	tensors map[string]Tensor
}

// NewGGUF returns an empty builder.
func NewGGUF() *GGUF {
	return &GGUF{tensors: make(map[string]Tensor)}
}

func (g *GGUF) key(k string, typ uint32) {
	writeString(&g.kv, k)
	_ = binary.Write(&g.kv, binary.LittleEndian, typ)
	g.nKV++
}

// Uint32 adds a u32 metadata entry.
func (g *GGUF) Uint32(k string, v uint32) *GGUF {
	g.key(k, 4)
	_ = binary.Write(&g.kv, binary.LittleEndian, v)
	return g
}

// Float32 adds an f32 metadata entry.
func (g *GGUF) Float32(k string, v float32) *GGUF {
	g.key(k, 6)
	_ = binary.Write(&g.kv, binary.LittleEndian, math.Float32bits(v))
	return g
}

// String adds a string metadata entry.
func (g *GGUF) String(k, v string) *GGUF {
	g.key(k, 8)
	writeString(&g.kv, v)
	return g
}

// Strings adds a string array metadata entry.
func (g *GGUF) Strings(k string, vs []string) *GGUF {
	g.key(k, 9)
	_ = binary.Write(&g.kv, binary.LittleEndian, uint32(8))
	_ = binary.Write(&g.kv, binary.LittleEndian, uint64(len(vs)))
	for _, v := range vs {
		writeString(&g.kv, v)
	}
	return g
}

// Tensor adds an F32 tensor. Shape is outermost first.
func (g *GGUF) Tensor(name string, t Tensor) *GGUF {
	if _, ok := g.tensors[name]; !ok {
		g.names = append(g.names, name)
	}
	g.tensors[name] = t
	return g
}

// Bytes encodes the image with 32-byte alignment.
func (g *GGUF) Bytes() []byte {
	const align = 32
	var out bytes.Buffer
	_ = binary.Write(&out, binary.LittleEndian, uint32(0x46554747))
	_ = binary.Write(&out, binary.LittleEndian, uint32(3))
	_ = binary.Write(&out, binary.LittleEndian, uint64(len(g.names)))
	_ = binary.Write(&out, binary.LittleEndian, uint64(g.nKV))
	out.Write(g.kv.Bytes())

	var offset uint64
	for _, name := range g.names {
		t := g.tensors[name]
		writeString(&out, name)
		_ = binary.Write(&out, binary.LittleEndian, uint32(len(t.Shape)))
		for i := len(t.Shape) - 1; i >= 0; i-- {
			_ = binary.Write(&out, binary.LittleEndian, uint64(t.Shape[i]))
		}
		_ = binary.Write(&out, binary.LittleEndian, uint32(0)) // F32
		_ = binary.Write(&out, binary.LittleEndian, offset)
		offset += alignUp(uint64(len(t.Data)*4), align)
	}
	pad(&out, align)

	for _, name := range g.names {
		for _, v := range g.tensors[name].Data {
			_ = binary.Write(&out, binary.LittleEndian, math.Float32bits(v))
		}
		pad(&out, align)
	}
	return out.Bytes()
}

// WriteFile writes data into a fresh file under t.TempDir and returns its path.
func WriteFile(t testing.TB, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func writeString(b *bytes.Buffer, s string) {
	_ = binary.Write(b, binary.LittleEndian, uint64(len(s)))
	b.WriteString(s)
}

func alignUp(n, a uint64) uint64 { return (n + a - 1) / a * a }

func pad(b *bytes.Buffer, a int) {
	for b.Len()%a != 0 {
		b.WriteByte(0)
	}
}
