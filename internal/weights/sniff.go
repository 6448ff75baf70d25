package weights

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// Arch identifies a transformer assembly.
type Arch string

// Known architectures.
const (
	ArchNomicMoE Arch = "nomic-bert-moe"
	ArchMiniLM   Arch = "minilm"
	ArchQwen3    Arch = "qwen3"
)

// SniffLimit is the most header bytes Sniff will read.
const SniffLimit = 10 << 20

var archMarkers = []struct {
	marker []byte
	arch   Arch
}{
	{[]byte("encoder.layer.0.attention.self.query.weight"), ArchMiniLM},
	{[]byte("layers.0.self_attn.q_proj.weight"), ArchQwen3},
}

// Sniff detects the architecture of a safetensors file from its header alone.
func Sniff(path string) (Arch, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	arch, err := SniffReader(f)
	if err != nil {
		return "", fmt.Errorf("sniff %s: %w", path, err)
	}
	return arch, nil
}

// SniffReader reads the length prefix and at most SniffLimit header bytes
// from r. Tensor payload bytes are never consumed.
func SniffReader(r io.Reader) (Arch, error) {
	var prefix [8]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return "", fmt.Errorf("%w: read header length: %v", ErrFormat, err)
	}
	n := binary.LittleEndian.Uint64(prefix[:])
	if n > SniffLimit {
		n = SniffLimit
	}

	header := make([]byte, n)
	read, err := io.ReadFull(r, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("%w: read header: %v", ErrFormat, err)
	}
	header = header[:read]

	for _, m := range archMarkers {
		if bytes.Contains(header, m.marker) {
			return m.arch, nil
		}
	}
	return "", fmt.Errorf("%w: no known tensor names in safetensors header", ErrUnsupportedArch)
}
