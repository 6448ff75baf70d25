// Package hash is the feature-hashing baseline embedder. It needs no model
// files and is used when no checkpoint is configured.
package hash

import (
	"context"
	"hash/fnv"
	"strings"

	"github.com/kailas-cloud/semcache/internal/domain"
	"github.com/kailas-cloud/semcache/internal/nn"
)

const (
	// DefaultDim is the vector length when none is configured.
	DefaultDim = 768
	// MinDim is the smallest accepted vector length.
	MinDim = 8
)

var _ domain.Embedder = (*Embedder)(nil)

// Embedder hashes lowercase ASCII alphanumeric tokens into a bag-of-words vector.
type Embedder struct {
	dim int
}

// New returns an embedder of max(dim, MinDim) dimensions. dim 0 selects DefaultDim.
func New(dim int) *Embedder {
	if dim == 0 {
		dim = DefaultDim
	}
	return &Embedder{dim: max(dim, MinDim)}
}

// Dim reports the output vector length.
func (e *Embedder) Dim() int { return e.dim }

// Embed implements domain.Embedder. Text without tokens maps to the zero vector.
func (e *Embedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	v := make([]float32, e.dim)
	tokens := Tokens(text)
	for _, tok := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		v[h.Sum64()%uint64(e.dim)]++
	}
	nn.L2Normalize(v)
	return domain.EmbeddingResult{Embedding: v, PromptTokens: len(tokens), TotalTokens: len(tokens)}, nil
}

// Tokens lowercases ASCII letters and splits on every rune that is not an
// ASCII letter or digit.
func Tokens(text string) []string {
	return strings.FieldsFunc(asciiLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}

// asciiLower leaves non-ASCII runes alone. strings.ToLower would fold some of
// them (the Kelvin sign) into ASCII letters.
func asciiLower(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}, s)
}
