// Package embedder selects and wires an embedding backend from model and
// tokenizer paths.
package embedder

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/semcache/internal/domain"
)

// Tokenizer turns text into token ids.
type Tokenizer interface {
	Encode(text string) ([]int, error)
}

// Model is a loaded transformer encoder.
type Model interface {
	Forward(ctx context.Context, ids []int) ([]float32, error)
	Dim() int
	Close() error
}

var _ domain.Embedder = (*Local)(nil)

// Local runs a tokenizer and an in-process model.
type Local struct {
	tok   Tokenizer
	model Model
}

// NewLocal pairs a tokenizer with a model.
func NewLocal(tok Tokenizer, model Model) *Local {
	return &Local{tok: tok, model: model}
}

// Embed implements domain.Embedder.
func (l *Local) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	ids, err := l.tok.Encode(text)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("tokenize: %w", err)
	}
	vec, err := l.model.Forward(ctx, ids)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("forward: %w", err)
	}
	return domain.EmbeddingResult{Embedding: vec, PromptTokens: len(ids), TotalTokens: len(ids)}, nil
}

// Close releases the model.
func (l *Local) Close() error {
	return l.model.Close() //nolint:wrapcheck // backend errors name the file
}
