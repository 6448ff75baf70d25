package embedder

import (
	"context"
	"os"
	"testing"

	"github.com/kailas-cloud/semcache/internal/retrieval"
)

// TestCheckpoint_ParaphraseOrdering runs against a real model when
// SEMCACHE_TEST_MODEL and SEMCACHE_TEST_TOKENIZER point at one.
func TestCheckpoint_ParaphraseOrdering(t *testing.T) {
	modelPath := os.Getenv("SEMCACHE_TEST_MODEL")
	tokPath := os.Getenv("SEMCACHE_TEST_TOKENIZER")
	if modelPath == "" || tokPath == "" {
		t.Skip("SEMCACHE_TEST_MODEL/SEMCACHE_TEST_TOKENIZER not set")
	}

	ctx := context.Background()
	b, err := Open(ctx, Options{ModelPath: modelPath, TokenizerPath: tokPath})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = b.Close() }()

	embed := func(text string) []float32 {
		t.Helper()
		r, err := b.Embedder.Embed(ctx, text)
		if err != nil {
			t.Fatalf("embed %q: %v", text, err)
		}
		if len(r.Embedding) != b.Dim {
			t.Fatalf("embed %q: dim %d, want %d", text, len(r.Embedding), b.Dim)
		}
		return r.Embedding
	}

	anchor := embed("How do I reset my password?")
	paraphrase := embed("I forgot my password, how can I sign in again?")
	unrelated := embed("What is the weather like in Tokyo?")

	near := retrieval.CosineSimilarity(anchor, paraphrase)
	far := retrieval.CosineSimilarity(anchor, unrelated)
	t.Logf("%s: paraphrase %.4f, unrelated %.4f", b.ModelID, near, far)
	if near <= far {
		t.Errorf("paraphrase score %.4f should exceed unrelated score %.4f", near, far)
	}

	again := embed("How do I reset my password?")
	if s := retrieval.CosineSimilarity(anchor, again); s < 0.9999 {
		t.Errorf("embedding is not deterministic: self-similarity %.6f", s)
	}
}
