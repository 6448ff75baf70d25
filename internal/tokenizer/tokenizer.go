// Package tokenizer adapts a HuggingFace tokenizer.json to a plain token-id encoder.
package tokenizer

import (
	"fmt"

	hf "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"

	"github.com/kailas-cloud/semcache/internal/domain"
)

// HF encodes text with a pretrained tokenizer, adding special tokens.
type HF struct {
	tk   *hf.Tokenizer
	path string
}

// Load reads a tokenizer.json file.
func Load(path string) (*HF, error) {
	tk, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %s: %w", path, err)
	}
	return &HF{tk: tk, path: path}, nil
}

// Encode returns the token ids of text. Failures wrap domain.ErrTokenization.
func (h *HF) Encode(text string) ([]int, error) {
	en, err := h.tk.EncodeSingle(text, true)
	if err != nil {
		return nil, fmt.Errorf("encode with %s: %v: %w", h.path, err, domain.ErrTokenization)
	}
	return en.Ids, nil
}
