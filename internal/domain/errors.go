package domain

import "errors"

var (
	// ErrSequenceTooLong signals a tokenized input beyond the model context.
	ErrSequenceTooLong = errors.New("sequence too long")
	// ErrEmptyInput signals text that produced no tokens.
	ErrEmptyInput = errors.New("empty input")
	// ErrTokenization signals a tokenizer failure.
	ErrTokenization = errors.New("tokenization failed")
	// ErrEntryNotFound signals a missing FAQ entry.
	ErrEntryNotFound = errors.New("entry not found")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrDuplicateEntry signals two FAQ rows with the same id.
	ErrDuplicateEntry = errors.New("duplicate entry")
	// ErrInvalidEntry signals a FAQ row that cannot be indexed.
	ErrInvalidEntry = errors.New("invalid entry")
)
