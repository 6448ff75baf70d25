package semcache

import "github.com/kailas-cloud/semcache/internal/domain"

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrEmptyInput             = domain.ErrEmptyInput
	ErrSequenceTooLong        = domain.ErrSequenceTooLong
	ErrTokenization           = domain.ErrTokenization
	ErrEntryNotFound          = domain.ErrEntryNotFound
	ErrDuplicateEntry         = domain.ErrDuplicateEntry
	ErrInvalidEntry           = domain.ErrInvalidEntry
	ErrEmbeddingProviderError = domain.ErrEmbeddingProviderError
)
