package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/semcache/internal/domain"
	"github.com/kailas-cloud/semcache/internal/logger"
	"github.com/kailas-cloud/semcache/internal/metrics"
)

// InstrumentedEmbedder wraps Embedder with metrics and logging.
// It records requests, duration and tokens for every backend, local or remote.
type InstrumentedEmbedder struct {
	inner   domain.Embedder
	backend string
}

// NewInstrumentedEmbedder wraps an embedder under the given backend label.
func NewInstrumentedEmbedder(inner domain.Embedder, backend string) *InstrumentedEmbedder {
	return &InstrumentedEmbedder{inner: inner, backend: backend}
}

// Embed delegates to the inner embedder and records the outcome.
// The logger is taken from ctx.
func (p *InstrumentedEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	log := logger.FromContext(ctx)
	start := time.Now()

	result, err := p.inner.Embed(ctx, text)

	duration := time.Since(start)

	if err != nil {
		kind := errorType(err)
		metrics.EmbeddingRequestsTotal.WithLabelValues(p.backend, "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(p.backend, kind).Inc()
		log.Warn("Embedding request failed",
			zap.String("backend", p.backend),
			zap.String("error_type", kind),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return domain.EmbeddingResult{}, fmt.Errorf("embed: %w", err)
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(p.backend, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(p.backend).Observe(duration.Seconds())
	if result.TotalTokens > 0 {
		metrics.EmbeddingTokensTotal.WithLabelValues(p.backend).Add(float64(result.TotalTokens))
	}

	log.Debug("Embedding request completed",
		zap.String("backend", p.backend),
		zap.Duration("duration", duration),
		zap.Int("dimensions", len(result.Embedding)),
		zap.Int("total_tokens", result.TotalTokens),
	)

	return result, nil
}

// HealthCheck forwards to inner when it supports health checks.
func (p *InstrumentedEmbedder) HealthCheck(ctx context.Context) error {
	if hc, ok := p.inner.(domain.HealthChecker); ok {
		return hc.HealthCheck(ctx) //nolint:wrapcheck // transparent decorator
	}
	return nil
}

// errorType maps an embed failure to a low-cardinality metric label.
func errorType(err error) string {
	switch {
	case errors.Is(err, domain.ErrSequenceTooLong):
		return "sequence_too_long"
	case errors.Is(err, domain.ErrEmptyInput):
		return "empty_input"
	case errors.Is(err, domain.ErrTokenization):
		return "tokenization"
	case errors.Is(err, domain.ErrEmbeddingProviderError):
		return "provider"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}
