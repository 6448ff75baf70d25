package health

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/semcache/internal/domain"
)

// embedderCheck adapts a domain.Embedder to EmbeddingChecker.
type embedderCheck struct {
	embedder domain.Embedder
}

// EmbedderCheck returns an EmbeddingChecker for e. Embedders that do not
// implement domain.HealthChecker always report healthy.
func EmbedderCheck(e domain.Embedder) EmbeddingChecker {
	return embedderCheck{embedder: e}
}

func (c embedderCheck) HealthCheck(ctx context.Context) error {
	if hc, ok := c.embedder.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("embedding health check: %w", err)
		}
	}
	return nil
}
