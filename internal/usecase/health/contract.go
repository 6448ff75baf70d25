package health

import "context"

// CachePinger checks embedding cache store availability.
type CachePinger interface {
	Ping(ctx context.Context) error
}

// EmbeddingChecker checks embedding backend availability.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
}

// CorpusSizer reports how many entries the served corpus holds.
type CorpusSizer interface {
	Size() int
}
