package health

import "context"

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates an optional component is failing; queries still work.
	Degraded Status = "degraded"
	// Unhealthy indicates queries cannot be answered.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Report aggregates health check results.
type Report struct {
	Status  Status                 `json:"status"`
	Checks  map[string]CheckResult `json:"checks"`
	Entries int                    `json:"entries"`
}

// Service coordinates health checks.
type Service struct {
	cache     CachePinger
	embedding EmbeddingChecker
	corpus    CorpusSizer
}

// New creates a Service. cache and corpus can be nil.
func New(cache CachePinger, embedding EmbeddingChecker, corpus CorpusSizer) *Service {
	return &Service{cache: cache, embedding: embedding, corpus: corpus}
}

// Check runs health checks against all components. An embedding failure
// makes the service unhealthy; a cache failure only degrades it because
// embeds fall through to the backend.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)
	status := Healthy

	if s.embedding != nil {
		if err := s.embedding.HealthCheck(ctx); err != nil {
			checks["embedding"] = CheckError
			status = Unhealthy
		} else {
			checks["embedding"] = CheckOK
		}
	}

	if s.cache != nil {
		if err := s.cache.Ping(ctx); err != nil {
			checks["cache"] = CheckError
			if status == Healthy {
				status = Degraded
			}
		} else {
			checks["cache"] = CheckOK
		}
	}

	var entries int
	if s.corpus != nil {
		entries = s.corpus.Size()
	}

	return Report{Status: status, Checks: checks, Entries: entries}
}
