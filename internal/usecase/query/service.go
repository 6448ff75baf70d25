// Package query answers questions against an in-memory FAQ corpus.
package query

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/semcache/internal/domain"
	"github.com/kailas-cloud/semcache/internal/logger"
	"github.com/kailas-cloud/semcache/internal/metrics"
	"github.com/kailas-cloud/semcache/internal/retrieval"
)

// snapshot is an immutable view of the served corpus.
type snapshot struct {
	entries []domain.FaqEntry
	byID    map[string]int
}

// Service decides queries against the current corpus snapshot.
// Replace may run concurrently with queries.
type Service struct {
	embed     Embedder
	threshold float32
	corpus    atomic.Pointer[snapshot]
	now       func() time.Time
}

// New creates a query service with an empty corpus.
func New(embed Embedder, threshold float32) *Service {
	s := &Service{embed: embed, threshold: threshold, now: time.Now}
	s.corpus.Store(&snapshot{byID: map[string]int{}})
	return s
}

// Threshold returns the hit threshold.
func (s *Service) Threshold() float32 { return s.threshold }

// Replace installs entries as the served corpus, dropping expired ones.
// It returns the number of entries kept. entries must not be mutated afterwards.
func (s *Service) Replace(entries []domain.FaqEntry) int {
	now := s.now()
	kept := make([]domain.FaqEntry, 0, len(entries))
	byID := make(map[string]int, len(entries))
	for i := range entries {
		if entries[i].Expired(now) {
			continue
		}
		byID[entries[i].ID] = len(kept)
		kept = append(kept, entries[i])
	}
	s.corpus.Store(&snapshot{entries: kept, byID: byID})
	return len(kept)
}

// Size returns the number of served entries.
func (s *Service) Size() int {
	return len(s.corpus.Load().entries)
}

// Get returns a served entry by id.
func (s *Service) Get(id string) (domain.FaqEntry, error) {
	snap := s.corpus.Load()
	i, ok := snap.byID[id]
	if !ok {
		return domain.FaqEntry{}, fmt.Errorf("entry %q: %w", id, domain.ErrEntryNotFound)
	}
	return snap.entries[i], nil
}

// Query embeds question and decides it against the corpus.
func (s *Service) Query(ctx context.Context, question string) (domain.RetrievalMatch, error) {
	vec, err := s.embedQuestion(ctx, question)
	if err != nil {
		return domain.RetrievalMatch{}, err
	}

	m := retrieval.Decide(vec, s.corpus.Load().entries, s.threshold)
	s.record(ctx, m)
	return m, nil
}

// Similar returns the k nearest entries, each decided against the threshold.
func (s *Service) Similar(ctx context.Context, question string, k int) ([]domain.RetrievalMatch, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d: %w", k, domain.ErrInvalidEntry)
	}
	vec, err := s.embedQuestion(ctx, question)
	if err != nil {
		return nil, err
	}

	top := retrieval.TopK(vec, s.corpus.Load().entries, k)
	out := make([]domain.RetrievalMatch, len(top))
	for i, sc := range top {
		out[i] = retrieval.Match(sc, s.threshold)
	}
	return out, nil
}

func (s *Service) embedQuestion(ctx context.Context, question string) ([]float32, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("question: %w", domain.ErrEmptyInput)
	}
	res, err := s.embed.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	return res.Embedding, nil
}

func (s *Service) record(ctx context.Context, m domain.RetrievalMatch) {
	metrics.DecisionsTotal.WithLabelValues(string(m.Decision)).Inc()
	metrics.DecisionScore.Observe(float64(m.Score))

	fields := []zap.Field{
		zap.String("decision", string(m.Decision)),
		zap.Float32("score", m.Score),
	}
	if m.EntryID != nil {
		fields = append(fields, zap.String("entry_id", *m.EntryID))
	}
	logger.FromContext(ctx).Debug("Query decided", fields...)
}
