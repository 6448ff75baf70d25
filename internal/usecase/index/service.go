// Package index turns raw FAQ rows into embedded entries.
package index

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/semcache/internal/domain"
	"github.com/kailas-cloud/semcache/internal/logger"
)

// Service builds a corpus by embedding every question.
type Service struct {
	embed   Embedder
	workers int
	now     func() time.Time
}

// New creates an index service. workers <= 0 uses GOMAXPROCS.
func New(embed Embedder, workers int) *Service {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Service{embed: embed, workers: workers, now: time.Now}
}

// Workers returns the embed concurrency.
func (s *Service) Workers() int { return s.workers }

// Build validates rows and embeds them concurrently. The output keeps input
// order. The first failure cancels the remaining embeds.
func (s *Service) Build(ctx context.Context, rows []domain.RawFaq) ([]domain.FaqEntry, error) {
	if err := validate(rows); err != nil {
		return nil, err
	}

	log := logger.FromContext(ctx)
	start := time.Now()
	now := s.now().UTC()
	out := make([]domain.FaqEntry, len(rows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := range rows {
		g.Go(func() error {
			res, err := s.embed.Embed(gctx, rows[i].Question)
			if err != nil {
				return fmt.Errorf("embed %q: %w", rows[i].ID, err)
			}
			out[i] = newEntry(rows[i], res.Embedding, now)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("build index: %w", err)
	}

	log.Info("Index built",
		zap.Int("entries", len(out)),
		zap.Int("workers", s.workers),
		zap.Duration("duration", time.Since(start)),
	)
	return out, nil
}

func newEntry(row domain.RawFaq, vec []float32, now time.Time) domain.FaqEntry {
	source := domain.SourceHumanCurated
	verified := true
	return domain.FaqEntry{
		ID:        row.ID,
		Question:  row.Question,
		Answer:    row.Answer,
		Embedding: vec,
		CreatedAt: now,
		UpdatedAt: now,
		Tags:      []string{},
		Source:    &source,
		Verified:  &verified,
	}
}

func validate(rows []domain.RawFaq) error {
	seen := make(map[string]int, len(rows))
	for i, r := range rows {
		if strings.TrimSpace(r.ID) == "" {
			return fmt.Errorf("row %d: empty id: %w", i+1, domain.ErrInvalidEntry)
		}
		if strings.TrimSpace(r.Question) == "" {
			return fmt.Errorf("row %d (%s): empty question: %w", i+1, r.ID, domain.ErrInvalidEntry)
		}
		if prev, ok := seen[r.ID]; ok {
			return fmt.Errorf("id %q at rows %d and %d: %w", r.ID, prev, i+1, domain.ErrDuplicateEntry)
		}
		seen[r.ID] = i + 1
	}
	return nil
}
