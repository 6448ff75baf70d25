// Package eval scores a corpus and embedder against labeled queries.
package eval

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/semcache/internal/domain"
	"github.com/kailas-cloud/semcache/internal/logger"
	"github.com/kailas-cloud/semcache/internal/retrieval"
)

// Outcome is the result of one case.
type Outcome struct {
	CaseID         string          `json:"case_id"`
	Passed         bool            `json:"passed"`
	ActualDecision domain.Decision `json:"actual_decision"`
	ActualFaqID    *string         `json:"actual_faq_id"`
	Score          float32         `json:"score"`
	LatencyMs      float64         `json:"latency_ms"`
}

// Summary aggregates outcomes in case order.
type Summary struct {
	Total    int       `json:"total"`
	Passed   int       `json:"passed"`
	Failed   int       `json:"failed"`
	PassRate float32   `json:"pass_rate"`
	Outcomes []Outcome `json:"outcomes"`
}

// CaseExpectation is what a case requires of a match.
type CaseExpectation struct {
	Decision      domain.Decision
	FaqID         *string
	MinSimilarity *float32
}

// ExpectationOf extracts the expectation of c.
func ExpectationOf(c domain.EvalCase) CaseExpectation {
	return CaseExpectation{Decision: c.ExpectedDecision, FaqID: c.ExpectedFaqID, MinSimilarity: c.MinSimilarity}
}

// Matches reports whether m satisfies every set expectation.
func (e CaseExpectation) Matches(m domain.RetrievalMatch) bool {
	if e.Decision != m.Decision {
		return false
	}
	if e.FaqID != nil && (m.EntryID == nil || *m.EntryID != *e.FaqID) {
		return false
	}
	if e.MinSimilarity != nil && m.Score < *e.MinSimilarity {
		return false
	}
	return true
}

// Runner evaluates cases, optionally embedding several at once.
type Runner struct {
	embed   Embedder
	workers int
}

// NewRunner creates a runner. workers <= 0 uses GOMAXPROCS.
func NewRunner(embed Embedder, workers int) *Runner {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Runner{embed: embed, workers: workers}
}

// Evaluate runs every case sequentially.
func Evaluate(
	ctx context.Context,
	embed Embedder,
	corpus []domain.FaqEntry,
	cases []domain.EvalCase,
	threshold float32,
) (Summary, error) {
	return NewRunner(embed, 1).Evaluate(ctx, corpus, cases, threshold)
}

// Evaluate decides each case against corpus. Latency covers embed plus
// decide. Any embed failure aborts the evaluation.
func (r *Runner) Evaluate(
	ctx context.Context,
	corpus []domain.FaqEntry,
	cases []domain.EvalCase,
	threshold float32,
) (Summary, error) {
	outcomes := make([]Outcome, len(cases))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i := range cases {
		g.Go(func() error {
			o, err := r.runCase(gctx, corpus, cases[i], threshold)
			if err != nil {
				return err
			}
			outcomes[i] = o
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Summary{}, fmt.Errorf("evaluate: %w", err)
	}

	s := Summarize(outcomes)
	logger.FromContext(ctx).Info("Evaluation finished",
		zap.Int("total", s.Total),
		zap.Int("passed", s.Passed),
		zap.Float32("pass_rate", s.PassRate),
	)
	return s, nil
}

func (r *Runner) runCase(
	ctx context.Context,
	corpus []domain.FaqEntry,
	c domain.EvalCase,
	threshold float32,
) (Outcome, error) {
	start := time.Now()
	res, err := r.embed.Embed(ctx, c.Question)
	if err != nil {
		return Outcome{}, fmt.Errorf("case %q: %w", c.CaseID, err)
	}
	m := retrieval.Decide(res.Embedding, corpus, threshold)
	latency := time.Since(start)

	return Outcome{
		CaseID:         c.CaseID,
		Passed:         ExpectationOf(c).Matches(m),
		ActualDecision: m.Decision,
		ActualFaqID:    m.EntryID,
		Score:          m.Score,
		LatencyMs:      float64(latency.Nanoseconds()) / 1e6,
	}, nil
}

// Summarize counts outcomes. PassRate is 0 when there are none.
func Summarize(outcomes []Outcome) Summary {
	s := Summary{Total: len(outcomes), Outcomes: outcomes}
	for _, o := range outcomes {
		if o.Passed {
			s.Passed++
		}
	}
	s.Failed = s.Total - s.Passed
	if s.Total > 0 {
		s.PassRate = float32(s.Passed) / float32(s.Total)
	}
	return s
}
