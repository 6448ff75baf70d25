// Package retrieval ranks FAQ entries by cosine similarity and makes the
// hit/miss decision. It is stateless and safe for concurrent use against an
// immutable corpus.
package retrieval

import (
	"cmp"
	"math"
	"slices"

	"github.com/kailas-cloud/semcache/internal/domain"
)

// Scored pairs an entry with its similarity to the query.
type Scored struct {
	Entry *domain.FaqEntry
	Score float32
}

// CosineSimilarity returns dot(a,b)/(|a||b|). Empty, mismatched or zero-norm
// inputs yield 0.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float32
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / float32(math.Sqrt(float64(na))*math.Sqrt(float64(nb)))
}

// TopK scores every entry and returns the best min(k, len(corpus)) in
// descending order. Equal scores keep corpus order; NaN sorts last.
func TopK(query []float32, corpus []domain.FaqEntry, k int) []Scored {
	if k <= 0 || len(corpus) == 0 {
		return nil
	}
	scored := make([]Scored, len(corpus))
	for i := range corpus {
		scored[i] = Scored{Entry: &corpus[i], Score: CosineSimilarity(query, corpus[i].Embedding)}
	}
	slices.SortStableFunc(scored, func(a, b Scored) int {
		return compareDesc(a.Score, b.Score)
	})
	return scored[:min(k, len(scored))]
}

// compareDesc orders larger scores first and NaN after every number.
func compareDesc(a, b float32) int {
	aNaN, bNaN := math.IsNaN(float64(a)), math.IsNaN(float64(b))
	switch {
	case aNaN && bNaN:
		return 0
	case aNaN:
		return 1
	case bNaN:
		return -1
	}
	return cmp.Compare(b, a)
}

// TopMatch returns the best entry, or false for an empty corpus.
func TopMatch(query []float32, corpus []domain.FaqEntry) (Scored, bool) {
	top := TopK(query, corpus, 1)
	if len(top) == 0 {
		return Scored{}, false
	}
	return top[0], true
}

// Decide returns a hit when the best score reaches threshold. A miss still
// carries the nearest entry id so callers can inspect near-misses.
func Decide(query []float32, corpus []domain.FaqEntry, threshold float32) domain.RetrievalMatch {
	best, ok := TopMatch(query, corpus)
	if !ok {
		return domain.RetrievalMatch{Decision: domain.DecisionMiss}
	}
	return Match(best, threshold)
}

// Match converts a scored entry into a RetrievalMatch against threshold.
func Match(s Scored, threshold float32) domain.RetrievalMatch {
	id := s.Entry.ID
	m := domain.RetrievalMatch{EntryID: &id, Score: s.Score, Decision: domain.DecisionMiss}
	if s.Score >= threshold {
		answer := s.Entry.Answer
		m.Answer = &answer
		m.Decision = domain.DecisionHit
	}
	return m
}
