package semcache

import (
	"time"

	"github.com/kailas-cloud/semcache/internal/domain"
)

// Decision is the outcome of a query.
type Decision string

// Decision values.
const (
	DecisionHit  Decision = Decision(domain.DecisionHit)
	DecisionMiss Decision = Decision(domain.DecisionMiss)
)

// FAQ is an unembedded question/answer row.
type FAQ struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Entry is an embedded FAQ row as stored in an index file.
type Entry struct {
	ID        string
	Question  string
	Answer    string
	Embedding []float32
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt *time.Time
	Product   string
	Locale    string
	Tags      []string
	Version   string
	Source    string
	Verified  *bool
}

// Match is one scored candidate. EntryID is empty on an empty corpus;
// Answer is set only on a hit.
type Match struct {
	EntryID  string
	Answer   string
	Score    float32
	Decision Decision
}

func faqsToDomain(rows []FAQ) []domain.RawFaq {
	out := make([]domain.RawFaq, len(rows))
	for i, r := range rows {
		out[i] = domain.RawFaq{ID: r.ID, Question: r.Question, Answer: r.Answer}
	}
	return out
}

func entryToDomain(e *Entry) domain.FaqEntry {
	return domain.FaqEntry{
		ID:        e.ID,
		Question:  e.Question,
		Answer:    e.Answer,
		Embedding: e.Embedding,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
		ExpiresAt: e.ExpiresAt,
		Product:   optString(e.Product),
		Locale:    optString(e.Locale),
		Tags:      e.Tags,
		Version:   optString(e.Version),
		Source:    optString(e.Source),
		Verified:  e.Verified,
	}
}

func entryFromDomain(e *domain.FaqEntry) Entry {
	return Entry{
		ID:        e.ID,
		Question:  e.Question,
		Answer:    e.Answer,
		Embedding: e.Embedding,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
		ExpiresAt: e.ExpiresAt,
		Product:   deref(e.Product),
		Locale:    deref(e.Locale),
		Tags:      e.Tags,
		Version:   deref(e.Version),
		Source:    deref(e.Source),
		Verified:  e.Verified,
	}
}

func entriesFromDomain(in []domain.FaqEntry) []Entry {
	out := make([]Entry, len(in))
	for i := range in {
		out[i] = entryFromDomain(&in[i])
	}
	return out
}

func entriesToDomain(in []Entry) []domain.FaqEntry {
	out := make([]domain.FaqEntry, len(in))
	for i := range in {
		out[i] = entryToDomain(&in[i])
	}
	return out
}

func matchFromDomain(m domain.RetrievalMatch) Match {
	return Match{
		EntryID:  deref(m.EntryID),
		Answer:   deref(m.Answer),
		Score:    m.Score,
		Decision: Decision(m.Decision),
	}
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
