package domain

import "time"

// SourceHumanCurated marks entries built from a reviewed FAQ file.
const SourceHumanCurated = "human_curated"

// FaqEntry is one curated question/answer pair with its precomputed embedding.
// Only ID, Answer and Embedding take part in retrieval.
type FaqEntry struct {
	ID        string     `json:"id"`
	Question  string     `json:"question"`
	Answer    string     `json:"answer"`
	Embedding []float32  `json:"embedding"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Product   *string    `json:"product,omitempty"`
	Locale    *string    `json:"locale,omitempty"`
	Tags      []string   `json:"tags"`
	Version   *string    `json:"version,omitempty"`
	Source    *string    `json:"source,omitempty"`
	Verified  *bool      `json:"verified,omitempty"`
}

// Expired reports whether the entry has an expiry before now.
func (e *FaqEntry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && e.ExpiresAt.Before(now)
}

// RawFaq is an unembedded FAQ row, the input of an index build.
type RawFaq struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Decision is the outcome of a retrieval.
type Decision string

// Decision values.
const (
	DecisionHit  Decision = "hit"
	DecisionMiss Decision = "miss"
)

// RetrievalMatch is the result of deciding one query against a corpus.
// Answer is set only on a hit. EntryID is set whenever the corpus is non-empty.
type RetrievalMatch struct {
	EntryID  *string  `json:"entry_id"`
	Answer   *string  `json:"answer"`
	Score    float32  `json:"score"`
	Decision Decision `json:"decision"`
}
