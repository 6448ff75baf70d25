package domain

// EvalCase is one labeled query of an evaluation set.
type EvalCase struct {
	CaseID           string   `json:"case_id"`
	Question         string   `json:"question"`
	ExpectedDecision Decision `json:"expected_decision"`
	ExpectedFaqID    *string  `json:"expected_faq_id,omitempty"`
	MinSimilarity    *float32 `json:"min_similarity,omitempty"`
}
