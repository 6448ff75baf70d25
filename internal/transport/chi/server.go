// Package chi exposes the query service over HTTP.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/semcache/internal/domain"
	healthuc "github.com/kailas-cloud/semcache/internal/usecase/health"
)

// Limits applied to request bodies.
const (
	maxBodyBytes = 1 << 20
	maxSimilarK  = 100
)

// Querier answers questions against the served corpus.
type Querier interface {
	Query(ctx context.Context, question string) (domain.RetrievalMatch, error)
	Similar(ctx context.Context, question string, k int) ([]domain.RetrievalMatch, error)
	Get(id string) (domain.FaqEntry, error)
}

// HealthReporter aggregates component health.
type HealthReporter interface {
	Check(ctx context.Context) healthuc.Report
}

// Error codes returned in ErrorResponse.
const (
	CodeBadRequest        = "bad_request"
	CodeUnauthorized      = "unauthorized"
	CodeEmptyInput        = "empty_input"
	CodeSequenceTooLong   = "sequence_too_long"
	CodeTokenization      = "tokenization_failed"
	CodeInvalidEntry      = "validation_failed"
	CodeEntryNotFound     = "entry_not_found"
	CodeEmbeddingProvider = "embedding_provider_error"
	CodeInternal          = "internal_error"
)

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// QueryRequest is the body of POST /api/v1/query.
type QueryRequest struct {
	Question string `json:"question"`
}

// SimilarRequest is the body of POST /api/v1/similar. K defaults to the server's top-k.
type SimilarRequest struct {
	Question string `json:"question"`
	K        int    `json:"k"`
}

// SimilarResponse wraps the matches of POST /api/v1/similar.
type SimilarResponse struct {
	Matches []domain.RetrievalMatch `json:"matches"`
}

// EntryResponse is a FAQ entry without its embedding.
type EntryResponse struct {
	ID        string     `json:"id"`
	Question  string     `json:"question"`
	Answer    string     `json:"answer"`
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

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

// Server holds the HTTP handlers.
type Server struct {
	query         Querier
	health        HealthReporter
	topK          int
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server. topK is the default k of /similar.
func NewServer(query Querier, health HealthReporter, topK int, logger *zap.Logger) *Server {
	if topK <= 0 {
		topK = 5
	}
	s := &Server{query: query, health: health, topK: min(topK, maxSimilarK), logger: logger}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrEmptyInput, http.StatusBadRequest, CodeEmptyInput),
		sentinelHandler(domain.ErrSequenceTooLong, http.StatusBadRequest, CodeSequenceTooLong),
		sentinelHandler(domain.ErrTokenization, http.StatusBadRequest, CodeTokenization),
		sentinelHandler(domain.ErrInvalidEntry, http.StatusBadRequest, CodeInvalidEntry),
		sentinelHandler(domain.ErrEntryNotFound, http.StatusNotFound, CodeEntryNotFound),
		sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, CodeEmbeddingProvider),
	}
	return s
}

// Routes mounts the API on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/query", s.Query)
		r.Post("/similar", s.Similar)
		r.Get("/entries/{id}", s.GetEntry)
	})
}

// Query handles POST /api/v1/query.
func (s *Server) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	m, err := s.query.Query(r.Context(), req.Question)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// Similar handles POST /api/v1/similar.
func (s *Server) Similar(w http.ResponseWriter, r *http.Request) {
	var req SimilarRequest
	if !decodeBody(w, r, &req) {
		return
	}
	k := req.K
	switch {
	case k == 0:
		k = s.topK
	case k < 0 || k > maxSimilarK:
		writeError(w, http.StatusBadRequest, CodeInvalidEntry, "k must be between 1 and 100")
		return
	}
	matches, err := s.query.Similar(r.Context(), req.Question, k)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SimilarResponse{Matches: matches})
}

// GetEntry handles GET /api/v1/entries/{id}.
func (s *Server) GetEntry(w http.ResponseWriter, r *http.Request) {
	e, err := s.query.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entryToResponse(&e))
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())
	status := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
// The client sees the sentinel text only, never the wrapped chain.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, sentinel.Error())
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	for _, h := range s.errorHandlers {
		if h(w, err) {
			s.logger.Debug("domain error", zap.String("path", r.URL.Path), zap.Error(err))
			return
		}
	}
	s.logger.Error("internal error", zap.String("path", r.URL.Path), zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternal, "internal error")
}

func entryToResponse(e *domain.FaqEntry) EntryResponse {
	tags := e.Tags
	if tags == nil {
		tags = []string{}
	}
	return EntryResponse{
		ID:        e.ID,
		Question:  e.Question,
		Answer:    e.Answer,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
		ExpiresAt: e.ExpiresAt,
		Product:   e.Product,
		Locale:    e.Locale,
		Tags:      tags,
		Version:   e.Version,
		Source:    e.Source,
		Verified:  e.Verified,
	}
}
