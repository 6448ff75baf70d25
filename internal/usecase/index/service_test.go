package index

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kailas-cloud/semcache/internal/domain"
)

// --- Mocks ---

// lengthEmbedder encodes the question length so order is checkable.
type lengthEmbedder struct {
	mu        sync.Mutex
	inFlight  int
	maxFlight int
	failOn    string
	calls     atomic.Int32
}

func (m *lengthEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	m.calls.Add(1)
	m.mu.Lock()
	m.inFlight++
	if m.inFlight > m.maxFlight {
		m.maxFlight = m.inFlight
	}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	time.Sleep(time.Millisecond)
	if err := ctx.Err(); err != nil {
		return domain.EmbeddingResult{}, err
	}
	if text == m.failOn {
		return domain.EmbeddingResult{}, domain.ErrSequenceTooLong
	}
	return domain.EmbeddingResult{Embedding: []float32{float32(len(text))}}, nil
}

func rows(questions ...string) []domain.RawFaq {
	out := make([]domain.RawFaq, len(questions))
	for i, q := range questions {
		out[i] = domain.RawFaq{ID: "faq-" + strings.Repeat("x", i+1), Question: q, Answer: "a" + q}
	}
	return out
}

// --- Tests ---

func TestBuild_KeepsOrderAndProvenance(t *testing.T) {
	emb := &lengthEmbedder{}
	svc := New(emb, 3)
	fixed := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	in := rows("a", "bbbb", "cc", "ddddddd", "eee")
	out, err := svc.Build(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("expected %d entries, got %d", len(in), len(out))
	}
	for i, e := range out {
		if e.ID != in[i].ID || e.Answer != in[i].Answer {
			t.Errorf("entry %d out of order: %+v", i, e)
		}
		if e.Embedding[0] != float32(len(in[i].Question)) {
			t.Errorf("entry %d has embedding of another row: %v", i, e.Embedding)
		}
		if e.Source == nil || *e.Source != domain.SourceHumanCurated {
			t.Errorf("entry %d: source = %v", i, e.Source)
		}
		if e.Verified == nil || !*e.Verified {
			t.Errorf("entry %d: verified should be true", i)
		}
		if !e.CreatedAt.Equal(fixed) || !e.UpdatedAt.Equal(fixed) {
			t.Errorf("entry %d: timestamps %v/%v", i, e.CreatedAt, e.UpdatedAt)
		}
	}
}

func TestBuild_RespectsWorkerLimit(t *testing.T) {
	emb := &lengthEmbedder{}
	svc := New(emb, 2)

	if _, err := svc.Build(context.Background(), rows("a", "b", "c", "d", "e", "f", "g", "h")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if emb.maxFlight > 2 {
		t.Errorf("expected at most 2 concurrent embeds, saw %d", emb.maxFlight)
	}
}

func TestBuild_DuplicateID(t *testing.T) {
	in := []domain.RawFaq{
		{ID: "same", Question: "q1"},
		{ID: "same", Question: "q2"},
	}
	emb := &lengthEmbedder{}
	_, err := New(emb, 1).Build(context.Background(), in)
	if !errors.Is(err, domain.ErrDuplicateEntry) {
		t.Fatalf("expected ErrDuplicateEntry, got %v", err)
	}
	if emb.calls.Load() != 0 {
		t.Error("validation must run before any embed")
	}
}

func TestBuild_InvalidRows(t *testing.T) {
	tests := []struct {
		name string
		row  domain.RawFaq
	}{
		{"empty question", domain.RawFaq{ID: "a", Question: "  "}},
		{"empty id", domain.RawFaq{ID: "", Question: "q"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(&lengthEmbedder{}, 1).Build(context.Background(), []domain.RawFaq{tc.row})
			if !errors.Is(err, domain.ErrInvalidEntry) {
				t.Fatalf("expected ErrInvalidEntry, got %v", err)
			}
		})
	}
}

func TestBuild_EmbedErrorNamesRow(t *testing.T) {
	emb := &lengthEmbedder{failOn: "boom"}
	_, err := New(emb, 2).Build(context.Background(), rows("ok", "boom", "fine"))
	if !errors.Is(err, domain.ErrSequenceTooLong) {
		t.Fatalf("expected wrapped ErrSequenceTooLong, got %v", err)
	}
	if !strings.Contains(err.Error(), `"faq-xx"`) {
		t.Errorf("error should name the failing id: %v", err)
	}
}

func TestBuild_Empty(t *testing.T) {
	out, err := New(&lengthEmbedder{}, 0).Build(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no entries, got %d", len(out))
	}
}

func TestNew_DefaultWorkers(t *testing.T) {
	if New(&lengthEmbedder{}, 0).Workers() < 1 {
		t.Fatal("default workers must be positive")
	}
}
