package cluster

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/kailas-cloud/semcache/internal/domain"
	"github.com/kailas-cloud/semcache/internal/retrieval"
)

func TestGreedy_GroupsIdenticalSeparatesOrthogonal(t *testing.T) {
	embs := [][]float32{
		{1, 0, 0},
		{0, 1, 0},
		{1, 0, 0},
		{0, 0, 1},
		{1, 0, 0},
		{0, 1, 0},
	}
	got := Greedy(embs, 0.8)
	if len(got) != 3 {
		t.Fatalf("expected 3 clusters, got %d", len(got))
	}
	if len(got[0].Members) != 3 || got[0].Representative != 0 {
		t.Errorf("largest cluster should be x-axis with 3 members, got %+v", got[0])
	}
	if len(got[1].Members) != 2 || got[1].Representative != 1 {
		t.Errorf("second cluster should be y-axis with 2 members, got %+v", got[1])
	}
	if len(got[2].Members) != 1 || got[2].Representative != 3 {
		t.Errorf("third cluster should be z-axis singleton, got %+v", got[2])
	}
}

func TestGreedy_StrictThreshold(t *testing.T) {
	embs := [][]float32{{1, 0}, {0.6, 0.8}}
	sim := retrieval.CosineSimilarity(embs[0], embs[1])
	if got := Greedy(embs, sim); len(got) != 2 {
		t.Fatalf("similarity equal to threshold must not join, got %d clusters", len(got))
	}
	if got := Greedy(embs, sim-0.01); len(got) != 1 {
		t.Fatalf("similarity above threshold must join, got %d clusters", len(got))
	}
}

func TestGreedy_RunningMeanCentroid(t *testing.T) {
	got := Greedy([][]float32{{1, 0}, {0.8, 0.6}}, 0.5)
	if len(got) != 1 {
		t.Fatalf("expected 1 cluster, got %d", len(got))
	}
	c := got[0].Centroid
	if !approx(c[0], 0.9) || !approx(c[1], 0.3) {
		t.Fatalf("centroid = %v, want [0.9 0.3]", c)
	}
}

func TestGreedy_DoesNotAliasInput(t *testing.T) {
	first := []float32{1, 0}
	Greedy([][]float32{first, {0.8, 0.6}}, 0.5)
	if first[0] != 1 || first[1] != 0 {
		t.Fatalf("input mutated: %v", first)
	}
}

func TestGreedy_Empty(t *testing.T) {
	if got := Greedy(nil, 0.5); len(got) != 0 {
		t.Fatalf("expected no clusters, got %d", len(got))
	}
}

func TestDownsample(t *testing.T) {
	idx := Downsample(100, 10)
	if len(idx) != 10 || idx[0] != 0 || idx[1] != 10 || idx[9] != 90 {
		t.Errorf("unexpected indices: %v", idx)
	}
	if idx := Downsample(5, 100); len(idx) != 5 || idx[4] != 4 {
		t.Errorf("expected identity for small input, got %v", idx)
	}
	if idx := Downsample(7, 3); len(idx) != 3 || idx[1] != 2 || idx[2] != 4 {
		t.Errorf("unexpected uneven indices: %v", idx)
	}
}

type axisEmbedder struct{}

// Embed maps text starting with "a" to x and everything else to y.
func (axisEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	if text == "" {
		return domain.EmbeddingResult{}, domain.ErrEmptyInput
	}
	if strings.HasPrefix(text, "a") {
		return domain.EmbeddingResult{Embedding: []float32{1, 0}}, nil
	}
	return domain.EmbeddingResult{Embedding: []float32{0, 1}}, nil
}

func TestService_Questions(t *testing.T) {
	svc := New(axisEmbedder{}, 2)
	got, err := svc.Questions(context.Background(), []string{"b1", "a1", "a2", "a3"}, 0.8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || len(got[0].Members) != 3 || got[0].Representative != 1 {
		t.Fatalf("unexpected clusters: %+v", got)
	}
}

func TestService_EmbedError(t *testing.T) {
	_, err := New(axisEmbedder{}, 1).Questions(context.Background(), []string{"a", ""}, 0.8)
	if !errors.Is(err, domain.ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
}

type squadAnswers struct {
	Text        []string `parquet:"text,list"`
	AnswerStart []int32  `parquet:"answer_start,list"`
}

type squadFixture struct {
	ID       string       `parquet:"id"`
	Title    string       `parquet:"title"`
	Context  string       `parquet:"context"`
	Question string       `parquet:"question"`
	Answers  squadAnswers `parquet:"answers"`
}

func writeSquad(t *testing.T, rows []squadFixture) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "squad.parquet")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w := parquet.NewGenericWriter[squadFixture](f)
	if _, err := w.Write(rows); err != nil {
		t.Fatalf("write rows: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadSquad(t *testing.T) {
	path := writeSquad(t, []squadFixture{
		{ID: "q1", Title: "Normans", Context: "ctx", Question: "Who were the Normans?",
			Answers: squadAnswers{Text: []string{"people", "Norse"}, AnswerStart: []int32{1, 9}}},
		{ID: "q2", Title: "Normans", Context: "ctx", Question: "When?"},
	})

	rows, err := ReadSquad(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	r := rows[0]
	if r.ID != "q1" || r.Title != "Normans" || r.Question != "Who were the Normans?" {
		t.Errorf("unexpected row: %+v", r)
	}
	if len(r.AnswerTexts) != 2 || r.AnswerTexts[1] != "Norse" {
		t.Errorf("unexpected answers: %v", r.AnswerTexts)
	}
	if len(rows[1].AnswerTexts) != 0 {
		t.Errorf("expected no answers, got %v", rows[1].AnswerTexts)
	}
}

func TestReadSquad_MissingColumn(t *testing.T) {
	type noQuestion struct {
		ID string `parquet:"id"`
	}
	path := filepath.Join(t.TempDir(), "bad.parquet")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w := parquet.NewGenericWriter[noQuestion](f)
	if _, err := w.Write([]noQuestion{{ID: "x"}}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	_, err = ReadSquad(path)
	if err == nil || !strings.Contains(err.Error(), `"question"`) {
		t.Fatalf("expected missing question column error, got %v", err)
	}
}

func TestBuildReport(t *testing.T) {
	rows := []SquadRow{{Question: "a1"}, {Question: "b1"}, {Question: "a2"}, {Question: "c1"}}
	clusters := Greedy([][]float32{{1, 0, 0}, {0, 1, 0}, {1, 0, 0}, {0, 0, 1}}, 0.8)
	meta := Meta{InputPath: "in.parquet", Threshold: 0.8, PointCount: 4, Timestamp: time.Unix(0, 0)}

	r := BuildReport(meta, rows, clusters, 2, 50)
	if len(r.Clusters) != 1 {
		t.Fatalf("min size 2 should keep one cluster, got %d", len(r.Clusters))
	}
	c := r.Clusters[0]
	if c.Size != 2 || c.RepresentativeQuestion != "a1" || len(c.SampleQuestions) != 2 {
		t.Errorf("unexpected summary: %+v", c)
	}

	if r := BuildReport(meta, rows, clusters, 1, 2); len(r.Clusters) != 2 {
		t.Errorf("top 2 should cap the report, got %d", len(r.Clusters))
	}

	var buf bytes.Buffer
	if err := WriteText(&buf, BuildReport(meta, rows, clusters, 1, 0)); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "#0 (2 questions) a1") || !strings.Contains(out, "    - a2") {
		t.Errorf("unexpected text report:\n%s", out)
	}
}

func approx(a, b float32) bool {
	d := a - b
	return d < 1e-6 && d > -1e-6
}
