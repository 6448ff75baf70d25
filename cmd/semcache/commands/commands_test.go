package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kailas-cloud/semcache/internal/domain"
	"github.com/kailas-cloud/semcache/internal/repository/faqstore"
	evaluc "github.com/kailas-cloud/semcache/internal/usecase/eval"
)

func TestNewRootCmd(t *testing.T) {
	cmd := NewRootCmd()

	if cmd.Use != "semcache" {
		t.Errorf("Use = %q, want %q", cmd.Use, "semcache")
	}
	if cmd.Short == "" || cmd.Long == "" {
		t.Error("descriptions should not be empty")
	}

	want := []string{"build-index", "query", "eval", "cluster", "serve", "version"}
	for _, name := range want {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			if err != nil || sub.Name() != name {
				t.Fatalf("subcommand %q not found: %v", name, err)
			}
		})
	}
}

func TestRootCmd_GlobalFlags(t *testing.T) {
	cmd := NewRootCmd()

	for _, name := range []string{"config", "model-path", "tokenizer-path", "hash-dim", "log-level"} {
		if cmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("--%s flag not found", name)
		}
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(out, "semcache ") {
		t.Errorf("unexpected version output %q", out)
	}
}

// run executes the root command with a hashing backend and no config file.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("ENV", "dev")

	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--hash-dim", "4096", "--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func writeLines(t *testing.T, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func buildIndex(t *testing.T) string {
	t.Helper()
	raw := writeLines(t, "raw.jsonl",
		`{"id":"pw","question":"How do I reset my password?","answer":"Use the reset link."}`,
		`{"id":"tokyo","question":"What is the weather like in Tokyo?","answer":"Check the forecast."}`,
	)
	index := filepath.Join(t.TempDir(), "index.jsonl")

	out, err := run(t, "build-index", "--input", raw, "--output", index)
	if err != nil {
		t.Fatalf("build-index: %v", err)
	}
	if !strings.Contains(out, "Indexed 2 entries") {
		t.Errorf("unexpected output %q", out)
	}
	return index
}

func TestBuildIndex(t *testing.T) {
	index := buildIndex(t)

	entries, err := faqstore.LoadEntries(index)
	if err != nil {
		t.Fatalf("load index: %v", err)
	}
	if len(entries) != 2 || entries[0].ID != "pw" || entries[1].ID != "tokyo" {
		t.Fatalf("unexpected entries %+v", entries)
	}
	if len(entries[0].Embedding) != 4096 {
		t.Errorf("expected 4096-dim embeddings, got %d", len(entries[0].Embedding))
	}
	if entries[0].Source == nil || *entries[0].Source != domain.SourceHumanCurated {
		t.Errorf("expected human_curated source, got %v", entries[0].Source)
	}
}

func TestBuildIndex_MissingFlags(t *testing.T) {
	if _, err := run(t, "build-index", "--input", "x.jsonl"); err == nil {
		t.Fatal("expected error for missing --output")
	}
}

func TestQuery_JSON(t *testing.T) {
	index := buildIndex(t)

	out, err := run(t, "query", "--index", index, "--question", "how do I reset my password", "--format", "json")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	var m domain.RetrievalMatch
	if err := json.Unmarshal([]byte(out), &m); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if m.Decision != domain.DecisionHit || m.EntryID == nil || *m.EntryID != "pw" {
		t.Fatalf("expected hit on pw, got %+v", m)
	}
	if m.Answer == nil || *m.Answer != "Use the reset link." {
		t.Errorf("expected answer, got %v", m.Answer)
	}
}

func TestQuery_TextMiss(t *testing.T) {
	index := buildIndex(t)

	out, err := run(t, "query", "--index", index, "--question", "tokyo", "--threshold", "0.9")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if !strings.Contains(out, "decision: miss") || !strings.Contains(out, "entry:    tokyo") {
		t.Errorf("expected near-miss on tokyo, got %q", out)
	}
	if strings.Contains(out, "answer:") {
		t.Errorf("miss must not print an answer: %q", out)
	}
}

func TestQuery_BadFormat(t *testing.T) {
	if _, err := run(t, "query", "--index", "i", "--question", "q", "--format", "xml"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestEval_Completed(t *testing.T) {
	index := buildIndex(t)
	cases := writeLines(t, "cases.jsonl",
		`{"case_id":"c1","question":"How do I reset my password?","expected_decision":"hit","expected_faq_id":"pw"}`,
		`{"case_id":"c2","question":"banana smoothie recipe","expected_decision":"miss"}`,
	)

	out, err := run(t, "eval", "--index", index, "--cases", cases)
	if err != nil {
		t.Fatalf("eval: %v\n%s", err, out)
	}
	var r struct {
		Run     evaluc.Run     `json:"run"`
		Summary evaluc.Summary `json:"summary"`
	}
	if err := json.Unmarshal([]byte(out), &r); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if r.Run.Status != evaluc.StatusCompleted {
		t.Errorf("expected completed run, got %q", r.Run.Status)
	}
	if r.Summary.Total != 2 || r.Summary.Passed != 2 {
		t.Errorf("expected 2/2 passed, got %+v", r.Summary)
	}
	if r.Run.EmbeddingDim != 4096 {
		t.Errorf("expected embedding dim 4096, got %d", r.Run.EmbeddingDim)
	}
}

func TestEval_BelowRequired(t *testing.T) {
	index := buildIndex(t)
	cases := writeLines(t, "cases.jsonl",
		`{"case_id":"c1","question":"banana smoothie recipe","expected_decision":"hit"}`,
	)

	out, err := run(t, "eval", "--index", index, "--cases", cases, "--required-pass-rate", "1")
	if !errors.Is(err, errRunFailed) {
		t.Fatalf("expected errRunFailed, got %v", err)
	}
	if !strings.Contains(out, evaluc.FailurePassRateBelowRequired) {
		t.Errorf("expected failure reason in report, got %q", out)
	}
}
