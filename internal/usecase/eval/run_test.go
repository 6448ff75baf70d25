package eval

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestDefaultRunConfig(t *testing.T) {
	cfg := DefaultRunConfig()
	if cfg.Threshold != 0.55 || cfg.RequiredPassRate != 0.85 {
		t.Errorf("unexpected gates: %+v", cfg)
	}
	if cfg.ModelID != "nomic-embed-text-v2-moe" || cfg.EmbeddingDim != 768 {
		t.Errorf("unexpected model: %+v", cfg)
	}
	if cfg.ModelPath != "./models/nomic-embed-text-v2-moe.Q4_K_M.gguf" {
		t.Errorf("unexpected model path: %s", cfg.ModelPath)
	}
}

func TestNewRun(t *testing.T) {
	r := NewRun(DefaultRunConfig())
	if r.Status != StatusWaitingRuntime {
		t.Fatalf("expected waiting_runtime, got %s", r.Status)
	}
	if _, err := uuid.Parse(r.RunID); err != nil {
		t.Fatalf("run id is not a uuid: %v", err)
	}
	if r.StartedAt.IsZero() || r.FinishedAt != nil || r.Terminal() {
		t.Fatalf("unexpected fresh run: %+v", r)
	}
	if NewRun(DefaultRunConfig()).RunID == r.RunID {
		t.Fatal("run ids must be unique")
	}
}

func TestRun_Completed(t *testing.T) {
	r := NewRun(DefaultRunConfig())
	if err := r.OnRuntimeReady(); err != nil {
		t.Fatalf("ready: %v", err)
	}
	if r.Status != StatusEvaluating || r.RuntimeReadyAt == nil {
		t.Fatalf("expected evaluating with ready time, got %+v", r)
	}

	s := Summary{Total: 20, Passed: 17, Failed: 3, PassRate: 0.85}
	if err := r.OnEvalCompleted(s); err != nil {
		t.Fatalf("completed: %v", err)
	}
	if r.Status != StatusCompleted || r.FailureReason != nil || r.FinishedAt == nil {
		t.Fatalf("expected completed run, got %+v", r)
	}
	if *r.Total != 20 || *r.Passed != 17 || *r.Failed != 3 || !r.MeetsThreshold() {
		t.Fatalf("counts not recorded: %+v", r)
	}
}

func TestRun_BelowRequired(t *testing.T) {
	r := NewRun(DefaultRunConfig())
	if err := r.OnRuntimeReady(); err != nil {
		t.Fatal(err)
	}
	if err := r.OnEvalCompleted(Summary{Total: 10, Passed: 8, Failed: 2, PassRate: 0.8}); err != nil {
		t.Fatal(err)
	}
	if r.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", r.Status)
	}
	if r.FailureReason == nil || *r.FailureReason != FailurePassRateBelowRequired {
		t.Fatalf("unexpected failure reason: %v", r.FailureReason)
	}
	if r.MeetsThreshold() {
		t.Fatal("0.8 must not meet 0.85")
	}
}

func TestRun_BootFailed(t *testing.T) {
	r := NewRun(DefaultRunConfig())
	if err := r.OnRuntimeBootFailed("model file missing"); err != nil {
		t.Fatal(err)
	}
	if r.Status != StatusFailed || *r.FailureReason != "model file missing" || !r.Terminal() {
		t.Fatalf("unexpected run: %+v", r)
	}
	if r.PassRate != nil || r.MeetsThreshold() {
		t.Fatal("boot failure must not record a pass rate")
	}
}

func TestRun_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name  string
		setup func(r *Run)
		event func(r *Run) error
	}{
		{"complete before ready", func(*Run) {}, func(r *Run) error { return r.OnEvalCompleted(Summary{}) }},
		{"ready twice", func(r *Run) { _ = r.OnRuntimeReady() }, (*Run).OnRuntimeReady},
		{"boot failed while evaluating", func(r *Run) { _ = r.OnRuntimeReady() }, func(r *Run) error {
			return r.OnRuntimeBootFailed("late")
		}},
		{"ready after failure", func(r *Run) { _ = r.OnRuntimeBootFailed("x") }, (*Run).OnRuntimeReady},
		{"complete twice", func(r *Run) {
			_ = r.OnRuntimeReady()
			_ = r.OnEvalCompleted(Summary{PassRate: 1})
		}, func(r *Run) error { return r.OnEvalCompleted(Summary{}) }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := NewRun(DefaultRunConfig())
			tc.setup(r)
			before := r.Status
			if err := tc.event(r); !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition, got %v", err)
			}
			if r.Status != before {
				t.Fatalf("status changed on rejected event: %s -> %s", before, r.Status)
			}
		})
	}
}
