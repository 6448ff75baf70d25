package eval

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Defaults for an evaluation run.
const (
	DefaultThreshold        float32 = 0.55
	DefaultRequiredPassRate float32 = 0.85
	DefaultModelID                  = "nomic-embed-text-v2-moe"
	DefaultModelPath                = "./models/nomic-embed-text-v2-moe.Q4_K_M.gguf"
	DefaultEmbeddingDim             = 768
)

// FailurePassRateBelowRequired is the failure reason of a run whose pass rate
// missed the requirement.
const FailurePassRateBelowRequired = "pass_rate_below_required"

// ErrInvalidTransition is returned when an event does not apply to the
// run's current status.
var ErrInvalidTransition = errors.New("invalid run transition")

// Status is the lifecycle state of a Run.
type Status string

// Status values.
const (
	StatusWaitingRuntime Status = "waiting_runtime"
	StatusEvaluating     Status = "evaluating"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
)

// RunConfig describes the model and gates of a run.
type RunConfig struct {
	ModelID          string
	ModelPath        string
	EmbeddingDim     int
	Threshold        float32
	RequiredPassRate float32
}

// DefaultRunConfig returns the stock nomic configuration.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		ModelID:          DefaultModelID,
		ModelPath:        DefaultModelPath,
		EmbeddingDim:     DefaultEmbeddingDim,
		Threshold:        DefaultThreshold,
		RequiredPassRate: DefaultRequiredPassRate,
	}
}

// Run tracks one evaluation from runtime boot to verdict.
//
//	waiting_runtime -> evaluating -> completed | failed
//	waiting_runtime -> failed
type Run struct {
	RunID            string     `json:"run_id"`
	ModelID          string     `json:"model_id"`
	ModelPath        string     `json:"model_path"`
	EmbeddingDim     int        `json:"embedding_dim"`
	Threshold        float32    `json:"threshold"`
	RequiredPassRate float32    `json:"required_pass_rate"`
	Status           Status     `json:"status"`
	Total            *int       `json:"total_cases,omitempty"`
	Passed           *int       `json:"passed_cases,omitempty"`
	Failed           *int       `json:"failed_cases,omitempty"`
	PassRate         *float32   `json:"pass_rate,omitempty"`
	FailureReason    *string    `json:"failure_reason,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	RuntimeReadyAt   *time.Time `json:"runtime_ready_at,omitempty"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`

	now func() time.Time
}

// NewRun starts a run waiting for its runtime.
func NewRun(cfg RunConfig) *Run {
	r := &Run{
		RunID:            uuid.NewString(),
		ModelID:          cfg.ModelID,
		ModelPath:        cfg.ModelPath,
		EmbeddingDim:     cfg.EmbeddingDim,
		Threshold:        cfg.Threshold,
		RequiredPassRate: cfg.RequiredPassRate,
		Status:           StatusWaitingRuntime,
		now:              time.Now,
	}
	r.StartedAt = r.now().UTC()
	return r
}

// OnRuntimeReady moves a waiting run to evaluating.
func (r *Run) OnRuntimeReady() error {
	if err := r.expect(StatusWaitingRuntime, "runtime ready"); err != nil {
		return err
	}
	t := r.now().UTC()
	r.RuntimeReadyAt = &t
	r.Status = StatusEvaluating
	return nil
}

// OnRuntimeBootFailed fails a waiting run with reason.
func (r *Run) OnRuntimeBootFailed(reason string) error {
	if err := r.expect(StatusWaitingRuntime, "runtime boot failed"); err != nil {
		return err
	}
	r.finish(StatusFailed, &reason)
	return nil
}

// OnEvalCompleted records s and settles the run against the required pass rate.
func (r *Run) OnEvalCompleted(s Summary) error {
	if err := r.expect(StatusEvaluating, "eval completed"); err != nil {
		return err
	}
	total, passed, failed, rate := s.Total, s.Passed, s.Failed, s.PassRate
	r.Total, r.Passed, r.Failed, r.PassRate = &total, &passed, &failed, &rate

	if rate >= r.RequiredPassRate {
		r.finish(StatusCompleted, nil)
		return nil
	}
	reason := FailurePassRateBelowRequired
	r.finish(StatusFailed, &reason)
	return nil
}

// MeetsThreshold reports whether a recorded pass rate reaches the requirement.
func (r *Run) MeetsThreshold() bool {
	return r.PassRate != nil && *r.PassRate >= r.RequiredPassRate
}

// Terminal reports whether the run can no longer change.
func (r *Run) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

func (r *Run) expect(want Status, event string) error {
	if r.Status != want {
		return fmt.Errorf("%s in status %s: %w", event, r.Status, ErrInvalidTransition)
	}
	return nil
}

func (r *Run) finish(status Status, reason *string) {
	t := r.now().UTC()
	r.Status = status
	r.FailureReason = reason
	r.FinishedAt = &t
}
