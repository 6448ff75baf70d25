package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/semcache/internal/domain"
	logpkg "github.com/kailas-cloud/semcache/internal/logger"
	"github.com/kailas-cloud/semcache/internal/repository/faqstore"
	evaluc "github.com/kailas-cloud/semcache/internal/usecase/eval"
)

// errRunFailed makes the process exit non-zero when a run does not complete.
var errRunFailed = errors.New("evaluation run failed")

// evalReport is the JSON document printed by the eval command.
type evalReport struct {
	Run     *evaluc.Run     `json:"run"`
	Summary *evaluc.Summary `json:"summary,omitempty"`
}

// NewEvalCmd creates the eval command.
func NewEvalCmd(opts *globalOptions) *cobra.Command {
	var (
		indexPath, casesPath, outPath string
		threshold, requiredPassRate   float32
	)

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate labeled cases against an index",
		Long: `Run every case of a JSONL eval set through the embedder and the hit/miss
decision, then gate the run on the required pass rate. The run record and
summary are printed as JSON; the exit code is non-zero when the run fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer func() { _ = e.logger.Sync() }()
			if !cmd.Flags().Changed("threshold") {
				threshold = e.cfg.Retrieval.Threshold
			}
			if !cmd.Flags().Changed("required-pass-rate") {
				requiredPassRate = e.cfg.Retrieval.RequiredPassRate
			}

			corpus, err := faqstore.LoadEntries(indexPath)
			if err != nil {
				return err //nolint:wrapcheck // names the file and line
			}
			cases, err := faqstore.LoadCases(casesPath)
			if err != nil {
				return err //nolint:wrapcheck // names the file and line
			}

			run := evaluc.NewRun(evaluc.RunConfig{
				ModelID:          e.cfg.Model.ModelID,
				ModelPath:        e.cfg.Model.Path,
				Threshold:        threshold,
				RequiredPassRate: requiredPassRate,
			})
			ctx := logpkg.With(e.ctx, zap.String("run_id", run.RunID))
			e.ctx = ctx
			logpkg.FromContext(ctx).Info("Evaluation run started",
				zap.Int("cases", len(cases)),
				zap.Int("expected_hits", expectedHits(cases)),
				zap.Int("corpus", len(corpus)),
			)

			report := evalReport{Run: run}
			s, err := e.openStack()
			if err != nil {
				_ = run.OnRuntimeBootFailed(err.Error())
				_ = writeReport(cmd, outPath, report)
				return err
			}
			defer s.Close()

			run.ModelID, run.EmbeddingDim = s.ModelID, s.Dim
			if err := run.OnRuntimeReady(); err != nil {
				return err //nolint:wrapcheck // invariant violation
			}

			summary, err := evaluc.NewRunner(s.Embedder, e.cfg.Index.Workers).Evaluate(ctx, corpus, cases, threshold)
			if err != nil {
				return fmt.Errorf("run %s: %w", run.RunID, err)
			}
			if err := run.OnEvalCompleted(summary); err != nil {
				return err //nolint:wrapcheck // invariant violation
			}
			report.Summary = &summary

			logpkg.FromContext(ctx).Info("Evaluation run finished",
				zap.String("status", string(run.Status)),
				zap.Float32("pass_rate", summary.PassRate),
				zap.Float32("required_pass_rate", run.RequiredPassRate),
			)
			if err := writeReport(cmd, outPath, report); err != nil {
				return err
			}
			if run.Status != evaluc.StatusCompleted {
				return fmt.Errorf("%w: pass rate %.3f below %.3f", errRunFailed, summary.PassRate, run.RequiredPassRate)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&indexPath, "index", "", "Index JSONL file")
	cmd.Flags().StringVar(&casesPath, "cases", "", "Eval cases JSONL file")
	cmd.Flags().StringVar(&outPath, "output", "", "Also write the JSON report to this file")
	cmd.Flags().Float32Var(&threshold, "threshold", evaluc.DefaultThreshold, "Hit threshold")
	cmd.Flags().Float32Var(&requiredPassRate, "required-pass-rate", evaluc.DefaultRequiredPassRate,
		"Minimum pass rate for a completed run")
	_ = cmd.MarkFlagRequired("index")
	_ = cmd.MarkFlagRequired("cases")
	return cmd
}

func writeReport(cmd *cobra.Command, outPath string, r evalReport) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	data = append(data, '\n')
	if _, err := cmd.OutOrStdout().Write(data); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if outPath != "" {
		if err := os.WriteFile(outPath, data, 0o600); err != nil {
			return fmt.Errorf("write report %s: %w", outPath, err)
		}
	}
	return nil
}

// expectedHits counts cases that expect a hit, for the startup log.
func expectedHits(cases []domain.EvalCase) int {
	n := 0
	for _, c := range cases {
		if c.ExpectedDecision == domain.DecisionHit {
			n++
		}
	}
	return n
}
