package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/semcache/internal/domain"
	"github.com/kailas-cloud/semcache/internal/repository/faqstore"
	queryuc "github.com/kailas-cloud/semcache/internal/usecase/query"
)

// NewQueryCmd creates the query command.
func NewQueryCmd(opts *globalOptions) *cobra.Command {
	var (
		indexPath string
		question  string
		threshold float32
		format    string
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Decide one question against an index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format != "text" && format != "json" {
				return fmt.Errorf("--format must be text or json, got %q", format)
			}
			e, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer func() { _ = e.logger.Sync() }()
			if !cmd.Flags().Changed("threshold") {
				threshold = e.cfg.Retrieval.Threshold
			}

			entries, err := faqstore.LoadEntries(indexPath)
			if err != nil {
				return err //nolint:wrapcheck // names the file and line
			}

			s, err := e.openStack()
			if err != nil {
				return err
			}
			defer s.Close()

			svc := queryuc.New(s.Embedder, threshold)
			svc.Replace(entries)
			m, err := svc.Query(e.ctx, question)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}

			if format == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(m) //nolint:wrapcheck // stdout
			}
			return writeMatch(cmd.OutOrStdout(), m)
		},
	}

	cmd.Flags().StringVar(&indexPath, "index", "", "Index JSONL file")
	cmd.Flags().StringVar(&question, "question", "", "Question to decide")
	cmd.Flags().Float32Var(&threshold, "threshold", 0, "Hit threshold (default from config, 0.55)")
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text or json")
	_ = cmd.MarkFlagRequired("index")
	_ = cmd.MarkFlagRequired("question")
	return cmd
}

func writeMatch(w io.Writer, m domain.RetrievalMatch) error {
	if _, err := fmt.Fprintf(w, "decision: %s\nscore:    %.4f\n", m.Decision, m.Score); err != nil {
		return fmt.Errorf("write match: %w", err)
	}
	if m.EntryID != nil {
		if _, err := fmt.Fprintf(w, "entry:    %s\n", *m.EntryID); err != nil {
			return fmt.Errorf("write match: %w", err)
		}
	}
	if m.Answer != nil {
		if _, err := fmt.Fprintf(w, "answer:   %s\n", *m.Answer); err != nil {
			return fmt.Errorf("write match: %w", err)
		}
	}
	return nil
}
