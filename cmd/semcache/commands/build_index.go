package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/semcache/internal/repository/faqstore"
	indexuc "github.com/kailas-cloud/semcache/internal/usecase/index"
)

// NewBuildIndexCmd creates the build-index command.
func NewBuildIndexCmd(opts *globalOptions) *cobra.Command {
	var input, output string

	cmd := &cobra.Command{
		Use:   "build-index",
		Short: "Embed a raw FAQ file into an index",
		Long: `Read {id, question, answer} JSONL rows, embed every question and write
the embedded entries as JSONL.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer func() { _ = e.logger.Sync() }()

			rows, err := faqstore.LoadRaw(input)
			if err != nil {
				return err //nolint:wrapcheck // names the file and line
			}

			s, err := e.openStack()
			if err != nil {
				return err
			}
			defer s.Close()

			start := time.Now()
			entries, err := indexuc.New(s.Embedder, e.cfg.Index.Workers).Build(e.ctx, rows)
			if err != nil {
				return fmt.Errorf("build index: %w", err)
			}
			if err := faqstore.SaveEntries(output, entries); err != nil {
				return err //nolint:wrapcheck // names the file
			}

			e.logger.Info("Index written",
				zap.String("output", output),
				zap.Int("entries", len(entries)),
				zap.Duration("duration", time.Since(start)),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d entries with %s (dim %d) into %s\n",
				len(entries), s.ModelID, s.Dim, output)
			return nil
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "Raw FAQ JSONL file")
	cmd.Flags().StringVar(&output, "output", "", "Index JSONL file to write")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}
